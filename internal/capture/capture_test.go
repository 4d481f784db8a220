package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"courtcrawl/internal/controller"
	"courtcrawl/internal/session"
	"courtcrawl/internal/session/sessiontest"
	"courtcrawl/internal/workkey"

	"github.com/stretchr/testify/require"
)

type report struct{}

func (report) URL(key workkey.Key) (string, error) {
	return "https://reports.test/" + key.ID(), nil
}

func (report) SourceName(key workkey.Key) string { return "Activity_Detail.xls" }

func (report) ArtifactName(key workkey.Key) string { return "Activity_Detail-" + key.ID() + ".xls" }

func sh(script string) Tool {
	return Tool{Path: "/bin/sh", Args: []string{"-c", script}, Timeout: 2 * time.Second}
}

func newUnit(t *testing.T, tool Tool) (*Unit, *sessiontest.Fake, Config) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		DownloadDir: filepath.Join(root, "downloads"),
		Dir:         filepath.Join(root, "reports"),
		Grace:       200 * time.Millisecond,
		Poll:        10 * time.Millisecond,
		Tool:        tool,
	}
	f := sessiontest.NewFake()
	u, err := NewUnit(f, report{}, cfg, nil)
	require.NoError(t, err)
	return u, f, cfg
}

var key = workkey.CountyMonth{County: workkey.County{ID: 7, Name: "Angelina"}, Year: 2019, Month: 3}

func TestTool_Timeout(t *testing.T) {
	err := Tool{Path: "/bin/sh", Args: []string{"-c", "exec sleep 5"}, Timeout: 50 * time.Millisecond}.Run(context.Background(), "k")
	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Contains(t, f.Reason, "timed out")
	require.True(t, controller.IsDeferrable(err))
}

func TestTool_NonZeroExit(t *testing.T) {
	err := sh("echo 'no save dialog' >&2; exit 3").Run(context.Background(), "k")
	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Contains(t, f.Reason, "no save dialog")
}

func TestTool_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err := Tool{Path: "/bin/sh", Args: []string{"-c", "exec sleep 5"}, Timeout: time.Minute}.Run(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
	var f *Failure
	require.False(t, errors.As(err, &f))
}

func TestUnit_CapturesAndRenames(t *testing.T) {
	u, f, cfg := newUnit(t, sh(`printf report > "$COURTCRAWL_SOURCE"`))
	ctx := context.Background()

	done, err := u.Done(ctx, key)
	require.NoError(t, err)
	require.False(t, done)

	res, err := u.Run(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, res.Rows)
	require.Equal(t, []string{"https://reports.test/" + key.ID()}, f.Navigated())

	b, err := os.ReadFile(filepath.Join(cfg.Dir, "Activity_Detail-"+key.ID()+".xls"))
	require.NoError(t, err)
	require.Equal(t, "report", string(b))
	_, err = os.Stat(filepath.Join(cfg.DownloadDir, "Activity_Detail.xls"))
	require.True(t, os.IsNotExist(err))

	done, err = u.Done(ctx, key)
	require.NoError(t, err)
	require.True(t, done)
}

func TestUnit_MissingArtifactCleansPartials(t *testing.T) {
	u, _, cfg := newUnit(t, sh(`printf half > "$COURTCRAWL_DOWNLOAD_DIR/x.partial"`))

	_, err := u.Run(context.Background(), key)
	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, key.ID(), f.Key)

	m, err := filepath.Glob(filepath.Join(cfg.DownloadDir, "*.partial"))
	require.NoError(t, err)
	require.Empty(t, m)
}

func TestUnit_DeferredThenResolved(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "attempted")
	// Fails the first time, saves the report the second.
	script := `if [ -f "` + marker + `" ]; then printf ok > "$COURTCRAWL_SOURCE"; else touch "` + marker + `"; exit 1; fi`
	u, _, _ := newUnit(t, sh(script))

	sum, err := controller.New(u).Run(context.Background(), []workkey.Key{key})
	require.NoError(t, err)
	require.Equal(t, []string{key.ID()}, sum.Deferred)
	require.Empty(t, sum.Unresolved)
	require.Equal(t, 1, sum.Completed)
}

func TestUnit_RunsToolWhenPageFailsToLoad(t *testing.T) {
	u, f, cfg := newUnit(t, sh(`printf report > "$COURTCRAWL_SOURCE"`))
	f.NavigateErr = func(string) error { return session.ErrTimeout }

	res, err := u.Run(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, 1, res.Rows)
	require.Len(t, f.Navigated(), 1)

	_, err = os.Stat(filepath.Join(cfg.Dir, "Activity_Detail-"+key.ID()+".xls"))
	require.NoError(t, err)
}

func TestUnit_PageFailureWithoutArtifactDefers(t *testing.T) {
	u, f, _ := newUnit(t, sh(`exit 0`))
	f.NavigateErr = func(string) error { return session.ErrDriver }

	_, err := u.Run(context.Background(), key)
	var fl *Failure
	require.ErrorAs(t, err, &fl)
	require.True(t, controller.IsDeferrable(err))
}
