package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"courtcrawl/internal/controller"
	"courtcrawl/internal/session"
	"courtcrawl/internal/workkey"
)

// Target describes where a key's report lives and what it is called.
type Target interface {
	URL(key workkey.Key) (string, error)
	// SourceName is the file name the tool saves the report under.
	SourceName(key workkey.Key) string
	// ArtifactName is the deterministic file name the report is filed as.
	ArtifactName(key workkey.Key) string
}

type Config struct {
	// DownloadDir is where the tool saves reports.
	DownloadDir string `yaml:"download_dir"`
	// Dir is where artifacts are filed.
	Dir string `yaml:"dir"`
	// Grace is how long to wait for the saved file after the tool exits.
	Grace time.Duration `yaml:"grace"`
	Poll  time.Duration `yaml:"poll"`
	// Load bounds the wait for the report page. The export often keeps the
	// page from finishing; the tool runs either way.
	Load time.Duration `yaml:"load"`
	Tool Tool          `yaml:"tool"`
}

// DefaultLoad is the report page wait used when Config.Load is unset.
const DefaultLoad = 2500 * time.Millisecond

// Unit captures one report per key. An artifact already on disk marks the
// key done.
type Unit struct {
	sess   session.Session
	target Target
	cfg    Config
	log    *slog.Logger
}

func NewUnit(sess session.Session, target Target, cfg Config, log *slog.Logger) (*Unit, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Millisecond
	}
	if cfg.Load <= 0 {
		cfg.Load = DefaultLoad
	}
	for _, dir := range []string{cfg.DownloadDir, cfg.Dir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Unit{sess: sess, target: target, cfg: cfg, log: log.With("component", "capture")}, nil
}

func (u *Unit) artifact(key workkey.Key) string {
	return filepath.Join(u.cfg.Dir, u.target.ArtifactName(key))
}

func (u *Unit) Done(ctx context.Context, key workkey.Key) (bool, error) {
	_, err := os.Stat(u.artifact(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (u *Unit) Run(ctx context.Context, key workkey.Key) (controller.Result, error) {
	var res controller.Result
	url, err := u.target.URL(key)
	if err != nil {
		return res, fmt.Errorf("failed to build report url: %w", err)
	}

	// Only the saved file decides the outcome; the page is loaded once.
	if err := u.open(ctx, url); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		u.log.Warn("report page did not load", "key", key.ID(), "err", err)
	}

	src := filepath.Join(u.cfg.DownloadDir, u.target.SourceName(key))
	err = u.cfg.Tool.Run(ctx, key.ID(),
		"COURTCRAWL_KEY="+key.ID(),
		"COURTCRAWL_URL="+url,
		"COURTCRAWL_DOWNLOAD_DIR="+u.cfg.DownloadDir,
		"COURTCRAWL_SOURCE="+src,
	)
	if err != nil {
		u.cleanPartials()
		return res, err
	}

	if err := u.waitFor(ctx, src); err != nil {
		u.cleanPartials()
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, &Failure{Key: key.ID(), Reason: "saved report not found", Err: err}
	}

	dst := u.artifact(key)
	if err := os.Rename(src, dst); err != nil {
		return res, fmt.Errorf("failed to file %s: %w", dst, err)
	}
	u.log.Info("report captured", "key", key.ID(), "file", dst)
	res.Pages = 1
	res.Rows = 1
	return res, nil
}

func (u *Unit) open(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Load)
	defer cancel()
	return u.sess.Navigate(ctx, u.sess.Primary(), url)
}

// waitFor polls until path exists and no partial download is pending.
func (u *Unit) waitFor(ctx context.Context, path string) error {
	deadline := time.Now().Add(u.cfg.Grace)
	for {
		_, err := os.Stat(path)
		if err == nil && len(u.partials()) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			if err == nil {
				return fmt.Errorf("download still partial after %s", u.cfg.Grace)
			}
			return err
		}
		t := time.NewTimer(u.cfg.Poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (u *Unit) partials() []string {
	m, _ := filepath.Glob(filepath.Join(u.cfg.DownloadDir, "*.partial"))
	return m
}

func (u *Unit) cleanPartials() {
	for _, p := range u.partials() {
		if err := os.Remove(p); err != nil {
			u.log.Warn("could not remove partial download", "file", p, "err", err)
		}
	}
}
