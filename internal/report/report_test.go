package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"courtcrawl/internal/controller"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func summary() controller.Summary {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return controller.Summary{
		RunID:      "run-1",
		Started:    start,
		Finished:   start.Add(90 * time.Second),
		Keys:       4,
		Skipped:    1,
		Completed:  2,
		Pages:      7,
		Rows:       120,
		Details:    30,
		Deferred:   []string{"2019-01-03", "2019-01-04"},
		Unresolved: []string{"2019-01-04"},
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, summary(), "text"))

	out := buf.String()
	require.Contains(t, out, "run run-1")
	require.Contains(t, out, "rows written")
	require.Contains(t, out, "1m30s")
	require.Contains(t, out, "1 keys unresolved: 2019-01-04")
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, summary(), "markdown"))

	out := buf.String()
	require.Contains(t, out, "| Metric | Value |")
	require.Contains(t, out, "| pages | 7 |")
	require.Contains(t, out, "Unresolved: 2019-01-04")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, summary(), "json"))

	var got controller.Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, summary(), got)
}

func TestWriteUnknownFormat(t *testing.T) {
	require.Error(t, Write(&bytes.Buffer{}, summary(), "xml"))
}

func TestStatus(t *testing.T) {
	sum := summary()
	sum.Unresolved = nil
	require.Equal(t, "✓ all keys resolved (2 on the second sweep)", status(sum))
	sum.Deferred = nil
	require.Equal(t, "✓ all keys resolved", status(sum))
}

func TestWriteCounts(t *testing.T) {
	var buf bytes.Buffer
	WriteCounts(&buf, []TableCount{
		{Table: "main_table", Rows: 12, Exists: true},
		{Table: "service_info"},
	})
	out := buf.String()
	require.Contains(t, out, "main_table")
	require.Contains(t, out, "12")
	require.Contains(t, out, "(not created)")
}

func TestMissingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "missing.txt")
	keys := []string{"2019-01-03", "Travis-2016-12"}

	require.NoError(t, WriteMissing(path, keys))
	got, err := ReadMissing(path)
	require.NoError(t, err)
	require.Equal(t, keys, got)

	// A later run with nothing missing clears the list.
	require.NoError(t, WriteMissing(path, nil))
	got, err = ReadMissing(path)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadMissingSkipsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")
	content := strings.Join([]string{"# left over from March", "", "  2019-01-03  ", "2019-01-04"}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	got, err := ReadMissing(path)
	require.NoError(t, err)
	require.Equal(t, []string{"2019-01-03", "2019-01-04"}, got)

	_, err = ReadMissing(filepath.Join(t.TempDir(), "absent.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
