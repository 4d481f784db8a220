// Package report renders run summaries and keeps the missing-keys file.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"courtcrawl/internal/controller"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Formats lists the accepted summary formats.
var Formats = []string{"text", "json", "markdown"}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// Write renders sum to w in the given format.
func Write(w io.Writer, sum controller.Summary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	case "text", "markdown":
	default:
		return fmt.Errorf("unsupported summary format: %s", format)
	}

	t := newTable(w)
	t.SetTitle("run " + sum.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"keys", sum.Keys},
		{"skipped", sum.Skipped},
		{"completed", sum.Completed},
		{"pages", sum.Pages},
		{"rows written", sum.Rows},
		{"details", sum.Details},
		{"dropped", sum.Dropped},
		{"deferred", len(sum.Deferred)},
		{"unresolved", len(sum.Unresolved)},
		{"elapsed", sum.Finished.Sub(sum.Started).Round(time.Second).String()},
	})
	if format == "markdown" {
		t.RenderMarkdown()
		if len(sum.Unresolved) > 0 {
			fmt.Fprintf(w, "\nUnresolved: %s\n", strings.Join(sum.Unresolved, ", "))
		}
		return nil
	}
	t.Render()
	fmt.Fprintln(w, status(sum))
	return nil
}

func status(sum controller.Summary) string {
	switch {
	case len(sum.Unresolved) > 0:
		return color.New(color.FgYellow).Sprintf("⚠ %d keys unresolved: %s",
			len(sum.Unresolved), strings.Join(sum.Unresolved, ", "))
	case len(sum.Deferred) > 0:
		return color.New(color.FgHiGreen).Sprintf("✓ all keys resolved (%d on the second sweep)", len(sum.Deferred))
	default:
		return color.New(color.FgHiGreen).Sprint("✓ all keys resolved")
	}
}

// TableCount is the number of rows one output table holds.
type TableCount struct {
	Table  string
	Rows   int
	Exists bool
}

// WriteCounts renders per-table row counts.
func WriteCounts(w io.Writer, counts []TableCount) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Table", "Rows"})
	for _, c := range counts {
		rows := any(c.Rows)
		if !c.Exists {
			rows = color.New(color.FgHiBlack).Sprint("(not created)")
		}
		t.AppendRow(table.Row{c.Table, rows})
	}
	t.Render()
}

// WriteMissing replaces the file at path with one key per line.
func WriteMissing(path string, keys []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create missing list directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create missing list: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, k := range keys {
		fmt.Fprintln(w, k)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write missing list: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write missing list: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadMissing reads a missing list, skipping blank lines and # comments.
func ReadMissing(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read missing list: %w", err)
	}
	return keys, nil
}
