// Package snapshot keeps a Markdown copy of every visited detail view.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Writer saves snapshots as <dir>/<id>.md.
type Writer struct {
	dir  string
	conv *md.Converter
}

func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	return &Writer{dir: dir, conv: md.NewConverter("", true, nil)}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Path returns the file a snapshot of id is written to.
func (w *Writer) Path(id string) string {
	return filepath.Join(w.dir, unsafeName.ReplaceAllString(id, "_")+".md")
}

func (w *Writer) Save(id, html string) error {
	text, err := w.markdown(html)
	if err != nil {
		return err
	}
	return os.WriteFile(w.Path(id), []byte(text), 0644)
}

func (w *Writer) markdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse detail view: %w", err)
	}
	convertTables(doc)
	out := w.conv.Convert(doc.Selection)
	return strings.TrimSpace(out) + "\n", nil
}

// convertTables replaces every table with a Markdown rendering of it,
// innermost first, so a nested table ends up as text in its parent's cell.
func convertTables(doc *goquery.Document) {
	for {
		inner := doc.Find("table").FilterFunction(func(_ int, t *goquery.Selection) bool {
			return t.Find("table").Length() == 0
		})
		if inner.Length() == 0 {
			return
		}
		inner.Each(func(_ int, t *goquery.Selection) {
			t.ReplaceWithHtml(tableToMarkdown(t))
		})
	}
}

// tableToMarkdown renders one table, taking the first row as header. The
// result is wrapped in <pre> so the converter leaves the pipes alone.
func tableToMarkdown(table *goquery.Selection) string {
	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, strings.Join(strings.Fields(c.Text()), " "))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})
	if len(rows) == 0 {
		return ""
	}

	var b strings.Builder
	writeRow(&b, rows[0])
	sep := make([]string, len(rows[0]))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep)
	for _, r := range rows[1:] {
		writeRow(&b, r)
	}
	return "<pre>" + escapeHTML(b.String()) + "</pre>"
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |\n")
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string { return htmlEscaper.Replace(s) }
