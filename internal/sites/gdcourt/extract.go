package gdcourt

import (
	"fmt"
	"strings"

	"courtcrawl/internal/record"

	"github.com/PuerkitoBio/goquery"
)

// Extractor reads a case detail page.
type Extractor struct{}

var rateLimitPhrases = []string{
	"too many requests",
	"exceeded the number of searches",
	"please try again later",
}

func (Extractor) Extract(html string) (record.Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return record.Detail{}, fmt.Errorf("failed to parse detail: %w", err)
	}
	body := strings.ToLower(clean(doc.Find("body").Text()))
	for _, p := range rateLimitPhrases {
		if strings.Contains(body, p) {
			return record.Detail{}, record.ErrRateLimited
		}
	}

	fields := labelValues(doc)
	id := fields["case_number"]
	if id == "" {
		return record.Detail{}, record.ErrParse
	}

	summary := record.Row{}
	for _, col := range detailColumns {
		if v, ok := fields[col]; ok {
			summary[col] = v
		}
	}
	summary["case_number"] = id

	d := record.Detail{ID: id, Summary: summary, Children: map[string][]record.Row{}}
	doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		header, rows := grid(t)
		var table string
		switch {
		case has(header, "hearing_type") || (has(header, "date") && has(header, "result")):
			table = "hearing_info"
		case has(header, "how_served") || has(header, "service_process_type") || has(header, "process_type"):
			table = "service_info"
		default:
			return
		}
		for _, r := range rows {
			r["case_number"] = id
			d.Children[table] = append(d.Children[table], r)
		}
	})
	return d, nil
}

// labelValues collects "Label:" cells and the text of the cell after each.
func labelValues(doc *goquery.Document) map[string]string {
	out := map[string]string{}
	doc.Find("td, th").Each(func(_ int, c *goquery.Selection) {
		label := clean(c.Text())
		if !strings.HasSuffix(label, ":") || len(label) > 40 {
			return
		}
		key := snake(label)
		if _, seen := out[key]; seen || key == "" {
			return
		}
		out[key] = clean(c.Next().Text())
	})
	return out
}

// grid reads a table whose first row is a header of th cells.
func grid(t *goquery.Selection) ([]string, []record.Row) {
	trs := t.ChildrenFiltered("tbody").ChildrenFiltered("tr")
	if trs.Length() == 0 {
		trs = t.ChildrenFiltered("tr")
	}
	first := trs.First()
	if first.Find("th").Length() == 0 {
		return nil, nil
	}
	var header []string
	first.Find("th").Each(func(_ int, c *goquery.Selection) {
		header = append(header, snake(c.Text()))
	})

	var rows []record.Row
	trs.Slice(1, goquery.ToEnd).Each(func(_ int, tr *goquery.Selection) {
		r := record.Row{}
		tr.Find("td").Each(func(i int, td *goquery.Selection) {
			if i < len(header) && header[i] != "" {
				r[header[i]] = clean(td.Text())
			}
		})
		if len(r) > 0 {
			rows = append(rows, r)
		}
	})
	return header, rows
}

func has(header []string, col string) bool {
	for _, h := range header {
		if h == col {
			return true
		}
	}
	return false
}
