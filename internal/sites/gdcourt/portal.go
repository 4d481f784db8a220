package gdcourt

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"courtcrawl/internal/driver"
	"courtcrawl/internal/record"
	"courtcrawl/internal/session"
	"courtcrawl/internal/workkey"

	"github.com/PuerkitoBio/goquery"
)

const baseURL = "https://eapps.courts.state.va.us/gdcourts/"

// Portal is the hearing-date search of the general district court case
// information system.
type Portal struct {
	base      *url.URL
	courtCode func(header string) int
}

func NewPortal(courtCode func(string) int) *Portal {
	base, _ := url.Parse(baseURL)
	return &Portal{base: base, courtCode: courtCode}
}

func (p *Portal) Form() driver.Form {
	return driver.Form{
		SearchURL: p.base.String() + "caseSearch.do?searchBy=H",
		Query:     "#txthearingdate",
		Submit:    "input[name='caseSearch']",
		Results:   "table.tableborder",
		Next:      "input[name='caseInfoScrollForward']",
	}
}

func (p *Portal) Query(key workkey.Key) (string, error) {
	d, ok := key.(workkey.Date)
	if !ok {
		return "", fmt.Errorf("gdcourt searches by date, got %T", key)
	}
	return d.Format("01/02/2006"), nil
}

// listingColumns maps result table headers to listing columns.
var listingColumns = map[string]string{
	"case_number":         "case_number",
	"case":                "case_number",
	"defendant":           "name",
	"defendant_plaintiff": "name",
	"name":                "name",
	"charge":              "charge",
	"charge_complaint":    "charge",
	"hearing_time":        "hearing_time",
	"time":                "hearing_time",
	"result":              "result",
	"hearing_type":        "hearing_type",
}

func (p *Portal) ParseListing(src string) ([]record.Row, []record.Reference, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse listing: %w", err)
	}
	table := doc.Find("table.tableborder").First()
	if table.Length() == 0 {
		if noResults(doc) {
			return nil, nil, record.ErrNoResults
		}
		return nil, nil, fmt.Errorf("%w: results table", session.ErrNotFound)
	}

	court := clean(doc.Find("#headerCourtName").Text())
	code := p.courtCode(court)

	trs := table.Find("tr")
	var header []string
	trs.First().Find("th, td").Each(func(_ int, c *goquery.Selection) {
		header = append(header, listingColumns[snake(c.Text())])
	})

	var rows []record.Row
	var refs []record.Reference
	trs.Slice(1, goquery.ToEnd).Each(func(_ int, tr *goquery.Selection) {
		link := tr.Find("a").First()
		id := clean(link.Text())
		href, ok := link.Attr("href")
		if id == "" || !ok {
			return
		}
		target, err := p.base.Parse(href)
		if err != nil {
			return
		}

		row := record.Row{
			"court":      court,
			"court_code": strconv.Itoa(code),
		}
		tr.Find("td").Each(func(i int, td *goquery.Selection) {
			if i < len(header) && header[i] != "" {
				row[header[i]] = clean(td.Text())
			}
		})
		row["case_number"] = id
		rows = append(rows, row)
		refs = append(refs, record.Reference{ID: id, Target: target.String()})
	})
	return rows, refs, nil
}

var noResultsNotices = []string{
	"no results found",
	"no cases found",
	"no records found",
	"no matching",
}

// noResults reports whether a rendered search page says nothing matched.
func noResults(doc *goquery.Document) bool {
	text := strings.ToLower(clean(doc.Find("body").Text()))
	for _, n := range noResultsNotices {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

var (
	spaceRe = regexp.MustCompile(`\s+`)
	snakeRe = regexp.MustCompile(`[^a-z0-9]+`)
)

func clean(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// snake turns a label such as "Fine/Costs Due:" into fine_costs_due.
func snake(s string) string {
	return strings.Trim(snakeRe.ReplaceAllString(strings.ToLower(clean(s)), "_"), "_")
}
