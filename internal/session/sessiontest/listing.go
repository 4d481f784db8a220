package sessiontest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"courtcrawl/internal/record"
	"courtcrawl/internal/session"
)

// Selectors served by Listing.
const (
	QuerySelector   = "#query"
	SubmitSelector  = "#submit"
	ResultsSelector = "#results"
	NextSelector    = "#next"
)

// Listing simulates a paginated search portal in the primary context. Plug
// its Locate method into Fake.Locator.
type Listing struct {
	mu sync.Mutex

	// Pages holds the record IDs shown on each page, per query. A query
	// without pages is answered with a no-results notice.
	Pages map[string][][]string
	// BaseURL prefixes detail targets.
	BaseURL string
	// NextFailures makes the next control unlocatable this many times.
	NextFailures int
	// Stuck makes clicks on the next control have no effect.
	Stuck bool

	typed   string
	query   string
	page    int
	loaded  bool
	queries []string
}

func (l *Listing) Locate(selector string) (session.Element, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch selector {
	case QuerySelector:
		return &Element{OnInput: func(text string) error {
			l.mu.Lock()
			l.typed = text
			l.mu.Unlock()
			return nil
		}}, nil
	case SubmitSelector:
		return &Element{OnClick: func() error {
			l.mu.Lock()
			l.query = l.typed
			l.page = 0
			l.loaded = true
			l.queries = append(l.queries, l.query)
			l.mu.Unlock()
			return nil
		}}, nil
	case ResultsSelector:
		if !l.loaded || len(l.Pages[l.query]) == 0 {
			return nil, fmt.Errorf("%w: %s", session.ErrNotFound, selector)
		}
		return &Element{HTMLValue: l.render()}, nil
	case NextSelector:
		if !l.loaded || len(l.Pages[l.query]) == 0 {
			return nil, fmt.Errorf("%w: %s", session.ErrNotFound, selector)
		}
		if l.NextFailures > 0 {
			l.NextFailures--
			return nil, fmt.Errorf("%w: %s", session.ErrNotFound, selector)
		}
		attrs := map[string]string{"class": "pager-next"}
		if l.page >= len(l.Pages[l.query])-1 {
			attrs["class"] = "pager-next disabled"
		}
		return &Element{Attrs: attrs, OnClick: func() error {
			l.mu.Lock()
			defer l.mu.Unlock()
			if !l.Stuck && l.page < len(l.Pages[l.query])-1 {
				l.page++
			}
			return nil
		}}, nil
	}
	return nil, fmt.Errorf("%w: %s", session.ErrNotFound, selector)
}

// Source renders the search page. Plug it into Fake.PrimarySource.
func (l *Listing) Source() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		return "", nil
	}
	if len(l.Pages[l.query]) == 0 {
		return noResults, nil
	}
	return l.render(), nil
}

const noResults = "no results"

func (l *Listing) render() string {
	pages := l.Pages[l.query]
	var ids []string
	if l.page < len(pages) {
		ids = pages[l.page]
	}
	return fmt.Sprintf("query=%s;page=%d;ids=%s", l.query, l.page, strings.Join(ids, ","))
}

// Queries returns every submitted query, in order.
func (l *Listing) Queries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.queries...)
}

// DetailURL is the target a listing row points at.
func (l *Listing) DetailURL(id string) string {
	return l.BaseURL + "/case/" + id
}

// ParseListing parses markup rendered by Listing.
func (l *Listing) ParseListing(html string) ([]record.Row, []record.Reference, error) {
	if html == noResults {
		return nil, nil, record.ErrNoResults
	}
	fields := map[string]string{}
	for _, part := range strings.Split(html, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, nil, fmt.Errorf("%w: malformed listing %q", session.ErrNotFound, html)
		}
		fields[k] = v
	}
	page, err := strconv.Atoi(fields["page"])
	if err != nil {
		return nil, nil, fmt.Errorf("bad page in listing: %w", err)
	}
	var rows []record.Row
	var refs []record.Reference
	for _, id := range strings.Split(fields["ids"], ",") {
		if id == "" {
			continue
		}
		rows = append(rows, record.Row{
			"case_number": id,
			"shown_page":  strconv.Itoa(page),
		})
		refs = append(refs, record.Reference{ID: id, Target: l.DetailURL(id)})
	}
	return rows, refs, nil
}

// Detail renders the detail document Fake serves for id.
func Detail(id string) string {
	return "case=" + id
}
