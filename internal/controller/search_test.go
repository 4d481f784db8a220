package controller

import (
	"context"
	"strings"
	"testing"
	"time"

	"courtcrawl/internal/driver"
	"courtcrawl/internal/fanout"
	"courtcrawl/internal/flush"
	"courtcrawl/internal/ledger"
	"courtcrawl/internal/record"
	"courtcrawl/internal/retry"
	"courtcrawl/internal/session"
	"courtcrawl/internal/session/sessiontest"
	"courtcrawl/internal/sink"
	"courtcrawl/internal/workkey"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type portal struct{ l *sessiontest.Listing }

func (p portal) Form() driver.Form {
	return driver.Form{
		SearchURL: "https://portal.test/search",
		Query:     sessiontest.QuerySelector,
		Submit:    sessiontest.SubmitSelector,
		Results:   sessiontest.ResultsSelector,
		Next:      sessiontest.NextSelector,
	}
}

func (p portal) Query(key workkey.Key) (string, error) { return key.ID(), nil }

func (p portal) ParseListing(html string) ([]record.Row, []record.Reference, error) {
	return p.l.ParseListing(html)
}

type extractor struct{}

func (extractor) Extract(html string) (record.Detail, error) {
	id := strings.TrimPrefix(html, "case=")
	if id == "" {
		return record.Detail{}, record.ErrParse
	}
	return record.Detail{
		ID:      id,
		Summary: record.Row{"case_number": id},
		Children: map[string][]record.Row{
			"hearing_info": {{"case_number": id, "result": "continued"}},
		},
	}, nil
}

var searchTables = []sink.Table{
	{Name: "main_table", Columns: []string{"listing_id", "case_number", "work_key", "page", "pagination", "run_id", "scraped_at"}, Key: "listing_id"},
	{Name: "case_detail", Columns: []string{"case_number"}, Key: "case_number"},
	{Name: "hearing_info", Columns: []string{"case_number", "result"}, Key: "case_number", Parent: "case_detail"},
}

type harness struct {
	listing *sessiontest.Listing
	fake    *sessiontest.Fake
	sink    *sink.CSV
	unit    *SearchUnit
}

func newHarness(t *testing.T, dir string, pages map[string][][]string, maxPages int) *harness {
	t.Helper()
	l := &sessiontest.Listing{Pages: pages, BaseURL: "https://portal.test"}
	f := sessiontest.NewFake()
	f.Locator = l.Locate
	f.PrimarySource = l.Source
	for _, ps := range pages {
		for _, p := range ps {
			for _, id := range p {
				f.Documents[l.DetailURL(id)] = sessiontest.Detail(id)
			}
		}
	}

	s, err := sink.NewCSV(dir)
	require.NoError(t, err)
	led := ledger.New(s,
		ledger.Column{Table: "main_table", Column: "listing_id"},
		ledger.Column{Table: "case_detail", Column: "case_number"},
	)
	policy := retry.Policy{Attempts: 3, Delay: time.Millisecond}
	u := NewSearchUnit(
		driver.New(f, portal{l}, policy, nil),
		fanout.New(f, extractor{}, policy, fanout.Config{}),
		flush.New(s, led, searchTables, nil),
		led,
		SearchConfig{ListingTable: "main_table", DetailTable: "case_detail", RecordColumn: "case_number", MaxPages: maxPages, RunID: "run-1"},
		nil,
	)
	return &harness{listing: l, fake: f, sink: s, unit: u}
}

func (h *harness) count(t *testing.T, table string) int {
	t.Helper()
	n, err := h.sink.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

func TestSearchUnit_VisitsEveryPage(t *testing.T) {
	h := newHarness(t, t.TempDir(), map[string][][]string{
		"2019-01-02": {{"A", "B"}, {"C"}, {"D", "E"}},
	}, 0)

	res, err := h.unit.Run(context.Background(), workkey.NewDate(2019, time.January, 2))
	require.NoError(t, err)
	require.Equal(t, 3, res.Pages)
	require.Equal(t, 5, res.Details)
	require.Equal(t, 5, h.count(t, "case_detail"))
	require.Equal(t, 5, h.count(t, "hearing_info"))
	require.Equal(t, 5, h.count(t, "main_table"))
	require.Equal(t, []session.ContextID{h.fake.Primary()}, h.fake.Contexts())

	ids, err := h.sink.ReadColumn(context.Background(), "main_table", "page")
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"0": {}, "1": {}, "2": {}}, ids)
}

func TestSearchUnit_PageCap(t *testing.T) {
	h := newHarness(t, t.TempDir(), map[string][][]string{
		"2019-01-02": {{"A"}, {"B"}, {"C"}},
	}, 2)
	res, err := h.unit.Run(context.Background(), workkey.NewDate(2019, time.January, 2))
	require.NoError(t, err)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, 2, h.count(t, "case_detail"))
}

func TestSearchUnit_PageCapWithUnreadableDetail(t *testing.T) {
	h := newHarness(t, t.TempDir(), map[string][][]string{
		"2019-01-02": {{"A", "B"}, {"C"}},
	}, 1)
	h.fake.SourceErr = func(url string) error {
		if url == h.listing.DetailURL("B") {
			return session.ErrDriver
		}
		return nil
	}

	res, err := h.unit.Run(context.Background(), workkey.NewDate(2019, time.January, 2))
	require.ErrorIs(t, err, ErrPartial)
	require.True(t, IsDeferrable(err))
	require.Equal(t, 1, res.Pages)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, h.count(t, "case_detail"))
}

func TestSearchUnit_NoResultsCompletes(t *testing.T) {
	h := newHarness(t, t.TempDir(), map[string][][]string{
		"2019-01-02": {},
	}, 0)

	res, err := h.unit.Run(context.Background(), workkey.NewDate(2019, time.January, 2))
	require.NoError(t, err)
	require.Equal(t, 0, res.Pages)
	require.Equal(t, 0, res.Rows)
	require.Equal(t, []string{"2019-01-02"}, h.listing.Queries())
	require.Equal(t, []session.ContextID{h.fake.Primary()}, h.fake.Contexts())
}

func TestSearchUnit_UnknownPaginationDefers(t *testing.T) {
	h := newHarness(t, t.TempDir(), map[string][][]string{
		"2019-01-02": {{"A"}, {"B"}},
	}, 0)
	h.listing.NextFailures = 100

	res, err := h.unit.Run(context.Background(), workkey.NewDate(2019, time.January, 2))
	require.ErrorIs(t, err, ErrPartial)
	require.True(t, IsDeferrable(err))
	// The page read before the failure is kept.
	require.Equal(t, 1, res.Pages)
	require.Equal(t, 1, h.count(t, "case_detail"))
}

func TestController_IdempotentResume(t *testing.T) {
	dir := t.TempDir()
	pages := map[string][][]string{
		"2019-01-02": {{"A", "B"}, {"C"}},
		"2019-01-03": {{"C", "D"}},
	}
	keys := []workkey.Key{workkey.NewDate(2019, time.January, 2), workkey.NewDate(2019, time.January, 3)}

	first := newHarness(t, dir, pages, 0)
	sum, err := New(first.unit).Run(context.Background(), keys)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Completed)
	require.Equal(t, 4, first.count(t, "case_detail"))
	require.Equal(t, 5, first.count(t, "main_table"))
	require.Equal(t, 4, first.fake.Opened())

	// A restarted run over the same keys writes nothing and opens nothing.
	second := newHarness(t, dir, pages, 0)
	sum, err = New(second.unit).Run(context.Background(), keys)
	require.NoError(t, err)
	require.Zero(t, sum.Rows)
	require.Zero(t, second.fake.Opened())
	require.Equal(t, 4, second.count(t, "case_detail"))
	require.Equal(t, 4, second.count(t, "hearing_info"))
	require.Equal(t, 5, second.count(t, "main_table"))

	if diff := cmp.Diff([]string{"2019-01-02", "2019-01-03"}, second.listing.Queries()); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}
