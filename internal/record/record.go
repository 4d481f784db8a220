// Package record holds the value types passed between the driver, the
// fan-out coordinator and the flusher. None of them are shared globally:
// a ResultPage and the details extracted from it live for one page only.
package record

import "errors"

var (
	// ErrParse is returned by extractors when a detail view yields no usable
	// record identifier. The row is dropped for this pass.
	ErrParse = errors.New("no usable record identifier")

	// ErrRateLimited is returned by extractors when the site served a
	// throttling page instead of the record.
	ErrRateLimited = errors.New("rate limited by site")

	// ErrNoResults is returned by listing parsers when the portal answered
	// the search with no hits.
	ErrNoResults = errors.New("search has no results")
)

// Row is one tabular row keyed by column name.
type Row map[string]string

// Reference points at one record's detail view.
type Reference struct {
	ID     string
	Target string
}

// ResultPage is the listing for one work key at one pagination offset.
type ResultPage struct {
	Number int
	Rows   []Row
	Refs   []Reference
	// Empty marks a search with no results; no page follows it.
	Empty bool
}

// Detail is everything extracted from one record's detail view.
// Children maps a child table name to its rows, each carrying the record ID.
type Detail struct {
	ID       string
	Summary  Row
	Children map[string][]Row
}
