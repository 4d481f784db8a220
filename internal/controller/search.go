package controller

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"courtcrawl/internal/driver"
	"courtcrawl/internal/fanout"
	"courtcrawl/internal/flush"
	"courtcrawl/internal/ledger"
	"courtcrawl/internal/workkey"
)

// SearchConfig names the tables a SearchUnit writes.
type SearchConfig struct {
	ListingTable string
	DetailTable  string
	// RecordColumn is the listing column holding the record identifier.
	// Listing rows are keyed by work key and record identifier.
	RecordColumn string
	// MaxPages stops pagination after this many pages. Zero means no cap.
	MaxPages int
	RunID    string
}

// SearchUnit runs one search per key: submit the query, then for every
// listing page fan out to the unseen details, read the pagination state and
// flush the page, until the next control is disabled.
type SearchUnit struct {
	driver  *driver.Driver
	fan     *fanout.Coordinator
	flusher *flush.Flusher
	ledger  *ledger.Ledger
	cfg     SearchConfig
	log     *slog.Logger
	now     func() time.Time
}

func NewSearchUnit(d *driver.Driver, fan *fanout.Coordinator, f *flush.Flusher, l *ledger.Ledger, cfg SearchConfig, log *slog.Logger) *SearchUnit {
	if log == nil {
		log = slog.Default()
	}
	return &SearchUnit{
		driver:  d,
		fan:     fan,
		flusher: f,
		ledger:  l,
		cfg:     cfg,
		log:     log.With("component", "search"),
		now:     time.Now,
	}
}

// Done is always false: progress inside a key is tracked per record.
func (u *SearchUnit) Done(ctx context.Context, key workkey.Key) (bool, error) {
	return false, nil
}

func (u *SearchUnit) Run(ctx context.Context, key workkey.Key) (Result, error) {
	var res Result
	log := u.log.With("key", key.ID())

	if err := u.ledger.Reload(ctx); err != nil {
		return res, fmt.Errorf("failed to reload ledger: %w", err)
	}
	if err := u.driver.SubmitQuery(ctx, key); err != nil {
		return res, err
	}

	seen := func(id string) bool { return u.ledger.Has(u.cfg.DetailTable, id) }
	for {
		if u.cfg.MaxPages > 0 && res.Pages >= u.cfg.MaxPages {
			log.Warn("page cap reached", "pages", res.Pages)
			return exhausted(res)
		}

		page, err := u.driver.ReadResultPage(ctx)
		if err != nil {
			return res, err
		}
		if page.Empty {
			log.Info("search has no results")
			return exhausted(res)
		}
		fres, err := u.fan.Run(ctx, page.Refs, seen)
		if err != nil {
			return res, err
		}
		state, stateErr := u.driver.PaginationState(ctx)
		if stateErr != nil && !IsDeferrable(stateErr) {
			return res, stateErr
		}

		var b flush.Batch
		at := u.now().UTC().Format(time.RFC3339)
		for _, r := range page.Rows {
			row := maps.Clone(r)
			row["listing_id"] = key.ID() + "/" + r[u.cfg.RecordColumn]
			row["work_key"] = key.ID()
			row["page"] = strconv.Itoa(page.Number)
			row["pagination"] = state.String()
			row["run_id"] = u.cfg.RunID
			row["scraped_at"] = at
			b.Add(u.cfg.ListingTable, row)
		}
		for _, d := range fres.Details {
			b.AddDetail(u.cfg.DetailTable, d)
		}
		st, err := u.flusher.Flush(ctx, b)
		if err != nil {
			return res, err
		}

		res.Pages++
		res.Rows += st.Total()
		res.Details += len(fres.Details)
		res.Dropped += len(fres.Dropped)
		res.Failed += len(fres.Failed)
		log.Info("page processed",
			"page", page.Number,
			"listed", len(page.Refs),
			"opened", fres.Opened,
			"written", st.Total(),
			"pagination", state.String())

		switch state {
		case driver.StateDisabled:
			return exhausted(res)
		case driver.StateMore:
			if err := u.driver.Advance(ctx); err != nil {
				return res, err
			}
		default:
			log.Warn("pagination state unknown", "page", page.Number, "err", stateErr)
			return res, fmt.Errorf("%w: pagination state unknown after page %d", ErrPartial, page.Number)
		}
	}
}

// exhausted ends a key with nothing left to page through. Details that could
// not be read leave the key partial.
func exhausted(res Result) (Result, error) {
	if res.Failed > 0 {
		return res, fmt.Errorf("%w: %d detail views unreadable", ErrPartial, res.Failed)
	}
	return res, nil
}
