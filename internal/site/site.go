// Package site defines what a crawlable court site provides and keeps the
// registry sites add themselves to from init.
package site

import (
	"fmt"
	"log/slog"

	"courtcrawl/internal/config"
	"courtcrawl/internal/controller"
	"courtcrawl/internal/driver"
	"courtcrawl/internal/fanout"
	"courtcrawl/internal/flush"
	"courtcrawl/internal/ledger"
	"courtcrawl/internal/session"
	"courtcrawl/internal/sink"
	"courtcrawl/internal/snapshot"
	"courtcrawl/internal/workkey"
)

// Env carries what a site needs to build its unit of work.
type Env struct {
	Config  config.Config
	Session session.Session
	Sink    sink.Sink
	Log     *slog.Logger
	RunID   string
}

type Site interface {
	Name() string
	Description() string
	// Keys enumerates the site's work keys from the configuration.
	Keys(cfg config.Config) ([]workkey.Key, error)
	// ParseKey rebuilds a key from its ID or from an artifact file name.
	ParseKey(cfg config.Config, s string) (workkey.Key, error)
	// Tables lists the output tables, parents before children.
	Tables() []sink.Table
	NewUnit(env Env) (controller.Unit, error)
}

// Search describes a search-and-detail site.
type Search struct {
	Portal    driver.Portal
	Extractor fanout.Extractor
	Tables    []sink.Table
	Listing   string
	Detail    string
	// RecordColumn is the listing column holding the record identifier.
	RecordColumn string
}

// NewSearchUnit wires driver, fan-out, flusher and ledger over env for s.
func NewSearchUnit(env Env, s Search) (*controller.SearchUnit, error) {
	cfg := env.Config
	log := env.Log
	if log == nil {
		log = slog.Default()
	}
	policy := cfg.RetryPolicy()
	policy.Notify = func(op string, attempt int, err error) {
		log.Debug("retrying", "op", op, "attempt", attempt, "err", err)
	}

	opts := []fanout.Option{fanout.WithLogger(log)}
	if cfg.Output.Snapshots != "" {
		w, err := snapshot.New(cfg.Output.Snapshots)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", controller.ErrFatalSetup, err)
		}
		opts = append(opts, fanout.WithSnapshots(w))
	}

	var cols []ledger.Column
	for _, t := range s.Tables {
		if t.Key != "" && t.Parent == "" {
			cols = append(cols, ledger.Column{Table: t.Name, Column: t.Key})
		}
	}
	led := ledger.New(env.Sink, cols...)

	return controller.NewSearchUnit(
		driver.New(env.Session, s.Portal, policy, log),
		fanout.New(env.Session, s.Extractor, policy, cfg.Fanout, opts...),
		flush.New(env.Sink, led, s.Tables, log),
		led,
		controller.SearchConfig{
			ListingTable: s.Listing,
			DetailTable:  s.Detail,
			RecordColumn: s.RecordColumn,
			MaxPages:     cfg.Crawl.MaxPages,
			RunID:        env.RunID,
		},
		log,
	), nil
}
