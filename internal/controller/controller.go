// Package controller sequences work keys through a unit of work, deferring
// keys that fail recoverably and retrying them in a second sweep.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courtcrawl/internal/retry"
	"courtcrawl/internal/workkey"
)

var (
	// ErrFatalSetup aborts a run before any key is processed.
	ErrFatalSetup = errors.New("fatal setup error")

	// ErrPartial marks a key that was only partly processed. It is deferred.
	ErrPartial = errors.New("work key partially processed")
)

// Deferrable is implemented by failures that should send the key to the
// second sweep instead of aborting the run.
type Deferrable interface {
	Deferrable() bool
}

// Result is what one unit run did for one key.
type Result struct {
	Pages   int
	Rows    int
	Details int
	Dropped int
	Failed  int
}

// Unit processes one work key.
type Unit interface {
	// Done reports whether key needs no work at all.
	Done(ctx context.Context, key workkey.Key) (bool, error)
	Run(ctx context.Context, key workkey.Key) (Result, error)
}

// Summary reports a whole run.
type Summary struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Keys      int `json:"keys"`
	Skipped   int `json:"skipped"`
	Completed int `json:"completed"`
	Pages     int `json:"pages"`
	Rows      int `json:"rows"`
	Details   int `json:"details"`
	Dropped   int `json:"dropped"`

	// Deferred lists keys unresolved after the first sweep, Unresolved
	// those still unresolved after the second.
	Deferred   []string `json:"deferred"`
	Unresolved []string `json:"unresolved"`
}

type Controller struct {
	unit       Unit
	log        *slog.Logger
	runID      string
	secondPass bool
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

// WithoutSecondPass leaves deferred keys unresolved.
func WithoutSecondPass() Option {
	return func(c *Controller) { c.secondPass = false }
}

func New(unit Unit, opts ...Option) *Controller {
	c := &Controller{unit: unit, log: slog.Default(), secondPass: true}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "controller")
	return c
}

// Run processes keys in order, then retries the deferred ones once. It
// returns early only on cancellation or an error that is not deferrable; the
// summary then covers the keys processed so far.
func (c *Controller) Run(ctx context.Context, keys []workkey.Key) (Summary, error) {
	sum := Summary{RunID: c.runID, Started: time.Now(), Keys: len(keys)}

	deferred, err := c.sweep(ctx, "first", keys, &sum)
	sum.Deferred = ids(deferred)
	if err != nil {
		sum.Unresolved = sum.Deferred
		sum.Finished = time.Now()
		return sum, err
	}
	c.log.Info("first sweep finished", "completed", sum.Completed, "deferred", len(deferred))

	if c.secondPass && len(deferred) > 0 {
		deferred, err = c.sweep(ctx, "second", deferred, &sum)
		sum.Unresolved = ids(deferred)
		if err != nil {
			sum.Finished = time.Now()
			return sum, err
		}
		c.log.Info("second sweep finished", "unresolved", len(deferred))
	} else {
		sum.Unresolved = sum.Deferred
	}
	sum.Finished = time.Now()
	return sum, nil
}

func (c *Controller) sweep(ctx context.Context, name string, keys []workkey.Key, sum *Summary) ([]workkey.Key, error) {
	var deferred []workkey.Key
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return append(deferred, keys[i:]...), err
		}
		log := c.log.With("key", key.ID(), "sweep", name)

		done, err := c.unit.Done(ctx, key)
		if err != nil {
			return append(deferred, keys[i:]...), fmt.Errorf("failed to check %s: %w", key.ID(), err)
		}
		if done {
			log.Debug("already done")
			sum.Skipped++
			continue
		}

		start := time.Now()
		res, err := c.unit.Run(ctx, key)
		sum.Pages += res.Pages
		sum.Rows += res.Rows
		sum.Details += res.Details
		sum.Dropped += res.Dropped
		switch {
		case err == nil:
			sum.Completed++
			log.Info("key done", "pages", res.Pages, "rows", res.Rows, "elapsed", time.Since(start).Round(time.Millisecond))
		case ctx.Err() != nil:
			return append(deferred, keys[i:]...), ctx.Err()
		case IsDeferrable(err):
			log.Warn("key deferred", "pages", res.Pages, "err", err)
			deferred = append(deferred, key)
		default:
			return append(deferred, keys[i:]...), fmt.Errorf("failed on %s: %w", key.ID(), err)
		}
	}
	return deferred, nil
}

// IsDeferrable reports whether err should defer its key rather than abort
// the run.
func IsDeferrable(err error) bool {
	if err == nil || errors.Is(err, ErrFatalSetup) {
		return false
	}
	if errors.Is(err, ErrPartial) {
		return true
	}
	var ie *retry.InteractionError
	if errors.As(err, &ie) {
		return true
	}
	var d Deferrable
	return errors.As(err, &d) && d.Deferrable()
}

func ids(keys []workkey.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.ID())
	}
	return out
}
