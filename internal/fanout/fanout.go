// Package fanout visits the detail view of every unseen record on a listing
// page. Contexts are opened eagerly and visited one at a time; each is closed
// and focus returned to the primary context whatever the visit's outcome.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courtcrawl/internal/record"
	"courtcrawl/internal/retry"
	"courtcrawl/internal/session"

	"golang.org/x/time/rate"
)

// Extractor turns a detail view's markup into a record.
type Extractor interface {
	// Extract fails with record.ErrParse when no identifier can be read and
	// with record.ErrRateLimited when the site served a throttling page.
	Extract(html string) (record.Detail, error)
}

// Snapshotter keeps a copy of each visited detail view.
type Snapshotter interface {
	Save(id, html string) error
}

type Config struct {
	// OpensPerSecond paces context opens. Zero means unpaced.
	OpensPerSecond float64 `yaml:"opens_per_second"`
	Burst          int     `yaml:"burst"`
	// Cooloff is slept after a rate-limited detail view.
	Cooloff time.Duration `yaml:"cooloff"`
}

// Result is the outcome of one fan-out pass.
type Result struct {
	Opened  int
	Details []record.Detail
	// Dropped lists references skipped for this pass (parse failures and
	// rate limiting).
	Dropped []string
	// Failed lists references whose view could not be read before the retry
	// budget ran out.
	Failed []string
}

type Coordinator struct {
	sess    session.Session
	ex      Extractor
	policy  retry.Policy
	limiter *rate.Limiter
	cooloff time.Duration
	snap    Snapshotter
	log     *slog.Logger
}

type Option func(*Coordinator)

func WithSnapshots(s Snapshotter) Option {
	return func(c *Coordinator) { c.snap = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func New(sess session.Session, ex Extractor, policy retry.Policy, cfg Config, opts ...Option) *Coordinator {
	limit := rate.Inf
	if cfg.OpensPerSecond > 0 {
		limit = rate.Limit(cfg.OpensPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	c := &Coordinator{
		sess:    sess,
		ex:      ex,
		policy:  policy,
		limiter: rate.NewLimiter(limit, burst),
		cooloff: cfg.Cooloff,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "fanout")
	return c
}

type opened struct {
	ref record.Reference
	id  session.ContextID
}

// Run visits every reference for which seen returns false. It returns early
// only on errors that are not about a single record; the session is left
// with exactly the primary context open and focused.
func (c *Coordinator) Run(ctx context.Context, refs []record.Reference, seen func(id string) bool) (res Result, err error) {
	primary := c.sess.Primary()
	var pending []opened
	defer func() {
		if cerr := c.release(ctx, pending, primary); cerr != nil && err == nil {
			err = cerr
		}
	}()

	dup := map[string]struct{}{}
	for _, ref := range refs {
		if ref.ID == "" || seen(ref.ID) {
			continue
		}
		if _, ok := dup[ref.ID]; ok {
			continue
		}
		dup[ref.ID] = struct{}{}

		if err := c.limiter.Wait(ctx); err != nil {
			return res, err
		}
		id, err := retry.Value(ctx, c.policy, "open detail", func(ctx context.Context) (session.ContextID, error) {
			return c.sess.Open(ctx, ref.Target)
		})
		if err != nil {
			var ie *retry.InteractionError
			if errors.As(err, &ie) {
				c.log.Warn("could not open detail", "case", ref.ID, "err", err)
				res.Failed = append(res.Failed, ref.ID)
				continue
			}
			return res, err
		}
		pending = append(pending, opened{ref: ref, id: id})
		res.Opened++
	}

	for len(pending) > 0 {
		o := pending[0]
		pending = pending[1:]

		d, err := c.visit(ctx, o, primary)
		switch {
		case err == nil:
			res.Details = append(res.Details, d)
		case errors.Is(err, record.ErrParse):
			c.log.Warn("dropping detail without identifier", "case", o.ref.ID)
			res.Dropped = append(res.Dropped, o.ref.ID)
		case errors.Is(err, record.ErrRateLimited):
			c.log.Warn("rate limited, cooling off", "case", o.ref.ID, "cooloff", c.cooloff)
			res.Dropped = append(res.Dropped, o.ref.ID)
			if err := sleep(ctx, c.cooloff); err != nil {
				return res, err
			}
		default:
			var ie *retry.InteractionError
			if errors.As(err, &ie) || errors.Is(err, session.ErrUnknownContext) {
				c.log.Warn("could not read detail", "case", o.ref.ID, "err", err)
				res.Failed = append(res.Failed, o.ref.ID)
				continue
			}
			return res, err
		}
	}
	return res, nil
}

func (c *Coordinator) visit(ctx context.Context, o opened, primary session.ContextID) (d record.Detail, err error) {
	defer func() {
		cerr := c.closeAndRefocus(ctx, o.id, primary)
		if cerr == nil {
			return
		}
		var ie *retry.InteractionError
		if errors.As(cerr, &ie) {
			c.log.Warn("detail cleanup failed", "case", o.ref.ID, "err", cerr)
			return
		}
		if err == nil {
			err = cerr
		}
	}()

	err = c.policy.Do(ctx, "focus detail", func(ctx context.Context) error {
		return c.sess.Focus(ctx, o.id)
	})
	if err != nil {
		return d, err
	}
	html, err := retry.Value(ctx, c.policy, "read detail", func(ctx context.Context) (string, error) {
		return c.sess.Source(ctx, o.id)
	})
	if err != nil {
		return d, err
	}
	if c.snap != nil {
		if err := c.snap.Save(o.ref.ID, html); err != nil {
			c.log.Warn("snapshot failed", "case", o.ref.ID, "err", err)
		}
	}

	d, err = c.ex.Extract(html)
	if err != nil {
		return d, err
	}
	if d.ID == "" {
		return d, record.ErrParse
	}
	return d, nil
}

// closeAndRefocus always attempts the refocus, even when the close failed.
// Spent retry budgets surface as *retry.InteractionError; the release at the
// end of Run tries the close again.
func (c *Coordinator) closeAndRefocus(ctx context.Context, id, primary session.ContextID) error {
	ctx, cancel := cleanupContext(ctx)
	defer cancel()
	closeErr := c.policy.Do(ctx, "close detail", func(ctx context.Context) error {
		if err := c.sess.CloseContext(ctx, id); err != nil && !errors.Is(err, session.ErrUnknownContext) {
			return err
		}
		return nil
	})
	focusErr := c.policy.Do(ctx, "refocus primary", func(ctx context.Context) error {
		return c.sess.Focus(ctx, primary)
	})
	return errors.Join(closeErr, focusErr)
}

// release closes contexts opened but never visited and any stray context
// left by the site (pop-ups), then refocuses the primary context.
func (c *Coordinator) release(ctx context.Context, pending []opened, primary session.ContextID) error {
	ctx, cancel := cleanupContext(ctx)
	defer cancel()

	var errs []error
	for _, id := range c.sess.Contexts() {
		if id == primary {
			continue
		}
		err := c.policy.Do(ctx, "release detail", func(ctx context.Context) error {
			if err := c.sess.CloseContext(ctx, id); err != nil && !errors.Is(err, session.ErrUnknownContext) {
				return err
			}
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", id, err))
		}
	}
	if len(pending) > 0 {
		c.log.Debug("released unvisited contexts", "count", len(pending))
	}
	err := c.policy.Do(ctx, "refocus primary", func(ctx context.Context) error {
		return c.sess.Focus(ctx, primary)
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to refocus primary: %w", err))
	}
	return errors.Join(errs...)
}

// cleanupContext outlives cancellation of the crawl so contexts are released
// on every exit path.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
