// Package driver runs the search form and walks the paginated listing in the
// session's primary context.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"courtcrawl/internal/record"
	"courtcrawl/internal/retry"
	"courtcrawl/internal/session"
	"courtcrawl/internal/workkey"
)

// State is the pagination state read after a page has been processed.
type State int

const (
	// StateUnknown means the next control could not be examined.
	StateUnknown State = iota
	StateMore
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateMore:
		return "more"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Form holds the selectors of a search portal.
type Form struct {
	SearchURL string
	// Setup, when non-empty, is clicked in order before the query is typed
	// (court pickers, search-by tabs).
	Setup   []string
	Query   string
	Submit  string
	Results string
	Next    string
}

// Portal describes one search site's layout.
type Portal interface {
	Form() Form
	// Query formats key as the text typed into the query input.
	Query(key workkey.Key) (string, error)
	// ParseListing extracts the rows and detail references from the
	// rendered search page. A listing that is not rendered yet should fail
	// with session.ErrNotFound so it is read again; a search with no hits
	// fails with record.ErrNoResults.
	ParseListing(html string) ([]record.Row, []record.Reference, error)
}

// Driver is not safe for concurrent use.
type Driver struct {
	sess   session.Session
	portal Portal
	policy retry.Policy
	log    *slog.Logger

	page        int
	fingerprint string
	empty       bool
}

func New(sess session.Session, portal Portal, policy retry.Policy, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		sess:   sess,
		portal: portal,
		policy: policy,
		log:    log.With("component", "driver"),
	}
}

// Page returns the zero-based offset of the listing currently loaded.
func (d *Driver) Page() int { return d.page }

// SubmitQuery loads the search form in the primary context and submits the
// query for key, waiting until the results container is present or the
// portal says the search has no results.
func (d *Driver) SubmitQuery(ctx context.Context, key workkey.Key) error {
	q, err := d.portal.Query(key)
	if err != nil {
		return fmt.Errorf("failed to format query for %s: %w", key.ID(), err)
	}
	form := d.portal.Form()
	primary := d.sess.Primary()

	var empty bool
	err = d.policy.Do(ctx, "submit query", func(ctx context.Context) error {
		if err := d.sess.Navigate(ctx, primary, form.SearchURL); err != nil {
			return err
		}
		for _, sel := range form.Setup {
			if err := d.click(ctx, sel); err != nil {
				return err
			}
		}
		in, err := d.sess.Locate(ctx, primary, form.Query)
		if err != nil {
			return err
		}
		if err := in.Input(q); err != nil {
			return err
		}
		if err := d.click(ctx, form.Submit); err != nil {
			return err
		}
		empty, err = d.awaitResults(ctx)
		return err
	})
	if err != nil {
		return err
	}

	d.page = 0
	d.fingerprint = ""
	d.empty = empty
	d.log.Debug("query submitted", "key", key.ID(), "query", q, "empty", empty)
	return nil
}

// awaitResults reports whether the search came back empty. Without a results
// container the page is handed to the portal, which recognizes its own
// no-results notice.
func (d *Driver) awaitResults(ctx context.Context) (bool, error) {
	primary := d.sess.Primary()
	_, err := d.sess.Locate(ctx, primary, d.portal.Form().Results)
	if err == nil || !errors.Is(err, session.ErrNotFound) {
		return false, err
	}
	src, serr := d.sess.Source(ctx, primary)
	if serr != nil {
		return false, serr
	}
	if _, _, perr := d.portal.ParseListing(src); errors.Is(perr, record.ErrNoResults) {
		return true, nil
	}
	return false, err
}

// ReadResultPage reads and parses the listing currently shown. A search with
// no results yields an empty page marked Empty.
func (d *Driver) ReadResultPage(ctx context.Context) (record.ResultPage, error) {
	if d.empty {
		return record.ResultPage{Number: d.page, Empty: true}, nil
	}
	var rows []record.Row
	var refs []record.Reference
	frag, err := retry.Value(ctx, d.policy, "read listing", func(ctx context.Context) (string, error) {
		frag, err := d.listing(ctx)
		if err != nil {
			return "", err
		}
		src, err := d.sess.Source(ctx, d.sess.Primary())
		if err != nil {
			return "", err
		}
		rows, refs, err = d.portal.ParseListing(src)
		return frag, err
	})
	if errors.Is(err, record.ErrNoResults) {
		d.empty = true
		return record.ResultPage{Number: d.page, Empty: true}, nil
	}
	if err != nil {
		return record.ResultPage{}, err
	}
	d.fingerprint = frag
	return record.ResultPage{Number: d.page, Rows: rows, Refs: refs}, nil
}

// PaginationState examines the next control. When it cannot be examined the
// state is StateUnknown and the error says why.
func (d *Driver) PaginationState(ctx context.Context) (State, error) {
	if d.empty {
		return StateDisabled, nil
	}
	st, err := retry.Value(ctx, d.policy, "read pagination", func(ctx context.Context) (State, error) {
		el, err := d.sess.Locate(ctx, d.sess.Primary(), d.portal.Form().Next)
		if err != nil {
			return StateUnknown, err
		}
		return disabled(el)
	})
	if err != nil {
		return StateUnknown, err
	}
	return st, nil
}

// Advance clicks the next control and waits until a different listing is
// rendered. The click is not repeated once it went through.
func (d *Driver) Advance(ctx context.Context) error {
	next := d.portal.Form().Next
	if err := d.policy.Do(ctx, "click next", func(ctx context.Context) error {
		return d.click(ctx, next)
	}); err != nil {
		return err
	}

	err := d.policy.Do(ctx, "await next listing", func(ctx context.Context) error {
		html, err := d.listing(ctx)
		if err != nil {
			return err
		}
		if d.fingerprint != "" && html == d.fingerprint {
			return fmt.Errorf("%w: listing unchanged after next", session.ErrStaleReference)
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.page++
	return nil
}

func (d *Driver) listing(ctx context.Context) (string, error) {
	el, err := d.sess.Locate(ctx, d.sess.Primary(), d.portal.Form().Results)
	if err != nil {
		return "", err
	}
	return el.HTML()
}

func (d *Driver) click(ctx context.Context, selector string) error {
	el, err := d.sess.Locate(ctx, d.sess.Primary(), selector)
	if err != nil {
		return err
	}
	return el.Click()
}

func disabled(el session.Element) (State, error) {
	if _, ok, err := el.Attribute("disabled"); err != nil {
		return StateUnknown, err
	} else if ok {
		return StateDisabled, nil
	}
	if v, ok, err := el.Attribute("aria-disabled"); err != nil {
		return StateUnknown, err
	} else if ok && strings.EqualFold(v, "true") {
		return StateDisabled, nil
	}
	class, _, err := el.Attribute("class")
	if err != nil {
		return StateUnknown, err
	}
	for _, c := range strings.Fields(class) {
		if strings.Contains(strings.ToLower(c), "disabled") {
			return StateDisabled, nil
		}
	}
	return StateMore, nil
}
