package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"courtcrawl/internal/browser"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
)

const primaryID ContextID = "primary"

// Rod is a Session backed by go-rod tabs.
type Rod struct {
	browser *browser.Browser
	timeout time.Duration

	mu    sync.Mutex
	pages map[ContextID]*rod.Page
	order []ContextID
	focus ContextID
	seq   int
}

// NewRod opens the primary tab at startURL and waits for it to load.
// opTimeout bounds every single browser call.
func NewRod(ctx context.Context, b *browser.Browser, startURL string, opTimeout time.Duration) (*Rod, error) {
	page, err := b.NewPage("")
	if err != nil {
		return nil, fmt.Errorf("failed to create primary page: %w", err)
	}
	hideAutomation(page)

	r := &Rod{
		browser: b,
		timeout: opTimeout,
		pages:   map[ContextID]*rod.Page{primaryID: page},
		order:   []ContextID{primaryID},
		focus:   primaryID,
	}
	if startURL != "" {
		if err := r.Navigate(ctx, primaryID, startURL); err != nil {
			_ = page.Close()
			return nil, err
		}
	}
	return r, nil
}

func hideAutomation(page *rod.Page) {
	_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	})
	_, _ = page.EvalOnNewDocument(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`)
}

func (r *Rod) Primary() ContextID { return primaryID }

func (r *Rod) page(id ContextID) (*rod.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, id)
	}
	return p, nil
}

func (r *Rod) Navigate(ctx context.Context, id ContextID, url string) error {
	p, err := r.page(id)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	page := p.Context(opCtx)
	if err := page.Navigate(url); err != nil {
		return classify(err)
	}
	if err := page.WaitLoad(); err != nil {
		return classify(err)
	}
	return nil
}

func (r *Rod) Locate(ctx context.Context, id ContextID, selector string) (Element, error) {
	p, err := r.page(id)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	has, el, err := p.Context(opCtx).Has(selector)
	if err != nil {
		return nil, classify(err)
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return &rodElement{el: el, ctx: ctx, timeout: r.timeout}, nil
}

func (r *Rod) Source(ctx context.Context, id ContextID) (string, error) {
	p, err := r.page(id)
	if err != nil {
		return "", err
	}
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	page := p.Context(opCtx)
	if err := page.WaitLoad(); err != nil {
		return "", classify(err)
	}
	html, err := page.HTML()
	if err != nil {
		return "", classify(err)
	}
	return html, nil
}

func (r *Rod) Open(ctx context.Context, url string) (ContextID, error) {
	page, err := r.browser.NewPage("")
	if err != nil {
		return "", classify(err)
	}
	// The overrides only apply to documents loaded after they are set.
	hideAutomation(page)
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := page.Context(opCtx).Navigate(url); err != nil {
		_ = page.Close()
		return "", classify(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := ContextID(fmt.Sprintf("detail-%d", r.seq))
	r.pages[id] = page
	r.order = append(r.order, id)
	return id, nil
}

func (r *Rod) CloseContext(ctx context.Context, id ContextID) error {
	if id == primaryID {
		return fmt.Errorf("refusing to close primary context")
	}
	r.mu.Lock()
	p, ok := r.pages[id]
	if ok {
		delete(r.pages, id)
		for i, o := range r.order {
			if o == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		if r.focus == id {
			r.focus = primaryID
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContext, id)
	}
	if err := p.Close(); err != nil {
		return classify(err)
	}
	return nil
}

func (r *Rod) Contexts() []ContextID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ContextID(nil), r.order...)
}

func (r *Rod) Focus(ctx context.Context, id ContextID) error {
	p, err := r.page(id)
	if err != nil {
		return err
	}
	if _, err := p.Context(ctx).Activate(); err != nil {
		return classify(err)
	}
	r.mu.Lock()
	r.focus = id
	r.mu.Unlock()
	return nil
}

// Close closes every context. The browser itself is owned by the caller.
func (r *Rod) Close() error {
	r.mu.Lock()
	pages := r.pages
	r.pages = map[ContextID]*rod.Page{}
	r.order = nil
	r.mu.Unlock()

	var errs []error
	for _, p := range pages {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type rodElement struct {
	el      *rod.Element
	ctx     context.Context
	timeout time.Duration
}

func (e *rodElement) bound() (*rod.Element, context.CancelFunc) {
	c, cancel := context.WithTimeout(e.ctx, e.timeout)
	return e.el.Context(c), cancel
}

func (e *rodElement) Text() (string, error) {
	el, cancel := e.bound()
	defer cancel()
	s, err := el.Text()
	return s, classify(err)
}

func (e *rodElement) Attribute(name string) (string, bool, error) {
	el, cancel := e.bound()
	defer cancel()
	v, err := el.Attribute(name)
	if err != nil {
		return "", false, classify(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) HTML() (string, error) {
	el, cancel := e.bound()
	defer cancel()
	s, err := el.HTML()
	return s, classify(err)
}

func (e *rodElement) Click() error {
	el, cancel := e.bound()
	defer cancel()
	return classify(el.Click(proto.InputMouseButtonLeft, 1))
}

func (e *rodElement) Input(text string) error {
	el, cancel := e.bound()
	defer cancel()
	if err := el.SelectAllText(); err != nil {
		return classify(err)
	}
	return classify(el.Input(text))
}

// classify maps rod and CDP errors onto the session failure kinds. Errors
// raised by page scripts are returned untouched: they are logic errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var (
		notFound    *rod.ElementNotFoundError
		objNotFound *rod.ObjectNotFoundError
		notInteract *rod.NotInteractableError
		invisible   *rod.InvisibleShapeError
		covered     *rod.CoveredError
		evalErr     *rod.EvalError
		protocolErr *cdp.Error
	)
	switch {
	case errors.As(err, &notFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.As(err, &objNotFound):
		return fmt.Errorf("%w: %w", ErrStaleReference, err)
	case errors.As(err, &notInteract), errors.As(err, &invisible):
		return fmt.Errorf("%w: %w", ErrNotInteractable, err)
	case errors.As(err, &covered):
		return fmt.Errorf("%w: %w", ErrClickIntercepted, err)
	case errors.As(err, &evalErr):
		return err
	case errors.As(err, &protocolErr):
		msg := strings.ToLower(protocolErr.Message)
		if strings.Contains(msg, "could not find") || strings.Contains(msg, "context") || strings.Contains(msg, "no node") {
			return fmt.Errorf("%w: %w", ErrStaleReference, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrDriver, err)
}
