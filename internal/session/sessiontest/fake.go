// Package sessiontest provides an in-memory session.Session for tests.
package sessiontest

import (
	"context"
	"fmt"
	"sync"

	"courtcrawl/internal/session"
)

// Element is a scriptable session.Element.
type Element struct {
	TextValue string
	HTMLValue string
	Attrs     map[string]string
	OnClick   func() error
	OnInput   func(string) error
}

func (e *Element) Text() (string, error) { return e.TextValue, nil }

func (e *Element) Attribute(name string) (string, bool, error) {
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) HTML() (string, error) { return e.HTMLValue, nil }

func (e *Element) Click() error {
	if e.OnClick != nil {
		return e.OnClick()
	}
	return nil
}

func (e *Element) Input(text string) error {
	if e.OnInput != nil {
		return e.OnInput(text)
	}
	return nil
}

// Fake is a session.Session whose primary context is scripted through
// Locator and whose secondary contexts serve Documents by URL.
type Fake struct {
	mu sync.Mutex

	// Locator resolves selectors in the primary context.
	Locator func(selector string) (session.Element, error)
	// PrimarySource, when set, renders the primary context's markup.
	PrimarySource func() (string, error)
	// Documents maps a URL to the markup served for it.
	Documents map[string]string
	// SourceErr, when set, is consulted before serving a document.
	SourceErr func(url string) error
	// OpenErr, when set, is consulted before opening a context.
	OpenErr func(url string) error
	// FocusErr, CloseErr and NavigateErr, when set, are consulted before
	// the matching call.
	FocusErr    func(id session.ContextID) error
	CloseErr    func(id session.ContextID) error
	NavigateErr func(url string) error

	urls      map[session.ContextID]string
	order     []session.ContextID
	focus     session.ContextID
	seq       int
	opened    int
	closed    int
	navigated []string
}

const primary session.ContextID = "main"

// NewFake returns a Fake with only the primary context open.
func NewFake() *Fake {
	return &Fake{
		Documents: map[string]string{},
		urls:      map[session.ContextID]string{primary: ""},
		order:     []session.ContextID{primary},
		focus:     primary,
	}
}

func (f *Fake) Primary() session.ContextID { return primary }

func (f *Fake) Navigate(ctx context.Context, id session.ContextID, url string) error {
	if f.NavigateErr != nil {
		if err := f.NavigateErr(url); err != nil {
			f.mu.Lock()
			f.navigated = append(f.navigated, url)
			f.mu.Unlock()
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.urls[id]; !ok {
		return fmt.Errorf("%w: %s", session.ErrUnknownContext, id)
	}
	f.urls[id] = url
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *Fake) Locate(ctx context.Context, id session.ContextID, selector string) (session.Element, error) {
	f.mu.Lock()
	_, ok := f.urls[id]
	locator := f.Locator
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrUnknownContext, id)
	}
	if id != primary || locator == nil {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, selector)
	}
	return locator(selector)
}

func (f *Fake) Source(ctx context.Context, id session.ContextID) (string, error) {
	f.mu.Lock()
	url, ok := f.urls[id]
	check := f.SourceErr
	doc := f.Documents[url]
	render := f.PrimarySource
	f.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", session.ErrUnknownContext, id)
	}
	if id == primary && render != nil {
		return render()
	}
	if check != nil {
		if err := check(url); err != nil {
			return "", err
		}
	}
	return doc, nil
}

func (f *Fake) Open(ctx context.Context, url string) (session.ContextID, error) {
	if f.OpenErr != nil {
		if err := f.OpenErr(url); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.opened++
	id := session.ContextID(fmt.Sprintf("tab-%d", f.seq))
	f.urls[id] = url
	f.order = append(f.order, id)
	return id, nil
}

func (f *Fake) CloseContext(ctx context.Context, id session.ContextID) error {
	if f.CloseErr != nil {
		if err := f.CloseErr(id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == primary {
		return fmt.Errorf("refusing to close primary context")
	}
	if _, ok := f.urls[id]; !ok {
		return fmt.Errorf("%w: %s", session.ErrUnknownContext, id)
	}
	delete(f.urls, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	if f.focus == id {
		f.focus = primary
	}
	f.closed++
	return nil
}

func (f *Fake) Contexts() []session.ContextID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.ContextID(nil), f.order...)
}

func (f *Fake) Focus(ctx context.Context, id session.ContextID) error {
	if f.FocusErr != nil {
		if err := f.FocusErr(id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.urls[id]; !ok {
		return fmt.Errorf("%w: %s", session.ErrUnknownContext, id)
	}
	f.focus = id
	return nil
}

func (f *Fake) Close() error { return nil }

// Focused returns the context that currently has focus.
func (f *Fake) Focused() session.ContextID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.focus
}

// Opened returns how many secondary contexts were ever opened.
func (f *Fake) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Navigated returns every URL passed to Navigate, in order.
func (f *Fake) Navigated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigated...)
}
