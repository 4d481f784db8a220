// Package session abstracts the interactive, stateful browser the crawler
// drives. Contexts (tabs) are addressed by explicit IDs; the primary context
// is a named value handed out by Primary, never "whichever handle is first".
package session

import "context"

// ContextID names one interactive context (a browser tab).
type ContextID string

// Element is a located node in a context. Handles may go stale when the
// page re-renders; methods then fail with ErrStaleReference.
type Element interface {
	Text() (string, error)
	// Attribute reports the attribute value and whether it is present.
	Attribute(name string) (string, bool, error)
	HTML() (string, error)
	Click() error
	Input(text string) error
}

// Session is the interactive capability the driver and the fan-out
// coordinator use. Implementations are not safe for concurrent use; the
// controller is the single owner.
type Session interface {
	// Primary returns the context the session was created with.
	Primary() ContextID
	Navigate(ctx context.Context, id ContextID, url string) error
	// Locate returns the first element matching selector, or ErrNotFound.
	Locate(ctx context.Context, id ContextID, selector string) (Element, error)
	// Source returns the rendered markup of a context once it has loaded.
	Source(ctx context.Context, id ContextID) (string, error)
	// Open starts loading url in a new context without waiting for it.
	Open(ctx context.Context, url string) (ContextID, error)
	CloseContext(ctx context.Context, id ContextID) error
	Contexts() []ContextID
	Focus(ctx context.Context, id ContextID) error
	Close() error
}
