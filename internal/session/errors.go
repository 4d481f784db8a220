package session

import "errors"

// Failure kinds surfaced by a Session. The first five are transient UI or
// timing anomalies and are worth retrying.
var (
	ErrNotFound         = errors.New("element not found")
	ErrStaleReference   = errors.New("stale element reference")
	ErrNotInteractable  = errors.New("element not interactable")
	ErrClickIntercepted = errors.New("element click intercepted")
	ErrTimeout          = errors.New("driver timeout")
	ErrDriver           = errors.New("driver error")

	ErrUnknownContext = errors.New("unknown context")
)

var transient = []error{
	ErrNotFound,
	ErrStaleReference,
	ErrNotInteractable,
	ErrClickIntercepted,
	ErrTimeout,
	ErrDriver,
}

// IsTransient reports whether err is one of the retryable failure kinds.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, t := range transient {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
