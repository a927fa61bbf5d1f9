package upstream

import "errors"

// Sentinel kinds for upstream call failures.
var (
	// ErrTransient marks failures worth retrying: 429, 5xx, network errors.
	ErrTransient = errors.New("transient upstream error")
	// ErrTerminal marks non-retryable statuses other than 404.
	ErrTerminal = errors.New("terminal upstream error")
	// ErrNotFound marks a 404 for the requested resource.
	ErrNotFound = errors.New("upstream resource not found")
	// ErrRetriesExhausted wraps the last transient error once the retry
	// budget is spent.
	ErrRetriesExhausted = errors.New("upstream retries exhausted")
	// ErrDecode marks a malformed upstream payload.
	ErrDecode = errors.New("malformed upstream payload")
)
