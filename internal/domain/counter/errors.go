package counter

import "errors"

// Sentinel kinds for counting errors.
var (
	// ErrNoData means no history page and no aggregate fetch succeeded for
	// a member that has characters. The run should be retried.
	ErrNoData = errors.New("no upstream data fetched")
)
