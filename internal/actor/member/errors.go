package member

import "errors"

// ErrDispatchFull indicates the run queue rejected a run request.
var ErrDispatchFull = errors.New("run queue full")
