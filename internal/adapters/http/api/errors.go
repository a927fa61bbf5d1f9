package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrNoSnapshot        = errors.New("no snapshot available")
	ErrMissingInstanceID = errors.New("missing instanceId parameter")
	ErrUnauthorized      = errors.New("invalid or missing admin token")
	ErrUnknownAction     = errors.New("unknown action")
)
