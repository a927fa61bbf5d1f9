package store

import "errors"

// Sentinel kinds for store errors.
var (
	ErrOpen     = errors.New("store open failed")
	ErrWrite    = errors.New("store write failed")
	ErrNotFound = errors.New("not found")
)
