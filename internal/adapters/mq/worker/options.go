// Package worker runs member jobs dequeued from the run queue.
package worker

import (
	"sync/atomic"

	"github.com/dross/clantally/pkg/logger"
)

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
			w.log = logger.Get().Named(name)
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// withActiveCounter shares one active-run counter across a pool.
func withActiveCounter(c *atomic.Int64) Option {
	return func(w *Worker) {
		if c != nil {
			w.active = c
		}
	}
}
