// Package worker runs member jobs dequeued from the run queue. The pool
// size is the upstream fan-out bound: no more than pool-size jobs are
// actively processed at once, regardless of roster size.
package worker

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dross/clantally/internal/adapters/mq/queue"
	"github.com/dross/clantally/pkg/logger"
	"github.com/dross/clantally/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultPoolSize     = 3
	poolShutdownTimeout = 30 * time.Second
)

// Runner executes one run of the job identified by key. Run failures are
// the runner's own concern (they are persisted on the job record); the
// worker only drives execution.
type Runner interface {
	Run(ctx context.Context, key string)
}

// Queue defines how workers receive run requests.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.RunRequest
}

// Worker drains the run queue and executes runs one at a time.
type Worker struct {
	queue  Queue
	runner Runner
	name   string

	shutdown chan struct{}
	stop     sync.Once
	done     chan struct{}

	active *atomic.Int64
	log    logger.Logger
}

// NewWorker creates a worker with configuration options.
func NewWorker(q Queue, runner Runner, opts ...Option) *Worker {
	w := &Worker{
		queue:    q,
		runner:   runner,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		active:   &atomic.Int64{},
		log:      logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the worker loop until ctx is canceled or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	requests := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			w.execute(ctx, req.Key)
		}
	}
}

func (w *Worker) execute(ctx context.Context, key string) {
	metrics.UpdateActiveRuns(int(w.active.Add(1)))
	defer func() {
		metrics.UpdateActiveRuns(int(w.active.Add(-1)))
	}()

	start := time.Now()
	w.runner.Run(ctx, key)
	w.log.Debug(ctx, "run finished",
		logger.String("key", key),
		logger.Duration("took", time.Since(start)),
	)
}

// Shutdown stops the worker, waiting for an in-flight run to finish.
// Safe to call more than once.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.stop.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.log.Warn(ctx, "worker shutdown timed out", logger.String("name", w.name))
		return ctx.Err()
	}
}

// Pool manages a fixed set of workers sharing one run queue and one
// active-run counter.
type Pool struct {
	workers []*Worker
	queue   Queue
	log     logger.Logger
}

// NewPool creates a pool of size workers.
func NewPool(size int, q Queue, runner Runner) *Pool {
	if size < 1 {
		size = defaultPoolSize
	}
	p := &Pool{
		workers: make([]*Worker, size),
		queue:   q,
		log:     logger.Get().Named("worker-pool"),
	}
	shared := &atomic.Int64{}
	for i := range p.workers {
		p.workers[i] = NewWorker(q, runner,
			WithName("worker-"+strconv.Itoa(i)),
			withActiveCounter(shared),
		)
	}
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Shutdown stops all workers, closing the queue first so drained requests
// stop arriving.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.log.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for _, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
