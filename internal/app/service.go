// Package service wires the durable store, upstream client, run queue,
// worker pool, and actors into one lifecycle, and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/dross/clantally/internal/actor/clan"
	"github.com/dross/clantally/internal/actor/member"
	runqueue "github.com/dross/clantally/internal/adapters/mq/queue"
	workerpool "github.com/dross/clantally/internal/adapters/mq/worker"
	"github.com/dross/clantally/internal/adapters/store"
	"github.com/dross/clantally/internal/adapters/upstream"
	"github.com/dross/clantally/internal/config"
	"github.com/dross/clantally/internal/domain/counter"
	"github.com/dross/clantally/internal/domain/model"
	"github.com/dross/clantally/pkg/logger"
	"github.com/dross/clantally/pkg/metrics"
)

// Service owns every long-lived component of the tracker.
type Service struct {
	mu sync.Mutex

	cfg *config.Config

	store    store.Store
	upstream *upstream.Client
	queue    *runqueue.InMemoryQueue
	pool     *workerpool.Pool
	jobs     *member.Registry
	clan     *clan.Actor

	started bool
	cancel  context.CancelFunc

	log logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithStore overrides the durable store (tests).
func WithStore(st store.Store) Option {
	return func(s *Service) { s.store = st }
}

// New constructs a Service from configuration.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg: cfg,
		log: logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and brings up the queue, worker pool, actors, and
// background loops. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	cfg := s.cfg

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if s.store == nil {
		storeCfg := store.DefaultConfig(cfg.DataDir)
		if cfg.StoreInMemory {
			storeCfg = store.InMemoryConfig()
		}
		db, err := store.Open(storeCfg)
		if err != nil {
			cancel()
			return err
		}
		s.store = db
	}

	s.upstream = upstream.New(cfg.UpstreamBaseURL,
		upstream.WithAPIKey(cfg.UpstreamAPIKey),
		upstream.WithClanID(cfg.ClanID),
		upstream.WithTimeout(cfg.RequestTimeout()),
		upstream.WithRetryCount(cfg.RetryCount),
		upstream.WithBackoffBase(cfg.BackoffBase()),
	)

	s.queue = runqueue.NewInMemoryQueue(
		runqueue.WithCapacity(cfg.RunQueueSize),
	)

	s.jobs = member.New(s.store, s.upstream, s.upstream, s.queue,
		member.WithLeaseTTL(cfg.LeaseTTL()),
		member.WithRetryDelay(cfg.RetryDelay()),
		member.WithSweepInterval(cfg.SweepInterval()),
		member.WithMaxAttempts(cfg.MaxJobAttempts),
		member.WithCounterOptions(
			counter.WithPageSize(cfg.PageSize),
			counter.WithMaxPages(cfg.MaxPages),
		),
	)

	s.clan = clan.New(s.store, s.upstream, s.jobs,
		clan.WithMinRefreshInterval(cfg.MinRefreshInterval()),
		clan.WithRefreshWindow(cfg.RefreshWindow()),
		clan.WithFanout(cfg.FanoutConcurrency),
		clan.WithBatchPause(cfg.BatchPause()),
	)

	// One worker per allowed concurrent run keeps the fan-out bound at
	// the pool itself: no more than FanoutConcurrency members are being
	// counted at once, regardless of queue depth.
	s.pool = workerpool.NewPool(cfg.FanoutConcurrency, s.queue, s.jobs)
	s.pool.Start(runCtx)

	s.jobs.StartSweeper(runCtx)
	if cfg.SchedulerEnabled {
		go s.scheduleLoop(runCtx)
	}

	s.started = true
	s.log.Info(ctx, "service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_capacity", cfg.RunQueueSize),
		logger.Bool("scheduler", cfg.SchedulerEnabled),
	)
	return nil
}

// Stop shuts down the worker pool and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.log.Info(ctx, "stopping service...")

	if s.cancel != nil {
		s.cancel()
	}
	if s.pool != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_ = s.pool.Shutdown(shutdownCtx)
		cancel()
	}
	if s.store != nil {
		_ = s.store.Close()
	}

	s.started = false
	s.log.Info(ctx, "service stopped")
}

// scheduleLoop fires a stats refresh on the configured interval, then a
// roster refresh after a short stagger. Both are fire-and-forget.
func (s *Service) scheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SchedulerInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.clan.RefreshStats(ctx); err != nil {
				s.log.Warn(ctx, "scheduled stats refresh failed", logger.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.SchedulerStagger()):
			}
			if _, _, err := s.clan.RefreshMembers(ctx); err != nil {
				s.log.Warn(ctx, "scheduled members refresh failed", logger.Error(err))
			}
		}
	}
}

// Snapshot returns the canonical snapshot, or store.ErrNotFound.
func (s *Service) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	return s.clan.Snapshot(ctx)
}

// Roster returns the cached roster, fetching it on a cold start.
func (s *Service) Roster(ctx context.Context) ([]model.Member, error) {
	return s.clan.Roster(ctx)
}

// RefreshStats runs one snapshot refresh cycle through the clan actor.
func (s *Service) RefreshStats(ctx context.Context) (*clan.RefreshResult, error) {
	return s.clan.RefreshStats(ctx)
}

// RefreshMembers refreshes the cached roster through the clan actor.
func (s *Service) RefreshMembers(ctx context.Context) ([]model.Member, bool, error) {
	return s.clan.RefreshMembers(ctx)
}

// Status lists every persisted job record and refreshes the per-state
// gauges as a side effect.
func (s *Service) Status(ctx context.Context) ([]*model.Job, error) {
	jobs, err := s.jobs.Status(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[model.JobState]int{}
	for _, j := range jobs {
		counts[j.State]++
	}
	for _, state := range []model.JobState{model.JobPending, model.JobRunning, model.JobDone} {
		metrics.UpdateJobsByState(string(state), counts[state])
	}
	return jobs, nil
}

// Store exposes the durable store for the gateway's fallback read path.
func (s *Service) Store() store.Store {
	return s.store
}

// Upstream exposes the upstream client for the gateway's instance fetch.
func (s *Service) Upstream() *upstream.Client {
	return s.upstream
}
