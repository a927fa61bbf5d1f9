// Package member implements the durable per-member job actor. Each job key
// (member, optionally +character) owns one persisted job record; runs are
// dispatched through the shared run queue and guarded by a timestamp lease
// so at most one run per key is active in practice.
//
// The lease is not a mutex: a crashed runner's lease silently expires and a
// later run takes over. That is the intended at-most-one-in-practice
// guarantee, not a hard one.
package member

import (
	"context"
	"errors"
	"time"

	"github.com/dross/clantally/internal/adapters/mq/queue"
	"github.com/dross/clantally/internal/adapters/store"
	"github.com/dross/clantally/internal/domain/counter"
	"github.com/dross/clantally/internal/domain/model"
	"github.com/dross/clantally/pkg/logger"
	"github.com/dross/clantally/pkg/metrics"
)

// Default actor configuration constants.
const (
	defaultLeaseTTL      = 2 * time.Minute
	defaultRetryDelay    = time.Minute
	defaultSweepInterval = 30 * time.Second
	defaultMaxAttempts   = 8
)

// ProfileSource resolves a member's character list.
type ProfileSource interface {
	Profile(ctx context.Context, membershipType int, membershipID string) ([]string, error)
}

// Dispatcher enqueues run requests for the worker pool.
type Dispatcher interface {
	Enqueue(ctx context.Context, req queue.RunRequest) bool
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithLeaseTTL sets the lock lease window.
func WithLeaseTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.leaseTTL = d
		}
	}
}

// WithRetryDelay sets how long a failed job waits before the sweep retries it.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retryDelay = d
		}
	}
}

// WithSweepInterval sets the period of the retry sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithMaxAttempts caps consecutive failed runs; 0 disables the cap.
func WithMaxAttempts(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.maxAttempts = n
		}
	}
}

// WithCounterOptions forwards options to the per-run counting pipeline.
func WithCounterOptions(opts ...counter.Option) Option {
	return func(r *Registry) {
		r.counterOpts = opts
	}
}

// WithNow overrides the clock (tests).
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// Registry hosts every member job actor. It implements worker.Runner.
type Registry struct {
	store    store.Store
	profiles ProfileSource
	history  counter.Source
	dispatch Dispatcher

	leaseTTL      time.Duration
	retryDelay    time.Duration
	sweepInterval time.Duration
	maxAttempts   int
	counterOpts   []counter.Option

	now func() time.Time
	log logger.Logger
}

// New creates the job registry.
func New(st store.Store, profiles ProfileSource, history counter.Source, dispatch Dispatcher, opts ...Option) *Registry {
	r := &Registry{
		store:         st,
		profiles:      profiles,
		history:       history,
		dispatch:      dispatch,
		leaseTTL:      defaultLeaseTTL,
		retryDelay:    defaultRetryDelay,
		sweepInterval: defaultSweepInterval,
		maxAttempts:   defaultMaxAttempts,
		now:           time.Now,
		log:           logger.Get().Named("member-jobs"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Process idempotently creates-or-loads the job for the derived key,
// persists it in pending state, and queues a background run. It returns
// once the run is accepted; it never waits for counting.
//
// A fresh process request resets the attempt counter: a job that hit the
// retry cap gets a new budget on the next refresh cycle.
func (r *Registry) Process(ctx context.Context, membershipID string, membershipType int, characterID string, characters []string) error {
	key := model.JobKey(membershipID, characterID)
	now := r.now().UTC()

	job, err := r.store.GetJob(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		job = &model.Job{
			Key:            key,
			MembershipID:   membershipID,
			MembershipType: membershipType,
			CharacterID:    characterID,
			State:          model.JobPending,
			CreatedAt:      now,
		}
	case err != nil:
		return err
	}

	if job.LeaseHeld(now, r.leaseTTL) {
		// A run is in progress; it will write the result this request
		// is after.
		return nil
	}

	job.State = model.JobPending
	job.Attempts = 0
	job.LastUpdatedAt = now
	if len(characters) > 0 {
		job.Characters = characters
		job.NextIndex = 0
	}
	if err := r.store.PutJob(ctx, job); err != nil {
		return err
	}

	if !r.dispatch.Enqueue(ctx, queue.RunRequest{Key: key}) {
		return ErrDispatchFull
	}
	return nil
}

// Status returns every persisted job record, for observability.
func (r *Registry) Status(ctx context.Context) ([]*model.Job, error) {
	return r.store.ListJobs(ctx)
}

// Run executes one run of a job. It is invoked by the worker pool.
//
// The record is persisted before any external call, after every state
// transition, and per completed character, so a crash resumes with the
// character list intact. Counts are never checkpointed; a retried run
// re-streams full history.
func (r *Registry) Run(ctx context.Context, key string) {
	job, err := r.store.GetJob(ctx, key)
	if err != nil {
		r.log.Warn(ctx, "run for unknown job", logger.String("key", key), logger.Error(err))
		return
	}

	now := r.now().UTC()
	if job.LeaseHeld(now, r.leaseTTL) {
		metrics.RecordJobRun("lease_held")
		return
	}
	if job.State == model.JobDone {
		// Nothing asked for a re-run since it finished.
		return
	}
	if r.maxAttempts > 0 && job.Attempts >= r.maxAttempts {
		metrics.RecordJobRun("attempts_capped")
		return
	}

	job.LockedAt = &now
	job.State = model.JobRunning
	job.LastUpdatedAt = now
	if err := r.store.PutJob(ctx, job); err != nil {
		r.log.Error(ctx, "persist before run failed", logger.String("key", key), logger.Error(err))
		return
	}

	if len(job.Characters) == 0 {
		chars := []string{job.CharacterID}
		if job.CharacterID == "" {
			var err error
			chars, err = r.profiles.Profile(ctx, job.MembershipType, job.MembershipID)
			if err != nil {
				r.fail(ctx, job, err)
				return
			}
		}
		job.Characters = chars
		job.NextIndex = 0
		if err := r.store.PutJob(ctx, job); err != nil {
			r.fail(ctx, job, err)
			return
		}
	}

	job.NextIndex = 0
	opts := append([]counter.Option{}, r.counterOpts...)
	opts = append(opts, counter.WithCharacterDone(func(i int) {
		job.NextIndex = i + 1
		job.LastUpdatedAt = r.now().UTC()
		if err := r.store.PutJob(ctx, job); err != nil {
			r.log.Warn(ctx, "progress checkpoint failed", logger.String("key", key), logger.Error(err))
		}
	}))

	res, err := counter.New(r.history, opts...).Count(ctx, job.MembershipType, job.MembershipID, job.Characters)
	if err != nil {
		r.fail(ctx, job, err)
		return
	}

	result := &model.MemberResult{
		MembershipID:   job.MembershipID,
		MembershipType: job.MembershipType,
		Clears:         res.Clears,
		SpecialClears:  res.SpecialClears,
		LastActivityAt: res.LastActivityAt,
		MostRecent:     res.MostRecent,
		UpdatedAt:      r.now().UTC(),
	}
	if err := r.store.PutMemberResult(ctx, job.Key, result); err != nil {
		r.fail(ctx, job, err)
		return
	}

	job.State = model.JobDone
	job.Result = result
	job.Error = ""
	job.Attempts = 0
	job.LockedAt = nil
	job.LastUpdatedAt = r.now().UTC()
	if err := r.store.PutJob(ctx, job); err != nil {
		r.log.Error(ctx, "persist after run failed", logger.String("key", key), logger.Error(err))
		return
	}
	metrics.RecordJobRun("success")
	r.log.Info(ctx, "member counted",
		logger.String("key", key),
		logger.Int("clears", result.Clears),
		logger.Int("special_clears", result.SpecialClears),
	)
}

// fail reverts the job to pending with its error persisted. The periodic
// sweep retries it once the retry delay has elapsed.
func (r *Registry) fail(ctx context.Context, job *model.Job, cause error) {
	job.State = model.JobPending
	job.Error = cause.Error()
	job.Attempts++
	job.LockedAt = nil
	job.LastUpdatedAt = r.now().UTC()
	if err := r.store.PutJob(ctx, job); err != nil {
		r.log.Error(ctx, "persist failure state failed", logger.String("key", job.Key), logger.Error(err))
	}
	metrics.RecordJobRun("failure")
	r.log.Warn(ctx, "member job failed",
		logger.String("key", job.Key),
		logger.Int("attempts", job.Attempts),
		logger.Error(cause),
	)
}

// Sweep rescans persisted jobs and re-queues any that is neither done nor
// running, once its retry delay has elapsed. This is the sole retry driver.
func (r *Registry) Sweep(ctx context.Context) {
	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		r.log.Error(ctx, "sweep list failed", logger.Error(err))
		return
	}

	now := r.now().UTC()
	counts := map[model.JobState]int{}
	for _, job := range jobs {
		counts[job.State]++
		if job.State == model.JobDone {
			continue
		}
		if job.LeaseHeld(now, r.leaseTTL) {
			continue
		}
		if job.Attempts > 0 && now.Sub(job.LastUpdatedAt) < r.retryDelay {
			continue
		}
		if r.maxAttempts > 0 && job.Attempts >= r.maxAttempts {
			continue
		}
		if r.dispatch.Enqueue(ctx, queue.RunRequest{Key: job.Key}) {
			metrics.RecordJobRetry()
		}
	}
	for _, state := range []model.JobState{model.JobPending, model.JobRunning, model.JobDone} {
		metrics.UpdateJobsByState(string(state), counts[state])
	}
}

// StartSweeper runs Sweep on its configured interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}
