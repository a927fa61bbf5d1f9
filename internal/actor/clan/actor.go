// Package clan implements the singleton snapshot actor. It owns the
// canonical clan snapshot and the cached roster: every write to either
// goes through this one instance, serialized by its mutex.
package clan

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dross/clantally/internal/adapters/store"
	"github.com/dross/clantally/internal/domain/model"
	"github.com/dross/clantally/pkg/logger"
	"github.com/dross/clantally/pkg/metrics"
)

// Default actor configuration constants.
const (
	defaultMinRefreshInterval = 5 * time.Minute
	defaultRefreshWindow      = 2 * time.Minute
	defaultFanout             = 3
	defaultBatchPause         = time.Second
	defaultPollInterval       = time.Second
)

// Refresh rejection reasons.
const (
	ReasonRateLimited = "rate_limited"
	ReasonInProgress  = "refresh_in_progress"
)

// RosterSource fetches the clan roster and per-member character lists.
type RosterSource interface {
	Roster(ctx context.Context) ([]model.Member, error)
	Profile(ctx context.Context, membershipType int, membershipID string) ([]string, error)
}

// JobDispatcher starts a background counting run for one member.
type JobDispatcher interface {
	Process(ctx context.Context, membershipID string, membershipType int, characterID string, characters []string) error
}

// RefreshResult reports the outcome of a stats refresh request.
type RefreshResult struct {
	OK bool `json:"ok"`
	// Reason is set when OK is false.
	Reason string `json:"reason,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	// Snapshot is the new snapshot on success, or the current one when
	// the request was rejected.
	Snapshot *model.Snapshot `json:"snapshot,omitempty"`
}

// Option applies a configuration option to the Actor.
type Option func(*Actor)

// WithMinRefreshInterval sets the rate-limit window between successful
// stats refreshes.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(a *Actor) {
		if d > 0 {
			a.minInterval = d
		}
	}
}

// WithRefreshWindow sets how long a refresh waits for member jobs.
func WithRefreshWindow(d time.Duration) Option {
	return func(a *Actor) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithFanout bounds how many member jobs are dispatched concurrently.
func WithFanout(n int) Option {
	return func(a *Actor) {
		if n > 0 {
			a.fanout = int64(n)
		}
	}
}

// WithBatchPause sets the pause between dispatch batches.
func WithBatchPause(d time.Duration) Option {
	return func(a *Actor) {
		if d >= 0 {
			a.batchPause = d
		}
	}
}

// WithPollInterval sets how often job completion is polled (tests).
func WithPollInterval(d time.Duration) Option {
	return func(a *Actor) {
		if d > 0 {
			a.poll = d
		}
	}
}

// WithNow overrides the clock (tests).
func WithNow(now func() time.Time) Option {
	return func(a *Actor) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Actor) {
		if l != nil {
			a.log = l
		}
	}
}

// Actor is the single clan snapshot owner.
type Actor struct {
	store  store.Store
	roster RosterSource
	jobs   JobDispatcher

	minInterval time.Duration
	window      time.Duration
	fanout      int64
	batchPause  time.Duration
	poll        time.Duration

	mu       sync.Mutex
	inFlight bool

	now func() time.Time
	log logger.Logger
}

// New creates the snapshot actor.
func New(st store.Store, roster RosterSource, jobs JobDispatcher, opts ...Option) *Actor {
	a := &Actor{
		store:       st,
		roster:      roster,
		jobs:        jobs,
		minInterval: defaultMinRefreshInterval,
		window:      defaultRefreshWindow,
		fanout:      defaultFanout,
		batchPause:  defaultBatchPause,
		poll:        defaultPollInterval,
		now:         time.Now,
		log:         logger.Get().Named("clan"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RefreshMembers fetches the roster, enriches every member with their
// character list, and replaces the cached roster only if it materially
// changed (member count, or any member's online status).
func (a *Actor) RefreshMembers(ctx context.Context) ([]model.Member, bool, error) {
	members, err := a.roster.Roster(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range members {
		chars, err := a.roster.Profile(ctx, members[i].MembershipType, members[i].MembershipID)
		if err != nil {
			// Tolerated: the member job fetches the profile itself when
			// the roster carries no characters.
			a.log.Warn(ctx, "profile enrichment failed",
				logger.String("membership_id", members[i].MembershipID), logger.Error(err))
			continue
		}
		members[i].Characters = chars
	}

	prev, err := a.store.GetRoster(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	if err == nil && !rosterChanged(prev, members) {
		return members, false, nil
	}
	if err := a.store.PutRoster(ctx, members); err != nil {
		return nil, false, err
	}
	a.log.Info(ctx, "roster updated", logger.Int("members", len(members)))
	return members, true, nil
}

func rosterChanged(prev, next []model.Member) bool {
	if len(prev) != len(next) {
		return true
	}
	online := make(map[string]bool, len(prev))
	for _, m := range prev {
		online[m.MembershipID] = m.IsOnline
	}
	for _, m := range next {
		was, ok := online[m.MembershipID]
		if !ok || was != m.IsOnline {
			return true
		}
	}
	return false
}

// RefreshStats runs one full refresh cycle: fan out member jobs with
// bounded concurrency, wait for them within the refresh window, aggregate
// this cycle's results, and atomically replace the canonical snapshot.
//
// It is rate-limited against the previous snapshot's fetch time, and a
// second call while one is in flight is rejected with the current
// snapshot rather than queued.
func (a *Actor) RefreshStats(ctx context.Context) (*RefreshResult, error) {
	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		metrics.RecordRefresh(ReasonInProgress)
		return a.rejected(ctx, ReasonInProgress), nil
	}
	current, err := a.store.GetSnapshot(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.mu.Unlock()
		return nil, err
	}
	started := a.now().UTC()
	if current != nil && started.Sub(current.FetchedAt) < a.minInterval {
		a.mu.Unlock()
		metrics.RecordRefresh(ReasonRateLimited)
		return &RefreshResult{OK: false, Reason: ReasonRateLimited, Snapshot: current}, nil
	}
	a.inFlight = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.inFlight = false
		a.mu.Unlock()
	}()

	runID := uuid.NewString()
	a.log.Info(ctx, "stats refresh started", logger.String("run_id", runID))

	members, err := a.currentRoster(ctx)
	if err != nil {
		metrics.RecordRefresh("failure")
		return nil, err
	}

	if err := a.fanOut(ctx, members); err != nil {
		metrics.RecordRefresh("failure")
		return nil, err
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, model.JobKey(m.MembershipID, ""))
	}
	a.awaitJobs(ctx, keys, started)

	snap, err := a.aggregate(ctx, members, started)
	if err != nil {
		metrics.RecordRefresh("failure")
		return nil, err
	}
	if err := a.store.PutSnapshot(ctx, snap); err != nil {
		metrics.RecordRefresh("failure")
		return nil, err
	}

	metrics.RecordRefresh("success")
	metrics.RecordRefreshDuration(a.now().UTC().Sub(started))
	metrics.UpdateSnapshot(snap.FetchedAt, snap.Clears, snap.SpecialClears, snap.MemberCount, snap.ProcessedCount)
	a.log.Info(ctx, "stats refresh finished",
		logger.String("run_id", runID),
		logger.Int("members", snap.MemberCount),
		logger.Int("processed", snap.ProcessedCount),
		logger.Int("clears", snap.Clears),
	)
	return &RefreshResult{OK: true, RunID: runID, Snapshot: snap}, nil
}

// Snapshot returns the canonical snapshot, or store.ErrNotFound.
func (a *Actor) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	return a.store.GetSnapshot(ctx)
}

// Roster returns the cached roster, fetching it on a cold start.
func (a *Actor) Roster(ctx context.Context) ([]model.Member, error) {
	return a.currentRoster(ctx)
}

func (a *Actor) rejected(ctx context.Context, reason string) *RefreshResult {
	snap, err := a.store.GetSnapshot(ctx)
	if err != nil {
		snap = nil
	}
	return &RefreshResult{OK: false, Reason: reason, Snapshot: snap}
}

func (a *Actor) currentRoster(ctx context.Context) ([]model.Member, error) {
	members, err := a.store.GetRoster(ctx)
	if errors.Is(err, store.ErrNotFound) {
		members, _, err = a.RefreshMembers(ctx)
	}
	return members, err
}

// fanOut dispatches one job per member, at most fanout in flight, with a
// pause between batches to stay under upstream rate limits.
func (a *Actor) fanOut(ctx context.Context, members []model.Member) error {
	sem := semaphore.NewWeighted(a.fanout)
	for i, m := range members {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(m model.Member) {
			defer sem.Release(1)
			if err := a.jobs.Process(ctx, m.MembershipID, m.MembershipType, "", m.Characters); err != nil {
				a.log.Warn(ctx, "member dispatch failed",
					logger.String("membership_id", m.MembershipID), logger.Error(err))
			}
		}(m)
		if (i+1)%int(a.fanout) == 0 && i+1 < len(members) {
			if err := sleepContext(ctx, a.batchPause); err != nil {
				return err
			}
		}
	}
	// Drain: all dispatch goroutines have finished.
	if err := sem.Acquire(ctx, a.fanout); err != nil {
		return err
	}
	sem.Release(a.fanout)
	return nil
}

// awaitJobs polls job records until every key has finished this cycle or
// the refresh window closes. Jobs that miss the window are simply absent
// from this cycle's aggregation.
func (a *Actor) awaitJobs(ctx context.Context, keys []string, since time.Time) {
	deadline := a.now().UTC().Add(a.window)
	for {
		remaining := 0
		for _, key := range keys {
			if !a.jobFresh(ctx, key, since) {
				remaining++
			}
		}
		if remaining == 0 {
			return
		}
		if a.now().UTC().After(deadline) {
			a.log.Warn(ctx, "refresh window closed", logger.Int("pending", remaining))
			return
		}
		if err := sleepContext(ctx, a.poll); err != nil {
			return
		}
	}
}

func (a *Actor) jobFresh(ctx context.Context, key string, since time.Time) bool {
	job, err := a.store.GetJob(ctx, key)
	if err != nil {
		return false
	}
	return job.State == model.JobDone && job.Result != nil && !job.Result.UpdatedAt.Before(since)
}

// aggregate builds the snapshot from the per-member results completed in
// this cycle.
func (a *Actor) aggregate(ctx context.Context, members []model.Member, since time.Time) (*model.Snapshot, error) {
	perMember := make([]model.MemberResult, 0, len(members))
	clears, special := 0, 0
	for _, m := range members {
		res, err := a.store.GetMemberResult(ctx, model.JobKey(m.MembershipID, ""))
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				metrics.RecordStoreError("get_member_result")
			}
			continue
		}
		if res.UpdatedAt.Before(since) {
			continue
		}
		perMember = append(perMember, *res)
		clears += res.Clears
		special += res.SpecialClears
	}
	sort.Slice(perMember, func(i, j int) bool {
		return perMember[i].Clears > perMember[j].Clears
	})

	return &model.Snapshot{
		FetchedAt:      a.now().UTC(),
		Clears:         clears,
		SpecialClears:  special,
		PerMember:      perMember,
		MostRecent:     MostRecentShared(perMember),
		MemberCount:    len(members),
		ProcessedCount: len(perMember),
	}, nil
}

// MostRecentShared picks the activity instance completed by at least two
// distinct members with the latest period; ties are broken by the greater
// instance id. Returns nil when no instance is shared.
func MostRecentShared(results []model.MemberResult) *model.RecentActivity {
	type shared struct {
		activity *model.RecentActivity
		members  map[string]struct{}
	}
	byInstance := make(map[string]*shared)
	for i := range results {
		act := results[i].MostRecent
		if act == nil || act.InstanceID == "" {
			continue
		}
		s, ok := byInstance[act.InstanceID]
		if !ok {
			s = &shared{activity: act, members: map[string]struct{}{}}
			byInstance[act.InstanceID] = s
		}
		s.members[results[i].MembershipID] = struct{}{}
	}

	var best *model.RecentActivity
	for _, s := range byInstance {
		if len(s.members) < 2 {
			continue
		}
		if s.activity.MoreRecentThan(best) {
			best = s.activity
		}
	}
	return best
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
