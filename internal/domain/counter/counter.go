// Package counter implements the per-member completion counting pipeline:
// stream paginated activity history per mode filter, tally completions per
// canonical group, and merge against a lifetime aggregate source to cover
// pagination undercounts.
package counter

import (
	"context"
	"time"

	"github.com/dross/clantally/internal/domain/model"
	"github.com/dross/clantally/internal/domain/refmap"
	"github.com/dross/clantally/pkg/metrics"
)

// History mode filters. Relevant activities appear under the primary mode,
// and under the legacy/story mode for records from older game versions.
const (
	ModeLegacy  = 2
	ModePrimary = 4
)

// Default pipeline configuration constants.
const (
	defaultPageSize = 250
	defaultMaxPages = 40
)

// DefaultModes is the fixed filter order history is streamed in.
var DefaultModes = []int{ModeLegacy, ModePrimary}

// Record is one normalized activity-history row. Completion has already
// been resolved from the upstream's drifting field representations.
type Record struct {
	InstanceID  string
	Period      time.Time
	ReferenceID int64
	Completed   bool
}

// Source supplies per-character history pages and lifetime aggregate stats.
type Source interface {
	// HistoryPage returns one page of activity history. An empty page or a
	// short page ends pagination for the (character, mode) pair.
	HistoryPage(ctx context.Context, membershipType int, membershipID, characterID string, mode, page, pageSize int) ([]Record, error)

	// AggregateStats returns lifetime completions per raw variant id.
	AggregateStats(ctx context.Context, membershipType int, membershipID, characterID string) (map[int64]int, error)
}

// Result is the outcome of counting one member.
type Result struct {
	Clears         int
	SpecialClears  int
	LastActivityAt *time.Time
	MostRecent     *model.RecentActivity
	// PerGroup holds the merged count per canonical group id.
	PerGroup map[string]int
}

// Option applies a configuration option to the Counter.
type Option func(*Counter)

// WithPageSize sets the history page size requested per fetch.
func WithPageSize(n int) Option {
	return func(c *Counter) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithMaxPages sets the hard ceiling on pages per (character, mode).
func WithMaxPages(n int) Option {
	return func(c *Counter) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithModes overrides the mode filter order.
func WithModes(modes []int) Option {
	return func(c *Counter) {
		if len(modes) > 0 {
			c.modes = modes
		}
	}
}

// WithCharacterDone registers a callback invoked after each character has
// been fully streamed, with its index in the character list. Used by the
// job actor to checkpoint progress.
func WithCharacterDone(fn func(index int)) Option {
	return func(c *Counter) {
		c.onCharacterDone = fn
	}
}

// Counter is a stateless counting pipeline over a Source.
type Counter struct {
	src             Source
	pageSize        int
	maxPages        int
	modes           []int
	onCharacterDone func(int)
}

// New creates a Counter with configuration options.
func New(src Source, opts ...Option) *Counter {
	c := &Counter{
		src:      src,
		pageSize: defaultPageSize,
		maxPages: defaultMaxPages,
		modes:    DefaultModes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Count streams every character's history, merges against the aggregate
// source, and returns the member's totals.
//
// Failure policy: a failed page stops pagination for that (character, mode)
// pair only; a failed aggregate fetch for one character is skipped. Count
// returns an error only when the context is canceled or when no fetch of
// any kind succeeded for a member with characters.
func (c *Counter) Count(ctx context.Context, membershipType int, membershipID string, characters []string) (Result, error) {
	paged := make(map[string]int)
	aggregate := make(map[string]int)
	var mostRecent *model.RecentActivity
	var lastAt *time.Time
	anyFetch := false

	for i, characterID := range characters {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		for _, mode := range c.modes {
			for page := 0; page < c.maxPages; page++ {
				recs, err := c.src.HistoryPage(ctx, membershipType, membershipID, characterID, mode, page, c.pageSize)
				if err != nil {
					if ctx.Err() != nil {
						return Result{}, ctx.Err()
					}
					break
				}
				anyFetch = true
				if len(recs) == 0 {
					break
				}
				for _, rec := range recs {
					if !rec.Completed {
						continue
					}
					group, ok := refmap.Resolve(rec.ReferenceID)
					if !ok {
						continue
					}
					paged[group.ID]++
					metrics.RecordClearCounted()
					if lastAt == nil || rec.Period.After(*lastAt) {
						period := rec.Period
						lastAt = &period
					}
					if rec.InstanceID == "" {
						continue
					}
					cand := &model.RecentActivity{
						InstanceID:  rec.InstanceID,
						Period:      rec.Period,
						GroupID:     group.ID,
						CharacterID: characterID,
					}
					if cand.MoreRecentThan(mostRecent) {
						mostRecent = cand
					}
				}
				if len(recs) < c.pageSize {
					break
				}
			}
		}

		agg, err := c.src.AggregateStats(ctx, membershipType, membershipID, characterID)
		if err == nil {
			anyFetch = true
			for variantID, completions := range agg {
				group, ok := refmap.Resolve(variantID)
				if !ok {
					continue
				}
				aggregate[group.ID] += completions
			}
		} else if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		if c.onCharacterDone != nil {
			c.onCharacterDone(i)
		}
	}

	if len(characters) > 0 && !anyFetch {
		return Result{}, ErrNoData
	}

	merged := make(map[string]int)
	clears, special := 0, 0
	for _, group := range refmap.Groups() {
		// The aggregate source only covers pagination undercounts; it
		// never reduces a paged count.
		n := max(paged[group.ID], aggregate[group.ID])
		if n == 0 {
			continue
		}
		merged[group.ID] = n
		clears += n
		if group.Special {
			special += n
		}
	}

	return Result{
		Clears:         clears,
		SpecialClears:  special,
		LastActivityAt: lastAt,
		MostRecent:     mostRecent,
		PerGroup:       merged,
	}, nil
}
