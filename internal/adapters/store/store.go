// Package store defines the durable state adapter and its key conventions.
//
// Ownership rules: job records are written only by their member job actor,
// the canonical snapshot only by the snapshot actor. The per-member result
// keys are the deliberate exception: written by member job actors and read
// by the snapshot aggregation and the gateway's partial fallback.
package store

import (
	"context"
	"time"

	"github.com/dross/clantally/internal/domain/model"
)

// Key conventions.
const (
	jobPrefix    = "job:"
	resultPrefix = "member_clears:"
	pgcrPrefix   = "pgcr:"
	snapshotKey  = "clan_snapshot"
	rosterKey    = "clan_roster"
)

// Store provides read/write access to all durable state.
type Store interface {
	// PutJob persists a job record under its key.
	PutJob(ctx context.Context, job *model.Job) error
	// GetJob returns the job for a key, or ErrNotFound.
	GetJob(ctx context.Context, key string) (*model.Job, error)
	// ListJobs returns every persisted job record.
	ListJobs(ctx context.Context) ([]*model.Job, error)

	// PutMemberResult persists a result under its scope key
	// (membershipId, optionally character-scoped via model.JobKey).
	PutMemberResult(ctx context.Context, scope string, res *model.MemberResult) error
	// GetMemberResult returns the result for a scope, or ErrNotFound.
	GetMemberResult(ctx context.Context, scope string) (*model.MemberResult, error)
	// ListMemberResults returns every persisted member result.
	ListMemberResults(ctx context.Context) ([]*model.MemberResult, error)

	// PutSnapshot atomically replaces the canonical snapshot.
	PutSnapshot(ctx context.Context, snap *model.Snapshot) error
	// GetSnapshot returns the canonical snapshot, or ErrNotFound.
	GetSnapshot(ctx context.Context) (*model.Snapshot, error)

	// PutRoster replaces the cached roster.
	PutRoster(ctx context.Context, members []model.Member) error
	// GetRoster returns the cached roster, or ErrNotFound.
	GetRoster(ctx context.Context) ([]model.Member, error)

	// PutPGCR caches one instance detail report with an expiry.
	PutPGCR(ctx context.Context, instanceID string, data []byte, ttl time.Duration) error
	// GetPGCR returns a cached report, or ErrNotFound once expired.
	GetPGCR(ctx context.Context, instanceID string) ([]byte, error)

	// Close releases the underlying database.
	Close() error
}
