// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Member is one roster entry. Immutable within a refresh cycle.
type Member struct {
	MembershipID   string   `json:"membership_id"`
	MembershipType int      `json:"membership_type"`
	DisplayName    string   `json:"display_name"`
	IsOnline       bool     `json:"is_online"`
	Characters     []string `json:"characters,omitempty"` // profile enrichment
}

// RecentActivity identifies one observed activity instance.
type RecentActivity struct {
	InstanceID  string    `json:"instance_id"`
	Period      time.Time `json:"period"`
	GroupID     string    `json:"group_id"`
	CharacterID string    `json:"character_id,omitempty"`
}

// MoreRecentThan is the single tie-break rule used everywhere: a strictly
// later period wins; equal periods fall back to the greater instance id.
// A nil other always loses.
func (r *RecentActivity) MoreRecentThan(other *RecentActivity) bool {
	if r == nil {
		return false
	}
	if other == nil {
		return true
	}
	if r.Period.After(other.Period) {
		return true
	}
	if r.Period.Equal(other.Period) {
		return strings.Compare(r.InstanceID, other.InstanceID) > 0
	}
	return false
}

// MemberResult is the durable outcome of one successful member job run.
// It is overwritten wholesale on each run; there is no cross-run merge.
type MemberResult struct {
	MembershipID   string          `json:"membership_id"`
	MembershipType int             `json:"membership_type"`
	Clears         int             `json:"clears"`
	SpecialClears  int             `json:"special_clears"`
	LastActivityAt *time.Time      `json:"last_activity_at,omitempty"`
	MostRecent     *RecentActivity `json:"most_recent_activity,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// JobState enumerates member job lifecycle states.
type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
)

// Job is the persisted record owned by one member job actor. It is written
// after every state transition so a crash mid-run resumes from the last
// checkpoint. Only the character list is checkpointed; per-activity counts
// are recomputed from scratch on retry for correctness.
type Job struct {
	Key            string     `json:"key"`
	MembershipID   string     `json:"membership_id"`
	MembershipType int        `json:"membership_type"`
	CharacterID    string     `json:"character_id,omitempty"`
	State          JobState   `json:"state"`
	Characters     []string   `json:"characters,omitempty"`
	NextIndex      int        `json:"next_index"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	Attempts       int        `json:"attempts"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
	Result         *MemberResult `json:"result,omitempty"`
}

// JobKey derives the storage key suffix for a member job, optionally scoped
// to a single character.
func JobKey(membershipID, characterID string) string {
	if characterID == "" {
		return membershipID
	}
	return membershipID + ":" + characterID
}

// LeaseHeld reports whether the job's lock is younger than ttl at now.
func (j *Job) LeaseHeld(now time.Time, ttl time.Duration) bool {
	return j.LockedAt != nil && now.Sub(*j.LockedAt) < ttl
}

// Snapshot is the clan-wide aggregate. The canonical snapshot is owned by
// the snapshot actor; Partial marks a read-only reconstruction from
// individual member results.
type Snapshot struct {
	FetchedAt      time.Time       `json:"fetched_at"`
	Clears         int             `json:"clears"`
	SpecialClears  int             `json:"special_clears"`
	PerMember      []MemberResult  `json:"per_member"`
	MostRecent     *RecentActivity `json:"most_recent_clan_activity,omitempty"`
	MemberCount    int             `json:"member_count"`
	ProcessedCount int             `json:"processed_count"`
	Partial        bool            `json:"partial,omitempty"`
}
