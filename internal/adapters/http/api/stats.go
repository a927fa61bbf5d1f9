package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dross/clantally/internal/actor/clan"
	"github.com/dross/clantally/internal/adapters/store"
	"github.com/dross/clantally/internal/domain/model"
	"github.com/dross/clantally/pkg/logger"
	"github.com/dross/clantally/pkg/metrics"
)

type statsResponse struct {
	Snapshot   *model.Snapshot `json:"snapshot,omitempty"`
	Refreshing bool            `json:"refreshing,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// handleStats serves GET /stats: the canonical snapshot, falling back to a
// partial aggregate over durable per-member results, with the mode flag
// selecting cached, background-fresh, or synchronous-fresh behavior.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	ctx := r.Context()

	switch mode(r) {
	case ModeCached:
		snap, err := s.bestAvailable(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error", err)
			return
		}
		if snap == nil {
			writeError(w, http.StatusNotFound, "snapshot_missing", ErrNoSnapshot)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{Snapshot: snap})

	case ModeFresh:
		s.refreshInBackground()
		snap, err := s.bestAvailable(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error", err)
			return
		}
		status := http.StatusOK
		if snap == nil {
			status = http.StatusAccepted
		}
		writeJSON(w, status, statsResponse{Snapshot: snap, Refreshing: true})

	case ModeFreshSync:
		s.handleStatsSync(w, r)
	}
}

func (s *Server) handleStatsSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roster, err := s.snapshots.Roster(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, "roster_error", err)
		return
	}
	if len(roster) > s.syncMemberCap {
		// Too many members to block on: degrade to the background path.
		s.refreshInBackground()
		snap, err := s.bestAvailable(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error", err)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{Snapshot: snap, Refreshing: true, Reason: "member_cap"})
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.syncWait)
	defer cancel()

	res, err := s.snapshots.RefreshStats(waitCtx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		snap, rerr := s.bestAvailable(ctx)
		if rerr != nil {
			writeError(w, http.StatusInternalServerError, "store_error", rerr)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{Snapshot: snap, Refreshing: true, Reason: "wait_timeout"})
	case err != nil:
		writeError(w, http.StatusInternalServerError, "refresh_error", err)
	case !res.OK:
		writeJSON(w, http.StatusOK, statsResponse{Snapshot: res.Snapshot, Reason: res.Reason})
	default:
		writeJSON(w, http.StatusOK, statsResponse{Snapshot: res.Snapshot})
	}
}

func (s *Server) refreshInBackground() {
	go func() {
		if _, err := s.snapshots.RefreshStats(s.background); err != nil {
			s.log.Warn(s.background, "background stats refresh failed", logger.Error(err))
		}
	}()
}

// bestAvailable returns the canonical snapshot, or a partial aggregate
// reconstructed from durable per-member results, or nil when neither
// exists.
func (s *Server) bestAvailable(ctx context.Context) (*model.Snapshot, error) {
	snap, err := s.snapshots.Snapshot(ctx)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.partialSnapshot(ctx)
}

func (s *Server) partialSnapshot(ctx context.Context) (*model.Snapshot, error) {
	results, err := s.store.ListMemberResults(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	snap := &model.Snapshot{Partial: true}
	for _, res := range results {
		snap.Clears += res.Clears
		snap.SpecialClears += res.SpecialClears
		snap.PerMember = append(snap.PerMember, *res)
		if res.UpdatedAt.After(snap.FetchedAt) {
			snap.FetchedAt = res.UpdatedAt
		}
	}
	snap.MostRecent = clan.MostRecentShared(snap.PerMember)
	snap.MemberCount = len(results)
	snap.ProcessedCount = len(results)
	metrics.RecordPartialAggregation()
	return snap, nil
}
