package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/dross/clantally/pkg/logger"
)

// adminTokenHeader carries the shared secret for admin triggers.
const adminTokenHeader = "X-Admin-Token"

type runUpdateRequest struct {
	// Action selects what to refresh: "stats", "members", or "jobs".
	Action string `json:"action"`
	// Wait blocks the request until the refresh completes.
	Wait bool `json:"wait"`
}

// handleRunUpdate serves POST /run-update: admin-triggered refreshes and
// job observability, guarded by a shared-secret header.
func (s *Server) handleRunUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
		return
	}

	var req runUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := r.Context()

	switch req.Action {
	case "stats":
		if !req.Wait {
			s.refreshInBackground()
			writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "action": req.Action})
			return
		}
		waitCtx, cancel := context.WithTimeout(ctx, s.syncWait)
		defer cancel()
		res, err := s.snapshots.RefreshStats(waitCtx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "refresh_error", err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	case "members":
		if !req.Wait {
			go func() {
				if _, _, err := s.snapshots.RefreshMembers(s.background); err != nil {
					s.log.Warn(s.background, "background members refresh failed", logger.Error(err))
				}
			}()
			writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "action": req.Action})
			return
		}
		waitCtx, cancel := context.WithTimeout(ctx, s.syncWait)
		defer cancel()
		members, changed, err := s.snapshots.RefreshMembers(waitCtx)
		if err != nil {
			writeError(w, http.StatusBadGateway, "roster_error", err)
			return
		}
		writeJSON(w, http.StatusOK, membersResponse{Members: members, Count: len(members), Changed: changed})

	case "jobs":
		jobs, err := s.jobs.Status(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})

	default:
		writeError(w, http.StatusBadRequest, "bad_request", ErrUnknownAction)
	}
}

// authorized compares the request's admin token in constant time. An
// unconfigured token rejects every request.
func (s *Server) authorized(r *http.Request) bool {
	if s.adminToken == "" {
		return false
	}
	given := r.Header.Get(adminTokenHeader)
	return subtle.ConstantTimeCompare([]byte(given), []byte(s.adminToken)) == 1
}
