package api

import (
	"context"
	"net/http"

	"github.com/dross/clantally/internal/domain/model"
	"github.com/dross/clantally/pkg/logger"
)

type membersResponse struct {
	Members    []model.Member `json:"members"`
	Count      int            `json:"count"`
	Refreshing bool           `json:"refreshing,omitempty"`
	Changed    bool           `json:"changed,omitempty"`
}

// handleMembers serves GET /members: the cached roster, with the mode flag
// optionally triggering a background or synchronous roster refresh.
func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	ctx := r.Context()

	switch mode(r) {
	case ModeCached:
		members, err := s.snapshots.Roster(ctx)
		if err != nil {
			writeError(w, http.StatusBadGateway, "roster_error", err)
			return
		}
		writeJSON(w, http.StatusOK, membersResponse{Members: members, Count: len(members)})

	case ModeFresh:
		go func() {
			if _, _, err := s.snapshots.RefreshMembers(s.background); err != nil {
				s.log.Warn(s.background, "background members refresh failed", logger.Error(err))
			}
		}()
		members, err := s.snapshots.Roster(ctx)
		if err != nil {
			writeError(w, http.StatusBadGateway, "roster_error", err)
			return
		}
		writeJSON(w, http.StatusOK, membersResponse{Members: members, Count: len(members), Refreshing: true})

	case ModeFreshSync:
		waitCtx, cancel := context.WithTimeout(ctx, s.syncWait)
		defer cancel()
		members, changed, err := s.snapshots.RefreshMembers(waitCtx)
		if err != nil {
			writeError(w, http.StatusBadGateway, "roster_error", err)
			return
		}
		writeJSON(w, http.StatusOK, membersResponse{Members: members, Count: len(members), Changed: changed})
	}
}
