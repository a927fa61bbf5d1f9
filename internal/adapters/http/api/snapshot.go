package api

import (
	"errors"
	"net/http"

	"github.com/dross/clantally/internal/adapters/store"
)

// handleClearsSnapshot serves GET /clears-snapshot: the raw canonical
// snapshot with no partial fallback, 404 when absent.
func (s *Server) handleClearsSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	snap, err := s.snapshots.Snapshot(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "snapshot_missing", ErrNoSnapshot)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
