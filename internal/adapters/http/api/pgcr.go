package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dross/clantally/internal/adapters/store"
	"github.com/dross/clantally/internal/adapters/upstream"
	"github.com/dross/clantally/pkg/logger"
	"github.com/dross/clantally/pkg/metrics"
)

// pgcrHandler serves GET /pgcr: instance detail reports fetched from
// upstream and cached with an expiry. Concurrent requests for the same
// instance collapse into a single upstream fetch.
type pgcrHandler struct {
	store  store.Store
	source InstanceSource
	ttl    time.Duration
	group  singleflight.Group
	log    logger.Logger
}

func newPGCRHandler(st store.Store, source InstanceSource, ttl time.Duration, log logger.Logger) *pgcrHandler {
	return &pgcrHandler{store: st, source: source, ttl: ttl, log: log}
}

func (h *pgcrHandler) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	instanceID := strings.TrimSpace(r.URL.Query().Get("instanceId"))
	if instanceID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrMissingInstanceID)
		return
	}
	ctx := r.Context()

	if data, err := h.store.GetPGCR(ctx, instanceID); err == nil {
		writeRaw(w, data)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		metrics.RecordStoreError("get_pgcr")
	}

	data, err, _ := h.group.Do(instanceID, func() (any, error) {
		raw, err := h.source.PGCR(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if err := h.store.PutPGCR(ctx, instanceID, raw, h.ttl); err != nil {
			metrics.RecordStoreError("put_pgcr")
			h.log.Warn(ctx, "pgcr cache write failed",
				logger.String("instance_id", instanceID), logger.Error(err))
		}
		return []byte(raw), nil
	})
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		writeError(w, http.StatusNotFound, "instance_not_found", err)
	case err != nil:
		writeError(w, http.StatusBadGateway, "upstream_error", err)
	default:
		writeRaw(w, data.([]byte))
	}
}

func writeRaw(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(json.RawMessage(data))
}
