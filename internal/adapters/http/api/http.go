// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dross/clantally/internal/actor/clan"
	"github.com/dross/clantally/internal/adapters/store"
	"github.com/dross/clantally/internal/domain/model"
	"github.com/dross/clantally/pkg/logger"
)

// Refresh mode flags accepted by the read endpoints.
const (
	ModeCached    = "cached"
	ModeFresh     = "fresh"
	ModeFreshSync = "fresh-sync"
)

// Default gateway configuration constants.
const (
	defaultSyncWaitTimeout = 30 * time.Second
	defaultSyncMemberCap   = 10
	defaultPGCRTTL         = 24 * time.Hour
)

// Snapshots is the snapshot actor surface the gateway drives.
type Snapshots interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
	Roster(ctx context.Context) ([]model.Member, error)
	RefreshStats(ctx context.Context) (*clan.RefreshResult, error)
	RefreshMembers(ctx context.Context) ([]model.Member, bool, error)
}

// Jobs exposes persisted job records for observability.
type Jobs interface {
	Status(ctx context.Context) ([]*model.Job, error)
}

// InstanceSource fetches one activity instance report from upstream.
type InstanceSource interface {
	PGCR(ctx context.Context, instanceID string) (json.RawMessage, error)
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithAdminToken sets the shared secret for POST /run-update.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithSyncWaitTimeout bounds how long fresh-sync requests block.
func WithSyncWaitTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.syncWait = d
		}
	}
}

// WithSyncMemberCap caps roster size for synchronous refreshes; larger
// rosters degrade to the background path.
func WithSyncMemberCap(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.syncMemberCap = n
		}
	}
}

// WithPGCRTTL sets the cache expiry for instance reports.
func WithPGCRTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pgcrTTL = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server wires HTTP routes for the gateway API.
type Server struct {
	snapshots Snapshots
	jobs      Jobs
	store     store.Store

	pgcrHandler *pgcrHandler

	adminToken    string
	syncWait      time.Duration
	syncMemberCap int
	pgcrTTL       time.Duration

	// background carries refresh work past the request lifetime.
	background context.Context

	log logger.Logger
}

// NewServer creates the gateway with all handlers.
func NewServer(ctx context.Context, snapshots Snapshots, jobs Jobs, st store.Store, instances InstanceSource, opts ...Option) *Server {
	s := &Server{
		snapshots:     snapshots,
		jobs:          jobs,
		store:         st,
		syncWait:      defaultSyncWaitTimeout,
		syncMemberCap: defaultSyncMemberCap,
		pgcrTTL:       defaultPGCRTTL,
		background:    ctx,
		log:           logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pgcrHandler = newPGCRHandler(st, instances, s.pgcrTTL, s.log)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(handleHealth, "healthz"))
	mux.HandleFunc("/members", MetricsMiddleware(s.handleMembers, "members"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.handleStats, "stats"))
	mux.HandleFunc("/pgcr", MetricsMiddleware(s.pgcrHandler.handle, "pgcr"))
	mux.HandleFunc("/run-update", MetricsMiddleware(s.handleRunUpdate, "run-update"))
	mux.HandleFunc("/clears-snapshot", MetricsMiddleware(s.handleClearsSnapshot, "clears-snapshot"))
}

// mode returns the refresh mode flag of a request, defaulting to cached.
func mode(r *http.Request) string {
	switch m := r.URL.Query().Get("mode"); m {
	case ModeFresh, ModeFreshSync:
		return m
	default:
		return ModeCached
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
