package fakeupstream

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dross/clantally/internal/domain/counter"
	"github.com/dross/clantally/pkg/logger"
)

// Server is the synthetic stats API.
type Server struct {
	cfg   *Config
	world *world
	log   logger.Logger
}

// NewServer generates the world and prepares the handler.
func NewServer(cfg *Config) *Server {
	cfg.normalize()
	return &Server{
		cfg:   cfg,
		world: generate(cfg),
		log:   logger.Get().Named("fake-upstream"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /clans/{clan}/members", s.guard(s.handleRoster))
	mux.HandleFunc("GET /{type}/profiles/{mid}", s.guard(s.handleProfile))
	mux.HandleFunc("GET /{type}/accounts/{mid}/characters/{cid}/history", s.guard(s.handleHistory))
	mux.HandleFunc("GET /{type}/accounts/{mid}/characters/{cid}/aggregate-stats", s.guard(s.handleAggregate))
	mux.HandleFunc("GET /instances/{iid}", s.guard(s.handleInstance))
	return mux
}

// ListenAndServe runs the server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info(ctx, "fake upstream listening",
		logger.String("addr", s.cfg.Addr),
		logger.Int("members", len(s.world.order)),
		logger.Int("instances", len(s.world.instances)),
	)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("X-API-Key") != s.cfg.APIKey {
			http.Error(w, "missing or invalid api key", http.StatusUnauthorized)
			return
		}
		if s.cfg.Latency > 0 {
			time.Sleep(s.cfg.Latency)
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) handleRoster(w http.ResponseWriter, _ *http.Request) {
	type wireMember struct {
		MembershipID   string `json:"membership_id"`
		MembershipType int    `json:"membership_type"`
		DisplayName    string `json:"display_name"`
		IsOnline       bool   `json:"is_online"`
	}
	members := make([]wireMember, 0, len(s.world.order))
	for _, id := range s.world.order {
		m := s.world.members[id]
		members = append(members, wireMember{
			MembershipID:   m.MembershipID,
			MembershipType: m.MembershipType,
			DisplayName:    m.DisplayName,
			IsOnline:       m.IsOnline,
		})
	}
	writeJSON(w, map[string]any{"members": members})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	m, ok := s.world.members[r.PathValue("mid")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	ids := make([]string, 0, len(m.Characters))
	for _, c := range m.Characters {
		ids = append(ids, c.ID)
	}
	writeJSON(w, map[string]any{"character_ids": ids})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	char := s.world.character(r.PathValue("mid"), r.PathValue("cid"))
	if char == nil {
		http.NotFound(w, r)
		return
	}
	mode, _ := strconv.Atoi(r.URL.Query().Get("mode"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	if count <= 0 {
		count = 250
	}

	// Everything lives under the primary mode; the legacy mode exists but
	// is empty, like an account created after the cutover.
	rows := []activity{}
	if mode == counter.ModePrimary {
		start := page * count
		if start < len(char.Activities) {
			end := start + count
			if end > len(char.Activities) {
				end = len(char.Activities)
			}
			rows = char.Activities[start:end]
		}
	}
	writeJSON(w, map[string]any{"activities": wireActivities(rows)})
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	agg := s.world.aggregates(r.PathValue("mid"), r.PathValue("cid"))
	if agg == nil {
		http.NotFound(w, r)
		return
	}
	type wireAgg struct {
		ActivityHash int64          `json:"activity_hash"`
		Values       map[string]any `json:"values"`
	}
	rows := make([]wireAgg, 0, len(agg))
	for hash, n := range agg {
		rows = append(rows, wireAgg{
			ActivityHash: hash,
			Values:       map[string]any{"activityCompletions": basic(float64(n))},
		})
	}
	writeJSON(w, map[string]any{"activities": rows})
}

func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request) {
	act, ok := s.world.instances[r.PathValue("iid")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"instance_id":  act.InstanceID,
		"period":       act.Period.Format(time.RFC3339),
		"reference_id": act.ReferenceID,
		"completed":    act.Completed,
	})
}

func wireActivities(rows []activity) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, act := range rows {
		completed := 0.0
		if act.Completed {
			completed = 1.0
		}
		out = append(out, map[string]any{
			"period":       act.Period.Format(time.RFC3339),
			"instance_id":  act.InstanceID,
			"reference_id": act.ReferenceID,
			"values":       map[string]any{"completed": basic(completed)},
		})
	}
	return out
}

func basic(v float64) map[string]any {
	return map[string]any{"basic": map[string]any{"value": v}}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
