package monitor

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuchenw/deepresearch/internal/domain"
	"go.uber.org/zap"
)

const maxEventsPerSession = 200

// sessionView is everything the dashboard knows about one session: the
// latest payload per event kind plus a capped event log.
type sessionView struct {
	LastByKind map[string]any `json:"last_by_kind"`
	Events     []domain.Event `json:"events"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Server aggregates published events into per-session views and serves
// them over HTTP. It is the read side of the monitor; the agent only ever
// posts to it.
type Server struct {
	Router *chi.Mux

	mu       sync.RWMutex
	sessions map[string]*sessionView

	startTime  time.Time
	eventCount atomic.Int64
	logger     *zap.Logger
}

func NewServer(logger *zap.Logger) *Server {
	s := &Server{
		sessions:  make(map[string]*sessionView),
		startTime: time.Now(),
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logging(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.handleIngest)
		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/events", s.handleGetEvents)
		})
	})

	s.Router = r
	return s
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var ev domain.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event payload"})
		return
	}
	if ev.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	s.mu.Lock()
	view, ok := s.sessions[ev.SessionID]
	if !ok {
		view = &sessionView{LastByKind: make(map[string]any)}
		s.sessions[ev.SessionID] = view
	}
	view.LastByKind[ev.Kind] = ev.Payload
	view.Events = append(view.Events, ev)
	if len(view.Events) > maxEventsPerSession {
		view.Events = view.Events[len(view.Events)-maxEventsPerSession:]
	}
	view.UpdatedAt = ev.Time
	s.mu.Unlock()

	s.eventCount.Add(1)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		SessionID string    `json:"session_id"`
		Events    int       `json:"events"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	s.mu.RLock()
	out := make([]entry, 0, len(s.sessions))
	for id, view := range s.sessions {
		out = append(out, entry{SessionID: id, Events: len(view.Events), UpdatedAt: view.UpdatedAt})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	view, ok := s.sessions[id]
	var resp *sessionView
	if ok {
		last := make(map[string]any, len(view.LastByKind))
		for k, v := range view.LastByKind {
			last[k] = v
		}
		resp = &sessionView{
			LastByKind: last,
			UpdatedAt:  view.UpdatedAt,
		}
	}
	s.mu.RUnlock()

	if resp == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	view, ok := s.sessions[id]
	var events []domain.Event
	if ok {
		events = make([]domain.Event, len(view.Events))
		copy(events, view.Events)
	}
	s.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.mu.RLock()
	sessions := len(s.sessions)
	s.mu.RUnlock()

	uptime := time.Since(s.startTime)
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": uptime.Seconds(),
		"uptime_human":   uptime.Round(time.Second).String(),
		"event_count":    s.eventCount.Load(),
		"sessions":       sessions,
		"goroutines":     runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc_mb": float64(memStats.Alloc) / 1024 / 1024,
			"num_gc":   memStats.NumGC,
		},
		"go_version": runtime.Version(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
