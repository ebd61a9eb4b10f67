// Package api exposes the read-only world view over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/store"
)

// StateStore is the read surface the HTTP handlers need.
type StateStore interface {
	CurrentPlacements(ctx context.Context) ([]*store.AgentState, error)
	RecentEvents(ctx context.Context, limit int) ([]*store.WorldEvent, error)
	ListAgents(ctx context.Context, limit int) ([]*store.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*store.Agent, error)
	GetDailyReport(ctx context.Context, dayLabel string) (*store.DailyReport, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store  StateStore
	logger *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(st StateStore, logger *zap.Logger) *Handler {
	return &Handler{store: st, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/state", h.worldState)
		r.Get("/events", h.recentEvents)
		r.Get("/agents", h.listAgents)
		r.Get("/agents/{name}", h.getAgent)
		r.Get("/reports/{day}", h.getReport)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type agentStateView struct {
	AgentID      int64          `json:"agent_id"`
	Name         string         `json:"name"`
	Job          string         `json:"job"`
	Location     string         `json:"location"`
	LocationKind string         `json:"location_kind"`
	LastEvent    map[string]any `json:"last_event,omitempty"`
}

func (h *Handler) worldState(w http.ResponseWriter, r *http.Request) {
	placements, err := h.store.CurrentPlacements(r.Context())
	if err != nil {
		h.serverError(w, "world state", err)
		return
	}
	views := make([]agentStateView, 0, len(placements))
	for _, p := range placements {
		views = append(views, agentStateView{
			AgentID:      p.AgentID,
			Name:         p.AgentName,
			Job:          p.Job,
			Location:     p.LocationName,
			LocationKind: p.LocationKind,
			LastEvent:    p.LastEvent,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_count": len(views),
		"agents":      views,
	})
}

type eventView struct {
	ID        int64          `json:"id"`
	AgentID   int64          `json:"agent_id"`
	TickIndex int            `json:"tick_index"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
}

func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1-500"})
			return
		}
		limit = n
	}

	events, err := h.store.RecentEvents(r.Context(), limit)
	if err != nil {
		h.serverError(w, "recent events", err)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, eventView{
			ID:        ev.ID,
			AgentID:   ev.AgentID,
			TickIndex: ev.TickIndex,
			Payload:   ev.Payload,
			CreatedAt: ev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type agentView struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Bio       string   `json:"bio,omitempty"`
	Job       string   `json:"job,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

func toAgentView(a *store.Agent) agentView {
	v := agentView{ID: a.ID, Name: a.Name, Bio: a.Bio, Job: a.Job}
	for _, in := range a.Interests {
		v.Interests = append(v.Interests, in.Tag)
	}
	return v
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context(), 0)
	if err != nil {
		h.serverError(w, "list agents", err)
		return
	}
	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, toAgentView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, err := h.store.GetAgentByName(r.Context(), name)
	if err != nil {
		h.serverError(w, "get agent", err)
		return
	}
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, toAgentView(a))
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	report, err := h.store.GetDailyReport(r.Context(), day)
	if err != nil {
		h.serverError(w, "get report", err)
		return
	}
	if report == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no report for " + day})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day_label": report.DayLabel,
		"summary":   report.Summary,
		"metrics":   report.Metrics,
	})
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
