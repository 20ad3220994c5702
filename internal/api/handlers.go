package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"yuzu/voicegw/internal/health"
	"yuzu/voicegw/internal/session"
	"yuzu/voicegw/internal/types"
)

// Journal is the read side of the diagnostic event journal.
type Journal interface {
	ListEvents(sessionID string) []types.Event
	HasJournal(sessionID string) bool
}

// Counter reports live upstream connections.
type Counter interface {
	Len() int
}

type ReadinessFunc func(ctx context.Context) health.HealthStatus

type Handlers struct {
	reg       *session.Registry
	upstream  Counter
	journal   Journal
	readiness ReadinessFunc
}

func NewHandlers(reg *session.Registry, upstream Counter, j Journal, ready ReadinessFunc) *Handlers {
	return &Handlers{reg: reg, upstream: upstream, journal: j, readiness: ready}
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.readiness == nil {
		writeJSON(w, http.StatusOK, health.HealthStatus{OK: true, CheckedAt: time.Now().UTC()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st := h.readiness(ctx)
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.reg.List()
	upstream := 0
	if h.upstream != nil {
		upstream = h.upstream.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   len(sessions),
		"upstream": upstream,
		"sessions": sessions,
	})
}

// HandleListEvents serves the journal of live and recently closed sessions.
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if h.reg.Get(id) == nil && !h.journal.HasJournal(id) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.journal.ListEvents(id),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
