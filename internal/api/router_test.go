package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuzu/voicegw/internal/health"
	"yuzu/voicegw/internal/session"
	"yuzu/voicegw/internal/store"
)

type fixedCounter int

func (c fixedCounter) Len() int { return int(c) }

func newServer(t *testing.T, ready ReadinessFunc) (*httptest.Server, *session.Registry, *store.Memory) {
	t.Helper()
	reg := session.NewRegistry()
	mem := store.NewMemory()
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	srv := httptest.NewServer(NewRouter(NewHandlers(reg, fixedCounter(1), mem, ready), ws))
	t.Cleanup(srv.Close)
	return srv, reg, mem
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil))
}

func TestReadyzReflectsChecks(t *testing.T) {
	srv, _, _ := newServer(t, func(context.Context) health.HealthStatus {
		return health.HealthStatus{OK: false, Checks: []health.CheckResult{{Name: "openai", Error: "down"}}}
	})

	var st health.HealthStatus
	code := getJSON(t, srv.URL+"/readyz", &st)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	require.Len(t, st.Checks, 1)
	assert.Equal(t, "down", st.Checks[0].Error)
}

func TestListSessions(t *testing.T) {
	srv, reg, _ := newServer(t, nil)
	require.NoError(t, reg.Add(session.New(session.Params{ClientID: "c1", UserID: "u1"}, nil, nil)))
	require.NoError(t, reg.Add(session.New(session.Params{ClientID: "c2"}, nil, nil)))

	var body struct {
		Active   int `json:"active"`
		Upstream int `json:"upstream"`
		Sessions []struct {
			ClientID string `json:"client_id"`
		} `json:"sessions"`
	}
	code := getJSON(t, srv.URL+"/sessions", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, body.Active)
	assert.Equal(t, 1, body.Upstream)
	assert.Len(t, body.Sessions, 2)
}

func TestListEvents(t *testing.T) {
	srv, _, mem := newServer(t, nil)
	mem.AppendEvent("c1", "session_started", map[string]any{"mode": "m1"})
	mem.AppendEvent("c1", "commit_sent", nil)

	var body struct {
		SessionID string           `json:"session_id"`
		Events    []map[string]any `json:"events"`
	}
	code := getJSON(t, srv.URL+"/sessions/c1/events", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "c1", body.SessionID)
	require.Len(t, body.Events, 2)
}

func TestUnknownSessionEvents404(t *testing.T) {
	srv, _, _ := newServer(t, nil)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/sessions/unknown/events", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/sessions/c1/start", nil))
}

func TestSessionsMethodNotAllowed(t *testing.T) {
	srv, _, _ := newServer(t, nil)

	resp, err := http.Post(srv.URL+"/sessions", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRealtimeRouteMounted(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	assert.Equal(t, http.StatusTeapot, getJSON(t, srv.URL+"/ws/realtime", nil))
}
