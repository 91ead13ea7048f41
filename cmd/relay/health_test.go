package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rickgao/disaster-relay/internal/connection"
	"github.com/rickgao/disaster-relay/internal/model"
	"github.com/rickgao/disaster-relay/internal/router"
	"github.com/rickgao/disaster-relay/internal/writer"
)

type fakeChannel struct {
	state   connection.State
	session *model.Session
	stats   router.Stats
}

func (f *fakeChannel) State() connection.State { return f.state }

func (f *fakeChannel) Session() (model.Session, bool) {
	if f.session == nil {
		return model.Session{}, false
	}
	return *f.session, true
}

func (f *fakeChannel) ConnectionStats() connection.ManagerStats {
	return connection.ManagerStats{State: f.state, Connects: 1}
}

func (f *fakeChannel) RouterStats() router.Stats { return f.stats }

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%q)", path, err, rec.Body.String())
	}
	return rec, body
}

func TestHealth_Connected(t *testing.T) {
	ch := &fakeChannel{
		state: connection.StateConnected,
		session: &model.Session{
			Identity:    model.Identity{UserID: "off-1", Role: model.RoleOfficial},
			SocketID:    "sock-1",
			ConnectedAt: time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC),
		},
	}
	h := newHealthHandler(ch, fakePinger{}, nil)

	rec, body := get(t, h, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}

	components := body["components"].(map[string]any)
	channel := components["channel"].(map[string]any)
	if channel["state"] != "connected" || channel["socket_id"] != "sock-1" {
		t.Errorf("channel = %v", channel)
	}
	if components["database"] != "connected" {
		t.Errorf("database = %v", components["database"])
	}
}

func TestHealth_Reconnecting(t *testing.T) {
	h := newHealthHandler(&fakeChannel{state: connection.StateReconnecting}, nil, nil)

	rec, body := get(t, h, "/health")
	if rec.Code != http.StatusOK || body["status"] != "degraded" {
		t.Errorf("code = %d, status = %v", rec.Code, body["status"])
	}
	if _, ok := body["components"].(map[string]any)["database"]; ok {
		t.Error("database component reported without a recorder")
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	h := newHealthHandler(&fakeChannel{state: connection.StateConnected}, fakePinger{err: errors.New("connection refused")}, nil)

	rec, body := get(t, h, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

func TestHealth_Disconnected(t *testing.T) {
	h := newHealthHandler(&fakeChannel{state: connection.StateDisconnected}, nil, nil)

	rec, _ := get(t, h, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}
}

func TestDebugRequests(t *testing.T) {
	ch := &fakeChannel{
		state: connection.StateConnected,
		stats: router.Stats{Pending: 2, Timeouts: 1},
	}
	h := newHealthHandler(ch, nil, map[string]func() any{
		"recorder": func() any { return writer.WriterMetrics{Inserts: 40, Flushes: 3} },
	})

	_, body := get(t, h, "/debug/requests")

	rtr := body["router"].(map[string]any)
	if rtr["Pending"] != float64(2) || rtr["Timeouts"] != float64(1) {
		t.Errorf("router = %v", rtr)
	}
	conn := body["connection"].(map[string]any)
	if conn["State"] != "connected" {
		t.Errorf("connection state = %v, want connected", conn["State"])
	}
	rec := body["recorder"].(map[string]any)
	if rec["Inserts"] != float64(40) {
		t.Errorf("recorder = %v", rec)
	}
}

func TestDebugRequests_RejectsPost(t *testing.T) {
	h := newHealthHandler(&fakeChannel{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/requests", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want 405", rec.Code)
	}
}
