package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rickgao/disaster-relay/internal/connection"
	"github.com/rickgao/disaster-relay/internal/model"
	"github.com/rickgao/disaster-relay/internal/router"
	"github.com/rickgao/disaster-relay/internal/version"
)

// channelStatus is the part of realtime.Service the health routes read.
type channelStatus interface {
	State() connection.State
	Session() (model.Session, bool)
	ConnectionStats() connection.ManagerStats
	RouterStats() router.Stats
}

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status     string         `json:"status"`
	Version    version.Info   `json:"version"`
	Components map[string]any `json:"components"`
}

// newHealthHandler creates the HTTP handler for health checks. db is nil
// when recording is disabled. extra adds named sections to /debug/requests.
func newHealthHandler(ch channelStatus, db pinger, extra map[string]func() any) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		health := healthResponse{
			Status:     "healthy",
			Version:    version.Current(),
			Components: make(map[string]any),
		}

		// Check channel
		state := ch.State()
		channel := map[string]any{"state": state.String()}
		if s, ok := ch.Session(); ok {
			channel["socket_id"] = s.SocketID
			channel["user_id"] = s.Identity.UserID
			channel["connected_at"] = s.ConnectedAt.UTC().Format(time.RFC3339)
		}
		health.Components["channel"] = channel

		switch state {
		case connection.StateConnected:
		case connection.StateConnecting, connection.StateReconnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		// Check database
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}).Methods(http.MethodGet)

	r.HandleFunc("/debug/requests", func(w http.ResponseWriter, req *http.Request) {
		body := map[string]any{
			"connection": ch.ConnectionStats(),
			"router":     ch.RouterStats(),
		}
		for name, stats := range extra {
			body[name] = stats()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}).Methods(http.MethodGet)

	return r
}
