// relay keeps one real-time channel open to the disaster-management server,
// logs every inbound event and optionally records them to the database.
//
// Usage: go run ./cmd/relay --config configs/relay.example.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	flags "github.com/jessevdk/go-flags"

	"github.com/rickgao/disaster-relay/internal/config"
	"github.com/rickgao/disaster-relay/internal/connection"
	"github.com/rickgao/disaster-relay/internal/database"
	"github.com/rickgao/disaster-relay/internal/logging"
	"github.com/rickgao/disaster-relay/internal/model"
	"github.com/rickgao/disaster-relay/internal/poller"
	"github.com/rickgao/disaster-relay/internal/realtime"
	"github.com/rickgao/disaster-relay/internal/version"
	"github.com/rickgao/disaster-relay/internal/writer"
)

func main() {
	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := config.Resolve(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Set up structured logging
	logger, err := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", opts.ConfigFile,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func run(cfg *config.RelayConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	var pool *pgxpool.Pool
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Recorder.Database.Host,
			"port", cfg.Recorder.Database.Port,
			"database", cfg.Recorder.Database.Name,
		)

		var err error
		pool, err = database.Open(ctx, cfg.Recorder.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer pool.Close()
		logger.Info("database connected")
	}

	// Reconnection exhaustion is handled here rather than in the manager so
	// the relay keeps trying for as long as it runs.
	lost := make(chan error, 1)
	hooks := connection.Hooks{
		OnConnected: func(s model.Session) {
			logger.Info("channel registered",
				"socket_id", s.SocketID,
				"user_id", s.Identity.UserID,
				"role", s.Identity.Role,
			)
		},
		OnDisconnected: func(cause error) {
			if errors.Is(cause, connection.ErrClientClosed) {
				return
			}
			logger.Warn("channel dropped", "cause", cause)
		},
		OnReconnectFailed: func(err error) {
			select {
			case lost <- err:
			default:
			}
		},
	}

	svc := realtime.New(cfg.ServiceConfig(), hooks, logger)
	if err := svc.Open(ctx); err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	logEvents(svc, logger)

	var recorder *writer.EventWriter
	if cfg.Recorder.Enabled {
		recorder = writer.NewEventWriter(writer.WriterConfig{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
		}, svc.Feed(), pool, logger.With("component", "writer"))
		if err := recorder.Start(ctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
	}

	var keepalive *poller.Poller
	if cfg.Poller.Enabled {
		keepalive = poller.New(poller.Config{
			Interval:         cfg.Poller.Interval,
			RequestLocations: cfg.Poller.RequestLocations,
		}, svc, logger.With("component", "poller"))
		if err := keepalive.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}

	var healthServer *http.Server
	if cfg.Health.Port > 0 {
		var db pinger
		if pool != nil {
			db = pool
		}
		extra := make(map[string]func() any)
		if recorder != nil {
			extra["recorder"] = func() any { return recorder.Stats() }
		}
		if keepalive != nil {
			extra["poller"] = func() any { return keepalive.Stats() }
		}

		healthServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
			Handler:           newHealthHandler(svc, db, extra),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting health server", "port", cfg.Health.Port)
			if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("health server error", "error", err)
			}
		}()
	}

	identity := cfg.IdentityValue()
	if err := svc.Connect(ctx, identity); err != nil {
		logger.Error("initial connect failed", "error", err)
		go reconnectForever(ctx, svc, identity, logger)
	} else {
		logger.Info("relay running", "server", cfg.Server.URL)
	}

	// Wait for shutdown
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case err := <-lost:
			logger.Error("reconnection gave up", "error", err)
			go reconnectForever(ctx, svc, identity, logger)
		}
	}

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if healthServer != nil {
		healthServer.Shutdown(shutdownCtx)
	}
	if keepalive != nil {
		keepalive.Stop(shutdownCtx)
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("service close failed", "error", err)
	}
	if recorder != nil {
		if err := recorder.Stop(shutdownCtx); err != nil {
			logger.Warn("recorder stop failed", "error", err)
		}
	}
	return nil
}

// reconnectForever retries Connect with capped exponential backoff until it
// succeeds or ctx is done.
func reconnectForever(ctx context.Context, svc *realtime.Service, identity model.Identity, logger *slog.Logger) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 2 * time.Minute

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, svc.Connect(ctx, identity)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("connect failed, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		logger.Debug("reconnect loop stopped", "error", err)
		return
	}
	logger.Info("channel restored")
}

// logEvents registers a logging listener for every server event.
func logEvents(svc *realtime.Service, logger *slog.Logger) {
	log := logger.With("component", "events")

	svc.OnDisasterAlert(func(a model.DisasterAlert) {
		log.Info("disaster alert",
			"id", a.ID,
			"title", a.Title,
			"severity", a.Severity,
			"type", a.Type,
		)
	})
	svc.OnSOSAlert(func(s model.SOSAlert) {
		log.Warn("sos alert",
			"id", s.ID,
			"user_id", s.UserID,
			"emergency", s.EmergencyType,
			"lat", s.Latitude,
			"lng", s.Longitude,
		)
	})
	svc.OnIncidentReport(func(r model.IncidentReport) {
		log.Info("incident report",
			"id", r.ID,
			"user_id", r.UserID,
			"title", r.Title,
			"category", r.Category,
		)
	})
	svc.OnAlertAcknowledged(func(raw json.RawMessage) {
		log.Debug("alert acknowledged", "payload", string(raw))
	})
	svc.OnCitizenLocation(func(l model.LocationUpdate) {
		log.Debug("citizen location", "user_id", l.UserID, "lat", l.Latitude, "lng", l.Longitude)
	})
	svc.OnAllLocations(func(ls []model.LocationUpdate) {
		log.Info("location snapshot", "citizens", len(ls))
	})
}
