package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/disaster-relay/internal/connection"
	"github.com/rickgao/disaster-relay/internal/model"
	"github.com/rickgao/disaster-relay/internal/router"
)

// ErrNotOpen is returned by Connect before Open or after Close.
var ErrNotOpen = errors.New("service not open")

// Config configures the real-time service.
type Config struct {
	Connection connection.ManagerConfig
	Router     router.Config
}

// DefaultConfig returns defaults for both components.
func DefaultConfig() Config {
	return Config{
		Connection: connection.DefaultManagerConfig(),
		Router:     router.DefaultConfig(),
	}
}

// Service owns the real-time channel of one user: a Connection Manager and
// the Event Router reading from it.
type Service struct {
	logger  *slog.Logger
	hooks   connection.Hooks
	manager connection.Manager
	router  *router.Router

	mu     sync.Mutex
	open   bool
	closed bool
}

// New creates a service. hooks observe the channel lifecycle and may be
// zero. Nothing is dialed until Connect.
func New(cfg Config, hooks connection.Hooks, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		logger: logger,
		hooks:  hooks,
	}
	s.manager = connection.NewManager(cfg.Connection, connection.Hooks{
		OnConnected:       s.onConnected,
		OnDisconnected:    s.onDisconnected,
		OnReconnectFailed: s.onReconnectFailed,
	}, logger.With("component", "connection"))
	s.router = router.New(cfg.Router, s.manager, logger.With("component", "router"))
	return s
}

// Open starts event routing.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return connection.ErrAlreadyClosed
	}
	if s.open {
		return nil
	}
	if err := s.router.Start(ctx); err != nil {
		return err
	}
	s.open = true
	return nil
}

// Close disconnects, stops routing and releases the channel. Pending
// requests are rejected with ErrNotConnected.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasOpen := s.open
	s.open = false
	s.mu.Unlock()

	s.manager.Disconnect()
	if wasOpen {
		if err := s.router.Stop(ctx); err != nil {
			s.logger.Warn("router stop failed", "error", err)
		}
	}
	return s.manager.Close()
}

// Connect opens the channel and registers identity. Concurrent callers
// share one attempt.
func (s *Service) Connect(ctx context.Context, identity model.Identity) error {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	return s.manager.Connect(ctx, identity)
}

// Disconnect closes the channel. Pending requests are rejected and no
// reconnect follows.
func (s *Service) Disconnect() {
	s.manager.Disconnect()
}

// IsConnected reports whether the channel is live.
func (s *Service) IsConnected() bool {
	return s.manager.IsConnected()
}

// Session returns the live session, if any.
func (s *Service) Session() (model.Session, bool) {
	return s.manager.Session()
}

// State returns the channel lifecycle state.
func (s *Service) State() connection.State {
	return s.manager.State()
}

// ConnectionStats returns Connection Manager statistics.
func (s *Service) ConnectionStats() connection.ManagerStats {
	return s.manager.Stats()
}

// RouterStats returns Event Router statistics.
func (s *Service) RouterStats() router.Stats {
	return s.router.Stats()
}

// Feed returns the structured event stream, or nil when disabled.
func (s *Service) Feed() *router.Queue[model.Event] {
	return s.router.Feed()
}

// BroadcastDisasterAlert sends an alert for fan-out.
func (s *Service) BroadcastDisasterAlert(ctx context.Context, alert model.DisasterAlert) (model.BroadcastResult, error) {
	return s.router.BroadcastDisasterAlert(ctx, alert)
}

// SendSOSAlert raises an SOS.
func (s *Service) SendSOSAlert(ctx context.Context, sos model.SOSAlert) (model.Ack, error) {
	return s.router.SendSOSAlert(ctx, sos)
}

// SubmitIncidentReport files an incident report.
func (s *Service) SubmitIncidentReport(ctx context.Context, report model.IncidentReport) (model.Ack, error) {
	return s.router.SubmitIncidentReport(ctx, report)
}

// Ping measures the round trip to the server.
func (s *Service) Ping(ctx context.Context) (time.Duration, error) {
	return s.router.Ping(ctx)
}

// AcknowledgeAlert confirms receipt of an alert. Best effort.
func (s *Service) AcknowledgeAlert(alertID, userID string) {
	s.router.AcknowledgeAlert(alertID, userID)
}

// SendLocation shares a live position. Best effort.
func (s *Service) SendLocation(loc model.LocationUpdate) {
	s.router.SendLocation(loc)
}

// RequestAllLocations asks for every citizen position. Best effort.
func (s *Service) RequestAllLocations() {
	s.router.RequestAllLocations()
}

// OnDisasterAlert registers fn for broadcast disaster alerts.
func (s *Service) OnDisasterAlert(fn func(model.DisasterAlert)) router.Unsubscribe {
	return s.router.OnDisasterAlert(fn)
}

// OnSOSAlert registers fn for SOS alerts raised by citizens.
func (s *Service) OnSOSAlert(fn func(model.SOSAlert)) router.Unsubscribe {
	return s.router.OnSOSAlert(fn)
}

// OnIncidentReport registers fn for new incident reports.
func (s *Service) OnIncidentReport(fn func(model.IncidentReport)) router.Unsubscribe {
	return s.router.OnIncidentReport(fn)
}

// OnAlertAcknowledged registers fn for alert acknowledgments. The payload
// is passed through undecoded.
func (s *Service) OnAlertAcknowledged(fn func(json.RawMessage)) router.Unsubscribe {
	return s.router.OnAlertAcknowledged(fn)
}

// OnCitizenLocation registers fn for live citizen positions.
func (s *Service) OnCitizenLocation(fn func(model.LocationUpdate)) router.Unsubscribe {
	return s.router.OnCitizenLocation(fn)
}

// OnAllLocations registers fn for the answer to RequestAllLocations.
func (s *Service) OnAllLocations(fn func([]model.LocationUpdate)) router.Unsubscribe {
	return s.router.OnAllLocations(fn)
}

// OffDisasterAlert removes every disaster alert listener.
func (s *Service) OffDisasterAlert() { s.router.OffDisasterAlert() }

// OffSOSAlert removes every SOS alert listener.
func (s *Service) OffSOSAlert() { s.router.OffSOSAlert() }

// OffIncidentReport removes every incident report listener.
func (s *Service) OffIncidentReport() { s.router.OffIncidentReport() }

// OffAlertAcknowledged removes every alert acknowledgment listener.
func (s *Service) OffAlertAcknowledged() { s.router.OffAlertAcknowledged() }

// OffCitizenLocation removes every citizen location listener.
func (s *Service) OffCitizenLocation() { s.router.OffCitizenLocation() }

// OffAllLocations removes every all-locations listener.
func (s *Service) OffAllLocations() { s.router.OffAllLocations() }

func (s *Service) onConnected(session model.Session) {
	if s.hooks.OnConnected != nil {
		s.hooks.OnConnected(session)
	}
}

// onDisconnected rejects in-flight requests before anyone is told, so no
// request outlives the connection it was sent on.
func (s *Service) onDisconnected(cause error) {
	s.router.FailPending(connection.ErrNotConnected)
	if s.hooks.OnDisconnected != nil {
		s.hooks.OnDisconnected(cause)
	}
}

func (s *Service) onReconnectFailed(err error) {
	if s.hooks.OnReconnectFailed != nil {
		s.hooks.OnReconnectFailed(err)
	}
}
