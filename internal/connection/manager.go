package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/disaster-relay/internal/model"
)

// Manager owns the single real-time channel: connect, registration,
// reconnection and disconnect.
type Manager interface {
	// Connect opens the channel and registers identity. Concurrent callers
	// share one attempt. When already connected, a changed identity is
	// registered on the live channel without redialing.
	Connect(ctx context.Context, identity model.Identity) error

	// Disconnect closes the channel and abandons any connect or reconnect
	// in flight. Safe to call repeatedly.
	Disconnect()

	// Close disconnects and releases the manager. Messages is closed once
	// every reader goroutine has exited.
	Close() error

	// IsConnected reports whether the channel is currently live.
	IsConnected() bool

	// Session returns the session of the live connection.
	Session() (model.Session, bool)

	// State returns the lifecycle state.
	State() State

	// Emit sends an event on the live connection.
	Emit(event string, payload any) error

	// Messages returns inbound events from every connection generation, in
	// arrival order.
	Messages() <-chan InboundEvent

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	hooks  Hooks
	logger *slog.Logger

	flights singleflight.Group
	out     chan InboundEvent
	wg      sync.WaitGroup

	mu        sync.RWMutex
	state     State
	identity  model.Identity
	client    Client
	session   *model.Session
	closed    bool
	gen       uint64 // Bumped by Disconnect; attempts from older generations are discarded
	genCtx    context.Context
	genCancel context.CancelFunc

	connects   atomic.Int64
	reconnects atomic.Int64
	drops      atomic.Int64
	messages   atomic.Int64
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, hooks Hooks, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &manager{
		cfg:    cfg,
		hooks:  hooks,
		logger: logger,
		out:    make(chan InboundEvent, cfg.MessageBufferSize),
	}
	m.genCtx, m.genCancel = context.WithCancel(context.Background())
	return m
}

// Connect opens the channel if it is not already open or opening.
func (m *manager) Connect(ctx context.Context, identity model.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if m.state == StateConnected {
		return m.reregister(identity)
	}
	m.identity = identity
	if m.state == StateDisconnected {
		m.state = StateConnecting
	}
	gen := m.gen
	m.mu.Unlock()

	result := m.flights.DoChan(flightKey(gen), func() (any, error) {
		return nil, m.establish(gen, false)
	})

	select {
	case res := <-result:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reregister binds identity to the live connection. Must be called with mu
// held; it releases it.
func (m *manager) reregister(identity model.Identity) error {
	if identity == m.identity || m.client == nil {
		m.mu.Unlock()
		return nil
	}
	c := m.client
	m.identity = identity
	if m.session != nil {
		session := *m.session
		session.Identity = identity
		m.session = &session
	}
	m.mu.Unlock()

	if err := c.Emit(model.EmitRegister, identity.Registration()); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	m.logger.Info("channel re-registered",
		"user_id", identity.UserID,
		"role", identity.Role,
	)
	return nil
}

func flightKey(gen uint64) string {
	return "connect/" + strconv.FormatUint(gen, 10)
}

// establish dials with retries and registers. It runs inside a singleflight
// call so at most one runs per generation.
func (m *manager) establish(gen uint64, reconnect bool) error {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return ErrClientClosed
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	parent := m.genCtx
	m.mu.Unlock()

	timeout := m.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultManagerConfig().ConnectTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	tries := m.cfg.MaxConnectAttempts
	if reconnect {
		tries = m.cfg.ReconnectAttempts
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.ReconnectBaseDelay
	policy.MaxInterval = m.cfg.ReconnectMaxDelay

	attempts := 0
	c, err := backoff.Retry(ctx, func() (Client, error) {
		attempts++
		c, err := m.dial(ctx, gen)
		var rejected *HandshakeError
		if errors.Is(err, ErrClientClosed) || errors.As(err, &rejected) {
			return nil, backoff.Permanent(err)
		}
		return c, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(max(tries, 1))),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Debug("retrying connect",
				"attempt", attempts,
				"error", err,
				"next_retry", next.String(),
			)
		}),
	)

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		if c != nil {
			c.Close()
		}
		return ErrClientClosed
	}
	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		return &ConnectionError{Attempts: attempts, Err: err}
	}

	session := model.Session{
		Identity:    m.identity,
		SocketID:    c.SocketID(),
		ConnectedAt: time.Now(),
	}
	m.client = c
	m.session = &session
	m.state = StateConnected
	m.wg.Add(1)
	m.mu.Unlock()

	go m.pump(parent, c, gen)

	m.connects.Add(1)
	if reconnect {
		m.reconnects.Add(1)
	}

	m.logger.Info("channel connected",
		"user_id", session.Identity.UserID,
		"role", session.Identity.Role,
		"sid", session.SocketID,
		"attempts", attempts,
		"reconnect", reconnect,
	)

	if m.hooks.OnConnected != nil {
		m.hooks.OnConnected(session)
	}
	return nil
}

// dial opens one client and sends the registration for the current identity.
func (m *manager) dial(ctx context.Context, gen uint64) (Client, error) {
	c := NewClient(m.cfg.Client, m.logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	stale := m.closed || m.gen != gen
	reg := m.identity.Registration()
	m.mu.RUnlock()
	if stale {
		c.Close()
		return nil, ErrClientClosed
	}

	if err := c.Emit(model.EmitRegister, reg); err != nil {
		c.Close()
		return nil, fmt.Errorf("register: %w", err)
	}
	return c, nil
}

// pump forwards one client's events to the shared output channel, then
// hands its terminal error to handleDrop.
func (m *manager) pump(ctx context.Context, c Client, gen uint64) {
	defer m.wg.Done()

	for msg := range c.Messages() {
		m.messages.Add(1)
		select {
		case m.out <- msg:
		case <-ctx.Done():
			// Disconnected: drain without forwarding
		}
	}

	m.handleDrop(c, gen, <-c.Errors())
}

// handleDrop reacts to a connection that ended without Disconnect.
func (m *manager) handleDrop(c Client, gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.client != c {
		m.mu.Unlock()
		return
	}
	m.client = nil
	m.session = nil
	if m.cfg.ReconnectAttempts > 0 && !m.closed {
		m.state = StateReconnecting
		m.wg.Add(1)
		go m.reconnect(m.genCtx, gen, cause)
	} else {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	m.drops.Add(1)
	m.logger.Warn("channel dropped", "error", cause)

	if m.hooks.OnDisconnected != nil {
		m.hooks.OnDisconnected(cause)
	}
}

// reconnect re-establishes a dropped channel with the last-known identity.
// A server-initiated close is answered immediately, anything else waits the
// base delay first.
func (m *manager) reconnect(ctx context.Context, gen uint64, cause error) {
	defer m.wg.Done()

	if !errors.Is(cause, ErrServerClosed) {
		timer := time.NewTimer(m.cfg.ReconnectBaseDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}

	res := <-m.flights.DoChan(flightKey(gen), func() (any, error) {
		return nil, m.establish(gen, true)
	})
	if res.Err == nil || errors.Is(res.Err, ErrClientClosed) {
		return
	}

	m.logger.Error("reconnect failed", "error", res.Err)
	if m.hooks.OnReconnectFailed != nil {
		m.hooks.OnReconnectFailed(res.Err)
	}
}

// Disconnect closes the channel and invalidates in-flight attempts.
func (m *manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.genCancel()
	m.genCtx, m.genCancel = context.WithCancel(context.Background())
	c := m.client
	prev := m.state
	m.client = nil
	m.session = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if c != nil {
		if err := c.Close(); err != nil {
			m.logger.Debug("close failed", "error", err)
		}
	}

	if prev == StateDisconnected {
		return
	}

	m.logger.Info("channel disconnected", "previous_state", prev.String())
	if m.hooks.OnDisconnected != nil {
		m.hooks.OnDisconnected(ErrClientClosed)
	}
}

// Close disconnects and waits for reader goroutines before closing Messages.
func (m *manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	m.wg.Wait()

	m.mu.Lock()
	m.genCancel()
	m.mu.Unlock()

	close(m.out)
	return nil
}

// IsConnected reports whether the channel is live.
func (m *manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected && m.client != nil && m.client.IsConnected()
}

// Session returns the current session, if connected.
func (m *manager) Session() (model.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return model.Session{}, false
	}
	return *m.session, true
}

// State returns the lifecycle state.
func (m *manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Emit sends an event on the live connection.
func (m *manager) Emit(event string, payload any) error {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()

	if c == nil {
		return ErrNotConnected
	}
	if err := c.Emit(event, payload); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Messages returns the output channel for the Event Router.
func (m *manager) Messages() <-chan InboundEvent {
	return m.out
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	return ManagerStats{
		State:      m.State(),
		Connects:   m.connects.Load(),
		Reconnects: m.reconnects.Load(),
		Drops:      m.drops.Load(),
		Messages:   m.messages.Load(),
	}
}
