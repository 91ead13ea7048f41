package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single Socket.IO connection over WebSocket.
type Client interface {
	// Connect dials the server, completes the Engine.IO handshake and joins
	// the configured namespace.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Emit sends one event with an optional payload.
	Emit(event string, payload any) error

	// Messages returns a channel of inbound events. It is closed after the
	// terminal error has been published on Errors.
	Messages() <-chan InboundEvent

	// Errors yields exactly one error: the reason the connection ended.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool

	// SocketID returns the session id assigned by the server.
	SocketID() string
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan InboundEvent
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
	sid       string
	liveness  time.Duration
}

// NewClient creates a new Socket.IO client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan InboundEvent, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the connection and joins the namespace.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	endpoint, err := SocketURL(c.cfg.URL, c.cfg.Path)
	if err != nil {
		return err
	}

	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	// Unblock handshake reads when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	sid, liveness, err := c.handshake(ctx, conn)
	if !stop() || err != nil {
		conn.Close()
		if ctxErr := expired(ctx); ctxErr != nil {
			return fmt.Errorf("handshake: %w", ctxErr)
		}
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.sid = sid
	c.liveness = liveness
	c.mu.Unlock()

	go c.readLoop(conn, liveness)

	c.logger.Debug("socket connected", "url", endpoint, "sid", sid, "liveness", liveness)

	return nil
}

// handshake reads the open packet, joins the namespace and waits for the
// server to accept it.
func (c *client) handshake(ctx context.Context, conn *websocket.Conn) (string, time.Duration, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	pkt, err := readPacket(conn)
	if err != nil {
		return "", 0, fmt.Errorf("read open packet: %w", err)
	}
	if pkt.Engine != EngineOpen {
		return "", 0, fmt.Errorf("expected open packet, got %q", pkt.Engine)
	}

	var open OpenPayload
	if err := json.Unmarshal([]byte(pkt.Data), &open); err != nil {
		return "", 0, fmt.Errorf("decode open packet: %w", err)
	}
	liveness := open.Liveness()
	if liveness <= 0 {
		liveness = c.cfg.PingTimeout
	}

	if err := c.write(conn, EncodeConnect(c.cfg.Namespace)); err != nil {
		return "", 0, fmt.Errorf("join namespace: %w", err)
	}

	for {
		pkt, err := readPacket(conn)
		if err != nil {
			return "", 0, fmt.Errorf("await namespace ack: %w", err)
		}

		switch {
		case pkt.Engine == EnginePing:
			if err := c.write(conn, []byte{byte(EnginePong)}); err != nil {
				return "", 0, fmt.Errorf("pong: %w", err)
			}
		case pkt.Engine == EngineClose:
			return "", 0, ErrServerClosed
		case pkt.Engine != EngineMessage || pkt.Namespace != c.cfg.Namespace:
			continue
		case pkt.Socket == SocketConnect:
			var ack struct {
				SID string `json:"sid"`
			}
			if pkt.Data != "" {
				if err := json.Unmarshal([]byte(pkt.Data), &ack); err != nil {
					return "", 0, fmt.Errorf("decode namespace ack: %w", err)
				}
			}
			if ack.SID == "" {
				ack.SID = open.SID
			}
			return ack.SID, liveness, nil
		case pkt.Socket == SocketError:
			var reject struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(pkt.Data), &reject); err != nil {
				reject.Message = pkt.Data
			}
			return "", 0, &HandshakeError{Message: reject.Message}
		}
	}
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	if conn == nil {
		return nil
	}

	// Leave the namespace, then close the socket
	if err := c.write(conn, EncodeDisconnect(c.cfg.Namespace)); err != nil {
		c.logger.Debug("failed to send disconnect packet", "error", err)
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// Emit encodes and sends one event.
func (c *client) Emit(event string, payload any) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	frame, err := EncodeEvent(c.cfg.Namespace, event, payload)
	if err != nil {
		return err
	}
	return c.write(conn, frame)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan InboundEvent {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SocketID returns the server-assigned session id.
func (c *client) SocketID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sid
}

func (c *client) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop reads frames until the connection ends, answers heartbeats and
// forwards events. It publishes exactly one terminal error.
func (c *client) readLoop(conn *websocket.Conn, liveness time.Duration) {
	var cause error
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		conn.Close()

		c.errors <- cause
		close(c.messages)
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(liveness))

		_, data, err := conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			cause = c.classify(err)
			return
		}

		pkt, err := ParsePacket(data)
		if err != nil {
			c.logger.Debug("dropping malformed packet", "error", err)
			continue
		}

		switch pkt.Engine {
		case EnginePing:
			if err := c.write(conn, []byte{byte(EnginePong)}); err != nil {
				c.logger.Debug("failed to send pong", "error", err)
			}
			continue
		case EngineClose:
			cause = ErrServerClosed
			return
		case EngineMessage:
		default:
			continue
		}

		if pkt.Namespace != c.cfg.Namespace {
			continue
		}

		switch pkt.Socket {
		case SocketDisconnect:
			cause = ErrServerClosed
			return
		case SocketError:
			c.logger.Warn("server reported namespace error", "data", pkt.Data)
			continue
		case SocketEvent:
		default:
			continue
		}

		name, payload, err := ParseEvent(pkt.Data)
		if err != nil {
			c.logger.Debug("dropping malformed event", "error", err)
			continue
		}

		msg := InboundEvent{
			Name:       name,
			Data:       payload,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			cause = ErrClientClosed
			return
		}
	}
}

// classify maps a read error to the reason the connection ended.
func (c *client) classify(err error) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ErrServerClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrStaleConnection
	}
	return fmt.Errorf("read: %w", err)
}

// expired reports why ctx is finished, including a deadline that has passed
// before its timer fired.
func expired(ctx context.Context) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}

func readPacket(conn *websocket.Conn) (Packet, error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return Packet{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return ParsePacket(data)
	}
}
