package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rickgao/disaster-relay/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrTimeout         = errors.New("operation timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrServerClosed    = errors.New("connection closed by server")
	ErrClientClosed    = errors.New("connection closed by client")
)

// ConnectionError is returned when the channel could not be established
// within the retry budget or the connect timeout.
type ConnectionError struct {
	Attempts int   // Dial attempts made
	Err      error // Last failure
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HandshakeError is a connect_error packet sent by the server while joining
// the namespace.
type HandshakeError struct {
	Message string
}

func (e *HandshakeError) Error() string {
	return "handshake rejected: " + e.Message
}

// InboundEvent is a server event as read off the wire.
type InboundEvent struct {
	Name       string          // Event name
	Data       json.RawMessage // First event argument, null if absent
	ReceivedAt time.Time       // Local timestamp when the frame was read
}

// State is the lifecycle state of the managed channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Hooks are lifecycle callbacks. They are called synchronously from the
// manager and must not block.
type Hooks struct {
	OnConnected       func(model.Session)
	OnDisconnected    func(error) // ErrClientClosed after Disconnect, the drop cause otherwise
	OnReconnectFailed func(error) // *ConnectionError once reconnection gives up
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State      State
	Connects   int64 // Successful connects, including reconnects
	Reconnects int64 // Successful automatic reconnects
	Drops      int64 // Connections lost without Disconnect
	Messages   int64 // Inbound events delivered
}

// ClientConfig configures a single Socket.IO client.
type ClientConfig struct {
	URL              string        // Server address (http, https, ws or wss)
	Path             string        // Socket.IO mount path
	Namespace        string        // Socket.IO namespace
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Upper bound for dial plus namespace join
	WriteTimeout     time.Duration // Write deadline for sends
	PingTimeout      time.Duration // Liveness window when the server announces none
	BufferSize       int           // Inbound event channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Path:             "/socket.io/",
		Namespace:        "/",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingTimeout:      45 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client             ClientConfig
	ConnectTimeout     time.Duration // Overall bound for one connect or reconnect cycle
	MaxConnectAttempts int           // Dial attempts per Connect call
	ReconnectAttempts  int           // Dial attempts after an unexpected drop
	ReconnectBaseDelay time.Duration // First retry delay
	ReconnectMaxDelay  time.Duration // Retry delay cap
	MessageBufferSize  int           // Buffer size for output message channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:             DefaultClientConfig(),
		ConnectTimeout:     30 * time.Second,
		MaxConnectAttempts: 5,
		ReconnectAttempts:  5,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  5 * time.Second,
		MessageBufferSize:  1024,
	}
}
