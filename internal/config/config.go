package config

import (
	"net/http"
	"time"

	"github.com/rickgao/disaster-relay/internal/connection"
	"github.com/rickgao/disaster-relay/internal/model"
	"github.com/rickgao/disaster-relay/internal/realtime"
	"github.com/rickgao/disaster-relay/internal/router"
)

// RelayConfig is the root configuration for a relay or probe instance.
type RelayConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Identity   IdentityConfig   `yaml:"identity"`
	Connection ConnectionConfig `yaml:"connection"`
	Requests   RequestsConfig   `yaml:"requests"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Poller     PollerConfig     `yaml:"poller"`
	Health     HealthConfig     `yaml:"health"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig locates the real-time server.
type ServerConfig struct {
	URL       string            `yaml:"url"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Headers   map[string]string `yaml:"headers"` // Extra handshake headers, e.g. Authorization
}

// IdentityConfig is the user the channel registers as.
type IdentityConfig struct {
	UserID string `yaml:"user_id"`
	Role   string `yaml:"role"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
}

// ConnectionConfig holds connection manager settings.
type ConnectionConfig struct {
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	MaxConnectAttempts int           `yaml:"max_connect_attempts"`
	ReconnectAttempts  *int          `yaml:"reconnect_attempts"` // Unset means the default; 0 disables reconnection
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// RequestsConfig holds acknowledgment windows.
type RequestsConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

// RecorderConfig controls persistence of inbound events.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// PollerConfig controls the periodic keepalive.
type PollerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	RequestLocations bool          `yaml:"request_locations"` // Officials only
}

// HealthConfig holds the health/debug HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"` // 0 disables the server
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IdentityValue converts the identity section to a model.Identity.
func (c *RelayConfig) IdentityValue() model.Identity {
	return model.Identity{
		UserID: c.Identity.UserID,
		Role:   model.Role(c.Identity.Role),
		Name:   c.Identity.Name,
		Email:  c.Identity.Email,
	}
}

// ServiceConfig builds the real-time service configuration.
func (c *RelayConfig) ServiceConfig() realtime.Config {
	var header http.Header
	if len(c.Server.Headers) > 0 {
		header = make(http.Header, len(c.Server.Headers))
		for k, v := range c.Server.Headers {
			header.Set(k, v)
		}
	}

	client := connection.DefaultClientConfig()
	client.URL = c.Server.URL
	client.Path = c.Server.Path
	client.Namespace = c.Server.Namespace
	client.Header = header
	client.HandshakeTimeout = c.Connection.HandshakeTimeout
	client.WriteTimeout = c.Connection.WriteTimeout

	mgr := connection.DefaultManagerConfig()
	mgr.Client = client
	mgr.ConnectTimeout = c.Connection.ConnectTimeout
	mgr.MaxConnectAttempts = c.Connection.MaxConnectAttempts
	if c.Connection.ReconnectAttempts != nil {
		mgr.ReconnectAttempts = *c.Connection.ReconnectAttempts
	}
	mgr.ReconnectBaseDelay = c.Connection.ReconnectBaseDelay
	mgr.ReconnectMaxDelay = c.Connection.ReconnectMaxDelay
	mgr.MessageBufferSize = c.Connection.BufferSize

	rtr := router.DefaultConfig()
	rtr.RequestTimeout = c.Requests.Timeout
	rtr.PingTimeout = c.Requests.PingTimeout
	if c.Recorder.Enabled {
		rtr.FeedBufferSize = c.Recorder.BufferSize
	}

	return realtime.Config{Connection: mgr, Router: rtr}
}
