package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerPath         = "/socket.io/"
	DefaultNamespace          = "/"
	DefaultRole               = "official"
	DefaultConnectTimeout     = 30 * time.Second
	DefaultMaxConnectAttempts = 5
	DefaultReconnectAttempts  = 5
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 5 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultMessageBufferSize  = 1024
	DefaultRequestTimeout     = 5 * time.Second
	DefaultPingTimeout        = 3 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 1024
	DefaultPollInterval       = 30 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

func (c *RelayConfig) applyDefaults() {
	// Server defaults
	if c.Server.Path == "" {
		c.Server.Path = DefaultServerPath
	}
	if c.Server.Namespace == "" {
		c.Server.Namespace = DefaultNamespace
	}

	if c.Identity.Role == "" {
		c.Identity.Role = DefaultRole
	}

	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.MaxConnectAttempts == 0 {
		c.Connection.MaxConnectAttempts = DefaultMaxConnectAttempts
	}
	if c.Connection.ReconnectAttempts == nil {
		attempts := DefaultReconnectAttempts
		c.Connection.ReconnectAttempts = &attempts
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultMessageBufferSize
	}

	// Request defaults
	if c.Requests.Timeout == 0 {
		c.Requests.Timeout = DefaultRequestTimeout
	}
	if c.Requests.PingTimeout == 0 {
		c.Requests.PingTimeout = DefaultPingTimeout
	}

	// Recorder defaults
	applyDBDefaults(&c.Recorder.Database)
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
