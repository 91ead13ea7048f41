package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/disaster-relay/internal/logging"
	"github.com/rickgao/disaster-relay/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if strings.TrimSpace(c.Server.URL) == "" {
		return errors.New("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("server.url scheme must be http, https, ws or wss, got %q", u.Scheme)
	}

	if err := c.IdentityValue().Validate(); err != nil {
		return err
	}

	if c.Connection.MaxConnectAttempts < 1 {
		return errors.New("connection.max_connect_attempts must be >= 1")
	}
	if c.Connection.ReconnectAttempts != nil && *c.Connection.ReconnectAttempts < 0 {
		return errors.New("connection.reconnect_attempts must be >= 0")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be below reconnect_base_delay (%s)",
			c.Connection.ReconnectMaxDelay, c.Connection.ReconnectBaseDelay)
	}
	if c.Connection.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}

	if c.Requests.Timeout <= 0 {
		return errors.New("requests.timeout must be positive")
	}
	if c.Requests.PingTimeout <= 0 {
		return errors.New("requests.ping_timeout must be positive")
	}

	if c.Recorder.Enabled {
		if err := c.Recorder.Database.validate("recorder.database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
	}

	if c.Poller.Enabled && c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be positive")
	}
	if c.Poller.RequestLocations && c.Identity.Role != string(model.RoleOfficial) {
		return errors.New("poller.request_locations requires identity.role official")
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 0 and 65535, got %d", c.Health.Port)
	}

	if err := logging.ValidateLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if err := logging.ValidateFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
