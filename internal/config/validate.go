package config

import (
	"errors"
	"fmt"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}

	if c.Socket.MaxReconnectAttempts < 0 {
		return errors.New("socket.max_reconnect_attempts must be >= 0")
	}
	if c.Socket.ReconnectDelay <= 0 {
		return errors.New("socket.reconnect_delay must be positive")
	}
	if c.Socket.QueueLimit < 0 {
		return errors.New("socket.queue_limit must be >= 0")
	}

	if c.HTTP.MaxRetries < 0 {
		return errors.New("http.max_retries must be >= 0")
	}
	if c.HTTP.RetryDelay <= 0 {
		return errors.New("http.retry_delay must be positive")
	}
	if c.HTTP.MaxRetryDelay != 0 && c.HTTP.MaxRetryDelay < c.HTTP.RetryDelay {
		return errors.New("http.max_retry_delay cannot be less than http.retry_delay")
	}

	if c.Database.Enabled {
		if err := c.Database.Reports.validate("database.reports"); err != nil {
			return err
		}
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
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
