package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultSocketPath           = "/socket"
	DefaultSocketTimeout        = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 3 * time.Second
	DefaultHeartbeatInterval    = 25 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultQueueLimit           = 1000
	DefaultBufferSize           = 256
	DefaultHTTPTimeout          = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultRetryDelay           = 1 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *Config) applyDefaults() {
	// Socket defaults
	if c.Socket.Path == "" {
		c.Socket.Path = DefaultSocketPath
	}
	if c.Socket.Timeout == 0 {
		c.Socket.Timeout = DefaultSocketTimeout
	}
	if c.Socket.MaxReconnectAttempts == 0 {
		c.Socket.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Socket.ReconnectDelay == 0 {
		c.Socket.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Socket.HeartbeatInterval == 0 {
		c.Socket.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Socket.WriteTimeout == 0 {
		c.Socket.WriteTimeout = DefaultWriteTimeout
	}
	if c.Socket.QueueLimit == 0 {
		c.Socket.QueueLimit = DefaultQueueLimit
	}
	if c.Socket.BufferSize == 0 {
		c.Socket.BufferSize = DefaultBufferSize
	}

	// HTTP defaults
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = DefaultHTTPTimeout
	}
	if c.HTTP.MaxRetries == 0 {
		c.HTTP.MaxRetries = DefaultMaxRetries
	}
	if c.HTTP.RetryDelay == 0 {
		c.HTTP.RetryDelay = DefaultRetryDelay
	}

	// Database defaults
	applyDBDefaults(&c.Database.Reports)

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
