package config

import "time"

// Config is the root configuration for a growlink client instance.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Socket   SocketConfig   `yaml:"socket"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig identifies the VerdantGrow server and credentials.
type ServerConfig struct {
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token"`
}

// SocketConfig holds event channel connection settings.
type SocketConfig struct {
	Path                 string        `yaml:"path"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	QueueLimit           int           `yaml:"queue_limit"`
	BufferSize           int           `yaml:"buffer_size"`
	AutoConnect          bool          `yaml:"auto_connect"`
}

// HTTPConfig holds request pipeline settings.
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

// DatabaseConfig holds the optional error report sink. When disabled,
// classified errors are only logged and kept in memory.
type DatabaseConfig struct {
	Enabled bool     `yaml:"enabled"`
	Reports DBConfig `yaml:"reports"`
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

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
