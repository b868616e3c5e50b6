package config

import "time"

// Config holds all configuration for the proxy.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Backend     BackendConfig     `yaml:"backend" mapstructure:"backend"`
	Proxy       ProxyConfig       `yaml:"proxy" mapstructure:"proxy"`
	Engineering EngineeringConfig `yaml:"engineering" mapstructure:"engineering"`
}

// ServerConfig is the listening endpoint.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// BackendConfig is the fixed upstream endpoint. The address must be an
// already-resolved IPv4 literal; the proxy does no DNS.
type BackendConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// ProxyConfig tunes the engine.
type ProxyConfig struct {
	// Mode is "http" (request-aware, keep-alive accounting) or "tcp"
	// (opaque bidirectional relay).
	Mode string `yaml:"mode" mapstructure:"mode"`

	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxEvents          int    `yaml:"max_events" mapstructure:"max_events"`
	BufferSize         string `yaml:"buffer_size" mapstructure:"buffer_size"`
	MaxRequestSize     string `yaml:"max_request_size" mapstructure:"max_request_size"`
	MaxRequestsPerConn int    `yaml:"max_requests_per_conn" mapstructure:"max_requests_per_conn"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// IdleTimeout of zero disables the idle reaper; connections then live
	// until a peer closes or errors.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`

	// Derived byte values, populated by Validate.
	BufferSizeBytes     int `yaml:"-" mapstructure:"-"`
	MaxRequestSizeBytes int `yaml:"-" mapstructure:"-"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// EngineeringConfig holds development/debugging configuration.
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats" mapstructure:"show_nerdstats"`
}
