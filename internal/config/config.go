package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultListenHost = "0.0.0.0"
	DefaultListenPort = 8080

	DefaultBackendHost = "127.0.0.1"
	DefaultBackendPort = 8081

	ModeTCP  = "tcp"
	ModeHTTP = "http"

	// DefaultFileWriteDelay gives editors time to finish writing before we
	// act on a change notification.
	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultListenHost,
			Port: DefaultListenPort,
		},
		Backend: BackendConfig{
			Host: DefaultBackendHost,
			Port: DefaultBackendPort,
		},
		Proxy: ProxyConfig{
			Mode:               ModeHTTP,
			MaxConnections:     10000,
			MaxEvents:          128,
			BufferSize:         "16KiB",
			MaxRequestSize:     "10MiB",
			MaxRequestsPerConn: 1000,
			ConnectTimeout:     5 * time.Second,
			IdleTimeout:        0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Engineering: EngineeringConfig{
			ShowNerdStats: false,
		},
	}
}

// Load loads configuration from file and environment variables.
func Load(onConfigChange func()) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("GLIDE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; everything has a default.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("GLIDE_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			// lame debounce to avoid rapid-fire reloads
			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			// on windows this event can fire before the file is fully
			// written, so give it a beat
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return config, nil
}

// Validate checks the configuration, resolves the size strings into bytes,
// and returns non-fatal warnings for the caller to log.
func (c *Config) Validate() ([]string, error) {
	var warnings []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return nil, fmt.Errorf("listen port %d out of range 1-65535", c.Server.Port)
	}
	if c.Backend.Port < 1 || c.Backend.Port > 65535 {
		return nil, fmt.Errorf("backend port %d out of range 1-65535", c.Backend.Port)
	}

	if c.Proxy.Mode != ModeTCP && c.Proxy.Mode != ModeHTTP {
		return nil, fmt.Errorf("invalid mode %q (must be %q or %q)", c.Proxy.Mode, ModeTCP, ModeHTTP)
	}

	// Proxying to ourselves would forward forever.
	if c.Server.Port == c.Backend.Port && sameEndpointHost(c.Server.Host, c.Backend.Host) {
		return nil, fmt.Errorf("listen and backend endpoints coincide (%s:%d): forwarding loop",
			c.Backend.Host, c.Backend.Port)
	}

	if c.Server.Port < 1024 {
		warnings = append(warnings,
			fmt.Sprintf("listen port %d is privileged; binding may require elevated permissions", c.Server.Port))
	}

	if c.Proxy.MaxConnections < 2 {
		return nil, fmt.Errorf("max_connections must be at least 2, got %d", c.Proxy.MaxConnections)
	}
	if c.Proxy.MaxEvents < 1 {
		return nil, fmt.Errorf("max_events must be positive, got %d", c.Proxy.MaxEvents)
	}
	if c.Proxy.MaxRequestsPerConn < 1 {
		return nil, fmt.Errorf("max_requests_per_conn must be positive, got %d", c.Proxy.MaxRequestsPerConn)
	}

	bufBytes, err := units.RAMInBytes(c.Proxy.BufferSize)
	if err != nil || bufBytes < 1024 {
		return nil, fmt.Errorf("invalid buffer_size %q (minimum 1KiB)", c.Proxy.BufferSize)
	}
	c.Proxy.BufferSizeBytes = int(bufBytes)

	reqBytes, err := units.RAMInBytes(c.Proxy.MaxRequestSize)
	if err != nil || reqBytes < 1 {
		return nil, fmt.Errorf("invalid max_request_size %q", c.Proxy.MaxRequestSize)
	}
	c.Proxy.MaxRequestSizeBytes = int(reqBytes)

	return warnings, nil
}

// sameEndpointHost treats a wildcard bind as matching loopback backends: a
// wildcard listener on the backend's port would capture that traffic. A
// remote backend on the same port is fine.
func sameEndpointHost(listen, backend string) bool {
	if listen == backend {
		return true
	}
	if listen != "0.0.0.0" {
		return false
	}
	ip := net.ParseIP(backend)
	return ip != nil && ip.IsLoopback()
}
