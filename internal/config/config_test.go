package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Backend.Host)
	assert.Equal(t, 8081, cfg.Backend.Port)
	assert.Equal(t, ModeHTTP, cfg.Proxy.Mode)
	assert.Equal(t, 10000, cfg.Proxy.MaxConnections)
}

func TestValidateDefaults(t *testing.T) {
	cfg := DefaultConfig()
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 16*1024, cfg.Proxy.BufferSizeBytes)
	assert.Equal(t, 10*1024*1024, cfg.Proxy.MaxRequestSizeBytes)
}

func TestValidateRejectsBadPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	_, err := cfg.Validate()
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Backend.Port = 70000
	_, err = cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.Mode = "udp"
	_, err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsForwardingLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 9000
	cfg.Backend.Host = "127.0.0.1"
	cfg.Backend.Port = 9000
	_, err := cfg.Validate()
	assert.Error(t, err)

	// Wildcard bind on the backend port still captures backend traffic.
	cfg.Server.Host = "0.0.0.0"
	_, err = cfg.Validate()
	assert.Error(t, err)

	// Different port is fine.
	cfg.Backend.Port = 9001
	_, err = cfg.Validate()
	assert.NoError(t, err)
}

func TestValidateWarnsOnPrivilegedPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 80
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "privileged")
}

func TestValidateParsesSizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.BufferSize = "64KiB"
	cfg.Proxy.MaxRequestSize = "1MiB"
	_, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 64*1024, cfg.Proxy.BufferSizeBytes)
	assert.Equal(t, 1024*1024, cfg.Proxy.MaxRequestSizeBytes)

	cfg.Proxy.BufferSize = "nonsense"
	_, err = cfg.Validate()
	assert.Error(t, err)
}
