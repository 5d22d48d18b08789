package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.True(t, cfg.Store.FetchRetry.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"pong not after ping", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"no send buffer", func(c *Config) { c.Signal.SendBufferSize = 0 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }},
		{"redis without address", func(c *Config) {
			c.Storage.Driver = StorageRedis
			c.Redis.Address = ""
		}},
		{"mongo without database", func(c *Config) {
			c.Storage.Driver = StorageMongo
			c.Mongo.Database = ""
		}},
		{"events without channel", func(c *Config) {
			c.Events.Enabled = true
			c.Events.Channel = ""
		}},
		{"ice server without urls", func(c *Config) {
			c.WebRTC.ICEServers = []ICEServer{{Username: "u"}}
		}},
		{"half port range", func(c *Config) { c.WebRTC.PortRange.Min = 50000 }},
		{"inverted port range", func(c *Config) {
			c.WebRTC.PortRange.Min = 50100
			c.WebRTC.PortRange.Max = 50000
		}},
		{"negotiation timeout", func(c *Config) { c.WebRTC.NegotiationTimeout = 0 }},
		{"breaker threshold", func(c *Config) { c.Store.Breaker.FailureThreshold = 0 }},
		{"sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2
		}},
		{"http rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
		{"ws burst", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.WebSocket.Burst = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  address: ":9000"
storage:
  driver: redis
redis:
  address: "redis:6379"
  pool_size: 4
store:
  fetch_retry:
    enabled: true
    max_attempts: 7
    initial_delay: 50ms
  breaker:
    failure_threshold: 3
    timeout: 10s
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("TILECAST_LOG_LEVEL", "warn")
	t.Setenv("TILECAST_EVENTS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, StorageRedis, cfg.Storage.Driver)
	assert.Equal(t, 4, cfg.Redis.PoolSize)
	assert.Equal(t, 7, cfg.Store.FetchRetry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Store.FetchRetry.InitialDelay)
	assert.Equal(t, 3, cfg.Store.Breaker.FailureThreshold)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Events.Enabled)
	// untouched sections keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Signal.PingInterval)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("TILECAST_EVENTS_ENABLED", "maybe")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
