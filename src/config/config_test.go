package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

const minimalYAML = `
name: test-pipeline
log_level: INFO
broker:
  type: memory
storage:
  db_type: sqlite
  db_path: test.db
dlq:
  db_path: dlq.db
network:
  timeout: 10
  retries: 3
  concurrent_requests: 4
publishers:
  - name: test-pub
    enabled: true
    symbols: ["AAPL"]
    poll_interval_seconds: 60
subscribers:
  - name: tracker
    type: state_tracker
    enabled: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// -----------------------------------------------------------------------------

func TestNewConfigAppliesDefaults(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "test-pipeline", cfg.Name)
	assert.Equal(t, 256, cfg.Broker.QueueSize)
	assert.Equal(t, "json", cfg.Serializer)
	assert.Equal(t, 5, cfg.DLQ.MaxAttempts)
	assert.Equal(t, 2, cfg.DLQ.BaseDelaySeconds)
	assert.Equal(t, 3, cfg.Health.MaxRestartAttempts)

	require.Len(t, cfg.Publishers, 1)
	assert.Equal(t, 50, cfg.Publishers[0].BatchSize)
	assert.Equal(t, "5m", cfg.Publishers[0].FetchInterval)
	assert.Equal(t, 1, cfg.Publishers[0].RateLimitCalls)
}

// -----------------------------------------------------------------------------

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestNewConfigMalformedYAML(t *testing.T) {
	_, err := NewConfig(writeConfig(t, "{not yaml: ["))
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestValidateRejectsBadBrokerType(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	cfg.Broker.Type = "kafka"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadSerializer(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	cfg.Serializer = "xml"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresRedisAddr(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	cfg.Broker.Type = "redis"
	cfg.Broker.RedisAddr = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresPublisherSymbols(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	cfg.Publishers[0].Symbols = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownSubscriberType(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	cfg.Subscribers[0].Type = "mystery"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsTrendRingShorterThanLongMA(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	cfg.Subscribers[0].Type = "trend"
	cfg.Subscribers[0].PriceWindowSize = 10
	cfg.Subscribers[0].MAShortPeriod = 5
	cfg.Subscribers[0].MALongPeriod = 20
	assert.Error(t, cfg.Validate())

	// A ring at least as large as the long MA is fine
	cfg.Subscribers[0].PriceWindowSize = 20
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsTrendShortMAAboveLongMA(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	cfg.Subscribers[0].Type = "trend"
	cfg.Subscribers[0].PriceWindowSize = 50
	cfg.Subscribers[0].MAShortPeriod = 30
	cfg.Subscribers[0].MALongPeriod = 20
	assert.Error(t, cfg.Validate())
}

// -----------------------------------------------------------------------------

func TestValidateRejectsPrivilegedBroadcasterPort(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	cfg.Subscribers[0].Type = "broadcaster"
	cfg.Subscribers[0].Enabled = true
	cfg.Subscribers[0].Port = 80
	assert.Error(t, cfg.Validate())
}

// -----------------------------------------------------------------------------

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(out))

	reloaded, err := NewConfig(out)
	require.NoError(t, err)
	assert.Equal(t, cfg.Name, reloaded.Name)
	assert.Equal(t, cfg.Publishers[0].Symbols, reloaded.Publishers[0].Symbols)
}
