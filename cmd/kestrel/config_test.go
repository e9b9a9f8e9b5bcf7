package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	want := domain.DefaultConfig()
	assert.Equal(t, want.Tier, cfg.Tier)
	assert.Equal(t, want.Server.Port, cfg.Server.Port)
	assert.Equal(t, want.Pipeline, cfg.Pipeline)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, 30*24*time.Hour, cfg.Enrichment.Window)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeFile(t, "kestrel.yaml", `
server:
  port: 9090
  rateLimitPerMinute: 120
pipeline:
  stepTimeout: 5s
  maxNarrativeLength: 2000
scoring:
  provider: rules
  policies:
    - id: refund-everything
      expression: "true"
      action: REFUND
      confidence: 0.5
      priority: 1
      enabled: true
logging:
  level: debug
  format: text
`)

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.StepTimeout)
	assert.Equal(t, 2000, cfg.Pipeline.MaxNarrativeLength)
	assert.Equal(t, 50000, cfg.Pipeline.NarrativeHardCap, "unset keys keep their defaults")
	require.Len(t, cfg.Scoring.Policies, 1)
	assert.Equal(t, "refund-everything", cfg.Scoring.Policies[0].ID)
	assert.Equal(t, domain.ActionRefund, cfg.Scoring.Policies[0].Action)
	assert.True(t, cfg.Scoring.Policies[0].Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("KESTREL_SERVER_PORT", "7070")
	t.Setenv("KESTREL_PIPELINE_STEPTIMEOUT", "750ms")
	t.Setenv("KESTREL_EVENTBUS_TYPE", "kafka")
	t.Setenv("KESTREL_EVENTBUS_KAFKABROKERS", "k1:9092,k2:9092")
	t.Setenv("KESTREL_SERVER_APIKEY", "s3cret")

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Pipeline.StepTimeout)
	assert.Equal(t, "kafka", cfg.EventBus.Type)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.EventBus.KafkaBrokers)
	assert.Equal(t, "s3cret", cfg.Server.APIKey)
}

func TestLoadConfigProTier(t *testing.T) {
	t.Setenv("KESTREL_TIER", "pro")
	t.Setenv("KESTREL_REPOSITORY_POSTGRESURL", "postgres://kestrel@db:5432/kestrel")

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "postgres://kestrel@db:5432/kestrel", cfg.Repository.PostgresURL)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Worker.Enabled)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"BadLogLevel", "logging:\n  level: loud\n", "invalid log level"},
		{"BadPort", "server:\n  port: 70000\n", "invalid server port"},
		{"HardCapBelowMax", "pipeline:\n  maxNarrativeLength: 100\n  narrativeHardCap: 50\n", "narrativeHardCap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(viper.New(), writeFile(t, "kestrel.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "case_id", "dsp_1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"case_id":"dsp_1"`)

	buf.Reset()
	logger, err = newLogger(domain.LoggingConfig{Level: "info", Format: "text"}, &buf)
	require.NoError(t, err)
	logger.Info("hello")
	assert.True(t, strings.Contains(buf.String(), "msg=hello"))

	_, err = newLogger(domain.LoggingConfig{Format: "xml"}, &buf)
	assert.Error(t, err)
}
