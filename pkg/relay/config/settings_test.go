package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/relay/pkg/relay/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	s, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSettings(), s)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
request_timeout: 750ms
answer_suffix: ":answer"
async_handlers: true
buffer_size: 16
dead_letter_path: /tmp/dl.db
telemetry:
  metrics: true
  otlp_endpoint: collector:4318
`)

	s, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, s.RequestTimeout)
	assert.Equal(t, ":answer", s.AnswerSuffix)
	assert.True(t, s.AsyncHandlers)
	assert.Equal(t, 16, s.BufferSize)
	assert.Equal(t, "/tmp/dl.db", s.DeadLetterPath)
	assert.True(t, s.Metrics)
	assert.False(t, s.Tracing)
	assert.Equal(t, "collector:4318", s.OTLPEndpoint)
	assert.Equal(t, "127.0.0.1:7070", s.Addr, "unset keys keep their default")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "relay.json", `{"request_timeout": "1s", "addr": "file:1"}`)
	t.Setenv("RELAY_REQUEST_TIMEOUT", "3s")
	t.Setenv("RELAY_TRACING", "true")

	s, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, s.RequestTimeout)
	assert.True(t, s.Tracing)
	assert.Equal(t, "file:1", s.Addr)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("RELAY_BUFFER_SIZE", "many")

	_, err := config.Load("")
	assert.ErrorContains(t, err, "parse environment")
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, "relay.yaml", "request_timeout: 0s\nlog_level: loud\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout must be positive")
	assert.Contains(t, err.Error(), `invalid log_level "loud"`)
}

func TestSettings_Validate(t *testing.T) {
	s := config.DefaultSettings()
	require.NoError(t, s.Validate())

	s.Addr = ""
	s.BufferSize = -1
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "addr must not be empty")
	assert.Contains(t, err.Error(), "buffer_size must not be negative")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := config.ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, slog.LevelInfo, config.Settings{LogLevel: "bogus"}.SlogLevel())
	assert.Equal(t, slog.LevelDebug, config.Settings{LogLevel: "debug"}.SlogLevel())
}
