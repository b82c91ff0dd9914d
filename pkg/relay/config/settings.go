package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings holds everything needed to build a messenger and its transport.
//
// Values are layered: DefaultSettings, then the config file, then RELAY_*
// environment variables.
type Settings struct {
	// RequestTimeout bounds every request a messenger sends. A caller can
	// end one sooner through the context passed to Call.Wait.
	RequestTimeout time.Duration `env:"RELAY_REQUEST_TIMEOUT"`

	// AnswerSuffix is appended to a request event to name its answer event.
	// Empty means answers travel on the request event itself.
	AnswerSuffix string `env:"RELAY_ANSWER_SUFFIX"`

	// AsyncHandlers runs every handler on its own goroutine.
	AsyncHandlers bool `env:"RELAY_ASYNC_HANDLERS"`

	// BufferSize is the per-subscription inbound queue length of the local
	// and gRPC stream transports.
	BufferSize int `env:"RELAY_BUFFER_SIZE"`

	// Addr is the gRPC listen address for serve and the dial target for clients.
	Addr string `env:"RELAY_ADDR"`

	// DeadLetterPath is the SQLite file failed handler invocations are
	// written to. Empty keeps dead letters in memory.
	DeadLetterPath string `env:"RELAY_DEAD_LETTER_PATH"`

	// Metrics enables OTel metrics.
	Metrics bool `env:"RELAY_METRICS"`

	// Tracing enables OTel tracing.
	Tracing bool `env:"RELAY_TRACING"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"RELAY_LOG_LEVEL"`

	// OTLPEndpoint is the OTLP/HTTP collector; empty disables export.
	OTLPEndpoint string `env:"RELAY_OTLP_ENDPOINT"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		RequestTimeout: 5 * time.Second,
		BufferSize:     256,
		Addr:           "127.0.0.1:7070",
		LogLevel:       "info",
	}
}

// Load builds Settings from defaults, the optional file at path, and the
// environment, in that order. An empty path skips the file.
func Load(path string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		cfg, err := FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		s = s.Merge(cfg)
	}

	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Merge returns a copy of s with every key present in cfg applied.
//
// Telemetry switches live under a "telemetry" section:
//
//	request_timeout: 2s
//	telemetry:
//	  metrics: true
//	  otlp_endpoint: localhost:4318
func (s Settings) Merge(cfg Config) Settings {
	s.RequestTimeout = cfg.Duration("request_timeout", s.RequestTimeout)
	s.AnswerSuffix = cfg.String("answer_suffix", s.AnswerSuffix)
	s.AsyncHandlers = cfg.Bool("async_handlers", s.AsyncHandlers)
	s.BufferSize = cfg.Int("buffer_size", s.BufferSize)
	s.Addr = cfg.String("addr", s.Addr)
	s.DeadLetterPath = cfg.String("dead_letter_path", s.DeadLetterPath)
	s.LogLevel = cfg.String("log_level", s.LogLevel)

	tel := cfg.Section("telemetry")
	s.Metrics = tel.Bool("metrics", s.Metrics)
	s.Tracing = tel.Bool("tracing", s.Tracing)
	s.OTLPEndpoint = tel.String("otlp_endpoint", s.OTLPEndpoint)
	return s
}

// Validate reports every invalid setting.
func (s Settings) Validate() error {
	var errs []error
	if s.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", s.RequestTimeout))
	}
	if s.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("buffer_size must not be negative, got %d", s.BufferSize))
	}
	if s.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level, falling back to info.
func (s Settings) SlogLevel() slog.Level {
	level, err := ParseLevel(s.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", name)
	}
	return level, nil
}
