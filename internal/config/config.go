// Package config provides configuration loading for knowd.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/reranker"
	"github.com/fyrsmithlabs/knowd/internal/search"
)

// ErrInvalidConfig indicates a validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the root configuration.
type Config struct {
	Server    ServerConfig      `koanf:"server"`
	Embedding embeddings.Config `koanf:"embedding"`
	Reranker  reranker.Config   `koanf:"reranker"`
	Search    search.Config     `koanf:"search"`
	Logging   LoggingConfig     `koanf:"logging"`
}

// ServerConfig tunes the per-project local server.
type ServerConfig struct {
	// SearchTimeout bounds one search request end to end.
	SearchTimeout time.Duration `koanf:"search_timeout"`

	// AddTimeout bounds one add request, including the embedding call.
	AddTimeout time.Duration `koanf:"add_timeout"`

	// RetryInterval is how often deferred (log-only persisted) entries
	// are retried against the embedding provider.
	RetryInterval time.Duration `koanf:"retry_interval"`

	// MinScoreHint rejects add requests whose score hint falls below it.
	// Zero keeps everything.
	MinScoreHint float64 `koanf:"min_score_hint"`

	// DisableWatchdog turns off the journal file watcher that flags
	// writes from other processes. On by default: external appends while
	// a server runs are the classic way the index diverges from the log.
	DisableWatchdog bool `koanf:"disable_watchdog"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// ApplyDefaults sets defaults on every section.
func (c *Config) ApplyDefaults() {
	if c.Server.SearchTimeout == 0 {
		c.Server.SearchTimeout = 10 * time.Second
	}
	if c.Server.AddTimeout == 0 {
		c.Server.AddTimeout = 30 * time.Second
	}
	if c.Server.RetryInterval == 0 {
		c.Server.RetryInterval = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Embedding.ApplyDefaults()
	c.Reranker.ApplyDefaults()
	c.Search.ApplyDefaults()
}

// Validate validates every section.
func (c *Config) Validate() error {
	if c.Server.SearchTimeout <= 0 {
		return fmt.Errorf("%w: search_timeout must be positive", ErrInvalidConfig)
	}
	if c.Server.AddTimeout <= 0 {
		return fmt.Errorf("%w: add_timeout must be positive", ErrInvalidConfig)
	}
	if c.Server.MinScoreHint < 0 || c.Server.MinScoreHint > 1 {
		return fmt.Errorf("%w: min_score_hint must be in [0,1]", ErrInvalidConfig)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	return c.Reranker.Validate()
}
