package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "leadfunnel"

// Config is the process configuration. Fields map to LEADFUNNEL_<SPLIT_WORDS> variables,
// e.g. AllowedDirs is LEADFUNNEL_ALLOWED_DIRS.
type Config struct {
	// AllowedDirs lists the directories workbooks may be opened from (comma separated).
	AllowedDirs []string `split_words:"true"`

	// EnableWrites exposes export_funnel_table. Off by default.
	EnableWrites bool `split_words:"true"`

	// LogLevel is a zerolog level name.
	LogLevel string `split_words:"true" default:"info"`

	MaxConcurrentRequests int `split_words:"true" default:"10"`
	MaxOpenWorkbooks      int `split_words:"true" default:"4"`
	MaxPayloadBytes       int `split_words:"true" default:"131072"`
	MaxRowsPerOp          int `split_words:"true" default:"200000"`
	MaxSegmentsPerPage    int `split_words:"true" default:"25"`

	// MaxStage is the last stage of the pipeline; stages outside 0..MaxStage are rejected.
	MaxStage int `split_words:"true" default:"10"`

	// Parallelism bounds the segment columns computed at once.
	Parallelism int `split_words:"true" default:"4"`

	OperationTimeout      time.Duration `split_words:"true" default:"30s"`
	AcquireRequestTimeout time.Duration `split_words:"true" default:"2s"`
	WorkbookIdleTTL       time.Duration `split_words:"true" default:"10m"`
	WorkbookCleanupPeriod time.Duration `split_words:"true" default:"1m"`

	// SummaryModel selects the tokenizer and context size used to budget text summaries.
	SummaryModel       string `split_words:"true" default:"gpt-4o-mini"`
	SummaryTokenBudget int    `split_words:"true" default:"512"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.MaxStage < 0:
		return fmt.Errorf("invalid configuration: max stage %d is negative", c.MaxStage)
	case c.Parallelism < 1:
		return fmt.Errorf("invalid configuration: parallelism must be at least 1")
	case c.MaxSegmentsPerPage < 1:
		return fmt.Errorf("invalid configuration: max segments per page must be at least 1")
	case c.OperationTimeout <= 0:
		return fmt.Errorf("invalid configuration: operation timeout must be positive")
	}
	return nil
}
