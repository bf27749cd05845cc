package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL      string
	DatabaseMaxConns int
	SlowQueryMillis  int

	CatalogFile    string
	BatchSize      int
	UTCOffsetHours int
	JobTTLMinutes  int

	ValidatorToken string
	AdminToken     string

	ClaudeAPIKey      string
	ClaudeModel       string
	GeminiAPIKey      string
	GeminiModel       string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	LLMTimeoutSeconds int
	LLMRatePerMinute  int
	LLMBurst          int

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DatabaseMaxConns, "database-max-conns", 10, "maximum PostgreSQL pool connections (1..100)")
	fs.IntVar(&c.SlowQueryMillis, "slow-query-ms", 250, "log queries slower than this many milliseconds (0 = off)")

	fs.StringVar(&c.CatalogFile, "catalog-file", "", "classification catalog YAML (empty = built-in catalog)")
	fs.IntVar(&c.BatchSize, "batch-size", 5, "messages served to a validator at once (1..100)")
	fs.IntVar(&c.UTCOffsetHours, "utc-offset-hours", -3, "fixed UTC offset of the operations timezone (-12..14)")
	fs.IntVar(&c.JobTTLMinutes, "job-ttl-minutes", 60, "minutes a finished cascade job can be polled (1..1440)")

	fs.StringVar(&c.ValidatorToken, "validator-token", "", "bearer token for validator routes (empty with admin token empty = no auth)")
	fs.StringVar(&c.AdminToken, "admin-token", "", "bearer token for admin routes")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Anthropic provider (empty = skip)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Anthropic model to use")
	fs.StringVar(&c.GeminiAPIKey, "gemini-api-key", "", "API key for the Gemini provider (empty = skip)")
	fs.StringVar(&c.GeminiModel, "gemini-model", "gemini-1.5-flash", "Gemini model to use")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI provider (empty = skip)")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o-mini", "OpenAI model to use")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible API base URL (empty = api.openai.com)")
	fs.IntVar(&c.LLMTimeoutSeconds, "llm-timeout-seconds", 30, "timeout for one provider attempt (1..300)")
	fs.IntVar(&c.LLMRatePerMinute, "llm-rate-per-minute", 30, "provider calls allowed per minute (0 = unlimited, max 600)")
	fs.IntVar(&c.LLMBurst, "llm-burst", 3, "provider call burst (1..100)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DatabaseMaxConns <= 0 || c.DatabaseMaxConns > 100 {
		errs = append(errs, fmt.Errorf("invalid DATABASE_MAX_CONNS %d (must be 1..100)", c.DatabaseMaxConns))
	}
	if c.SlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid SLOW_QUERY_MS %d (must be >= 0)", c.SlowQueryMillis))
	}

	if c.BatchSize <= 0 || c.BatchSize > 100 {
		errs = append(errs, fmt.Errorf("invalid BATCH_SIZE %d (must be 1..100)", c.BatchSize))
	}
	if c.UTCOffsetHours < -12 || c.UTCOffsetHours > 14 {
		errs = append(errs, fmt.Errorf("invalid UTC_OFFSET_HOURS %d (must be -12..14)", c.UTCOffsetHours))
	}
	if c.JobTTLMinutes <= 0 || c.JobTTLMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid JOB_TTL_MINUTES %d (must be 1..1440)", c.JobTTLMinutes))
	}

	// Validator routes cannot be gated while admin routes stay open
	if c.ValidatorToken != "" && c.AdminToken == "" {
		errs = append(errs, errors.New("ADMIN_TOKEN is required when VALIDATOR_TOKEN is set"))
	}
	if c.AdminToken != "" && c.AdminToken == c.ValidatorToken {
		errs = append(errs, errors.New("ADMIN_TOKEN and VALIDATOR_TOKEN must differ"))
	}

	// A configured provider needs a model
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}
	if c.GeminiAPIKey != "" && c.GeminiModel == "" {
		errs = append(errs, errors.New("GEMINI_MODEL is required when GEMINI_API_KEY is set"))
	}
	if c.OpenAIAPIKey != "" && c.OpenAIModel == "" {
		errs = append(errs, errors.New("OPENAI_MODEL is required when OPENAI_API_KEY is set"))
	}

	if c.LLMTimeoutSeconds <= 0 || c.LLMTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS %d (must be 1..300)", c.LLMTimeoutSeconds))
	}
	if c.LLMRatePerMinute < 0 || c.LLMRatePerMinute > 600 {
		errs = append(errs, fmt.Errorf("invalid LLM_RATE_PER_MINUTE %d (must be 0..600)", c.LLMRatePerMinute))
	}
	if c.LLMBurst <= 0 || c.LLMBurst > 100 {
		errs = append(errs, fmt.Errorf("invalid LLM_BURST %d (must be 1..100)", c.LLMBurst))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasProvider reports whether at least one rule authoring provider is
// configured.
func (c *Config) HasProvider() bool {
	return c.ClaudeAPIKey != "" || c.GeminiAPIKey != "" || c.OpenAIAPIKey != ""
}
