// Package config derives engine configuration from environment variables.
// All options have working defaults so a bare `elisa` start is functional
// once OPENAI_API_KEY is present.
package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults for the executor retry ladder and budgets.
const (
	DefaultMaxTurns           = 25
	DefaultRetryTurnIncrement = 10
	DefaultRetryLimit         = 2

	DefaultCompletionTokens  = 4000
	CompletionTokenIncrement = 4000
	MaxCompletionTokenBudget = 12000

	DefaultTaskConcurrency = 3
)

// Config is the process-wide engine configuration.
type Config struct {
	HTTPPort  string
	AuthToken string
	// DevMode enables the /api/internal/config endpoint.
	DevMode bool
	// StaticDir, when set, serves built frontend assets and disables the
	// dev-only config endpoint.
	StaticDir string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	WorkshopCode  string
	StudentID     string
	FallbackModel string

	JudgeMinScore int
	MemoryPath    string

	// WorkspaceRoot is the allowed root for user-chosen workspace paths.
	WorkspaceRoot string

	TaskConcurrency int
	RetryLimit      int
	DispatchTimeout time.Duration
	BashTimeout     time.Duration

	SessionMaxAge      time.Duration
	SessionGracePeriod time.Duration
	PruneInterval      time.Duration
}

// FromEnv builds a Config from the process environment.
func FromEnv() *Config {
	home, _ := os.UserHomeDir()
	cfg := &Config{
		HTTPPort:  getEnv("HTTP_PORT", "8347"),
		AuthToken: os.Getenv("ELISA_AUTH_TOKEN"),
		DevMode:   getEnv("ELISA_DEV_MODE", "") != "",
		StaticDir: os.Getenv("ELISA_STATIC_DIR"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-5.2"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		WorkshopCode:  os.Getenv("OPENAI_WORKSHOP_CODE"),
		StudentID:     os.Getenv("OPENAI_STUDENT_ID"),
		FallbackModel: getEnv("OUTPUT_LIMIT_FALLBACK_MODEL", "gpt-4.1"),

		JudgeMinScore: JudgeMinScoreFromEnv(),
		MemoryPath:    getEnv("MEMORY_PATH", ".elisa-memory.json"),
		WorkspaceRoot: getEnv("ELISA_WORKSPACE_ROOT", home),

		TaskConcurrency: getEnvInt("ELISA_TASK_CONCURRENCY", DefaultTaskConcurrency),
		RetryLimit:      getEnvInt("ELISA_RETRY_LIMIT", DefaultRetryLimit),
		DispatchTimeout: getEnvDuration("ELISA_DISPATCH_TIMEOUT", 300*time.Second),
		BashTimeout:     getEnvDuration("ELISA_BASH_TIMEOUT", 30*time.Second),

		SessionMaxAge:      getEnvDuration("ELISA_SESSION_MAX_AGE", time.Hour),
		SessionGracePeriod: getEnvDuration("ELISA_SESSION_GRACE", 5*time.Minute),
		PruneInterval:      getEnvDuration("ELISA_PRUNE_INTERVAL", 10*time.Minute),
	}
	return cfg
}

// MaxTurns returns the turn budget for a dispatch attempt: the base
// budget plus a fixed increment per retry.
func (c *Config) MaxTurns(attempt int) int {
	if attempt < 0 {
		attempt = 0
	}
	return DefaultMaxTurns + attempt*DefaultRetryTurnIncrement
}

// CompletionTokens returns the completion budget for an attempt, raised
// per retry up to the cap.
func (c *Config) CompletionTokens(attempt int) int {
	if attempt < 0 {
		attempt = 0
	}
	tokens := DefaultCompletionTokens + attempt*CompletionTokenIncrement
	if tokens > MaxCompletionTokenBudget {
		tokens = MaxCompletionTokenBudget
	}
	return tokens
}

// JudgeMinScoreFromEnv reads JUDGE_MIN_SCORE, clamped to [0,100].
// Invalid or absent values yield the default of 70.
func JudgeMinScoreFromEnv() int {
	v := os.Getenv("JUDGE_MIN_SCORE")
	if v == "" {
		return 70
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 100 {
		return 70
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
