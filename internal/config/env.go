// Package config centralizes environment-driven configuration behind a
// single typed Config loaded once at startup, per SPEC_FULL.md §10 — no
// ad-hoc os.Getenv calls outside this package.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds optional Axiom centralized log forwarding.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// JobConfig controls the Job Orchestration Engine's file layout and
// per-stage behavior (spec.md §2-§5).
type JobConfig struct {
	CacheDir             string
	MaxFileSizeBytes     int
	RateLimitThreshold    int           // remaining_tokens floor before the backoff sleep, spec.md §4.5 step 3
	BackoffSleep          time.Duration // the single fixed sleep, spec.md §4.5 step 3
	FanOutDeadline        time.Duration // combined wall-clock deadline for Overview+Judge, spec.md §4.5 step 5
	ModelRequestTimeout   time.Duration // per Model Client call timeout, spec.md §5
}

// RetentionConfig controls the Cleanup Worker (spec.md §4.7).
type RetentionConfig struct {
	Interval        time.Duration
	StartupDelay    time.Duration
	RetentionDays   int
	ForceCleanupDays int
}

// ModelConfig names the per-stage model identifiers and provider selection.
type ModelConfig struct {
	Provider      string // "openai" or "anthropic"
	QAModel       string
	OverviewModel string
	JudgeModel    string
	OpenAIAPIKey  string
	AnthropicAPIKey string
}

// PromptVersions are the opaque prompt-version identifiers folded into the
// dedup signature (spec.md §3, §4.5). Prompt contents themselves are out
// of scope (spec.md §1).
type PromptVersions struct {
	QA       string
	Overview string
	Judge    string
}

// ArchiveConfig controls the Cleanup Worker's optional best-effort S3
// archive of terminal job artifacts before deletion (SPEC_FULL.md §11).
type ArchiveConfig struct {
	S3Bucket string
}

// BreakerConfig controls the Model Client's optional Redis-backed circuit
// breaker (SPEC_FULL.md §11). Empty RedisURL disables the breaker.
type BreakerConfig struct {
	RedisURL string
}

// HTTPConfig controls the HTTP Surface (spec.md §6).
type HTTPConfig struct {
	Port        string
	CORSOrigins []string
}

// Config is the top-level, immutable configuration loaded once at startup.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Job       JobConfig
	Retention RetentionConfig
	Model     ModelConfig
	Prompts   PromptVersions
	Archive   ArchiveConfig
	Breaker   BreakerConfig
	HTTP      HTTPConfig
}

// FromEnv loads configuration from the environment with the defaults
// named in SPEC_FULL.md §10.
func FromEnv() Config {
	var cfg Config

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/summarizer.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_summarizer",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Job = JobConfig{
		CacheDir:            getEnv("CACHE_DIR", "cache"),
		MaxFileSizeBytes:    parseInt(getEnv("MAX_FILE_SIZE_BYTES", "10485760"), 10*1024*1024),
		RateLimitThreshold:  parseInt(getEnv("RATE_LIMIT_REMAINING_THRESHOLD", "40000"), 40000),
		BackoffSleep:        parseDuration(getEnv("RATE_LIMIT_BACKOFF_SLEEP", "5s"), 5*time.Second),
		FanOutDeadline:      parseDuration(getEnv("FANOUT_DEADLINE", "5m"), 5*time.Minute),
		ModelRequestTimeout: parseDuration(getEnv("MODEL_REQUEST_TIMEOUT", "2m"), 2*time.Minute),
	}

	cfg.Retention = RetentionConfig{
		Interval:         parseDuration(getEnv("CLEANUP_INTERVAL", "6h"), 6*time.Hour),
		StartupDelay:     parseDuration(getEnv("CLEANUP_STARTUP_DELAY", "10s"), 10*time.Second),
		RetentionDays:    parseInt(getEnv("RETENTION_DAYS", "2"), 2),
		ForceCleanupDays: parseInt(getEnv("FORCE_CLEANUP_DAYS", "7"), 7),
	}

	cfg.Model = ModelConfig{
		Provider:        getEnv("MODEL_PROVIDER", "openai"),
		QAModel:         getEnv("QA_MODEL", "gpt-4.1"),
		OverviewModel:   getEnv("OVERVIEW_MODEL", "gpt-4.1"),
		JudgeModel:      getEnv("JUDGE_MODEL", "gpt-4.1"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
	}

	cfg.Prompts = PromptVersions{
		QA:       getEnv("QA_PROMPT_VERSION", "v1"),
		Overview: getEnv("OVERVIEW_PROMPT_VERSION", "v1"),
		Judge:    getEnv("JUDGE_PROMPT_VERSION", "v1"),
	}

	cfg.Archive = ArchiveConfig{
		S3Bucket: getEnv("ARCHIVE_S3_BUCKET", ""),
	}

	cfg.Breaker = BreakerConfig{
		RedisURL: getEnv("REDIS_URL", ""),
	}

	cfg.HTTP = HTTPConfig{
		Port:        getEnv("PORT", "8080"),
		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "*")),
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
