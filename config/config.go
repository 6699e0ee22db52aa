package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT
	JWTSecret string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int
	LLMMaxRetries  int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleProjectID    string

	// Pub/Sub push
	PushAudience string

	// Worker
	WorkerID        string
	WorkerCount     int
	WorkerBatchSize int
	PollInterval    time.Duration
	PullBatchSize   int

	// Retry
	JobMaxAttempts    int
	RetryBaseDelaySec int
	RetryMaxDelaySec  int

	// Sync
	HistoryPageSize    int
	HistoryCallsPerMin int

	// Default user policy (applies until the user saves their own)
	NotifyThreshold   int
	DraftsEnabled     bool
	SchedulingEnabled bool
	QuietHoursStart   int
	QuietHoursEnd     int
	DefaultTimezone   string

	// Notifier
	NotifyWebhookURL string
	NotifyTimeoutSec int
	NotifyMaxRetries int
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "castra"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 512),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.1),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 30),
		LLMMaxRetries:  getEnvInt("LLM_MAX_RETRIES", 2),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),

		// Pub/Sub push
		PushAudience: getEnv("PUSH_AUDIENCE", ""),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount:     getEnvInt("WORKER_COUNT", 8),
		WorkerBatchSize: getEnvInt("WORKER_BATCH_SIZE", 10),
		PollInterval:    time.Duration(getEnvInt("POLL_INTERVAL_MS", 500)) * time.Millisecond,
		PullBatchSize:   getEnvInt("PULL_BATCH_SIZE", 32),

		// Retry
		JobMaxAttempts:    getEnvInt("JOB_MAX_ATTEMPTS", 5),
		RetryBaseDelaySec: getEnvInt("RETRY_BASE_DELAY_SEC", 5),
		RetryMaxDelaySec:  getEnvInt("RETRY_MAX_DELAY_SEC", 900),

		// Sync
		HistoryPageSize:    getEnvInt("HISTORY_PAGE_SIZE", 100),
		HistoryCallsPerMin: getEnvInt("HISTORY_CALLS_PER_MIN", 60),

		// Default user policy
		NotifyThreshold:   getEnvInt("NOTIFY_THRESHOLD", 70),
		DraftsEnabled:     getEnvBool("DRAFTS_ENABLED", true),
		SchedulingEnabled: getEnvBool("SCHEDULING_ENABLED", true),
		QuietHoursStart:   getEnvInt("QUIET_HOURS_START", 21),
		QuietHoursEnd:     getEnvInt("QUIET_HOURS_END", 8),
		DefaultTimezone:   getEnv("DEFAULT_TIMEZONE", "America/New_York"),

		// Notifier
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyTimeoutSec: getEnvInt("NOTIFY_TIMEOUT_SEC", 10),
		NotifyMaxRetries: getEnvInt("NOTIFY_MAX_RETRIES", 3),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
