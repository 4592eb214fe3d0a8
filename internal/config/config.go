package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the attempt client and the simulator.
type Config struct {
	LogLevel  string
	LogFormat string

	// ─── Client ────────────────────────────────────────────────────────
	APIBaseURL  string
	RealtimeURL string
	StudentID   string
	AuthToken   string
	HTTPTimeout time.Duration

	ReconnectEnabled     bool
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	// RedisURL is optional for the client; empty keeps results and query
	// caches in memory.
	RedisURL      string
	ResultTTL     time.Duration
	QueryCacheTTL time.Duration

	// ─── Simulator ─────────────────────────────────────────────────────
	ServerPort       string
	GinMode          string
	DatabaseURL      string
	MaxDBConns       int32
	QuestionBankFile string
	TestDuration     time.Duration
	TickInterval     time.Duration
	ShuffleQuestions bool
	RateLimitPerMin  int
	RateLimitBurst   int
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "pretty"),

		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:8080/api/v1/attempts"),
		RealtimeURL: getEnv("REALTIME_URL", "ws://localhost:8080/ws"),
		StudentID:   getEnv("STUDENT_ID", ""),
		AuthToken:   getEnv("AUTH_TOKEN", ""),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 15*time.Second),

		ReconnectEnabled:     getEnvBool("RECONNECT_ENABLED", true),
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 10),
		ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", 500*time.Millisecond),
		ReconnectMaxDelay:    getEnvDuration("RECONNECT_MAX_DELAY", 10*time.Second),

		RedisURL:      getEnv("REDIS_URL", ""),
		ResultTTL:     getEnvDuration("RESULT_TTL", 7*24*time.Hour),
		QueryCacheTTL: getEnvDuration("QUERY_CACHE_TTL", time.Minute),

		ServerPort:       getEnv("SERVER_PORT", "8080"),
		GinMode:          getEnv("GIN_MODE", "debug"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		MaxDBConns:       int32(getEnvInt("MAX_DB_CONNS", 8)),
		QuestionBankFile: getEnv("QUESTION_BANK_FILE", "testdata/bank.yaml"),
		TestDuration:     getEnvDuration("TEST_DURATION", 0),
		TickInterval:     getEnvDuration("TICK_INTERVAL", time.Second),
		ShuffleQuestions: getEnvBool("SHUFFLE_QUESTIONS", false),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MIN", 600),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 60),
		AllowedOrigins:   parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvDuration accepts Go duration strings ("90s", "2m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
