package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Save transports understood by SAVE_TRANSPORT.
const (
	TransportHTTP = "http"
	TransportWS   = "ws"
)

// Config holds configuration for the exam client and the mock server.
type Config struct {
	LogLevel  string
	LogFormat string
	RedisURL  string

	// ─── Client ────────────────────────────────────────────────────────
	APIBaseURL        string
	WSBaseURL         string
	AccessToken       string
	UserID            int
	ExamID            string
	SaveTransport     string
	ClockSyncInterval time.Duration
	DebounceDiscrete  time.Duration
	DebounceText      time.Duration
	DebounceDrag      time.Duration
	SaveMaxRetries    int
	SaveRetryBase     time.Duration
	HTTPTimeout       time.Duration

	// ─── Mock server ───────────────────────────────────────────────────
	ServerPort  string
	GinMode     string
	JWTSecret   string
	JWTExpiry   time.Duration
	BcryptCost  int
	FixturePath string
	// SavesPerSecond bounds answer writes per student; 0 disables the limit.
	SavesPerSecond int
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "pretty"),
		RedisURL:  getEnv("REDIS_URL", ""),

		APIBaseURL:        strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080/api/v1"), "/"),
		WSBaseURL:         strings.TrimRight(getEnv("WS_BASE_URL", "ws://localhost:8080/ws/v1"), "/"),
		AccessToken:       getEnv("ACCESS_TOKEN", ""),
		UserID:            getEnvInt("USER_ID", 0),
		ExamID:            getEnv("EXAM_ID", ""),
		SaveTransport:     getEnv("SAVE_TRANSPORT", TransportHTTP),
		ClockSyncInterval: getEnvDuration("CLOCK_SYNC_INTERVAL", 30*time.Second),
		DebounceDiscrete:  time.Duration(getEnvInt("DEBOUNCE_DISCRETE_MS", 500)) * time.Millisecond,
		DebounceText:      time.Duration(getEnvInt("DEBOUNCE_TEXT_MS", 1500)) * time.Millisecond,
		DebounceDrag:      time.Duration(getEnvInt("DEBOUNCE_DRAG_MS", 3000)) * time.Millisecond,
		SaveMaxRetries:    getEnvInt("SAVE_MAX_RETRIES", 3),
		SaveRetryBase:     time.Duration(getEnvInt("SAVE_RETRY_BASE_MS", 1000)) * time.Millisecond,
		HTTPTimeout:       getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		ServerPort:     getEnv("SERVER_PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		JWTSecret:      getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		JWTExpiry:      time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		BcryptCost:     getEnvInt("BCRYPT_COST", 6),
		FixturePath:    getEnv("FIXTURE_PATH", ""),
		SavesPerSecond: getEnvInt("SAVES_PER_SECOND", 10),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
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

// getEnvDuration accepts Go duration strings ("30s", "2m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
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
