package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool parses values accepted by strconv.ParseBool ("1", "true", ...).
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvDuration parses a time.Duration ("15s", "2m"). A bare integer is read
// as milliseconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return fallback
}

// Server is the environment driven configuration of cmd/server.
type Server struct {
	Port        string
	LogLevel    string
	LogFormat   string
	StoreDriver string
	SQLitePath  string
	FixturePath string
	JobTimeout  time.Duration
	// MetricsEnabled mounts /metrics and records request and operation metrics.
	MetricsEnabled bool
}

// LoadServer reads the server settings from the environment.
func LoadServer() Server {
	return Server{
		Port:        GetEnv("PORT", "8080"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogFormat:   GetEnv("LOG_FORMAT", "json"),
		StoreDriver: GetEnv("STORE_DRIVER", "memory"),
		SQLitePath:  GetEnv("SQLITE_PATH", "data/playout.db"),
		FixturePath: GetEnv("FIXTURE_PATH", ""),
		JobTimeout:  GetEnvDuration("JOB_TIMEOUT", 15*time.Second),

		MetricsEnabled: GetEnvBool("METRICS_ENABLED", true),
	}
}
