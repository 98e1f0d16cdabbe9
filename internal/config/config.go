package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all client configuration.
type Config struct {
	APIBaseURL string
	LogLevel   string
	LogFormat  string
	// LogFile receives log output when set. The TUI always logs to a file
	// so the alternate screen stays clean.
	LogFile string

	// StorageBackend selects the durable slot store: "bbolt", "redis" or "memory".
	StorageBackend string
	StateDir       string
	RedisURL       string

	// RefreshLeeway is how long before access-token expiry a refresh is
	// triggered proactively.
	RefreshLeeway time.Duration

	// MonitorEnabled controls the proctoring event channel.
	MonitorEnabled bool
	HeartbeatEvery time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error — .env is optional

	return &Config{
		APIBaseURL:     getEnv("EXSTEM_API_URL", "http://localhost:4000/v1"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		LogFile:        getEnv("LOG_FILE", ""),
		StorageBackend: getEnv("STORAGE_BACKEND", "bbolt"),
		StateDir:       getEnv("STATE_DIR", defaultStateDir()),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RefreshLeeway:  getEnvDuration("REFRESH_LEEWAY", 30*time.Second),
		MonitorEnabled: getEnvBool("MONITOR_ENABLED", true),
		HeartbeatEvery: getEnvDuration("MONITOR_HEARTBEAT", 30*time.Second),
	}
}

// defaultStateDir resolves the per-user directory that holds the credential
// and answer slots.
func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "exstem")
	}
	return ".exstem"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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
