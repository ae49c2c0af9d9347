package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendFirebase = "firebase"
	BackendMemory   = "memory"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	JWTExpiry   time.Duration

	DocstoreBackend         string
	FirebaseDatabaseURL     string
	FirebaseCredentialsFile string

	CacheTTL time.Duration

	RetryMaxAttempts          int
	RetryBaseDelay            time.Duration
	OptimisticLockMaxAttempts int
	OptimisticLockBaseDelay   time.Duration

	SyncStuckTimeout     time.Duration
	SyncRecoveryInterval time.Duration

	LogLevel  string
	LogFormat string
	LogFile   string
}

func defaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("JWT_EXPIRY", "24h")
	v.SetDefault("DOCSTORE_BACKEND", BackendFirebase)
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_DELAY", "500ms")
	v.SetDefault("OPTIMISTIC_LOCK_MAX_ATTEMPTS", 3)
	v.SetDefault("OPTIMISTIC_LOCK_BASE_DELAY", "1s")
	v.SetDefault("SYNC_STUCK_TIMEOUT", "15m")
	v.SetDefault("SYNC_RECOVERY_INTERVAL", "5m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// LoadConfig reads the environment and, when configFile (or CONFIG_FILE) is
// set, that file. The environment wins over the file.
func LoadConfig(configFile string) (*Config, error) {
	cfg, err := load(configFile)
	if err != nil {
		return nil, err
	}

	// Sessions live in Redis, so the server cannot run without it.
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

// LoadSyncConfig is LoadConfig without the server-only requirements, for the
// sync command line tool. Redis is optional there.
func LoadSyncConfig(configFile string) (*Config, error) {
	return load(configFile)
}

func load(configFile string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = v.GetString("CONFIG_FILE")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		ServerPort:                v.GetString("SERVER_PORT"),
		DatabaseURL:               v.GetString("DATABASE_URL"),
		RedisURL:                  v.GetString("REDIS_URL"),
		JWTSecret:                 v.GetString("JWT_SECRET"),
		DocstoreBackend:           strings.ToLower(v.GetString("DOCSTORE_BACKEND")),
		FirebaseDatabaseURL:       v.GetString("FIREBASE_DATABASE_URL"),
		FirebaseCredentialsFile:   v.GetString("FIREBASE_CREDENTIALS_FILE"),
		RetryMaxAttempts:          v.GetInt("RETRY_MAX_ATTEMPTS"),
		OptimisticLockMaxAttempts: v.GetInt("OPTIMISTIC_LOCK_MAX_ATTEMPTS"),
		LogLevel:                  v.GetString("LOG_LEVEL"),
		LogFormat:                 v.GetString("LOG_FORMAT"),
		LogFile:                   v.GetString("LOG_FILE"),
	}

	durations := []struct {
		key  string
		dest *time.Duration
	}{
		{"JWT_EXPIRY", &cfg.JWTExpiry},
		{"CACHE_TTL", &cfg.CacheTTL},
		{"RETRY_BASE_DELAY", &cfg.RetryBaseDelay},
		{"OPTIMISTIC_LOCK_BASE_DELAY", &cfg.OptimisticLockBaseDelay},
		{"SYNC_STUCK_TIMEOUT", &cfg.SyncStuckTimeout},
		{"SYNC_RECOVERY_INTERVAL", &cfg.SyncRecoveryInterval},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s format", d.key)
		}
		*d.dest = parsed
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	switch cfg.DocstoreBackend {
	case BackendFirebase:
		if cfg.FirebaseDatabaseURL == "" {
			return nil, errors.New("FIREBASE_DATABASE_URL is required")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown DOCSTORE_BACKEND %q", cfg.DocstoreBackend)
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.OptimisticLockMaxAttempts < 1 {
		return nil, errors.New("OPTIMISTIC_LOCK_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}
