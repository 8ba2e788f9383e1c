// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Execution settings.
	MaxConcurrentPerProgram int           // Admission capacity per program.
	AdmissionWait           time.Duration // How long a request may wait for a slot.
	SyncWorkers             int           // Blocking-routine pool size; 0 = sized from CPU count.

	// Log settings.
	LogsDir      string // Directory for per-program JSONL inference logs.
	LogQueueSize int    // Log writer queue depth before entries are dropped.

	// Trace storage. TraceDB is a SQLite path; a non-empty DatabaseURL
	// switches trace storage to Postgres instead.
	TraceDB     string
	DatabaseURL string

	// Auth settings. An empty APIKey disables authentication.
	APIKey        string
	JWTExpiration time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible
// defaults. Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		LogsDir:      envStr("ENSO_LOGS_DIR", "./logs"),
		TraceDB:      envStr("ENSO_TRACE_DB", "./traces.db"),
		DatabaseURL:  envStr("ENSO_DATABASE_URL", ""),
		APIKey:       envStr("ENSO_API_KEY", ""),
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "enso"),
		LogLevel:     envStr("ENSO_LOG_LEVEL", "info"),
	}

	var err error
	cfg.Port, err = envInt("ENSO_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("ENSO_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("ENSO_WRITE_TIMEOUT", 0)
	collect(err)
	cfg.MaxConcurrentPerProgram, err = envInt("ENSO_MAX_CONCURRENT_PER_PROGRAM", 20)
	collect(err)
	cfg.AdmissionWait, err = envDuration("ENSO_ADMISSION_WAIT", 10*time.Second)
	collect(err)
	cfg.SyncWorkers, err = envInt("ENSO_SYNC_WORKERS", 0)
	collect(err)
	cfg.LogQueueSize, err = envInt("ENSO_LOG_QUEUE_SIZE", 1024)
	collect(err)
	cfg.JWTExpiration, err = envDuration("ENSO_JWT_EXPIRATION", 24*time.Hour)
	collect(err)
	maxBody, err := envInt("ENSO_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: ENSO_PORT must be in 1..65535")
	}
	if c.MaxConcurrentPerProgram <= 0 {
		return fmt.Errorf("config: ENSO_MAX_CONCURRENT_PER_PROGRAM must be positive")
	}
	if c.AdmissionWait <= 0 {
		return fmt.Errorf("config: ENSO_ADMISSION_WAIT must be positive")
	}
	if c.SyncWorkers < 0 {
		return fmt.Errorf("config: ENSO_SYNC_WORKERS must not be negative")
	}
	if c.LogQueueSize <= 0 {
		return fmt.Errorf("config: ENSO_LOG_QUEUE_SIZE must be positive")
	}
	if c.LogsDir == "" {
		return fmt.Errorf("config: ENSO_LOGS_DIR is required")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: ENSO_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
