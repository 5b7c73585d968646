package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the tradebot application.
// Values are loaded from environment variables.
type Config struct {
	DatabaseURL     string `json:"database_url"`
	WebhookURL      string `json:"webhook_url"`
	ProviderBaseURL string `json:"provider_base_url"`
	RedisAddr       string `json:"redis_addr,omitempty"`
	HTTPAddr        string `json:"http_addr"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// RunDrainTimeout bounds the wait for in-flight workflow runs
	// during shutdown.
	RunDrainTimeout    time.Duration `json:"-"`
	RunDrainTimeoutStr string        `json:"run_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	BatchSize int `json:"batch_size"`

	ProviderTimeout    time.Duration `json:"-"`
	ProviderTimeoutStr string        `json:"provider_timeout"`

	// ProviderRateLimit: provider requests per second, shared across jobs.
	ProviderRateLimit int `json:"provider_rate_limit"`

	CaptureDir        string        `json:"capture_dir"`
	CaptureTimeout    time.Duration `json:"-"`
	CaptureTimeoutStr string        `json:"capture_timeout"`

	DeliveryTimeout    time.Duration `json:"-"`
	DeliveryTimeoutStr string        `json:"delivery_timeout"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// LeaderElectionEnabled gates trigger firing behind a Postgres
	// advisory lock so replicas sharing a database never double-fire.
	LeaderElectionEnabled bool `json:"leader_election_enabled"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	// ReconcileInterval bounds how stale a replica's trigger set can be
	// relative to jobs mutated through another replica.
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		WebhookURL:             os.Getenv("WEBHOOK_URL"),
		ProviderBaseURL:        os.Getenv("PROVIDER_BASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		DBOpTimeoutStr:         os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:   os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:   os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		RunDrainTimeoutStr:     os.Getenv("RUN_DRAIN_TIMEOUT"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:            os.Getenv("METRICS_PATH"),
		ProviderTimeoutStr:     os.Getenv("PROVIDER_TIMEOUT"),
		CaptureDir:             os.Getenv("CAPTURE_DIR"),
		CaptureTimeoutStr:      os.Getenv("CAPTURE_TIMEOUT"),
		DeliveryTimeoutStr:     os.Getenv("DELIVERY_TIMEOUT"),
	}

	if batchStr := os.Getenv("BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.BatchSize = n
		} else {
			log.Printf("config: invalid BATCH_SIZE %q (must be a positive integer), using default 10", batchStr)
		}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	if rateStr := os.Getenv("PROVIDER_RATE_LIMIT"); rateStr != "" {
		if n, err := parseInt(rateStr); err == nil && n > 0 {
			cfg.ProviderRateLimit = n
		} else {
			log.Printf("config: invalid PROVIDER_RATE_LIMIT %q (must be a positive integer), using default 1", rateStr)
		}
	}
	if cfg.ProviderRateLimit == 0 {
		cfg.ProviderRateLimit = 1
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")

	cfg.LeaderElectionEnabled = os.Getenv("LEADER_ELECTION_ENABLED") == "true"
	cfg.LeaderRetryIntervalStr = os.Getenv("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")
	cfg.ReconcileIntervalStr = os.Getenv("RECONCILE_INTERVAL")

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 728379", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 728379
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.RunDrainTimeoutStr == "" {
		cfg.RunDrainTimeoutStr = "60s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ProviderTimeoutStr == "" {
		cfg.ProviderTimeoutStr = "30s"
	}
	if cfg.CaptureDir == "" {
		cfg.CaptureDir = os.TempDir()
	}
	if cfg.CaptureTimeoutStr == "" {
		cfg.CaptureTimeoutStr = "60s"
	}
	if cfg.DeliveryTimeoutStr == "" {
		cfg.DeliveryTimeoutStr = "30s"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "30s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.RunDrainTimeoutStr); err == nil {
		cfg.RunDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ProviderTimeoutStr); err == nil {
		cfg.ProviderTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CaptureTimeoutStr); err == nil {
		cfg.CaptureTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DeliveryTimeoutStr); err == nil {
		cfg.DeliveryTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		WebhookURL              string `json:"webhook_url"`
		ProviderBaseURL         string `json:"provider_base_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		RunDrainTimeout         string `json:"run_drain_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		BatchSize               int    `json:"batch_size"`
		ProviderTimeout         string `json:"provider_timeout"`
		ProviderRateLimit       int    `json:"provider_rate_limit"`
		CaptureDir              string `json:"capture_dir"`
		CaptureTimeout          string `json:"capture_timeout"`
		DeliveryTimeout         string `json:"delivery_timeout"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		LeaderElectionEnabled   bool   `json:"leader_election_enabled"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
		ReconcileInterval       string `json:"reconcile_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		WebhookURL:              maskSecret(c.WebhookURL),
		ProviderBaseURL:         c.ProviderBaseURL,
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		RunDrainTimeout:         c.RunDrainTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		BatchSize:               c.BatchSize,
		ProviderTimeout:         c.ProviderTimeoutStr,
		ProviderRateLimit:       c.ProviderRateLimit,
		CaptureDir:              c.CaptureDir,
		CaptureTimeout:          c.CaptureTimeoutStr,
		DeliveryTimeout:         c.DeliveryTimeoutStr,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		LeaderElectionEnabled:   c.LeaderElectionEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
		ReconcileInterval:       c.ReconcileIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
// Webhook URLs embed a delivery token in the path, so the whole value is
// treated as secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "https://", "http://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
