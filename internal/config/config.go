// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"RECOGUARD_HOST" yaml:"host"`
	Port int    `envconfig:"RECOGUARD_PORT" yaml:"port"`

	// Threshold file and reload
	Thresholds ThresholdsConfig `yaml:"thresholds"`

	// Degradation and fallback
	Governance GovernanceConfig `yaml:"governance"`

	// Span tracking
	Span SpanConfig `yaml:"span"`

	// Record retention and reporting
	Monitor MonitorConfig `yaml:"monitor"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Durable record sink
	Sink SinkConfig `yaml:"sink"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ThresholdsConfig locates the threshold file.
type ThresholdsConfig struct {
	Path          string        `envconfig:"RECOGUARD_THRESHOLDS_PATH" yaml:"path"` // empty = built-in defaults
	Watch         bool          `envconfig:"RECOGUARD_THRESHOLDS_WATCH" yaml:"watch"`
	WatchDebounce time.Duration `envconfig:"RECOGUARD_THRESHOLDS_WATCH_DEBOUNCE" yaml:"watch_debounce"`
	AuditPath     string        `envconfig:"RECOGUARD_THRESHOLDS_AUDIT_PATH" yaml:"audit_path"` // JSON lines of changed values
}

// GovernanceConfig holds fallback and circuit breaker settings.
type GovernanceConfig struct {
	FallbackSize        int           `envconfig:"RECOGUARD_FALLBACK_SIZE" yaml:"fallback_size"`
	CatalogPath         string        `envconfig:"RECOGUARD_CATALOG_PATH" yaml:"catalog_path"`
	BreakerFailures     uint32        `envconfig:"RECOGUARD_BREAKER_FAILURES" yaml:"breaker_failures"`
	BreakerOpenDuration time.Duration `envconfig:"RECOGUARD_BREAKER_OPEN_DURATION" yaml:"breaker_open_duration"`
}

// SpanConfig holds span tracker settings.
type SpanConfig struct {
	ReapAfter    time.Duration `envconfig:"RECOGUARD_SPAN_REAP_AFTER" yaml:"reap_after"`
	ReapInterval time.Duration `envconfig:"RECOGUARD_SPAN_REAP_INTERVAL" yaml:"reap_interval"`
	RetainFor    time.Duration `envconfig:"RECOGUARD_SPAN_RETAIN_FOR" yaml:"retain_for"`
	MaxRetained  int           `envconfig:"RECOGUARD_SPAN_MAX_RETAINED" yaml:"max_retained"`
}

// MonitorConfig holds monitoring store settings.
type MonitorConfig struct {
	Retention             time.Duration `envconfig:"RECOGUARD_MONITOR_RETENTION" yaml:"retention"`
	PurgeInterval         time.Duration `envconfig:"RECOGUARD_MONITOR_PURGE_INTERVAL" yaml:"purge_interval"`
	Capacity              int           `envconfig:"RECOGUARD_MONITOR_CAPACITY" yaml:"capacity"`
	TrendScoreEpsilon     float64       `envconfig:"RECOGUARD_TREND_SCORE_EPSILON" yaml:"trend_score_epsilon"`
	TrendLatencyEpsilonMs float64       `envconfig:"RECOGUARD_TREND_LATENCY_EPSILON_MS" yaml:"trend_latency_epsilon_ms"`
	MinTrendRecords       int           `envconfig:"RECOGUARD_MIN_TREND_RECORDS" yaml:"min_trend_records"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type             string `envconfig:"RECOGUARD_BUS_TYPE" yaml:"type"`
	KafkaBrokers     string `envconfig:"RECOGUARD_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup       string `envconfig:"RECOGUARD_KAFKA_GROUP" yaml:"kafka_group"`
	KafkaTopicPrefix string `envconfig:"RECOGUARD_KAFKA_TOPIC_PREFIX" yaml:"kafka_topic_prefix"`
	KafkaCompression string `envconfig:"RECOGUARD_KAFKA_COMPRESSION" yaml:"kafka_compression"`
	JournalPath      string `envconfig:"RECOGUARD_BUS_JOURNAL" yaml:"journal_path"` // empty = no journal
}

// SinkConfig holds durable sink settings.
type SinkConfig struct {
	Type      string        `envconfig:"RECOGUARD_SINK_TYPE" yaml:"type"`
	RedisURL  string        `envconfig:"RECOGUARD_REDIS_URL" yaml:"redis_url"`
	KeyPrefix string        `envconfig:"RECOGUARD_SINK_PREFIX" yaml:"key_prefix"`
	TTL       time.Duration `envconfig:"RECOGUARD_SINK_TTL" yaml:"ttl"`
	Restore   bool          `envconfig:"RECOGUARD_SINK_RESTORE" yaml:"restore"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RECOGUARD_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RECOGUARD_LOG_FORMAT" yaml:"format"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	RateLimit   int    `envconfig:"RECOGUARD_RATE_LIMIT" yaml:"rate_limit"` // 0 = disabled
	CORSOrigins string `envconfig:"RECOGUARD_CORS_ORIGINS" yaml:"cors_origins"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"RECOGUARD_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsPath    string `envconfig:"RECOGUARD_METRICS_PATH" yaml:"metrics_path"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080

	cfg.Thresholds = ThresholdsConfig{
		WatchDebounce: 500 * time.Millisecond,
	}

	cfg.Governance = GovernanceConfig{
		FallbackSize:        5,
		BreakerFailures:     5,
		BreakerOpenDuration: 30 * time.Second,
	}

	cfg.Span = SpanConfig{
		ReapAfter:    time.Minute,
		ReapInterval: 15 * time.Second,
		RetainFor:    time.Hour,
		MaxRetained:  100_000,
	}

	cfg.Monitor = MonitorConfig{
		Retention:             7 * 24 * time.Hour,
		PurgeInterval:         time.Minute,
		Capacity:              100_000,
		TrendScoreEpsilon:     5,
		TrendLatencyEpsilonMs: 50,
		MinTrendRecords:       10,
	}

	cfg.Bus = BusConfig{
		Type: "memory",
	}

	cfg.Sink = SinkConfig{
		Type:      "none",
		RedisURL:  "redis://localhost:6379",
		KeyPrefix: "recoguard",
		TTL:       7 * 24 * time.Hour,
		Restore:   true,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Security = SecurityConfig{
		RateLimit:   0,
		CORSOrigins: "*",
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.Thresholds.Watch && c.Thresholds.Path == "" {
		errs = append(errs, "thresholds.watch requires thresholds.path")
	}

	// Governance validation
	if c.Governance.FallbackSize < 1 {
		errs = append(errs, "fallback_size must be positive")
	}
	if c.Governance.BreakerFailures < 1 {
		errs = append(errs, "breaker_failures must be positive")
	}
	if c.Governance.BreakerOpenDuration <= 0 {
		errs = append(errs, "breaker_open_duration must be positive")
	}

	// Span validation
	if c.Span.ReapAfter <= 0 || c.Span.ReapInterval <= 0 || c.Span.RetainFor <= 0 {
		errs = append(errs, "span durations must be positive")
	}
	if c.Span.MaxRetained < 1 {
		errs = append(errs, "span max_retained must be positive")
	}

	// Monitor validation
	if c.Monitor.Retention <= 0 || c.Monitor.PurgeInterval <= 0 {
		errs = append(errs, "monitor retention and purge_interval must be positive")
	}
	if c.Monitor.Capacity < 1 {
		errs = append(errs, "monitor capacity must be positive")
	}
	if c.Monitor.TrendScoreEpsilon < 0 || c.Monitor.TrendLatencyEpsilonMs < 0 {
		errs = append(errs, "trend epsilons must not be negative")
	}
	if c.Monitor.MinTrendRecords < 2 {
		errs = append(errs, "min_trend_records must be at least 2")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka bus requires kafka_brokers")
	}

	// Sink validation
	validSinkTypes := map[string]bool{"none": true, "redis": true}
	if !validSinkTypes[c.Sink.Type] {
		errs = append(errs, fmt.Sprintf("invalid sink type: %s (must be none or redis)", c.Sink.Type))
	}
	if c.Sink.Type == "redis" && c.Sink.RedisURL == "" {
		errs = append(errs, "redis sink requires redis_url")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Security.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
