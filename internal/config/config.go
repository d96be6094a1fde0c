// Package config loads runtime configuration from environment variables,
// with an optional YAML overlay for deployment-time overrides such as the
// SLA severity target table.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/plantwatch/alertcore/internal/alerting"
)

// Config holds all runtime configuration for the alerting core.
type Config struct {
	HTTP       HTTPConfig
	DB         DBConfig
	Log        LogConfig
	Auth       AuthConfig
	Grouping   GroupingConfig
	Escalation EscalationConfig
	Bridge     BridgeConfig
	Redis      RedisConfig
	SLA        SLAConfig
	Worker     WorkerConfig
	OTel       OTelConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "alertcore.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// AuthConfig holds API token verification settings. An empty secret disables
// auth; token issuance belongs to the platform identity service.
type AuthConfig struct {
	Secret string //nolint:gosec // intentional: holds the JWT verification secret loaded from env
}

// GroupingConfig controls the deduplication window.
type GroupingConfig struct {
	WindowMinutes int `yaml:"window_minutes"`
}

// EscalationConfig controls the escalation driver.
type EscalationConfig struct {
	TickIntervalSeconds int  `yaml:"tick_interval_seconds"`
	AcknowledgeSuppress bool `yaml:"acknowledge_suppresses"`
	BatchSize           int  `yaml:"batch_size"`
}

// BridgeConfig controls the anomaly-to-alert bridge and its optional Kafka
// ingress.
type BridgeConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	KafkaBrokers  string
	KafkaTopic    string
	KafkaGroupID  string
}

// RedisConfig holds the optional tick-lock backend. Empty Addr means local
// no-op locking (single worker).
type RedisConfig struct {
	Addr string
}

// SLAConfig carries the severity → target table, overridable only through
// the YAML overlay at deployment time.
type SLAConfig struct {
	SeverityTargets alerting.SeverityTargets
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
	Environment  string
	SampleRatio  float64
}

// Load reads configuration from environment variables (after an optional
// .env file), applies defaults, then applies the YAML overlay named by
// CONFIG_FILE when present.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env always wins over file values.
	_ = godotenv.Load()

	cfg := &Config{}

	// HTTP
	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)

	// DB
	cfg.DB.Driver = envStr("DB_DRIVER", "sqlite")
	cfg.DB.File = envStr("DB_FILE", "alertcore.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = envInt("DB_MAX_CONNS", 25)

	// Log
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.Format = envStr("LOG_FORMAT", "json")

	// Auth (optional)
	cfg.Auth.Secret = os.Getenv("API_AUTH_SECRET")

	// Grouping
	cfg.Grouping.WindowMinutes = envInt("GROUPING_WINDOW_MINUTES", 5)
	if cfg.Grouping.WindowMinutes <= 0 {
		return nil, errors.New("GROUPING_WINDOW_MINUTES must be positive")
	}

	// Escalation
	cfg.Escalation.TickIntervalSeconds = envInt("ESCALATION_TICK_INTERVAL_SECONDS", 30)
	cfg.Escalation.AcknowledgeSuppress = envBool("ESCALATION_ACK_SUPPRESSES", true)
	cfg.Escalation.BatchSize = envInt("ESCALATION_BATCH_SIZE", 100)

	// Anomaly bridge
	var err error
	cfg.Bridge.MinConfidence, err = envFloat("ANOMALY_MIN_CONFIDENCE", 0.70)
	if err != nil {
		return nil, fmt.Errorf("ANOMALY_MIN_CONFIDENCE: %w", err)
	}
	cfg.Bridge.KafkaBrokers = os.Getenv("KAFKA_BROKERS")
	cfg.Bridge.KafkaTopic = envStr("KAFKA_TOPIC", "anomaly.detections")
	cfg.Bridge.KafkaGroupID = envStr("KAFKA_GROUP_ID", "alertcore-bridge")

	// Redis tick lock (optional)
	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")

	// SLA targets: fixed table, deployment overlay only.
	cfg.SLA.SeverityTargets = alerting.DefaultSeverityTargets()

	// Worker
	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", 10)

	// OTel
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTel.Environment = os.Getenv("DEPLOY_ENVIRONMENT")
	if cfg.OTel.SampleRatio, err = envFloat("OTEL_TRACE_SAMPLE_RATIO", 1.0); err != nil {
		return nil, fmt.Errorf("OTEL_TRACE_SAMPLE_RATIO: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return nil, fmt.Errorf("apply config overlay %s: %w", path, err)
		}
	}

	return cfg, nil
}

// overlay mirrors the YAML override file. Pointer fields distinguish "unset"
// from zero values so the overlay only touches what it names.
type overlay struct {
	Grouping struct {
		WindowMinutes *int `yaml:"window_minutes"`
	} `yaml:"grouping"`
	Escalation struct {
		TickIntervalSeconds *int  `yaml:"tick_interval_seconds"`
		AckSuppresses       *bool `yaml:"acknowledge_suppresses"`
		BatchSize           *int  `yaml:"batch_size"`
	} `yaml:"escalation"`
	AnomalyBridge struct {
		MinConfidence *float64 `yaml:"min_confidence"`
	} `yaml:"anomaly_bridge"`
	SLA struct {
		SeverityTargets map[string]alerting.SLATargets `yaml:"severity_targets"`
	} `yaml:"sla"`
}

func (c *Config) applyOverlay(path string) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's own environment
	if err != nil {
		return err
	}
	var o overlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return err
	}
	if o.Grouping.WindowMinutes != nil {
		c.Grouping.WindowMinutes = *o.Grouping.WindowMinutes
	}
	if o.Escalation.TickIntervalSeconds != nil {
		c.Escalation.TickIntervalSeconds = *o.Escalation.TickIntervalSeconds
	}
	if o.Escalation.AckSuppresses != nil {
		c.Escalation.AcknowledgeSuppress = *o.Escalation.AckSuppresses
	}
	if o.Escalation.BatchSize != nil {
		c.Escalation.BatchSize = *o.Escalation.BatchSize
	}
	if o.AnomalyBridge.MinConfidence != nil {
		c.Bridge.MinConfidence = *o.AnomalyBridge.MinConfidence
	}
	for rawSev, targets := range o.SLA.SeverityTargets {
		sev, err := alerting.ParseSeverity(rawSev)
		if err != nil {
			return err
		}
		if targets.TTAMinutes <= 0 || targets.TTRMinutes <= 0 {
			return fmt.Errorf("severity %s: targets must be positive", sev)
		}
		c.SLA.SeverityTargets[sev] = targets
	}
	return nil
}

// GroupingWindow returns the absorption window as a duration.
func (c *Config) GroupingWindow() time.Duration {
	return time.Duration(c.Grouping.WindowMinutes) * time.Minute
}

// EscalationTickInterval returns the driver tick interval as a duration.
func (c *Config) EscalationTickInterval() time.Duration {
	return time.Duration(c.Escalation.TickIntervalSeconds) * time.Second
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q: %w", v, err)
	}
	return f, nil
}
