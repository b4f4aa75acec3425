// Package config provides hierarchical configuration loading for the decision engine.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the decisiongate service.
type Config struct {
	Server       Server       `yaml:"server"`
	Postgres     Postgres     `yaml:"postgres"`
	NATS         NATS         `yaml:"nats"`
	Logging      Logging      `yaml:"logging"`
	Cache        Cache        `yaml:"cache"`
	OTEL         OTEL         `yaml:"otel"`
	Notify       Notify       `yaml:"notify"`
	Breaker      Breaker      `yaml:"breaker"`
	Criteria     Criteria     `yaml:"criteria"`
	Threshold    Threshold    `yaml:"threshold"`
	Queue        Queue        `yaml:"queue"`
	Executor     Executor     `yaml:"executor"`
	Emergency    Emergency    `yaml:"emergency"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Health       Health       `yaml:"health"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string  `yaml:"port"`
	CORSOrigin string  `yaml:"cors_origin"`
	APIKey     string  `yaml:"api_key"`    // Required on mutating endpoints when set
	RateLimit  float64 `yaml:"rate_limit"` // Requests per second per client IP (0 disables)
	RateBurst  int     `yaml:"rate_burst"`
}

// Postgres holds PostgreSQL connection configuration.
// An empty DSN selects the in-memory store.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables messaging.
type NATS struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level      string `yaml:"level"`
	Service    string `yaml:"service"`
	Async      bool   `yaml:"async"`
	BufferSize int    `yaml:"buffer_size"`
	Workers    int    `yaml:"workers"`
	File       string `yaml:"file"`         // Optional rotating log file, in addition to stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`  // Rotate after this size (default: 100)
	MaxBackups int    `yaml:"max_backups"`  // Rotated files kept (default: 5)
	MaxAgeDays int    `yaml:"max_age_days"` // Days rotated files are kept (default: 30)
}

// Cache holds tiered cache configuration for subsystem health reports.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2Bucket    string        `yaml:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
}

// OTEL holds OpenTelemetry export configuration.
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Notify holds escalation notifier configuration.
type Notify struct {
	SlackWebhookURL   string  `yaml:"slack_webhook_url"`
	DiscordWebhookURL string  `yaml:"discord_webhook_url"`
	SMTP              SMTP    `yaml:"smtp"`
	RatePerMinute     float64 `yaml:"rate_per_minute"`
	Burst             int     `yaml:"burst"`
}

// SMTP holds the email escalation notifier settings. An empty Host disables it.
type SMTP struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	From     string   `yaml:"from"`
	Password string   `yaml:"password"`
	To       []string `yaml:"to"`
}

// Breaker holds circuit breaker configuration for outbound HTTP collaborators.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Criteria holds start-up weight overrides, keyed by capability ("" or "global"
// for the global set) and then by criterion name.
type Criteria struct {
	Weights map[string]map[string]float64 `yaml:"weights"`
}

// Threshold holds confidence threshold manager configuration.
type Threshold struct {
	Autonomous    float64                       `yaml:"autonomous"`
	Advisory      float64                       `yaml:"advisory"`
	Emergency     float64                       `yaml:"emergency"`
	Floor         float64                       `yaml:"floor"`
	Ceiling       float64                       `yaml:"ceiling"`
	WindowSize    int                           `yaml:"window_size"`     // Outcomes kept per key (default: 100)
	RecentSize    int                           `yaml:"recent_size"`     // Outcomes used for the success rate (default: 20)
	MinNewSamples int                           `yaml:"min_new_samples"` // New outcomes required between adjustments (default: 10)
	Cooldown      time.Duration                 `yaml:"cooldown"`
	LowerStep     float64                       `yaml:"lower_step"`
	RaiseStep     float64                       `yaml:"raise_step"`
	HighWater     float64                       `yaml:"high_water"` // Success rate above which the threshold is lowered
	LowWater      float64                       `yaml:"low_water"`  // Success rate below which the threshold is raised
	CheckInterval time.Duration                 `yaml:"check_interval"`
	Overrides     map[string]map[string]float64 `yaml:"overrides"` // capability -> level -> threshold
}

// Queue holds action lane configuration.
type Queue struct {
	LaneCapacity int           `yaml:"lane_capacity"`
	PollInterval time.Duration `yaml:"poll_interval"`
	HistoryLimit int           `yaml:"history_limit"`
}

// Executor holds action executor configuration.
type Executor struct {
	Backend        string                   `yaml:"backend"` // "log" | "webhook" (default: "log")
	DefaultTimeout time.Duration            `yaml:"default_timeout"`
	Timeouts       map[string]time.Duration `yaml:"timeouts"` // capability -> timeout
	WebhookURL     string                   `yaml:"webhook_url"`
	ReviewURL      string                   `yaml:"review_url"`       // Optional advisory hand-off endpoint
	ReviewSlackURL string                   `yaml:"review_slack_url"` // Optional Slack webhook for advisory review
}

// Emergency holds emergency protocol configuration.
type Emergency struct {
	TripAfter           int           `yaml:"trip_after"`
	Cooldown            time.Duration `yaml:"cooldown"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	Monitored           []string      `yaml:"monitored"`
}

// Orchestrator holds coordination orchestrator configuration.
type Orchestrator struct {
	RulesFile         string            `yaml:"rules_file"`
	MaxConcurrentRuns int64             `yaml:"max_concurrent_runs"`
	EventLogLimit     int               `yaml:"event_log_limit"`
	Subsystems        map[string]string `yaml:"subsystems"` // name -> operation endpoint; unlisted targets are log-backed
}

// Health holds subsystem health checker configuration.
type Health struct {
	Endpoints map[string]string `yaml:"endpoints"` // subsystem -> status URL
	CacheTTL  time.Duration     `yaml:"cache_ttl"`
	Timeout   time.Duration     `yaml:"timeout"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
			RateLimit:  20,
			RateBurst:  40,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Stream: "DECISIONGATE",
		},
		Logging: Logging{
			Level:      "info",
			Service:    "decisiongate",
			BufferSize: 10000,
			Workers:    2,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			L2Bucket:    "DECISIONGATE_HEALTH",
			L2TTL:       30 * time.Second,
		},
		OTEL: OTEL{
			Endpoint:    "localhost:4317",
			ServiceName: "decisiongate",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Notify: Notify{
			SMTP:          SMTP{Port: 587},
			RatePerMinute: 30,
			Burst:         5,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Threshold: Threshold{
			Autonomous:    0.85,
			Advisory:      0.60,
			Emergency:     0.95,
			Floor:         0.5,
			Ceiling:       0.99,
			WindowSize:    100,
			RecentSize:    20,
			MinNewSamples: 10,
			Cooldown:      time.Hour,
			LowerStep:     0.01,
			RaiseStep:     0.02,
			HighWater:     0.95,
			LowWater:      0.70,
			CheckInterval: time.Minute,
		},
		Queue: Queue{
			LaneCapacity: 100,
			PollInterval: 5 * time.Second,
			HistoryLimit: 1000,
		},
		Executor: Executor{
			Backend:        "log",
			DefaultTimeout: 30 * time.Second,
		},
		Emergency: Emergency{
			TripAfter:           3,
			Cooldown:            60 * time.Second,
			MaxBackoff:          5 * time.Minute,
			MaxRecoveryAttempts: 5,
			PollInterval:        10 * time.Second,
			Monitored:           []string{"governance", "treasury", "security"},
		},
		Orchestrator: Orchestrator{
			MaxConcurrentRuns: 4,
			EventLogLimit:     1000,
		},
		Health: Health{
			CacheTTL: 15 * time.Second,
			Timeout:  5 * time.Second,
		},
	}
}
