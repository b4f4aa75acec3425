package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "decisiongate.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("DECISIONGATE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "DECISIONGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "DECISIONGATE_CORS_ORIGIN")
	setString(&cfg.Server.APIKey, "DECISIONGATE_API_KEY")
	setFloat64(&cfg.Server.RateLimit, "DECISIONGATE_RATE_LIMIT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "DECISIONGATE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "DECISIONGATE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "DECISIONGATE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "DECISIONGATE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "DECISIONGATE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "DECISIONGATE_NATS_STREAM")

	// Logging
	setString(&cfg.Logging.Level, "DECISIONGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "DECISIONGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "DECISIONGATE_LOG_ASYNC")
	setString(&cfg.Logging.File, "DECISIONGATE_LOG_FILE")
	setInt(&cfg.Logging.MaxSizeMB, "DECISIONGATE_LOG_MAX_SIZE_MB")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "DECISIONGATE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "DECISIONGATE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "DECISIONGATE_CACHE_L2_TTL")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "DECISIONGATE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "DECISIONGATE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "DECISIONGATE_OTEL_SAMPLE_RATE")

	// Notify
	setString(&cfg.Notify.SlackWebhookURL, "DECISIONGATE_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "DECISIONGATE_DISCORD_WEBHOOK_URL")
	setString(&cfg.Notify.SMTP.Host, "DECISIONGATE_SMTP_HOST")
	setInt(&cfg.Notify.SMTP.Port, "DECISIONGATE_SMTP_PORT")
	setString(&cfg.Notify.SMTP.From, "DECISIONGATE_SMTP_FROM")
	setString(&cfg.Notify.SMTP.Password, "DECISIONGATE_SMTP_PASSWORD")
	setList(&cfg.Notify.SMTP.To, "DECISIONGATE_SMTP_TO")
	setFloat64(&cfg.Notify.RatePerMinute, "DECISIONGATE_NOTIFY_RATE_PER_MINUTE")

	setInt(&cfg.Breaker.MaxFailures, "DECISIONGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "DECISIONGATE_BREAKER_TIMEOUT")

	// Threshold
	setFloat64(&cfg.Threshold.Autonomous, "DECISIONGATE_THRESHOLD_AUTONOMOUS")
	setFloat64(&cfg.Threshold.Advisory, "DECISIONGATE_THRESHOLD_ADVISORY")
	setFloat64(&cfg.Threshold.Emergency, "DECISIONGATE_THRESHOLD_EMERGENCY")
	setDuration(&cfg.Threshold.Cooldown, "DECISIONGATE_THRESHOLD_COOLDOWN")
	setDuration(&cfg.Threshold.CheckInterval, "DECISIONGATE_THRESHOLD_CHECK_INTERVAL")

	// Queue / executor
	setInt(&cfg.Queue.LaneCapacity, "DECISIONGATE_LANE_CAPACITY")
	setDuration(&cfg.Queue.PollInterval, "DECISIONGATE_POLL_INTERVAL")
	setInt(&cfg.Queue.HistoryLimit, "DECISIONGATE_HISTORY_LIMIT")
	setString(&cfg.Executor.Backend, "DECISIONGATE_EXECUTOR")
	setDuration(&cfg.Executor.DefaultTimeout, "DECISIONGATE_EXECUTION_TIMEOUT")
	setString(&cfg.Executor.WebhookURL, "DECISIONGATE_EXECUTOR_WEBHOOK_URL")
	setString(&cfg.Executor.ReviewURL, "DECISIONGATE_REVIEW_URL")
	setString(&cfg.Executor.ReviewSlackURL, "DECISIONGATE_REVIEW_SLACK_URL")

	// Emergency
	setInt(&cfg.Emergency.TripAfter, "DECISIONGATE_EMERGENCY_TRIP_AFTER")
	setDuration(&cfg.Emergency.Cooldown, "DECISIONGATE_EMERGENCY_COOLDOWN")
	setDuration(&cfg.Emergency.MaxBackoff, "DECISIONGATE_EMERGENCY_MAX_BACKOFF")
	setInt(&cfg.Emergency.MaxRecoveryAttempts, "DECISIONGATE_EMERGENCY_MAX_ATTEMPTS")
	setDuration(&cfg.Emergency.PollInterval, "DECISIONGATE_EMERGENCY_POLL_INTERVAL")
	setList(&cfg.Emergency.Monitored, "DECISIONGATE_EMERGENCY_MONITORED")

	// Orchestrator
	setString(&cfg.Orchestrator.RulesFile, "DECISIONGATE_RULES_FILE")
	setInt64(&cfg.Orchestrator.MaxConcurrentRuns, "DECISIONGATE_ORCH_MAX_CONCURRENT")
	setInt(&cfg.Orchestrator.EventLogLimit, "DECISIONGATE_ORCH_EVENT_LOG_LIMIT")

	setDuration(&cfg.Health.CacheTTL, "DECISIONGATE_HEALTH_CACHE_TTL")
	setDuration(&cfg.Health.Timeout, "DECISIONGATE_HEALTH_TIMEOUT")
}

// validate checks that required fields are set and bounds are coherent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}

	th := cfg.Threshold
	if th.Floor < 0 || th.Ceiling > 1 || th.Floor >= th.Ceiling {
		return fmt.Errorf("threshold bounds [%g, %g] are invalid", th.Floor, th.Ceiling)
	}
	for name, v := range map[string]float64{"autonomous": th.Autonomous, "advisory": th.Advisory, "emergency": th.Emergency} {
		if v < th.Floor || v > th.Ceiling {
			return fmt.Errorf("threshold.%s %g outside [%g, %g]", name, v, th.Floor, th.Ceiling)
		}
	}
	if th.RecentSize < 1 || th.WindowSize < th.RecentSize {
		return errors.New("threshold.window_size must be >= threshold.recent_size >= 1")
	}
	if th.MinNewSamples < 1 {
		return errors.New("threshold.min_new_samples must be >= 1")
	}
	if th.CheckInterval <= 0 {
		return errors.New("threshold.check_interval must be > 0")
	}

	if cfg.Queue.LaneCapacity < 1 {
		return errors.New("queue.lane_capacity must be >= 1")
	}
	if cfg.Queue.PollInterval <= 0 {
		return errors.New("queue.poll_interval must be > 0")
	}
	if cfg.Executor.DefaultTimeout <= 0 {
		return errors.New("executor.default_timeout must be > 0")
	}
	switch cfg.Executor.Backend {
	case "log":
	case "webhook":
		if cfg.Executor.WebhookURL == "" {
			return errors.New("executor.webhook_url is required for the webhook backend")
		}
	default:
		return fmt.Errorf("executor.backend %q is unknown", cfg.Executor.Backend)
	}

	em := cfg.Emergency
	if em.TripAfter < 1 {
		return errors.New("emergency.trip_after must be >= 1")
	}
	if em.MaxRecoveryAttempts < 1 {
		return errors.New("emergency.max_recovery_attempts must be >= 1")
	}
	if em.Cooldown <= 0 || em.MaxBackoff < em.Cooldown {
		return errors.New("emergency.max_backoff must be >= emergency.cooldown > 0")
	}
	if em.PollInterval <= 0 {
		return errors.New("emergency.poll_interval must be > 0")
	}

	if cfg.Orchestrator.MaxConcurrentRuns < 1 {
		return errors.New("orchestrator.max_concurrent_runs must be >= 1")
	}
	if cfg.Notify.RatePerMinute <= 0 || cfg.Notify.Burst < 1 {
		return errors.New("notify.rate_per_minute must be > 0 and notify.burst >= 1")
	}
	if smtp := cfg.Notify.SMTP; smtp.Host != "" && (smtp.From == "" || len(smtp.To) == 0) {
		return errors.New("notify.smtp requires from and at least one recipient")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
