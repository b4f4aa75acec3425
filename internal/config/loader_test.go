package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Threshold.Autonomous != 0.85 || cfg.Threshold.Advisory != 0.60 || cfg.Threshold.Emergency != 0.95 {
		t.Errorf("unexpected threshold defaults: %+v", cfg.Threshold)
	}
	if cfg.Threshold.Cooldown != time.Hour {
		t.Errorf("expected threshold cooldown 1h, got %v", cfg.Threshold.Cooldown)
	}
	if cfg.Queue.PollInterval != 5*time.Second {
		t.Errorf("expected poll interval 5s, got %v", cfg.Queue.PollInterval)
	}
	if cfg.Emergency.Cooldown != 60*time.Second || cfg.Emergency.MaxBackoff != 5*time.Minute {
		t.Errorf("unexpected emergency timings: %+v", cfg.Emergency)
	}
	if cfg.Executor.DefaultTimeout != 30*time.Second {
		t.Errorf("expected execution timeout 30s, got %v", cfg.Executor.DefaultTimeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
threshold:
  autonomous: 0.9
  cooldown: 30m
  overrides:
    treasury:
      AUTONOMOUS: 0.93
executor:
  timeouts:
    treasury: 45s
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Threshold.Autonomous != 0.9 {
		t.Errorf("expected autonomous 0.9, got %v", cfg.Threshold.Autonomous)
	}
	if cfg.Threshold.Cooldown != 30*time.Minute {
		t.Errorf("expected cooldown 30m, got %v", cfg.Threshold.Cooldown)
	}
	if got := cfg.Threshold.Overrides["treasury"]["AUTONOMOUS"]; got != 0.93 {
		t.Errorf("expected treasury override 0.93, got %v", got)
	}
	if got := cfg.Executor.Timeouts["treasury"]; got != 45*time.Second {
		t.Errorf("expected treasury timeout 45s, got %v", got)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Threshold.Advisory != 0.60 {
		t.Errorf("expected default advisory threshold, got %v", cfg.Threshold.Advisory)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("DECISIONGATE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("DECISIONGATE_LOG_LEVEL", "warn")
	t.Setenv("DECISIONGATE_LANE_CAPACITY", "25")
	t.Setenv("DECISIONGATE_EMERGENCY_COOLDOWN", "2m")
	t.Setenv("DECISIONGATE_EMERGENCY_MONITORED", "treasury, security")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Queue.LaneCapacity != 25 {
		t.Errorf("expected lane capacity 25, got %d", cfg.Queue.LaneCapacity)
	}
	if cfg.Emergency.Cooldown != 2*time.Minute {
		t.Errorf("expected cooldown 2m, got %v", cfg.Emergency.Cooldown)
	}
	if len(cfg.Emergency.Monitored) != 2 || cfg.Emergency.Monitored[1] != "security" {
		t.Errorf("unexpected monitored list %v", cfg.Emergency.Monitored)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "zero max_conns with dsn",
			modify: func(c *Config) { c.Postgres.DSN = "postgres://x"; c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "autonomous above ceiling",
			modify: func(c *Config) { c.Threshold.Autonomous = 1.0 },
			errMsg: "threshold.autonomous 1 outside [0.5, 0.99]",
		},
		{
			name:   "window smaller than recent",
			modify: func(c *Config) { c.Threshold.WindowSize = 10 },
			errMsg: "threshold.window_size must be >= threshold.recent_size >= 1",
		},
		{
			name:   "zero lane capacity",
			modify: func(c *Config) { c.Queue.LaneCapacity = 0 },
			errMsg: "queue.lane_capacity must be >= 1",
		},
		{
			name:   "webhook backend without url",
			modify: func(c *Config) { c.Executor.Backend = "webhook" },
			errMsg: "executor.webhook_url is required for the webhook backend",
		},
		{
			name:   "unknown backend",
			modify: func(c *Config) { c.Executor.Backend = "grpc" },
			errMsg: `executor.backend "grpc" is unknown`,
		},
		{
			name:   "backoff below cooldown",
			modify: func(c *Config) { c.Emergency.MaxBackoff = time.Second },
			errMsg: "emergency.max_backoff must be >= emergency.cooldown > 0",
		},
		{
			name:   "zero concurrent runs",
			modify: func(c *Config) { c.Orchestrator.MaxConcurrentRuns = 0 },
			errMsg: "orchestrator.max_concurrent_runs must be >= 1",
		},
		{
			name:   "smtp without recipients",
			modify: func(c *Config) { c.Notify.SMTP.Host = "mail.local"; c.Notify.SMTP.From = "gate@local" },
			errMsg: "notify.smtp requires from and at least one recipient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	// Unset flags remain nil
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	_, err := ParseFlags([]string{"--unknown-flag"})
	if err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("DECISIONGATE_PORT", "7070")
	t.Setenv("DECISIONGATE_LOG_LEVEL", "warn")

	flags, err := ParseFlags([]string{"--port", "3333", "--log-level", "error", "--config", "/nonexistent.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected CLI log-level error to override ENV warn, got %s", cfg.Logging.Level)
	}
}
