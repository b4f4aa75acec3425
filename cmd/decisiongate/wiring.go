package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/decisiongate/internal/adapter/healthhttp"
	"github.com/Strob0t/decisiongate/internal/adapter/logsink"
	"github.com/Strob0t/decisiongate/internal/adapter/memory"
	cfnats "github.com/Strob0t/decisiongate/internal/adapter/nats"
	"github.com/Strob0t/decisiongate/internal/adapter/natskv"
	"github.com/Strob0t/decisiongate/internal/adapter/postgres"
	"github.com/Strob0t/decisiongate/internal/adapter/ristretto"
	"github.com/Strob0t/decisiongate/internal/adapter/slack"
	"github.com/Strob0t/decisiongate/internal/adapter/tiered"
	"github.com/Strob0t/decisiongate/internal/adapter/webhook"
	"github.com/Strob0t/decisiongate/internal/config"
	"github.com/Strob0t/decisiongate/internal/domain/coordination"
	"github.com/Strob0t/decisiongate/internal/port/cache"
	"github.com/Strob0t/decisiongate/internal/port/executor"
	"github.com/Strob0t/decisiongate/internal/port/health"
	"github.com/Strob0t/decisiongate/internal/port/notifier"
	"github.com/Strob0t/decisiongate/internal/port/persistence"
	"github.com/Strob0t/decisiongate/internal/port/reviewer"
	"github.com/Strob0t/decisiongate/internal/port/subsystem"
	"github.com/Strob0t/decisiongate/internal/resilience"
)

// infra holds the long-lived connections opened at start-up.
type infra struct {
	store persistence.Store
	queue *cfnats.Queue
	cache cache.Cache

	pool *pgxpool.Pool
	l1   *ristretto.Cache
}

// openInfra connects storage, messaging and the health cache. Postgres and
// NATS are optional: an empty DSN selects the in-memory store and an empty
// NATS URL leaves the ingress and the L2 cache off.
func openInfra(ctx context.Context, cfg *config.Config) (*infra, error) {
	in := &infra{}

	if cfg.Postgres.DSN == "" {
		in.store = memory.NewStore(cfg.Threshold.WindowSize, cfg.Orchestrator.EventLogLimit)
		slog.Info("using in-memory store")
	} else {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		in.pool = pool
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			in.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		in.store = postgres.NewStore(pool)
		slog.Info("postgres connected", "max_conns", cfg.Postgres.MaxConns)
	}

	l1, err := ristretto.NewMB(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	in.l1 = l1
	in.cache = l1

	if cfg.NATS.URL != "" {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("nats: %w", err)
		}
		in.queue = q
		l2, err := natskv.Open(ctx, q.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("l2 cache: %w", err)
		}
		in.cache = tiered.New(l1, l2, cfg.Cache.L2TTL)
		slog.Info("nats connected", "stream", cfg.NATS.Stream)
	}
	return in, nil
}

// Close releases everything openInfra acquired, in reverse order.
func (in *infra) Close() {
	if in.queue != nil {
		if err := in.queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
			_ = in.queue.Close()
		}
	}
	if in.l1 != nil {
		in.l1.Close()
	}
	if in.pool != nil {
		in.pool.Close()
	}
}

func buildExecutor(cfg *config.Config) (executor.ActionExecutor, error) {
	exec, err := executor.New(cfg.Executor.Backend, map[string]string{
		"url":                  cfg.Executor.WebhookURL,
		"breaker_max_failures": strconv.Itoa(cfg.Breaker.MaxFailures),
		"breaker_timeout":      cfg.Breaker.Timeout.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("executor (available: %v): %w", executor.Available(), err)
	}
	return exec, nil
}

func buildReviewer(cfg *config.Config, client *http.Client) reviewer.Reviewer {
	switch {
	case cfg.Executor.ReviewURL != "":
		return webhook.NewReviewer(cfg.Executor.ReviewURL, client,
			resilience.NewBreaker("reviewer.webhook", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	case cfg.Executor.ReviewSlackURL != "":
		return slack.NewReviewer(cfg.Executor.ReviewSlackURL)
	default:
		return logsink.Reviewer{}
	}
}

// buildNotifiers always includes the log notifier so escalations leave a
// trace even when no chat webhook is configured.
func buildNotifiers(cfg *config.Config) ([]notifier.Notifier, error) {
	smtp := cfg.Notify.SMTP
	want := []struct {
		provider string
		enabled  bool
		config   map[string]string
	}{
		{"slack", cfg.Notify.SlackWebhookURL != "", map[string]string{"webhook_url": cfg.Notify.SlackWebhookURL}},
		{"discord", cfg.Notify.DiscordWebhookURL != "", map[string]string{"webhook_url": cfg.Notify.DiscordWebhookURL}},
		{"email", smtp.Host != "", map[string]string{
			"host":     smtp.Host,
			"port":     strconv.Itoa(smtp.Port),
			"from":     smtp.From,
			"password": smtp.Password,
			"to":       strings.Join(smtp.To, ","),
		}},
	}
	out := make([]notifier.Notifier, 0, len(want)+1)
	for _, w := range want {
		if !w.enabled {
			continue
		}
		n, err := notifier.New(w.provider, w.config)
		if err != nil {
			return nil, fmt.Errorf("notifier %s: %w", w.provider, err)
		}
		out = append(out, n)
	}
	n, err := notifier.New("log", nil)
	if err != nil {
		return nil, fmt.Errorf("notifier log: %w", err)
	}
	return append(out, n), nil
}

// buildSubsystems registers an HTTP subsystem for every configured endpoint
// and a log-backed one for every other rule target. It returns the registry
// and the sorted names of all known subsystems.
func buildSubsystems(cfg *config.Config, client *http.Client) (*subsystem.Registry, []string, error) {
	rules, err := coordination.LoadRules(cfg.Orchestrator.RulesFile)
	if err != nil {
		return nil, nil, err
	}
	reg := subsystem.NewRegistry()
	for name, url := range cfg.Orchestrator.Subsystems {
		reg.Register(webhook.NewSubsystem(name, url, client,
			resilience.NewBreaker("subsystem."+name, cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)))
	}
	for _, r := range rules {
		for _, s := range r.Steps {
			if _, ok := reg.Get(s.Target); !ok {
				reg.Register(logsink.Subsystem{SubsystemName: s.Target})
			}
		}
	}

	names := reg.Names()
	for _, m := range cfg.Emergency.Monitored {
		if !slices.Contains(names, m) {
			names = append(names, m)
		}
	}
	for name := range cfg.Health.Endpoints {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return reg, names, nil
}

// buildChecker polls configured health endpoints. Subsystems without one
// are reported active since they are served in-process.
func buildChecker(cfg *config.Config, client *http.Client, names []string) health.Checker {
	fallback := health.Static{}
	for _, n := range names {
		if _, ok := cfg.Health.Endpoints[n]; !ok {
			fallback[n] = health.StatusActive
		}
	}
	return healthhttp.New(cfg.Health.Endpoints, client, fallback, cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
}
