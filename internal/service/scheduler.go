package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/decisiongate/internal/domain/schedule"
)

type scheduledJob struct {
	name    string
	spec    schedule.Spec
	fn      func(ctx context.Context)
	next    time.Time
	running bool
}

// JobInfo describes a registered periodic job.
type JobInfo struct {
	Name    string    `json:"name"`
	Cadence string    `json:"cadence"`
	Next    time.Time `json:"next"`
}

// SchedulerService checks registered cadences on a fixed resolution and runs
// due jobs. A job still running when it comes due again is skipped.
type SchedulerService struct {
	resolution time.Duration

	mu   sync.Mutex
	jobs map[string]*scheduledJob
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewSchedulerService creates a scheduler. A non-positive resolution checks
// every second.
func NewSchedulerService(resolution time.Duration) *SchedulerService {
	if resolution <= 0 {
		resolution = time.Second
	}
	return &SchedulerService{
		resolution: resolution,
		jobs:       make(map[string]*scheduledJob),
		now:        time.Now,
	}
}

// RegisterPeriodic implements scheduler.Scheduler.
func (s *SchedulerService) RegisterPeriodic(name string, spec schedule.Spec, fn func(ctx context.Context)) error {
	if name == "" || fn == nil {
		return fmt.Errorf("register periodic job: name and callback are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("register periodic job %q: already registered", name)
	}
	s.jobs[name] = &scheduledJob{name: name, spec: spec, fn: fn, next: spec.NextAfter(s.now())}
	slog.Info("periodic job registered", "job", name, "cadence", spec.String())
	return nil
}

// Jobs lists registered jobs ordered by name.
func (s *SchedulerService) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobInfo{Name: j.name, Cadence: j.spec.String(), Next: j.next})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Run checks for due jobs until ctx is cancelled, then waits for running
// jobs to return.
func (s *SchedulerService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	slog.Info("scheduler started", "resolution", s.resolution.String())
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *SchedulerService) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if now.Before(j.next) {
			continue
		}
		j.next = j.spec.NextAfter(now)
		if j.running {
			slog.Warn("periodic job still running, skipping", "job", j.name)
			continue
		}
		j.running = true
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}
}

func (s *SchedulerService) runJob(ctx context.Context, j *scheduledJob) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("periodic job panicked", "job", j.name, "panic", r)
		}
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()
	slog.Debug("periodic job started", "job", j.name)
	j.fn(ctx)
}
