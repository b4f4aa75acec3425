package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Strob0t/decisiongate/internal/domain/schedule"
)

func mustSpec(t *testing.T, expr string) schedule.Spec {
	t.Helper()
	spec, err := schedule.Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	return spec
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)}
	s := NewSchedulerService(time.Second)
	s.now = clock.now

	var hourly, daily atomic.Int32
	if err := s.RegisterPeriodic("sweep", mustSpec(t, "hourly"), func(context.Context) { hourly.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterPeriodic("digest", mustSpec(t, "daily"), func(context.Context) { daily.Add(1) }); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s.tick(ctx)
	s.wg.Wait()
	if hourly.Load() != 0 || daily.Load() != 0 {
		t.Fatal("nothing is due yet")
	}

	clock.advance(30 * time.Minute)
	s.tick(ctx)
	s.wg.Wait()
	if hourly.Load() != 1 || daily.Load() != 0 {
		t.Fatalf("expected hourly once, got hourly=%d daily=%d", hourly.Load(), daily.Load())
	}

	// Same slot does not run twice.
	s.tick(ctx)
	s.wg.Wait()
	if hourly.Load() != 1 {
		t.Fatalf("expected no rerun in the same slot, got %d", hourly.Load())
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].Name != "digest" || !jobs[1].Next.Equal(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}

func TestScheduler_DuplicateName(t *testing.T) {
	s := NewSchedulerService(0)
	fn := func(context.Context) {}
	if err := s.RegisterPeriodic("a", mustSpec(t, "hourly"), fn); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterPeriodic("a", mustSpec(t, "daily"), fn); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	s := NewSchedulerService(time.Second)
	s.now = clock.now

	release := make(chan struct{})
	var runs atomic.Int32
	var started sync.WaitGroup
	started.Add(1)
	if err := s.RegisterPeriodic("slow", mustSpec(t, "every:1m"), func(context.Context) {
		if runs.Add(1) == 1 {
			started.Done()
		}
		<-release
	}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	clock.advance(time.Minute)
	s.tick(ctx)
	started.Wait()

	clock.advance(time.Minute)
	s.tick(ctx)
	close(release)
	s.wg.Wait()

	if runs.Load() != 1 {
		t.Fatalf("expected overlapping run skipped, got %d runs", runs.Load())
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewSchedulerService(5 * time.Millisecond)
	var runs atomic.Int32
	if err := s.RegisterPeriodic("fast", mustSpec(t, "every:1s"), func(context.Context) { runs.Add(1) }); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
