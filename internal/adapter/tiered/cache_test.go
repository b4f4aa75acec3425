package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/decisiongate/internal/adapter/tiered"
	"github.com/Strob0t/decisiongate/internal/port/cache/cachetest"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	data map[string][]byte
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func TestTiered_Compliance(t *testing.T) {
	cachetest.RunComplianceTests(t, tiered.New(newMemCache(), newMemCache(), time.Minute), nil)
}

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l1.data["health:governance"] = []byte("active")

	val, found, err := c.Get(context.Background(), "health:governance")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "active" {
		t.Fatalf("expected L1 hit with active, got %q found=%v", val, found)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l2.data["health:treasury"] = []byte("inactive")

	val, found, err := c.Get(context.Background(), "health:treasury")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "inactive" {
		t.Fatalf("expected L2 hit, got %q found=%v", val, found)
	}
	if string(l1.data["health:treasury"]) != "inactive" {
		t.Fatal("expected L1 backfill")
	}
}

func TestTiered_L2FailureIsMiss(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	l2.err = errors.New("nats down")
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "health:security")
	if err != nil {
		t.Fatalf("L2 failure should degrade to a miss, got %v", err)
	}
	if found {
		t.Fatal("expected miss")
	}

	if err := c.Set(ctx, "health:security", []byte("active"), time.Minute); err != nil {
		t.Fatalf("L2 failure on Set should not surface, got %v", err)
	}
	if _, ok := l1.data["health:security"]; !ok {
		t.Fatal("expected L1 write despite L2 failure")
	}
}

func TestTiered_DeleteBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l1.data["k"] = []byte("v")
	l2.data["k"] = []byte("v")

	if err := c.Delete(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; ok {
		t.Fatal("expected k deleted from L1")
	}
	if _, ok := l2.data["k"]; ok {
		t.Fatal("expected k deleted from L2")
	}
}
