// Package cachetest provides a compliance suite shared by cache adapters.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/decisiongate/internal/port/cache"
)

// Settle is called after writes for caches that apply them asynchronously
// (ristretto buffers Set calls). It may be nil.
type Settle func()

// RunComplianceTests runs the standard compliance test suite against any Cache implementation.
func RunComplianceTests(t *testing.T, c cache.Cache, settle Settle) {
	t.Helper()
	ctx := context.Background()
	wait := func() {
		if settle != nil {
			settle()
		}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "health:treasury", []byte(`{"status":"active"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		wait()
		val, found, err := c.Get(ctx, "health:treasury")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"status":"active"}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "health:nonexistent")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "health:del", []byte("x"), time.Minute)
		wait()
		if err := c.Delete(ctx, "health:del"); err != nil {
			t.Fatal(err)
		}
		wait()
		_, found, err := c.Get(ctx, "health:del")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "health:never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "health:ow", []byte("v1"), time.Minute)
		wait()
		_ = c.Set(ctx, "health:ow", []byte("v2"), time.Minute)
		wait()
		val, found, err := c.Get(ctx, "health:ow")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})
}
