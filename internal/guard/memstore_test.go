package guard

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_PutGetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "c1", "k"); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, "c1", "k", "v", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := s.Get(ctx, "c1", "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}

	// Overwrite replaces the value.
	if err := s.Put(ctx, "c1", "k", "v2", time.Minute); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}
	if v, _, _ := s.Get(ctx, "c1", "k"); v != "v2" {
		t.Fatalf("overwrite not applied: %q", v)
	}

	if err := s.Delete(ctx, "c1", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "c1", "k"); ok {
		t.Fatalf("deleted entry still readable")
	}
	// Deleting again is a no-op.
	if err := s.Delete(ctx, "c1", "k"); err != nil {
		t.Fatalf("double delete: %v", err)
	}
}

func TestMemoryStore_ExpiryOnGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	if err := s.Put(ctx, "c1", "k", "v", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	s.now = func() time.Time { return base.Add(time.Minute + time.Second) }
	if _, ok, _ := s.Get(ctx, "c1", "k"); ok {
		t.Fatalf("expired entry must be a miss")
	}
}

func TestMemoryStore_ConversationIsolationAndClear(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Put(ctx, "c1", "k", "v1", time.Minute)
	_ = s.Put(ctx, "c2", "k", "v2", time.Minute)

	if err := s.Clear(ctx, "c1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "c1", "k"); ok {
		t.Fatalf("cleared conversation still has entries")
	}
	if v, ok, _ := s.Get(ctx, "c2", "k"); !ok || v != "v2" {
		t.Fatalf("clear leaked into another conversation: v=%q ok=%v", v, ok)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	_ = s.Put(ctx, "c1", "stale", "v", time.Minute)
	_ = s.Put(ctx, "c1", "fresh", "v", time.Hour)
	_ = s.Put(ctx, "c2", "stale", "v", time.Minute)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if n := s.Sweep(); n != 2 {
		t.Fatalf("sweep evicted %d, want 2", n)
	}
	if _, ok, _ := s.Get(ctx, "c1", "fresh"); !ok {
		t.Fatalf("fresh entry swept")
	}
	if _, ok, _ := s.Get(ctx, "c2", "stale"); ok {
		t.Fatalf("stale entry survived sweep")
	}
	// Nothing left to evict.
	if n := s.Sweep(); n != 0 {
		t.Fatalf("second sweep evicted %d, want 0", n)
	}
}
