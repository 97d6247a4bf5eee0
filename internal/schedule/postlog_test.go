package schedule

import (
	"context"
	"testing"
	"time"
)

func TestPostLogRecordIdempotent(t *testing.T) {
	t.Parallel()
	pl := NewPostLog(newFakeStore(), 48*time.Hour)
	ctx := context.Background()
	start := time.Date(2026, time.January, 8, 20, 0, 0, 0, time.UTC)
	key := PostKey(-1, "siege", start, 30)

	added, err := pl.Record(ctx, key, start)
	if err != nil || !added {
		t.Fatalf("first Record: added=%v err=%v", added, err)
	}
	added, err = pl.Record(ctx, key, start)
	if err != nil || added {
		t.Fatalf("second Record: added=%v err=%v", added, err)
	}

	ok, err := pl.Has(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Has: ok=%v err=%v", ok, err)
	}
}

func TestPostLogPruneRetention(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	pl := NewPostLog(store, 48*time.Hour)
	ctx := context.Background()

	old := time.Date(2026, time.January, 1, 20, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, time.January, 8, 20, 0, 0, 0, time.UTC)
	oldKey := PostKey(-1, "siege", old, 0)
	freshKey := PostKey(-1, "siege", fresh, 0)

	if _, err := pl.Record(ctx, oldKey, old); err != nil {
		t.Fatal(err)
	}
	if _, err := pl.Record(ctx, freshKey, fresh); err != nil {
		t.Fatal(err)
	}

	// Midway through the fresh occurrence's retention window.
	now := fresh.Add(24 * time.Hour)
	removed, err := pl.Prune(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed %d entries, want 1", removed)
	}
	if ok, _ := pl.Has(ctx, freshKey); !ok {
		t.Fatal("entry inside its retention window was pruned")
	}
	if ok, _ := pl.Has(ctx, oldKey); ok {
		t.Fatal("expired entry survived pruning")
	}
}
