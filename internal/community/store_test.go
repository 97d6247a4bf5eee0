package community

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"raidherald/internal/schedule"
	"raidherald/internal/storage"
	"raidherald/pkg/logx"
)

func openStore(t *testing.T, dir string) (*Store, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(dir, "raidherald.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	s := NewStore(st, logx.Nop())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s, st
}

func siege() schedule.EventDefinition {
	return schedule.EventDefinition{
		Name:        "Siege",
		Weekdays:    []time.Weekday{time.Monday, time.Thursday},
		Start:       "20:00",
		DurationMin: 60,
		Offsets:     []int{30, 10, 0},
		Mention:     "@raiders",
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s, st := openStore(t, dir)
	if err := s.SetAnnounceTarget(ctx, -100, -200, 7); err != nil {
		t.Fatalf("SetAnnounceTarget: %v", err)
	}
	if err := s.UpsertEvent(ctx, -100, siege()); err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}

	// A fresh store over the same backend must see the same state.
	s2 := NewStore(st, logx.Nop())
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	c, ok := s2.Get(-100)
	if !ok {
		t.Fatal("community missing after reload")
	}
	if c.AnnounceChatID != -200 || c.AnnounceThreadID != 7 {
		t.Fatalf("announce target lost: %+v", c)
	}
	ev, ok := c.Events[schedule.EventKey("Siege")]
	if !ok {
		t.Fatal("event missing after reload")
	}
	if ev.Start != "20:00" || ev.Mention != "@raiders" || len(ev.Offsets) != 3 {
		t.Fatalf("event corrupted: %+v", ev)
	}
}

func TestUpsertReplacesByKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openStore(t, t.TempDir())

	if err := s.UpsertEvent(ctx, -100, siege()); err != nil {
		t.Fatal(err)
	}
	repl := siege()
	repl.Name = "SIEGE" // same key, different casing
	repl.Start = "21:00"
	if err := s.UpsertEvent(ctx, -100, repl); err != nil {
		t.Fatal(err)
	}

	c, _ := s.Get(-100)
	if len(c.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(c.Events))
	}
	if got := c.Events[schedule.EventKey("siege")]; got.Start != "21:00" {
		t.Fatalf("event not replaced: %+v", got)
	}
}

func TestRemoveEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openStore(t, t.TempDir())

	if err := s.UpsertEvent(ctx, -100, siege()); err != nil {
		t.Fatal(err)
	}

	removed, err := s.RemoveEvent(ctx, -100, "  siege ")
	if err != nil || !removed {
		t.Fatalf("RemoveEvent: removed=%v err=%v", removed, err)
	}
	removed, err = s.RemoveEvent(ctx, -100, "siege")
	if err != nil || removed {
		t.Fatalf("second RemoveEvent: removed=%v err=%v", removed, err)
	}
	removed, err = s.RemoveEvent(ctx, -999, "siege")
	if err != nil || removed {
		t.Fatalf("RemoveEvent on unknown chat: removed=%v err=%v", removed, err)
	}
}

func TestSnapshotStableOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openStore(t, t.TempDir())

	b := siege()
	b.Name = "Border War"
	if err := s.UpsertEvent(ctx, -2, siege()); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEvent(ctx, -2, b); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEvent(ctx, -1, siege()); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 communities, got %d", len(snap))
	}
	if snap[0].ChatID != -2 || snap[1].ChatID != -1 {
		t.Fatalf("communities not sorted: %+v", snap)
	}
	if snap[0].Events[0].Name != "Border War" || snap[0].Events[1].Name != "Siege" {
		t.Fatalf("events not key-sorted: %+v", snap[0].Events)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openStore(t, t.TempDir())

	if err := s.UpsertEvent(ctx, -100, siege()); err != nil {
		t.Fatal(err)
	}
	c, _ := s.Get(-100)
	delete(c.Events, schedule.EventKey("siege"))

	c2, _ := s.Get(-100)
	if len(c2.Events) != 1 {
		t.Fatal("Get leaked internal state")
	}
}
