package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openSQLiteStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "raidherald.sqlite")}, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func TestSQLiteDocUpsert(t *testing.T) {
	t.Parallel()
	st := openSQLiteStore(t, t.TempDir())
	defer st.Close()
	ctx := context.Background()

	type doc struct {
		Rev int `json:"rev"`
	}
	if err := st.SaveDoc(ctx, "communities", doc{Rev: 1}); err != nil {
		t.Fatalf("SaveDoc: %v", err)
	}
	if err := st.SaveDoc(ctx, "communities", doc{Rev: 2}); err != nil {
		t.Fatalf("SaveDoc upsert: %v", err)
	}

	var got doc
	ok, err := st.LoadDoc(ctx, "communities", &got)
	if err != nil || !ok {
		t.Fatalf("LoadDoc: ok=%v err=%v", ok, err)
	}
	if got.Rev != 2 {
		t.Fatalf("got rev %d, want 2", got.Rev)
	}
}

func TestSQLiteMarksRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	until := time.Now().Add(48 * time.Hour)

	st := openSQLiteStore(t, dir)
	if err := st.PutMark(ctx, "k1", until); err != nil {
		t.Fatalf("PutMark: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2 := openSQLiteStore(t, dir)
	defer st2.Close()
	got, ok, err := st2.GetMark(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("GetMark after reopen: ok=%v err=%v", ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until drifted: got %v, want %v", got, until)
	}

	removed, err := st2.PruneMarks(ctx, until.Add(time.Second))
	if err != nil || removed != 1 {
		t.Fatalf("PruneMarks: removed=%d err=%v", removed, err)
	}
	if _, ok, _ := st2.GetMark(ctx, "k1"); ok {
		t.Fatal("pruned mark still present")
	}
}

func TestSQLiteAppendSent(t *testing.T) {
	t.Parallel()
	st := openSQLiteStore(t, t.TempDir())
	defer st.Close()
	ctx := context.Background()

	err := st.AppendSent(ctx, SentRecord{
		ChatID:          -100200,
		EventName:       "Siege",
		OccurrenceStart: time.Now().Add(30 * time.Minute),
		OffsetMin:       30,
		OK:              false,
		Error:           "telegram: 429",
		TookMS:          250,
	})
	if err != nil {
		t.Fatalf("AppendSent: %v", err)
	}
}
