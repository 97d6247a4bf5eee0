package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"raidherald/internal/storage"
	"raidherald/pkg/logx"
)

// fakeStore is an in-memory storage.Store with injectable mark-write failure.
type fakeStore struct {
	mu      sync.Mutex
	marks   map[string]time.Time
	putErr  error
	putHits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{marks: map[string]time.Time{}}
}

func (f *fakeStore) SaveDoc(context.Context, string, any) error { return nil }

func (f *fakeStore) LoadDoc(context.Context, string, any) (bool, error) { return false, nil }

func (f *fakeStore) PutMark(_ context.Context, key string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putHits++
	if f.putErr != nil {
		return f.putErr
	}
	f.marks[key] = until
	return nil
}

func (f *fakeStore) GetMark(_ context.Context, key string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.marks[key]
	return until, ok, nil
}

func (f *fakeStore) PruneMarks(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for k, until := range f.marks {
		if !until.After(now) {
			delete(f.marks, k)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeStore) AppendSent(context.Context, storage.SentRecord) error { return nil }
func (f *fakeStore) Close() error                                         { return nil }

func testCommunity(e EventDefinition) []CommunityEvents {
	return []CommunityEvents{{
		ChatID:         -100200,
		AnnounceChatID: -100200,
		Events:         []EventDefinition{e},
	}}
}

func TestCollectDueOffsetOnce(t *testing.T) {
	t.Parallel()
	berlin := mustLoc(t, "Europe/Berlin")
	ev := NewEvaluator(NewPostLog(newFakeStore(), 0), berlin, 30*time.Second, logx.Nop())

	e := siegeEvent()
	start := time.Date(2026, time.January, 8, 20, 0, 0, 0, berlin)

	// 19:30:10 sits in the poll window of the 30-minute offset only.
	now := start.Add(-30*time.Minute + 10*time.Second)
	due := ev.CollectDue(context.Background(), testCommunity(e), now)
	if len(due) != 1 {
		t.Fatalf("expected 1 due reminder, got %v", due)
	}
	if due[0].OffsetMin != 30 || !due[0].OccurrenceStart.Equal(start) {
		t.Fatalf("unexpected reminder: %+v", due[0])
	}

	// The same tick repeated must not yield it again.
	if again := ev.CollectDue(context.Background(), testCommunity(e), now); len(again) != 0 {
		t.Fatalf("duplicate reminder on repeated tick: %v", again)
	}

	// A later tick past the poll window must not back-fill it either.
	late := start.Add(-29 * time.Minute)
	if missed := ev.CollectDue(context.Background(), testCommunity(e), late); len(missed) != 0 {
		t.Fatalf("reminder fired outside its poll window: %v", missed)
	}
}

func TestCollectDueSurvivesRestart(t *testing.T) {
	t.Parallel()
	berlin := mustLoc(t, "Europe/Berlin")
	store := newFakeStore()

	e := siegeEvent()
	start := time.Date(2026, time.January, 8, 20, 0, 0, 0, berlin)
	now := start.Add(-10 * time.Minute)

	ev := NewEvaluator(NewPostLog(store, 0), berlin, 30*time.Second, logx.Nop())
	if due := ev.CollectDue(context.Background(), testCommunity(e), now); len(due) != 1 {
		t.Fatalf("expected 1 due reminder, got %v", due)
	}

	// Fresh evaluator over the same store simulates a restart mid-window.
	ev2 := NewEvaluator(NewPostLog(store, 0), berlin, 30*time.Second, logx.Nop())
	if due := ev2.CollectDue(context.Background(), testCommunity(e), now.Add(5*time.Second)); len(due) != 0 {
		t.Fatalf("reminder resent after restart: %v", due)
	}
}

func TestCollectDueSkipsOnCommitFailure(t *testing.T) {
	t.Parallel()
	berlin := mustLoc(t, "Europe/Berlin")
	store := newFakeStore()
	store.putErr = errors.New("disk full")

	e := siegeEvent()
	now := time.Date(2026, time.January, 8, 19, 30, 10, 0, berlin)

	ev := NewEvaluator(NewPostLog(store, 0), berlin, 30*time.Second, logx.Nop())
	if due := ev.CollectDue(context.Background(), testCommunity(e), now); len(due) != 0 {
		t.Fatalf("uncommitted reminder must not be returned: %v", due)
	}
	if store.putHits == 0 {
		t.Fatal("commit was never attempted")
	}
}

func TestCollectDueZeroDurationStartAnnouncement(t *testing.T) {
	t.Parallel()
	berlin := mustLoc(t, "Europe/Berlin")
	ev := NewEvaluator(NewPostLog(newFakeStore(), 0), berlin, 30*time.Second, logx.Nop())

	// A zero-duration event is valid; its start announcement must still fire
	// on the first tick after the start instant.
	e := EventDefinition{
		Name:     "Flash Raid",
		Weekdays: []time.Weekday{time.Thursday},
		Start:    "20:00",
		Offsets:  []int{0},
	}
	start := time.Date(2026, time.January, 8, 20, 0, 0, 0, berlin)
	now := start.Add(10 * time.Second)

	due := ev.CollectDue(context.Background(), testCommunity(e), now)
	if len(due) != 1 {
		t.Fatalf("start announcement not due at %v, got %v", now, due)
	}
	if due[0].OffsetMin != 0 || !due[0].OccurrenceStart.Equal(start) {
		t.Fatalf("unexpected reminder: %+v", due[0])
	}
}

func TestCollectDueIgnoresUnconfiguredCommunities(t *testing.T) {
	t.Parallel()
	berlin := mustLoc(t, "Europe/Berlin")
	ev := NewEvaluator(NewPostLog(newFakeStore(), 0), berlin, 30*time.Second, logx.Nop())

	e := siegeEvent()
	now := time.Date(2026, time.January, 8, 19, 30, 10, 0, berlin)
	comms := []CommunityEvents{
		{ChatID: -1, AnnounceChatID: 0, Events: []EventDefinition{e}},
		{ChatID: -2, AnnounceChatID: -2},
	}
	if due := ev.CollectDue(context.Background(), comms, now); len(due) != 0 {
		t.Fatalf("expected nothing due, got %v", due)
	}
}
