package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"raidherald/internal/community"
	"raidherald/internal/schedule"
	"raidherald/internal/storage"
	"raidherald/internal/transport"
	"raidherald/pkg/logx"
)

type sentMsg struct {
	To   transport.ChatTarget
	Text string
}

// fakeAdapter records sends and optionally fails them.
type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sentMsg
	sendErr error
}

func (a *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }

func (a *fakeAdapter) Stop(context.Context) error { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return transport.MessageRef{}, a.sendErr
	}
	a.sent = append(a.sent, sentMsg{To: to, Text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) IsChatAdmin(context.Context, int64, int64) (bool, error) { return true, nil }

func (a *fakeAdapter) messages() []sentMsg {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sentMsg(nil), a.sent...)
}

type fixture struct {
	svc     *Service
	adapter *fakeAdapter
	store   storage.Store
	mock    *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "raidherald.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	comms := community.NewStore(st, logx.Nop())
	if err := comms.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	ev := schedule.EventDefinition{
		Name:        "Siege",
		Weekdays:    []time.Weekday{time.Thursday},
		Start:       "20:00",
		DurationMin: 60,
		Offsets:     []int{30, 0},
		Mention:     "@raiders",
	}
	if err := comms.UpsertEvent(context.Background(), -100, ev); err != nil {
		t.Fatal(err)
	}
	if err := comms.SetAnnounceTarget(context.Background(), -100, -200, 0); err != nil {
		t.Fatal(err)
	}

	mock := clock.NewMock()
	adapter := &fakeAdapter{}
	svc := New(
		Config{
			Enabled:     true,
			PollPeriod:  30 * time.Second,
			Timezone:    "Europe/Berlin",
			SendTimeout: 5 * time.Second,
		},
		Deps{
			Adapter:     adapter,
			Communities: comms,
			PostLog:     schedule.NewPostLog(st, 48*time.Hour),
			Store:       st,
			Clock:       mock,
		},
		logx.Nop(),
	)
	return &fixture{svc: svc, adapter: adapter, store: st, mock: mock}
}

func berlinTime(t *testing.T, h, m, s int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	// Thursday 2026-01-08.
	return time.Date(2026, time.January, 8, h, m, s, 0, loc)
}

func TestTickSendsDueReminderOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.mock.Set(berlinTime(t, 19, 30, 10))
	f.svc.Start(ctx)
	defer f.svc.Stop(ctx)

	f.svc.Tick(ctx)

	msgs := f.adapter.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 send, got %d: %v", len(msgs), msgs)
	}
	if msgs[0].To.ChatID != -200 {
		t.Fatalf("sent to wrong chat: %+v", msgs[0].To)
	}
	if !strings.Contains(msgs[0].Text, "Siege starts in 30 min") ||
		!strings.Contains(msgs[0].Text, "@raiders") {
		t.Fatalf("unexpected text: %q", msgs[0].Text)
	}

	// Same instant again: nothing new.
	f.svc.Tick(ctx)
	if n := len(f.adapter.messages()); n != 1 {
		t.Fatalf("duplicate send on repeated tick: %d messages", n)
	}
}

func TestTickZeroOffsetAnnouncement(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.mock.Set(berlinTime(t, 20, 0, 5))
	f.svc.Start(ctx)
	defer f.svc.Stop(ctx)

	f.svc.Tick(ctx)

	msgs := f.adapter.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 send, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Text, "Siege is live now") ||
		!strings.Contains(msgs[0].Text, "21:00") {
		t.Fatalf("unexpected text: %q", msgs[0].Text)
	}
}

func TestSendFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.mock.Set(berlinTime(t, 19, 30, 10))
	f.svc.Start(ctx)
	defer f.svc.Stop(ctx)

	f.adapter.mu.Lock()
	f.adapter.sendErr = errors.New("telegram: 502")
	f.adapter.mu.Unlock()

	f.svc.Tick(ctx)

	// Clear the fault; later ticks must not re-deliver the committed reminder.
	f.adapter.mu.Lock()
	f.adapter.sendErr = nil
	f.adapter.mu.Unlock()

	f.mock.Set(berlinTime(t, 19, 30, 20))
	f.svc.Tick(ctx)
	if n := len(f.adapter.messages()); n != 0 {
		t.Fatalf("failed send was retried: %d messages", n)
	}
}

func TestLoopTicksOnMockClock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.mock.Set(berlinTime(t, 19, 29, 45))
	f.svc.Start(ctx)
	defer f.svc.Stop(ctx)

	// Let the loop goroutine register its ticker before advancing the clock.
	time.Sleep(50 * time.Millisecond)

	// One poll period later the 30-minute reminder window has opened.
	f.mock.Add(30 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.adapter.messages()) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("loop did not deliver the reminder; sent=%v", f.adapter.messages())
}

func TestFormatReminder(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	d := schedule.DueReminder{
		Event:           schedule.EventDefinition{Name: "Siege", DurationMin: 90, Mention: "@raiders"},
		OccurrenceStart: time.Date(2026, time.January, 8, 20, 0, 0, 0, loc),
		OffsetMin:       10,
	}

	got := FormatReminder(d, loc)
	want := "⏳ Siege starts in 10 min (20:00). @raiders"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	d.OffsetMin = 0
	got = FormatReminder(d, loc)
	want = "🚀 Siege is live now! Runs until 21:30. @raiders"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
