package schedule

import (
	"context"
	"sync"
	"time"

	"raidherald/internal/storage"
)

// PostLog is the dedup ledger of sent reminders.
//
// Record is the single point of truth for "already sent": has-then-record is
// one step under the mutex, so overlapping evaluation passes can never both
// observe an absent key and both proceed to send.
//
// Entries are written through to the store before Record returns, so a crash
// after Record but before the message send loses at most that one reminder
// and never produces a duplicate on restart.
type PostLog struct {
	mu        sync.Mutex
	store     storage.Store
	retention time.Duration
}

func NewPostLog(store storage.Store, retention time.Duration) *PostLog {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &PostLog{store: store, retention: retention}
}

// SetRetention updates the retention window for later Record calls.
func (p *PostLog) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.retention = d
	p.mu.Unlock()
}

// Has reports whether the key is already in the ledger.
func (p *PostLog) Has(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok, err := p.store.GetMark(ctx, key)
	return ok, err
}

// Record durably marks the key as sent. It returns added=false (and no error)
// when the key was already present; recording twice is a no-op.
//
// The retention deadline is relative to the occurrence start, not to now, so
// pruning never removes an entry whose occurrence could still have due
// reminders.
func (p *PostLog) Record(ctx context.Context, key string, occurrenceStart time.Time) (added bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok, err := p.store.GetMark(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := p.store.PutMark(ctx, key, occurrenceStart.Add(p.retention)); err != nil {
		return false, err
	}
	return true, nil
}

// Prune drops entries whose retention deadline has passed.
func (p *PostLog) Prune(ctx context.Context, now time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.PruneMarks(ctx, now)
}
