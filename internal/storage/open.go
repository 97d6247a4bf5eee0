package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"raidherald/pkg/logx"
)

// Store is the persistence API used by the community store, the post-log
// and the reminder service.
type Store interface {
	// SaveDoc / LoadDoc persist a named JSON-serializable document.
	// LoadDoc returns ok=false when the document does not exist yet.
	SaveDoc(ctx context.Context, name string, v any) error
	LoadDoc(ctx context.Context, name string, v any) (ok bool, err error)

	// Post-log marks. A mark's "until" is the instant the entry may be pruned.
	PutMark(ctx context.Context, key string, until time.Time) error
	GetMark(ctx context.Context, key string) (until time.Time, ok bool, err error)
	PruneMarks(ctx context.Context, now time.Time) (removed int, err error)

	AppendSent(ctx context.Context, r SentRecord) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
