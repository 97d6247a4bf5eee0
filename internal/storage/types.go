package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshot + jsonl journal)
//   - "sqlite": SQLite database file
//
// Empty Driver defaults to "file".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SentRecord is one row of the sent-reminder journal.
// Keep it compact and schema-stable.
type SentRecord struct {
	At              time.Time
	ChatID          int64
	EventName       string
	OccurrenceStart time.Time
	OffsetMin       int
	OK              bool
	Error           string
	TookMS          int64
}
