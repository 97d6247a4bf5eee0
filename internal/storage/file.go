package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"raidherald/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.<doc>.json              (atomic snapshot per document)
//   - <prefix>.postlog.snapshot.json   (periodic snapshot of marks)
//   - <prefix>.postlog.journal.jsonl   (append-only journal of marks)
//   - <prefix>.sent.jsonl              (append-only sent-reminder journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	prefix string

	sentFile *os.File

	markSnapshotPath string
	markJournalFile  *os.File
	marks            map[string]int64 // unix milli

	markWrites int
}

type markRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	sentPath := prefix + ".sent.jsonl"
	snapPath := prefix + ".postlog.snapshot.json"
	journalPath := prefix + ".postlog.journal.jsonl"

	sf, err := os.OpenFile(sentPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load marks from snapshot + journal.
	marks := map[string]int64{}
	_ = loadMarkSnapshot(snapPath, marks)
	_ = replayMarkJournal(journalPath, marks)
	pruneExpired(marks, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = sf.Close()
		return nil, err
	}

	return &fileStore{
		log:              log,
		prefix:           prefix,
		sentFile:         sf,
		markSnapshotPath: snapPath,
		markJournalFile:  jf,
		marks:            marks,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.sentFile != nil {
		err1 = s.sentFile.Close()
		s.sentFile = nil
	}
	if s.markJournalFile != nil {
		err2 = s.markJournalFile.Close()
		s.markJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) docPath(name string) string {
	return s.prefix + "." + name + ".json"
}

func (s *fileStore) SaveDoc(ctx context.Context, name string, v any) error {
	_ = ctx
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.docPath(name), b)
}

func (s *fileStore) LoadDoc(ctx context.Context, name string, v any) (bool, error) {
	_ = ctx
	s.mu.Lock()
	path := s.docPath(name)
	s.mu.Unlock()

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) PutMark(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markJournalFile == nil {
		return ErrClosed
	}
	s.marks[key] = ms

	enc := json.NewEncoder(s.markJournalFile)
	if err := enc.Encode(markRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.markWrites++
	if s.markWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(time.Now()); err != nil {
			s.log.Debug("postlog compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetMark(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.marks[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) PruneMarks(ctx context.Context, now time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markJournalFile == nil {
		return 0, ErrClosed
	}
	before := len(s.marks)
	if err := s.compactLocked(now); err != nil {
		return 0, err
	}
	return before - len(s.marks), nil
}

func (s *fileStore) AppendSent(ctx context.Context, r SentRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.sentFile).Encode(r)
}

func (s *fileStore) compactLocked(now time.Time) error {
	pruneExpired(s.marks, now)

	b, err := json.Marshal(s.marks)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.markSnapshotPath, b); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.markJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.markJournalFile.Seek(0, 2)
	return err
}

func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadMarkSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayMarkJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r markRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpired(m map[string]int64, now time.Time) {
	ms := now.UnixMilli()
	for k, v := range m {
		if v < ms {
			delete(m, k)
		}
	}
}
