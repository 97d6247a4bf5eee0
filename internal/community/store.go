// Package community holds per-chat reminder configuration: the announce
// target and the set of recurring events.
package community

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"raidherald/internal/schedule"
	"raidherald/internal/storage"
	"raidherald/pkg/logx"
)

const docName = "communities"

// Community is the stored configuration of one chat.
type Community struct {
	ChatID           int64                               `json:"chat_id"`
	AnnounceChatID   int64                               `json:"announce_chat_id,omitempty"`
	AnnounceThreadID int                                 `json:"announce_thread_id,omitempty"`
	Events           map[string]schedule.EventDefinition `json:"events"` // keyed by schedule.EventKey
}

// Store keeps all community configs in memory and writes the whole document
// through to storage after every mutation. Mutations that fail to persist are
// rolled back, so a caller never sees success without durability.
type Store struct {
	mu    sync.RWMutex
	by    map[int64]*Community
	store storage.Store
	log   logx.Logger
}

func NewStore(st storage.Store, log logx.Logger) *Store {
	return &Store{by: map[int64]*Community{}, store: st, log: log}
}

// Load replaces the in-memory state with the persisted document (if any).
func (s *Store) Load(ctx context.Context) error {
	var doc map[int64]*Community
	ok, err := s.store.LoadDoc(ctx, docName, &doc)
	if err != nil {
		return fmt.Errorf("load %s: %w", docName, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok || doc == nil {
		s.by = map[int64]*Community{}
		return nil
	}
	for id, c := range doc {
		if c == nil {
			delete(doc, id)
			continue
		}
		c.ChatID = id
		if c.Events == nil {
			c.Events = map[string]schedule.EventDefinition{}
		}
	}
	s.by = doc
	return nil
}

func (s *Store) flushLocked(ctx context.Context) error {
	return s.store.SaveDoc(ctx, docName, s.by)
}

func (s *Store) getOrCreateLocked(chatID int64) *Community {
	c := s.by[chatID]
	if c == nil {
		c = &Community{ChatID: chatID, Events: map[string]schedule.EventDefinition{}}
		s.by[chatID] = c
	}
	return c
}

// SetAnnounceTarget binds the chat's reminder announcements to a target chat
// (and optional forum thread).
func (s *Store) SetAnnounceTarget(ctx context.Context, chatID, announceChatID int64, threadID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreateLocked(chatID)
	prevChat, prevThread := c.AnnounceChatID, c.AnnounceThreadID
	c.AnnounceChatID = announceChatID
	c.AnnounceThreadID = threadID

	if err := s.flushLocked(ctx); err != nil {
		c.AnnounceChatID, c.AnnounceThreadID = prevChat, prevThread
		return fmt.Errorf("persist announce target: %w", err)
	}
	return nil
}

// UpsertEvent adds or replaces an event. The definition must already be
// validated (schedule.ValidateEvent).
func (s *Store) UpsertEvent(ctx context.Context, chatID int64, ev schedule.EventDefinition) error {
	key := schedule.EventKey(ev.Name)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreateLocked(chatID)
	prev, had := c.Events[key]
	c.Events[key] = ev

	if err := s.flushLocked(ctx); err != nil {
		if had {
			c.Events[key] = prev
		} else {
			delete(c.Events, key)
		}
		return fmt.Errorf("persist event %q: %w", ev.Name, err)
	}
	return nil
}

// RemoveEvent deletes an event by name. Post-log entries of past occurrences
// are left behind; they are orphaned and age out with the retention window.
func (s *Store) RemoveEvent(ctx context.Context, chatID int64, name string) (bool, error) {
	key := schedule.EventKey(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.by[chatID]
	if c == nil {
		return false, nil
	}
	prev, had := c.Events[key]
	if !had {
		return false, nil
	}
	delete(c.Events, key)

	if err := s.flushLocked(ctx); err != nil {
		c.Events[key] = prev
		return false, fmt.Errorf("persist remove %q: %w", name, err)
	}
	return true, nil
}

// Get returns a copy of one community's config.
func (s *Store) Get(chatID int64) (Community, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.by[chatID]
	if c == nil {
		return Community{}, false
	}
	cp := *c
	cp.Events = make(map[string]schedule.EventDefinition, len(c.Events))
	for k, v := range c.Events {
		cp.Events[k] = v
	}
	return cp, true
}

// Snapshot returns the evaluator's view of all communities. Event order is
// stable (sorted by key) so evaluation and logs are deterministic.
func (s *Store) Snapshot() []schedule.CommunityEvents {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]schedule.CommunityEvents, 0, len(s.by))
	for _, c := range s.by {
		keys := make([]string, 0, len(c.Events))
		for k := range c.Events {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		evs := make([]schedule.EventDefinition, 0, len(keys))
		for _, k := range keys {
			evs = append(evs, c.Events[k])
		}
		out = append(out, schedule.CommunityEvents{
			ChatID:           c.ChatID,
			AnnounceChatID:   c.AnnounceChatID,
			AnnounceThreadID: c.AnnounceThreadID,
			Events:           evs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}
