// Package store holds modes, settings, stored messages and the per-session
// diagnostic journal. Memory is the in-process implementation; Postgres
// backs modes, settings and messages with a database.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"yuzu/voicegw/internal/collab"
	"yuzu/voicegw/internal/types"
)

const (
	maxEvents      = 200 // per session
	maxJournals    = 1000
	truncatedEvent = "events_truncated"
)

// StoredMessage is a persisted conversation line.
type StoredMessage struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"user_id"`
	Content   string    `json:"content"`
	IsAI      bool      `json:"is_ai"`
	CreatedAt time.Time `json:"created_at"`
}

type Memory struct {
	mu       sync.RWMutex
	modes    map[string]collab.Mode
	settings collab.Settings
	messages []StoredMessage

	events  map[string][]types.Event
	dropped map[string]int
	journal []string // session ids in first-seen order
}

func NewMemory() *Memory {
	return &Memory{
		modes:   make(map[string]collab.Mode),
		events:  make(map[string][]types.Event),
		dropped: make(map[string]int),
	}
}

// PutMode registers a mode under its id.
func (s *Memory) PutMode(m collab.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[m.ID] = m
}

func (s *Memory) ResolveMode(_ context.Context, id string) (collab.Mode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.modes[id]; ok {
		return m, nil
	}
	return collab.Mode{}, fmt.Errorf("%w: %s", collab.ErrModeNotFound, id)
}

func (s *Memory) PutSettings(st collab.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = st
}

func (s *Memory) Settings(context.Context) (collab.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Memory) SaveMessage(_ context.Context, m collab.Message) error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return fmt.Errorf("%w: message without owner", collab.ErrPersistence)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, StoredMessage{
		ID:        uuid.NewString(),
		OwnerID:   m.OwnerID,
		Content:   m.Text,
		IsAI:      m.IsAI,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Messages returns the owner's messages, oldest first.
func (s *Memory) Messages(ownerID string) []StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StoredMessage
	for _, m := range s.messages {
		if m.OwnerID == ownerID {
			out = append(out, m)
		}
	}
	return out
}

func (s *Memory) AppendEvent(sessionID, typ string, payload map[string]any) {
	evt := types.Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[sessionID]; !ok {
		s.journal = append(s.journal, sessionID)
		if len(s.journal) > maxJournals {
			delete(s.events, s.journal[0])
			delete(s.dropped, s.journal[0])
			s.journal = s.journal[1:]
		}
	}
	s.events[sessionID] = append(s.events[sessionID], evt)
	// Cap total events per session: the newest maxEvents-1 survive plus a
	// single truncation marker carrying the running drop count.
	if l := len(s.events[sessionID]); l > maxEvents {
		keep := maxEvents - 1
		kept := make([]types.Event, 0, l)
		for _, e := range s.events[sessionID] {
			if e.Type != truncatedEvent {
				kept = append(kept, e)
			}
		}
		dropped := len(kept) - keep
		kept = append([]types.Event(nil), kept[dropped:]...)
		s.dropped[sessionID] += dropped
		warn := types.Event{Type: truncatedEvent, Ts: time.Now().UTC(),
			Payload: map[string]any{"session_id": sessionID, "dropped": s.dropped[sessionID], "kept": keep}}
		s.events[sessionID] = append(kept, warn)
	}
}

// ListEvents returns a copy of the session's journal.
func (s *Memory) ListEvents(sessionID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

// HasJournal reports whether any event was ever recorded for the session.
func (s *Memory) HasJournal(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[sessionID]
	return ok
}
