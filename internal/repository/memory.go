package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/ledger"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
)

var _ Store = (*MemoryStore)(nil)

type memoryEvent struct {
	event   model.Event
	seq     uint64
	signups []model.Signup
}

// MemoryStore keeps events in process memory. It is the default store for
// local development and the reference implementation for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	seq    uint64
	events map[string]*memoryEvent
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*memoryEvent)}
}

// PutEvent inserts a new event or returns ErrConflict.
func (s *MemoryStore) PutEvent(ctx context.Context, event model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ID]; ok {
		return ErrConflict
	}
	s.seq++
	s.events[event.ID] = &memoryEvent{event: event, seq: s.seq}
	return nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *MemoryStore) GetEvent(ctx context.Context, id string) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return rec.event, nil
}

// DeleteEvent removes the event together with its signups.
func (s *MemoryStore) DeleteEvent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return ErrNotFound
	}
	delete(s.events, id)
	return nil
}

// AppendSignup adds a signup unless its normalized name is already present.
func (s *MemoryStore) AppendSignup(ctx context.Context, signup model.Signup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[signup.EventID]
	if !ok {
		return ErrNotFound
	}
	next, err := ledger.Add(rec.signups, signup)
	if err != nil {
		return ErrConstraintViolation
	}
	rec.signups = next
	rec.event.Version++
	return nil
}

// DeleteSignup removes the first signup matching nameKey.
func (s *MemoryStore) DeleteSignup(ctx context.Context, eventID, nameKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[eventID]
	if !ok {
		return ErrNotFound
	}
	next, _, err := ledger.Remove(rec.signups, nameKey)
	if err != nil {
		return ErrNotFound
	}
	rec.signups = next
	rec.event.Version++
	return nil
}

// ListSignups returns a copy of the event's signups in creation order.
func (s *MemoryStore) ListSignups(ctx context.Context, eventID string) ([]model.Signup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]model.Signup{}, rec.signups...), nil
}

// ListEvents returns every event, newest first.
func (s *MemoryStore) ListEvents(ctx context.Context) ([]model.EventSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	recs := make([]*memoryEvent, 0, len(s.events))
	for _, rec := range s.events {
		recs = append(recs, rec)
	}
	out := make([]model.EventSummary, 0, len(recs))
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.event.CreatedAt.Equal(b.event.CreatedAt) {
			return a.event.CreatedAt.After(b.event.CreatedAt)
		}
		return a.seq > b.seq
	})
	for _, rec := range recs {
		out = append(out, model.EventSummary{Event: rec.event, SignupCount: len(rec.signups)})
	}
	s.mu.RUnlock()
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
