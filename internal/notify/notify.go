// Package notify fans event state changes out to every live subscriber of
// an event id.
//
// Delivery is "latest snapshot wins": each subscription holds at most one
// pending message and a newer publish replaces an unread one. Newer means a
// version no lower than any the subscription has already accepted, so a
// snapshot that loses a publish race is dropped. A pending deleted message is
// terminal and is never replaced.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/ledger"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
)

// ErrClosed is returned by Subscription.Next after the subscription ends.
var ErrClosed = errors.New("subscription closed")

// MessageType distinguishes state snapshots from the terminal deletion signal.
type MessageType string

const (
	TypeSnapshot MessageType = "snapshot"
	TypeDeleted  MessageType = "deleted"
)

// Message is the full state pushed to subscribers after a mutation.
type Message struct {
	Type    MessageType    `json:"type"`
	Event   model.Event    `json:"event"`
	Signups []model.Signup `json:"signups"`
}

// Terminal reports whether no further messages follow this one.
func (m Message) Terminal() bool {
	return m.Type == TypeDeleted
}

// Older reports whether m is a snapshot that predates version.
func (m Message) Older(version uint64) bool {
	return !m.Terminal() && m.Event.Version < version
}

// Snapshot builds a snapshot message with signups sorted by timestamp.
func Snapshot(detail model.EventDetail) Message {
	return Message{Type: TypeSnapshot, Event: detail.Event, Signups: ledger.Sorted(detail.Signups)}
}

// Deleted builds the terminal message for a removed event.
func Deleted(event model.Event) Message {
	return Message{Type: TypeDeleted, Event: event, Signups: []model.Signup{}}
}

// Publisher is the sending half of a notifier.
type Publisher interface {
	Publish(eventID string, msg Message)
}

var _ Publisher = (*Notifier)(nil)

// Notifier keeps the per-event subscriber registry for this process.
type Notifier struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// New constructs an empty Notifier.
func New() *Notifier {
	return &Notifier{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers interest in eventID.
func (n *Notifier) Subscribe(eventID string) *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		EventID:  eventID,
		notifier: n,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	n.mu.Lock()
	set, ok := n.subs[eventID]
	if !ok {
		set = make(map[*Subscription]struct{})
		n.subs[eventID] = set
	}
	set[sub] = struct{}{}
	n.mu.Unlock()
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (n *Notifier) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	n.mu.Lock()
	if set, ok := n.subs[sub.EventID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(n.subs, sub.EventID)
		}
	}
	n.mu.Unlock()
	sub.close()
}

// Publish hands msg to every current subscriber of eventID without blocking.
func (n *Notifier) Publish(eventID string, msg Message) {
	n.mu.Lock()
	set := n.subs[eventID]
	targets := make([]*Subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	n.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(msg)
	}
}

// Count returns the number of live subscribers for eventID.
func (n *Notifier) Count(eventID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[eventID])
}

// Reset closes every subscription and empties the registry.
func (n *Notifier) Reset() {
	n.mu.Lock()
	old := n.subs
	n.subs = make(map[string]map[*Subscription]struct{})
	n.mu.Unlock()

	for _, set := range old {
		for sub := range set {
			sub.close()
		}
	}
}

// Subscription receives messages for one event id.
type Subscription struct {
	ID      string
	EventID string

	notifier *Notifier

	mu      sync.Mutex
	pending *Message
	version uint64 // highest snapshot version accepted
	closed  bool
	ready   chan struct{}
	done    chan struct{}
}

func (s *Subscription) deliver(msg Message) {
	s.mu.Lock()
	if s.closed || (s.pending != nil && s.pending.Terminal()) || msg.Older(s.version) {
		s.mu.Unlock()
		return
	}
	s.version = max(s.version, msg.Event.Version)
	s.pending = &msg
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) take() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Message{}, false
	}
	msg := *s.pending
	s.pending = nil
	return msg, true
}

// Next blocks until a message is available, the subscription is closed, or
// ctx is done.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	for {
		if msg, ok := s.take(); ok {
			return msg, nil
		}
		select {
		case <-s.ready:
		case <-s.done:
			// A message delivered just before close is still handed out.
			if msg, ok := s.take(); ok {
				return msg, nil
			}
			return Message{}, ErrClosed
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes. It is idempotent.
func (s *Subscription) Close() {
	s.notifier.Unsubscribe(s)
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
