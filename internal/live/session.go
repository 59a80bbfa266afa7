// Package live keeps one viewer's copy of an event in step with the server.
//
// A Session never merges: every snapshot replaces the whole view, because
// the snapshot is already the complete, partitioned state.
package live

import (
	"context"
	"errors"
	"sync"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/ledger"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/notify"
)

// ErrEventDeleted is the terminal state of a session whose event was removed.
var ErrEventDeleted = errors.New("event deleted")

// View is a viewer's local picture of an event.
type View struct {
	Event      model.Event    `json:"event"`
	Signups    []model.Signup `json:"signups"`
	Confirmed  []model.Signup `json:"confirmed"`
	Waitlisted []model.Signup `json:"waitlisted"`
}

// NewView derives a view from a full snapshot message.
func NewView(msg notify.Message) View {
	signups := ledger.Sorted(msg.Signups)
	confirmed, waitlisted := ledger.Partition(signups, msg.Event.Capacity)
	return View{
		Event:      msg.Event,
		Signups:    signups,
		Confirmed:  confirmed,
		Waitlisted: waitlisted,
	}
}

// Session ties a subscription to the view it reconciles.
type Session struct {
	sub *notify.Subscription

	mu       sync.Mutex
	view     View
	terminal error
}

// NewSession starts a session at initial and reconciles further snapshots
// received through sub. The session owns sub and closes it on Close.
func NewSession(sub *notify.Subscription, initial notify.Message) *Session {
	s := &Session{sub: sub}
	s.apply(initial)
	return s
}

// EventID returns the id the session is watching.
func (s *Session) EventID() string {
	return s.sub.EventID
}

// Current returns the last reconciled view.
func (s *Session) Current() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Err returns the terminal error, if the session has ended.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Next waits for the next message and returns the replaced view. Snapshots
// older than the current view are skipped. A deleted event yields
// ErrEventDeleted, now and on every later call.
func (s *Session) Next(ctx context.Context) (View, error) {
	if err := s.Err(); err != nil {
		return s.Current(), err
	}
	for {
		msg, err := s.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, notify.ErrClosed) {
				s.fail(err)
			}
			return s.Current(), err
		}
		if msg.Older(s.Current().Event.Version) {
			continue
		}
		s.apply(msg)
		return s.Current(), s.Err()
	}
}

// Close detaches the session from the notifier. It is idempotent.
func (s *Session) Close() {
	s.sub.Close()
}

func (s *Session) apply(msg notify.Message) {
	if msg.Terminal() {
		s.fail(ErrEventDeleted)
		s.sub.Close()
		return
	}
	view := NewView(msg)
	s.mu.Lock()
	s.view = view
	s.mu.Unlock()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.terminal == nil {
		s.terminal = err
	}
	s.mu.Unlock()
}
