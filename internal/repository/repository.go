// Package repository defines the EventStore contract and an in-memory
// implementation. SQL and Redis backed stores live in subpackages.
package repository

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
)

// ErrNotFound is returned when a requested event or signup does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by PutEvent when the event id is already taken.
var ErrConflict = errors.New("event id already exists")

// ErrConstraintViolation is returned by AppendSignup when the normalized
// name is already signed up for the event.
var ErrConstraintViolation = errors.New("signup name already exists for this event")

// Store persists events and their signups.
//
// Every method is atomic on its own: a failed call leaves no partial state.
// Signup uniqueness is keyed by ledger.NormalizeName of the signup name.
// AppendSignup and DeleteSignup bump the event's Version in the same
// transaction as the signup change.
type Store interface {
	// PutEvent inserts a new event. It never overwrites an existing id.
	PutEvent(ctx context.Context, event model.Event) error
	GetEvent(ctx context.Context, id string) (model.Event, error)
	// DeleteEvent removes the event and every signup that belongs to it.
	DeleteEvent(ctx context.Context, id string) error

	AppendSignup(ctx context.Context, signup model.Signup) error
	// DeleteSignup removes at most one signup whose normalized name is nameKey.
	DeleteSignup(ctx context.Context, eventID, nameKey string) error
	// ListSignups returns the event's signups in creation order.
	ListSignups(ctx context.Context, eventID string) ([]model.Signup, error)

	// ListEvents returns summaries ordered by creation time, newest first.
	// Events created in the same instant are ordered by insertion, latest first.
	ListEvents(ctx context.Context) ([]model.EventSummary, error)

	Close() error
}
