// Package service implements business logic, validation, and orchestration
// between the transports, the store, the signup ledger and the notifier.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/ledger"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/live"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/notify"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository"
)

const (
	// MaxIDAttempts bounds id regeneration on collisions.
	MaxIDAttempts = 5
	// maxReadAttempts bounds re-reads when another writer moves the version
	// while signups are being listed.
	maxReadAttempts = 3
	// MaxCapacity is the largest accepted event capacity.
	MaxCapacity = 100_000

	idLength   = 6
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	tracerName = "github.com/Shivanand-hulikatti/signup-sheets/internal/service"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

// EventService orchestrates event and signup operations.
type EventService struct {
	store     repository.Store
	notifier  *notify.Notifier
	publisher notify.Publisher
	locks     *keyLock
	now       func() time.Time
	newID     func() string
	tracer    trace.Tracer
}

// Option customises an EventService.
type Option func(*EventService)

// WithPublisher routes change messages through p instead of publishing
// straight into the local notifier.
func WithPublisher(p notify.Publisher) Option {
	return func(s *EventService) { s.publisher = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *EventService) { s.now = now }
}

// WithIDGenerator replaces the public event id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *EventService) { s.newID = gen }
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(store repository.Store, notifier *notify.Notifier, opts ...Option) *EventService {
	s := &EventService{
		store:     store,
		notifier:  notifier,
		publisher: notifier,
		locks:     newKeyLock(),
		now:       time.Now,
		newID:     NewShortID,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewShortID returns a random six character [0-9a-z] public id.
func NewShortID() string {
	u := uuid.New()
	b := make([]byte, idLength)
	for i := range b {
		b[i] = idAlphabet[int(u[i])%len(idAlphabet)]
	}
	return string(b)
}

// timestamp is millisecond precision so that every store round-trips it.
func (s *EventService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *EventService) startSpan(ctx context.Context, name, eventID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "EventService."+name, trace.WithAttributes(attribute.String("event.id", eventID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrStorageUnavailable, op, err)
}

// CreateEvent validates the request and stores a new event with no signups.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (_ *model.Event, err error) {
	ctx, span := s.startSpan(ctx, "CreateEvent", "")
	defer func() { endSpan(span, err) }()

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidInput)
	}
	if req.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be a positive integer", model.ErrInvalidInput)
	}
	if req.Capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: capacity cannot exceed 100,000", model.ErrInvalidInput)
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}

	event := model.Event{
		Title:     title,
		Date:      date,
		Capacity:  req.Capacity,
		CreatedAt: s.timestamp(),
	}
	for attempt := 1; attempt <= MaxIDAttempts; attempt++ {
		event.ID = s.newID()
		err = s.store.PutEvent(ctx, event)
		if err == nil {
			span.SetAttributes(attribute.String("event.id", event.ID))
			return &event, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, storageErr("create event", err)
		}
		log.Printf("event id %s already taken (attempt %d/%d)", event.ID, attempt, MaxIDAttempts)
	}
	return nil, model.ErrIDGenerationExhausted
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", model.ErrInvalidInput)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q is not a valid date", model.ErrInvalidInput, value)
}

// GetEvent returns an event merged with its signups.
func (s *EventService) GetEvent(ctx context.Context, id string) (_ *model.EventDetail, err error) {
	ctx, span := s.startSpan(ctx, "GetEvent", id)
	defer func() { endSpan(span, err) }()
	return s.load(ctx, id)
}

// load reads the event and its signups. The event is read again afterwards
// so that the returned version describes exactly the returned signups. Under
// sustained writes from other instances the last attempt is returned as is.
func (s *EventService) load(ctx context.Context, id string) (*model.EventDetail, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.ErrEventNotFound
	}
	event, err := s.getEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		signups, err := s.store.ListSignups(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, model.ErrEventNotFound
			}
			return nil, storageErr("list signups", err)
		}
		detail := &model.EventDetail{Event: event, Signups: signups}
		if attempt == maxReadAttempts {
			return detail, nil
		}
		after, err := s.getEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		if after.Version == event.Version {
			return detail, nil
		}
		event = after
	}
}

func (s *EventService) getEvent(ctx context.Context, id string) (model.Event, error) {
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Event{}, model.ErrEventNotFound
		}
		return model.Event{}, storageErr("get event", err)
	}
	return event, nil
}

// reload re-reads committed state after a write so the published snapshot
// carries the store's version and any writes from other instances. When the
// read fails the locally derived detail is used instead.
func (s *EventService) reload(ctx context.Context, id string, local *model.EventDetail) *model.EventDetail {
	detail, err := s.load(ctx, id)
	if err != nil {
		log.Printf("reload event %s after write: %v", id, err)
		return local
	}
	return detail
}

// AddSignup appends name to the event and publishes the new snapshot.
// A full event still accepts the signup; it lands on the waitlist.
func (s *EventService) AddSignup(ctx context.Context, id, name string) (_ *model.EventDetail, err error) {
	ctx, span := s.startSpan(ctx, "AddSignup", id)
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidInput)
	}

	unlock := s.locks.Lock(id)
	detail, err := s.addLocked(ctx, id, name)
	unlock()
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(id, notify.Snapshot(*detail))
	return detail, nil
}

func (s *EventService) addLocked(ctx context.Context, id, name string) (*model.EventDetail, error) {
	detail, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ledger.ValidateAdd(detail.Signups, name); err != nil {
		return nil, err
	}
	signup := model.Signup{
		ID:        uuid.NewString(),
		EventID:   id,
		Name:      name,
		Timestamp: s.timestamp(),
	}
	if err := s.store.AppendSignup(ctx, signup); err != nil {
		switch {
		case errors.Is(err, repository.ErrConstraintViolation):
			// Another instance won the race.
			return nil, model.ErrDuplicateName
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.ErrEventNotFound
		default:
			return nil, storageErr("add signup", err)
		}
	}
	next, err := ledger.Add(detail.Signups, signup)
	if err != nil {
		return nil, err
	}
	detail.Signups = next
	detail.Event.Version++
	return s.reload(ctx, id, detail), nil
}

// RemoveSignup removes name from the event and publishes the new snapshot.
func (s *EventService) RemoveSignup(ctx context.Context, id, name string) (_ *model.EventDetail, err error) {
	ctx, span := s.startSpan(ctx, "RemoveSignup", id)
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidInput)
	}

	unlock := s.locks.Lock(id)
	detail, err := s.removeLocked(ctx, id, name)
	unlock()
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(id, notify.Snapshot(*detail))
	return detail, nil
}

func (s *EventService) removeLocked(ctx context.Context, id, name string) (*model.EventDetail, error) {
	detail, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	next, _, err := ledger.Remove(detail.Signups, name)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteSignup(ctx, id, ledger.NormalizeName(name)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.ErrNameNotFound
		}
		return nil, storageErr("remove signup", err)
	}
	detail.Signups = next
	detail.Event.Version++
	return s.reload(ctx, id, detail), nil
}

// DeleteEvent removes the event with all its signups and tells every viewer.
func (s *EventService) DeleteEvent(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteEvent", id)
	defer func() { endSpan(span, err) }()

	unlock := s.locks.Lock(id)
	event, err := s.deleteLocked(ctx, id)
	unlock()
	if err != nil {
		return err
	}

	s.publisher.Publish(id, notify.Deleted(event))
	return nil
}

func (s *EventService) deleteLocked(ctx context.Context, id string) (model.Event, error) {
	event, err := s.getEvent(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	if err := s.store.DeleteEvent(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Event{}, model.ErrEventNotFound
		}
		return model.Event{}, storageErr("delete event", err)
	}
	return event, nil
}

// ListEvents returns event summaries, newest first.
func (s *EventService) ListEvents(ctx context.Context) (_ []model.EventSummary, err error) {
	ctx, span := s.startSpan(ctx, "ListEvents", "")
	defer func() { endSpan(span, err) }()

	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, storageErr("list events", err)
	}
	if events == nil {
		events = []model.EventSummary{}
	}
	return events, nil
}

// Watch opens a live session on the event. The subscription is registered
// before the initial read so no mutation in between is missed.
func (s *EventService) Watch(ctx context.Context, id string) (*live.Session, error) {
	sub := s.notifier.Subscribe(id)
	detail, err := s.GetEvent(ctx, id)
	if err != nil {
		sub.Close()
		return nil, err
	}
	return live.NewSession(sub, notify.Snapshot(*detail)), nil
}

// SubscriberCount returns how many viewers this instance has for the event.
func (s *EventService) SubscriberCount(id string) int {
	return s.notifier.Count(id)
}
