package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/ledger"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/live"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/notify"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository"
)

// ─── Fixtures ─────────────────────────────────────────────────────────────────

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestService(t *testing.T, store repository.Store, opts ...Option) (*EventService, *notify.Notifier) {
	t.Helper()
	n := notify.New()
	clock := &tickClock{now: time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewEventService(store, n, opts...), n
}

func createEvent(t *testing.T, s *EventService, capacity int) *model.Event {
	t.Helper()
	event, err := s.CreateEvent(context.Background(), model.CreateEventRequest{
		Title:    "Volunteer shift",
		Date:     "2026-07-01T09:00",
		Capacity: capacity,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return event
}

func partitionNames(detail *model.EventDetail) (confirmed, waitlisted []string) {
	c, w := ledger.Partition(detail.Signups, detail.Event.Capacity)
	for _, s := range c {
		confirmed = append(confirmed, s.Name)
	}
	for _, s := range w {
		waitlisted = append(waitlisted, s.Name)
	}
	return confirmed, waitlisted
}

func receive(t *testing.T, sub *notify.Subscription) notify.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return msg
}

func expectSilence(t *testing.T, sub *notify.Subscription) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if msg, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected message: %+v (%v)", msg, err)
	}
}

// failingStore fails every call once broken is set.
type failingStore struct {
	repository.Store
	mu     sync.Mutex
	broken bool
}

var errDown = errors.New("connection refused")

func (f *failingStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errDown
	}
	return nil
}

func (f *failingStore) AppendSignup(ctx context.Context, s model.Signup) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.AppendSignup(ctx, s)
}

func (f *failingStore) DeleteSignup(ctx context.Context, id, key string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.DeleteSignup(ctx, id, key)
}

func (f *failingStore) ListEvents(ctx context.Context) ([]model.EventSummary, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Store.ListEvents(ctx)
}

// gatedStore blocks AppendSignup for one event until the gate opens.
type gatedStore struct {
	repository.Store
	eventID string
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedStore) AppendSignup(ctx context.Context, s model.Signup) error {
	if s.EventID == g.eventID {
		close(g.entered)
		<-g.gate
	}
	return g.Store.AppendSignup(ctx, s)
}

// slowStore widens the window between reading signups and appending.
type slowStore struct {
	repository.Store
}

func (s slowStore) ListSignups(ctx context.Context, id string) ([]model.Signup, error) {
	time.Sleep(5 * time.Millisecond)
	return s.Store.ListSignups(ctx, id)
}

// ─── CreateEvent ──────────────────────────────────────────────────────────────

func TestCreateEventValidation(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	tests := []struct {
		name string
		req  model.CreateEventRequest
	}{
		{"missing title", model.CreateEventRequest{Title: "  ", Date: "2026-07-01", Capacity: 1}},
		{"zero capacity", model.CreateEventRequest{Title: "x", Date: "2026-07-01", Capacity: 0}},
		{"negative capacity", model.CreateEventRequest{Title: "x", Date: "2026-07-01", Capacity: -3}},
		{"huge capacity", model.CreateEventRequest{Title: "x", Date: "2026-07-01", Capacity: MaxCapacity + 1}},
		{"missing date", model.CreateEventRequest{Title: "x", Capacity: 1}},
		{"bad date", model.CreateEventRequest{Title: "x", Date: "next tuesday", Capacity: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.CreateEvent(context.Background(), tc.req); !errors.Is(err, model.ErrInvalidInput) {
				t.Fatalf("create error = %v, want %v", err, model.ErrInvalidInput)
			}
		})
	}
}

func TestCreateEventAcceptsDateLayouts(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	for _, date := range []string{"2026-07-01T09:00:00Z", "2026-07-01T09:00:00", "2026-07-01T09:00", "2026-07-01"} {
		event, err := s.CreateEvent(context.Background(), model.CreateEventRequest{Title: "t", Date: date, Capacity: 1})
		if err != nil {
			t.Fatalf("create with date %q: %v", date, err)
		}
		if event.Date.Year() != 2026 || event.Date.Month() != time.July || event.Date.Day() != 1 {
			t.Fatalf("date %q parsed as %v", date, event.Date)
		}
	}
}

func TestCreateEventStoresEmptyEvent(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	event := createEvent(t, s, 3)
	if !regexp.MustCompile(`^[0-9a-z]{6}$`).MatchString(event.ID) {
		t.Fatalf("id = %q, want six base36 characters", event.ID)
	}
	detail, err := s.GetEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if detail.Event.Title != "Volunteer shift" || detail.Event.Capacity != 3 || len(detail.Signups) != 0 {
		t.Fatalf("detail = %+v", detail)
	}
}

func TestCreateEventRetriesOnCollision(t *testing.T) {
	t.Parallel()

	ids := []string{"taken0", "taken0", "fresh1"}
	var calls int
	gen := func() string {
		id := ids[calls]
		calls++
		return id
	}
	store := repository.NewMemoryStore()
	if err := store.PutEvent(context.Background(), model.Event{ID: "taken0", Title: "old", Capacity: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, _ := newTestService(t, store, WithIDGenerator(gen))

	event := createEvent(t, s, 1)
	if event.ID != "fresh1" {
		t.Fatalf("id = %q, want fresh1", event.ID)
	}
	if calls != 3 {
		t.Fatalf("generator calls = %d, want 3", calls)
	}
}

func TestCreateEventFailsAfterFiveCollisions(t *testing.T) {
	t.Parallel()

	var calls int
	store := repository.NewMemoryStore()
	if err := store.PutEvent(context.Background(), model.Event{ID: "aaaaaa", Title: "old", Capacity: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, _ := newTestService(t, store, WithIDGenerator(func() string {
		calls++
		return "aaaaaa"
	}))

	_, err := s.CreateEvent(context.Background(), model.CreateEventRequest{Title: "t", Date: "2026-07-01", Capacity: 1})
	if !errors.Is(err, model.ErrIDGenerationExhausted) {
		t.Fatalf("create error = %v, want %v", err, model.ErrIDGenerationExhausted)
	}
	if calls != MaxIDAttempts {
		t.Fatalf("generator calls = %d, want %d", calls, MaxIDAttempts)
	}
}

func TestCreateEventPublishesNothing(t *testing.T) {
	t.Parallel()

	ids := []string{"pre000"}
	s, n := newTestService(t, repository.NewMemoryStore(), WithIDGenerator(func() string { return ids[0] }))
	sub := n.Subscribe("pre000")
	defer sub.Close()
	createEvent(t, s, 1)
	expectSilence(t, sub)
}

// ─── Signups ──────────────────────────────────────────────────────────────────

func TestWaitlistScenario(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	event := createEvent(t, s, 2)
	ctx := context.Background()

	var detail *model.EventDetail
	var err error
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		if detail, err = s.AddSignup(ctx, event.ID, name); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	confirmed, waitlisted := partitionNames(detail)
	if fmt.Sprint(confirmed) != "[Alice Bob]" || fmt.Sprint(waitlisted) != "[Carol]" {
		t.Fatalf("partition = %v / %v, want [Alice Bob] / [Carol]", confirmed, waitlisted)
	}

	detail, err = s.RemoveSignup(ctx, event.ID, "Alice")
	if err != nil {
		t.Fatalf("remove Alice: %v", err)
	}
	confirmed, waitlisted = partitionNames(detail)
	if fmt.Sprint(confirmed) != "[Bob Carol]" || len(waitlisted) != 0 {
		t.Fatalf("partition = %v / %v, want [Bob Carol] / []", confirmed, waitlisted)
	}

	// The stored state agrees with the returned state.
	stored, err := s.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	confirmed, _ = partitionNames(stored)
	if fmt.Sprint(confirmed) != "[Bob Carol]" {
		t.Fatalf("stored confirmed = %v, want [Bob Carol]", confirmed)
	}
}

func TestAddThenRemoveRestoresSignups(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	event := createEvent(t, s, 5)
	ctx := context.Background()
	for _, name := range []string{"Ann", "Ben"} {
		if _, err := s.AddSignup(ctx, event.ID, name); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	before, _ := s.GetEvent(ctx, event.ID)

	if _, err := s.AddSignup(ctx, event.ID, "Cleo"); err != nil {
		t.Fatalf("add Cleo: %v", err)
	}
	after, err := s.RemoveSignup(ctx, event.ID, "cleo")
	if err != nil {
		t.Fatalf("remove cleo: %v", err)
	}
	if len(after.Signups) != len(before.Signups) {
		t.Fatalf("signups = %d, want %d", len(after.Signups), len(before.Signups))
	}
	for i := range before.Signups {
		if after.Signups[i].Name != before.Signups[i].Name || !after.Signups[i].Timestamp.Equal(before.Signups[i].Timestamp) {
			t.Fatalf("signup %d = %+v, want %+v", i, after.Signups[i], before.Signups[i])
		}
	}
}

func TestAddSignupRejectsNormalizedDuplicate(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	event := createEvent(t, s, 1)
	ctx := context.Background()
	if _, err := s.AddSignup(ctx, event.ID, "Alice"); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, name := range []string{"alice", " ALICE ", "Alice\t"} {
		if _, err := s.AddSignup(ctx, event.ID, name); !errors.Is(err, model.ErrDuplicateName) {
			t.Fatalf("add %q = %v, want %v", name, err, model.ErrDuplicateName)
		}
	}
}

func TestAddSignupStoresTrimmedName(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	event := createEvent(t, s, 1)
	detail, err := s.AddSignup(context.Background(), event.ID, "  Dana  ")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if detail.Signups[0].Name != "Dana" {
		t.Fatalf("name = %q, want Dana", detail.Signups[0].Name)
	}
}

func TestSignupErrors(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	event := createEvent(t, s, 1)
	ctx := context.Background()

	if _, err := s.AddSignup(ctx, "nope00", "Alice"); !errors.Is(err, model.ErrEventNotFound) {
		t.Fatalf("add to missing event = %v, want %v", err, model.ErrEventNotFound)
	}
	if _, err := s.RemoveSignup(ctx, "nope00", "Alice"); !errors.Is(err, model.ErrEventNotFound) {
		t.Fatalf("remove from missing event = %v, want %v", err, model.ErrEventNotFound)
	}
	if _, err := s.RemoveSignup(ctx, event.ID, "Nobody"); !errors.Is(err, model.ErrNameNotFound) {
		t.Fatalf("remove unknown name = %v, want %v", err, model.ErrNameNotFound)
	}
	if _, err := s.AddSignup(ctx, event.ID, "   "); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("add blank = %v, want %v", err, model.ErrInvalidInput)
	}
	if _, err := s.RemoveSignup(ctx, event.ID, ""); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("remove blank = %v, want %v", err, model.ErrInvalidInput)
	}
	if _, err := s.GetEvent(ctx, ""); !errors.Is(err, model.ErrEventNotFound) {
		t.Fatalf("get blank id = %v, want %v", err, model.ErrEventNotFound)
	}
}

func TestConcurrentSameNameAddsExactlyOneWins(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, slowStore{repository.NewMemoryStore()})
	event := createEvent(t, s, 1)

	const workers = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		ok, dupes  int
		unexpected []error
	)
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.AddSignup(context.Background(), event.ID, fmt.Sprintf("%*sEve", i%3, ""))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, model.ErrDuplicateName):
				dupes++
			default:
				unexpected = append(unexpected, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if ok != 1 || dupes != workers-1 {
		t.Fatalf("successes = %d, duplicates = %d, want 1 and %d", ok, dupes, workers-1)
	}
	if s.locks.size() != 0 {
		t.Fatalf("lock entries leaked: %d", s.locks.size())
	}
}

func TestMutationsOnDifferentEventsDoNotBlock(t *testing.T) {
	t.Parallel()

	mem := repository.NewMemoryStore()
	s0, _ := newTestService(t, mem)
	blocked := createEvent(t, s0, 1)
	free := createEvent(t, s0, 1)

	gated := &gatedStore{Store: mem, eventID: blocked.ID, entered: make(chan struct{}), gate: make(chan struct{})}
	s, _ := newTestService(t, gated)

	errc := make(chan error, 1)
	go func() {
		_, err := s.AddSignup(context.Background(), blocked.ID, "Stuck")
		errc <- err
	}()
	<-gated.entered

	done := make(chan error, 1)
	go func() {
		_, err := s.AddSignup(context.Background(), free.ID, "Quick")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("add on free event: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mutation on another event was blocked")
	}

	close(gated.gate)
	if err := <-errc; err != nil {
		t.Fatalf("add on gated event: %v", err)
	}
}

type reentrantPublisher struct {
	svc   *EventService
	inner notify.Publisher
	fired atomic.Bool
	err   error
}

func (p *reentrantPublisher) Publish(eventID string, msg notify.Message) {
	if p.fired.CompareAndSwap(false, true) {
		// Deadlocks if the per-event lock were still held during publish.
		_, p.err = p.svc.AddSignup(context.Background(), eventID, "Echo")
	}
	p.inner.Publish(eventID, msg)
}

func TestPublishHappensOutsideTheEventLock(t *testing.T) {
	t.Parallel()

	s, n := newTestService(t, repository.NewMemoryStore())
	pub := &reentrantPublisher{svc: s, inner: n}
	s.publisher = pub
	event := createEvent(t, s, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.AddSignup(context.Background(), event.ID, "First"); err != nil {
			t.Errorf("add: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish ran while holding the event lock")
	}
	if pub.err != nil {
		t.Fatalf("reentrant add: %v", pub.err)
	}
}

// stallingPublisher holds the first publish until release is closed.
type stallingPublisher struct {
	inner   notify.Publisher
	held    chan struct{}
	release chan struct{}
	first   atomic.Bool
}

func (p *stallingPublisher) Publish(eventID string, msg notify.Message) {
	if p.first.CompareAndSwap(false, true) {
		close(p.held)
		<-p.release
	}
	p.inner.Publish(eventID, msg)
}

func TestDelayedPublishDoesNotOverwriteNewerSnapshot(t *testing.T) {
	t.Parallel()

	s, n := newTestService(t, repository.NewMemoryStore())
	pub := &stallingPublisher{inner: n, held: make(chan struct{}), release: make(chan struct{})}
	s.publisher = pub
	event := createEvent(t, s, 1)
	ctx := context.Background()

	sub := n.Subscribe(event.ID)
	defer sub.Close()
	session, err := s.Watch(ctx, event.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer session.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := s.AddSignup(ctx, event.ID, "Alice")
		errc <- err
	}()
	<-pub.held

	// Bob commits and publishes while Alice's snapshot is still in flight.
	if _, err := s.AddSignup(ctx, event.ID, "Bob"); err != nil {
		t.Fatalf("add Bob: %v", err)
	}
	close(pub.release)
	if err := <-errc; err != nil {
		t.Fatalf("add Alice: %v", err)
	}

	msg := receive(t, sub)
	if len(msg.Signups) != 2 || msg.Event.Version != 2 {
		t.Fatalf("message = %d signups at version %d, want 2 at version 2", len(msg.Signups), msg.Event.Version)
	}
	expectSilence(t, sub)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	view, err := session.Next(waitCtx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(view.Signups) != 2 || len(view.Waitlisted) != 1 {
		t.Fatalf("view = %+v, want Alice confirmed and Bob waitlisted", view)
	}
	quiet, cancelQuiet := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelQuiet()
	if _, err := session.Next(quiet); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("next = %v, want no further views", err)
	}
	if got := session.Current(); len(got.Signups) != 2 {
		t.Fatalf("settled view has %d signups, want 2", len(got.Signups))
	}
}

func TestSnapshotIncludesWritesFromOtherInstances(t *testing.T) {
	t.Parallel()

	mem := repository.NewMemoryStore()
	other, _ := newTestService(t, mem)
	event := createEvent(t, other, 5)

	gated := &gatedStore{Store: mem, eventID: event.ID, entered: make(chan struct{}), gate: make(chan struct{})}
	s, n := newTestService(t, gated)
	sub := n.Subscribe(event.ID)
	defer sub.Close()

	type result struct {
		detail *model.EventDetail
		err    error
	}
	done := make(chan result, 1)
	go func() {
		detail, err := s.AddSignup(context.Background(), event.ID, "Alice")
		done <- result{detail, err}
	}()
	<-gated.entered

	// Another instance commits between this instance's read and its write.
	if _, err := other.AddSignup(context.Background(), event.ID, "Bob"); err != nil {
		t.Fatalf("add Bob elsewhere: %v", err)
	}
	close(gated.gate)

	res := <-done
	if res.err != nil {
		t.Fatalf("add Alice: %v", res.err)
	}
	if len(res.detail.Signups) != 2 || res.detail.Event.Version != 2 {
		t.Fatalf("detail = %+v, want both signups at version 2", res.detail)
	}
	msg := receive(t, sub)
	var got []string
	for _, su := range msg.Signups {
		got = append(got, su.Name)
	}
	if fmt.Sprint(got) != "[Alice Bob]" || msg.Event.Version != 2 {
		t.Fatalf("snapshot = %v at version %d, want [Alice Bob] at version 2", got, msg.Event.Version)
	}
}

// ─── Storage failures ─────────────────────────────────────────────────────────

func TestStorageFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: repository.NewMemoryStore()}
	s, n := newTestService(t, store)
	event := createEvent(t, s, 2)
	ctx := context.Background()
	if _, err := s.AddSignup(ctx, event.ID, "Alice"); err != nil {
		t.Fatalf("add: %v", err)
	}
	sub := n.Subscribe(event.ID)
	defer sub.Close()

	store.mu.Lock()
	store.broken = true
	store.mu.Unlock()

	if _, err := s.AddSignup(ctx, event.ID, "Bob"); !errors.Is(err, model.ErrStorageUnavailable) || !errors.Is(err, errDown) {
		t.Fatalf("add error = %v, want storage unavailable wrapping cause", err)
	}
	if _, err := s.RemoveSignup(ctx, event.ID, "Alice"); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("remove error = %v, want %v", err, model.ErrStorageUnavailable)
	}
	if _, err := s.ListEvents(ctx); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("list error = %v, want %v", err, model.ErrStorageUnavailable)
	}
	expectSilence(t, sub)

	detail, err := s.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if len(detail.Signups) != 1 || detail.Signups[0].Name != "Alice" {
		t.Fatalf("signups = %+v, want [Alice]", detail.Signups)
	}
}

// ─── Delete & list ────────────────────────────────────────────────────────────

func TestDeleteEventRemovesEverything(t *testing.T) {
	t.Parallel()

	s, n := newTestService(t, repository.NewMemoryStore())
	event := createEvent(t, s, 1)
	ctx := context.Background()
	for _, name := range []string{"A", "B"} {
		if _, err := s.AddSignup(ctx, event.ID, name); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	sub := n.Subscribe(event.ID)
	defer sub.Close()

	if err := s.DeleteEvent(ctx, event.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetEvent(ctx, event.ID); !errors.Is(err, model.ErrEventNotFound) {
		t.Fatalf("get after delete = %v, want %v", err, model.ErrEventNotFound)
	}
	if err := s.DeleteEvent(ctx, event.ID); !errors.Is(err, model.ErrEventNotFound) {
		t.Fatalf("second delete = %v, want %v", err, model.ErrEventNotFound)
	}
	if msg := receive(t, sub); !msg.Terminal() || msg.Event.ID != event.ID {
		t.Fatalf("message = %+v, want deleted for %s", msg, event.ID)
	}
}

func TestListEventsNewestFirst(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	ctx := context.Background()
	empty, err := s.ListEvents(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("empty list = %#v, want non-nil empty slice", empty)
	}

	first := createEvent(t, s, 1)
	second := createEvent(t, s, 1)
	if _, err := s.AddSignup(ctx, first.ID, "Zoe"); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, err := s.ListEvents(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].ID != second.ID || events[1].ID != first.ID {
		t.Fatalf("events = %+v, want [%s %s]", events, second.ID, first.ID)
	}
	if events[1].SignupCount != 1 {
		t.Fatalf("signup count = %d, want 1", events[1].SignupCount)
	}
}

// ─── Live updates ─────────────────────────────────────────────────────────────

func TestSubscriberGetsOneSnapshotPerMutation(t *testing.T) {
	t.Parallel()

	s, n := newTestService(t, repository.NewMemoryStore())
	event := createEvent(t, s, 1)
	ctx := context.Background()
	sub := n.Subscribe(event.ID)
	defer sub.Close()

	steps := []struct {
		run  func() error
		want string
	}{
		{func() error { _, err := s.AddSignup(ctx, event.ID, "Alice"); return err }, "[Alice]"},
		{func() error { _, err := s.AddSignup(ctx, event.ID, "Bob"); return err }, "[Alice Bob]"},
		{func() error { _, err := s.RemoveSignup(ctx, event.ID, "alice"); return err }, "[Bob]"},
	}
	for i, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		msg := receive(t, sub)
		var got []string
		for _, su := range msg.Signups {
			got = append(got, su.Name)
		}
		if msg.Type != notify.TypeSnapshot || fmt.Sprint(got) != step.want {
			t.Fatalf("step %d: message %s %v, want snapshot %s", i, msg.Type, got, step.want)
		}
		expectSilence(t, sub)
	}

	// Failed mutations publish nothing.
	if _, err := s.AddSignup(ctx, event.ID, "bob"); !errors.Is(err, model.ErrDuplicateName) {
		t.Fatalf("duplicate add = %v", err)
	}
	expectSilence(t, sub)
}

func TestWatchFollowsEventUntilDeleted(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	event := createEvent(t, s, 1)
	ctx := context.Background()
	if _, err := s.AddSignup(ctx, event.ID, "Alice"); err != nil {
		t.Fatalf("add: %v", err)
	}

	session, err := s.Watch(ctx, event.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer session.Close()
	if got := session.Current(); len(got.Confirmed) != 1 || got.Confirmed[0].Name != "Alice" {
		t.Fatalf("initial view = %+v", got)
	}
	if s.SubscriberCount(event.ID) != 1 {
		t.Fatalf("subscriber count = %d, want 1", s.SubscriberCount(event.ID))
	}

	if _, err := s.AddSignup(ctx, event.ID, "Bob"); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	view, err := session.Next(waitCtx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(view.Waitlisted) != 1 || view.Waitlisted[0].Name != "Bob" {
		t.Fatalf("waitlisted = %+v, want [Bob]", view.Waitlisted)
	}

	if err := s.DeleteEvent(ctx, event.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := session.Next(waitCtx); !errors.Is(err, live.ErrEventDeleted) {
		t.Fatalf("next after delete = %v, want %v", err, live.ErrEventDeleted)
	}
	if s.SubscriberCount(event.ID) != 0 {
		t.Fatalf("subscriber count = %d, want 0", s.SubscriberCount(event.ID))
	}
}

func TestWatchMissingEventLeavesNoSubscriber(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, repository.NewMemoryStore())
	if _, err := s.Watch(context.Background(), "nope00"); !errors.Is(err, model.ErrEventNotFound) {
		t.Fatalf("watch = %v, want %v", err, model.ErrEventNotFound)
	}
	if s.SubscriberCount("nope00") != 0 {
		t.Fatal("subscriber leaked")
	}
}

func TestNewShortID(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^[0-9a-z]{6}$`)
	seen := make(map[string]struct{})
	for range 200 {
		id := NewShortID()
		if !pattern.MatchString(id) {
			t.Fatalf("id = %q, want six base36 characters", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) < 190 {
		t.Fatalf("only %d distinct ids out of 200", len(seen))
	}
}
