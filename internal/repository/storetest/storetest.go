// Package storetest is a conformance suite shared by every repository.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository"
)

// Factory opens a fresh, empty store for one subtest. The factory is
// responsible for registering cleanup with t.
type Factory func(t *testing.T) repository.Store

var base = time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGetRoundTrip", func(t *testing.T) { testPutGetRoundTrip(t, newStore(t)) })
	t.Run("PutRejectsExistingID", func(t *testing.T) { testPutRejectsExistingID(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("AppendToMissingEvent", func(t *testing.T) { testAppendToMissingEvent(t, newStore(t)) })
	t.Run("AppendRejectsNormalizedDuplicate", func(t *testing.T) { testAppendRejectsDuplicate(t, newStore(t)) })
	t.Run("ListSignupsCreationOrder", func(t *testing.T) { testListSignupsOrder(t, newStore(t)) })
	t.Run("DeleteSignup", func(t *testing.T) { testDeleteSignup(t, newStore(t)) })
	t.Run("DeleteEventCascades", func(t *testing.T) { testDeleteEventCascades(t, newStore(t)) })
	t.Run("ListEventsNewestFirst", func(t *testing.T) { testListEvents(t, newStore(t)) })
	t.Run("ListEventsSameInstantByInsertion", func(t *testing.T) { testListEventsTieBreak(t, newStore(t)) })
	t.Run("VersionCountsSignupChanges", func(t *testing.T) { testVersion(t, newStore(t)) })
	t.Run("ConcurrentAppendSameName", func(t *testing.T) { testConcurrentAppend(t, newStore(t)) })
}

func newEvent(id string, createdAt time.Time) model.Event {
	return model.Event{
		ID:        id,
		Title:     "Potluck " + id,
		Date:      base.Add(72 * time.Hour),
		Capacity:  3,
		CreatedAt: createdAt,
	}
}

func newSignup(eventID, name string, ts time.Time) model.Signup {
	return model.Signup{ID: uuid.NewString(), EventID: eventID, Name: name, Timestamp: ts}
}

func mustPut(t *testing.T, store repository.Store, event model.Event) {
	t.Helper()
	if err := store.PutEvent(context.Background(), event); err != nil {
		t.Fatalf("put event %s: %v", event.ID, err)
	}
}

func mustAppend(t *testing.T, store repository.Store, signup model.Signup) {
	t.Helper()
	if err := store.AppendSignup(context.Background(), signup); err != nil {
		t.Fatalf("append signup %q: %v", signup.Name, err)
	}
}

func signupNames(t *testing.T, store repository.Store, eventID string) []string {
	t.Helper()
	signups, err := store.ListSignups(context.Background(), eventID)
	if err != nil {
		t.Fatalf("list signups: %v", err)
	}
	out := make([]string, len(signups))
	for i, s := range signups {
		out[i] = s.Name
	}
	return out
}

func wantNames(t *testing.T, got []string, want ...string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("signups = %v, want %v", got, want)
	}
}

func testPutGetRoundTrip(t *testing.T, store repository.Store) {
	input := newEvent("abc123", base)
	mustPut(t, store, input)

	got, err := store.GetEvent(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.ID != input.ID {
		t.Fatalf("id = %q, want %q", got.ID, input.ID)
	}
	if got.Title != input.Title {
		t.Fatalf("title = %q, want %q", got.Title, input.Title)
	}
	if got.Capacity != input.Capacity {
		t.Fatalf("capacity = %d, want %d", got.Capacity, input.Capacity)
	}
	if !got.Date.Equal(input.Date) {
		t.Fatalf("date = %v, want %v", got.Date, input.Date)
	}
	if !got.CreatedAt.Equal(input.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, input.CreatedAt)
	}
}

func testPutRejectsExistingID(t *testing.T, store repository.Store) {
	mustPut(t, store, newEvent("dup001", base))
	err := store.PutEvent(context.Background(), newEvent("dup001", base.Add(time.Minute)))
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("duplicate put error = %v, want %v", err, repository.ErrConflict)
	}
	got, err := store.GetEvent(context.Background(), "dup001")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("original event was overwritten: created_at = %v", got.CreatedAt)
	}
}

func testGetMissing(t *testing.T, store repository.Store) {
	if _, err := store.GetEvent(context.Background(), "nope00"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("get missing error = %v, want %v", err, repository.ErrNotFound)
	}
	if _, err := store.ListSignups(context.Background(), "nope00"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("list signups missing error = %v, want %v", err, repository.ErrNotFound)
	}
	if err := store.DeleteEvent(context.Background(), "nope00"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("delete missing error = %v, want %v", err, repository.ErrNotFound)
	}
}

func testAppendToMissingEvent(t *testing.T, store repository.Store) {
	err := store.AppendSignup(context.Background(), newSignup("ghost0", "Alice", base))
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("append to missing event error = %v, want %v", err, repository.ErrNotFound)
	}
}

func testAppendRejectsDuplicate(t *testing.T, store repository.Store) {
	mustPut(t, store, newEvent("evt001", base))
	mustAppend(t, store, newSignup("evt001", "Alice", base))

	err := store.AppendSignup(context.Background(), newSignup("evt001", "  aLICE ", base.Add(time.Second)))
	if !errors.Is(err, repository.ErrConstraintViolation) {
		t.Fatalf("duplicate append error = %v, want %v", err, repository.ErrConstraintViolation)
	}
	wantNames(t, signupNames(t, store, "evt001"), "Alice")

	// The same name on another event is fine.
	mustPut(t, store, newEvent("evt002", base))
	mustAppend(t, store, newSignup("evt002", "Alice", base))
}

func testListSignupsOrder(t *testing.T, store repository.Store) {
	mustPut(t, store, newEvent("ord001", base))
	// Equal timestamps must come back in insertion order.
	for _, name := range []string{"Carol", "Alice", "Bob"} {
		mustAppend(t, store, newSignup("ord001", name, base))
	}
	mustAppend(t, store, newSignup("ord001", "Dave", base.Add(time.Second)))
	wantNames(t, signupNames(t, store, "ord001"), "Carol", "Alice", "Bob", "Dave")
}

func testDeleteSignup(t *testing.T, store repository.Store) {
	mustPut(t, store, newEvent("del001", base))
	for i, name := range []string{"Alice", "Bob", "Carol"} {
		mustAppend(t, store, newSignup("del001", name, base.Add(time.Duration(i)*time.Second)))
	}
	if err := store.DeleteSignup(context.Background(), "del001", "bob"); err != nil {
		t.Fatalf("delete signup: %v", err)
	}
	wantNames(t, signupNames(t, store, "del001"), "Alice", "Carol")

	err := store.DeleteSignup(context.Background(), "del001", "bob")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("delete missing signup error = %v, want %v", err, repository.ErrNotFound)
	}
	err = store.DeleteSignup(context.Background(), "nope00", "alice")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("delete signup on missing event error = %v, want %v", err, repository.ErrNotFound)
	}

	// A removed name can sign up again.
	mustAppend(t, store, newSignup("del001", "Bob", base.Add(time.Minute)))
	wantNames(t, signupNames(t, store, "del001"), "Alice", "Carol", "Bob")
}

func testDeleteEventCascades(t *testing.T, store repository.Store) {
	mustPut(t, store, newEvent("cas001", base))
	mustAppend(t, store, newSignup("cas001", "Alice", base))
	mustAppend(t, store, newSignup("cas001", "Bob", base))

	if err := store.DeleteEvent(context.Background(), "cas001"); err != nil {
		t.Fatalf("delete event: %v", err)
	}
	if _, err := store.GetEvent(context.Background(), "cas001"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("get deleted event error = %v, want %v", err, repository.ErrNotFound)
	}

	// Reusing the id must not resurrect orphaned signups.
	mustPut(t, store, newEvent("cas001", base.Add(time.Hour)))
	wantNames(t, signupNames(t, store, "cas001"))
	mustAppend(t, store, newSignup("cas001", "Alice", base.Add(time.Hour)))
}

func testListEvents(t *testing.T, store repository.Store) {
	mustPut(t, store, newEvent("old001", base))
	mustPut(t, store, newEvent("new001", base.Add(2*time.Hour)))
	mustPut(t, store, newEvent("mid001", base.Add(time.Hour)))
	mustAppend(t, store, newSignup("mid001", "Alice", base))
	mustAppend(t, store, newSignup("mid001", "Bob", base))

	events, err := store.ListEvents(context.Background())
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	ids := []string{events[0].ID, events[1].ID, events[2].ID}
	wantNames(t, ids, "new001", "mid001", "old001")
	if events[1].SignupCount != 2 {
		t.Fatalf("signup count = %d, want 2", events[1].SignupCount)
	}
	if events[0].SignupCount != 0 {
		t.Fatalf("signup count = %d, want 0", events[0].SignupCount)
	}
}

func testListEventsTieBreak(t *testing.T, store repository.Store) {
	// Ids chosen so that neither id order matches insertion order.
	for _, id := range []string{"mmm001", "zzz001", "aaa001"} {
		mustPut(t, store, newEvent(id, base))
	}

	events, err := store.ListEvents(context.Background())
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	wantNames(t, ids, "aaa001", "zzz001", "mmm001")
}

func testVersion(t *testing.T, store repository.Store) {
	ctx := context.Background()
	version := func() uint64 {
		t.Helper()
		e, err := store.GetEvent(ctx, "ver001")
		if err != nil {
			t.Fatalf("get event: %v", err)
		}
		return e.Version
	}

	mustPut(t, store, newEvent("ver001", base))
	if got := version(); got != 0 {
		t.Fatalf("version after put = %d, want 0", got)
	}
	mustAppend(t, store, newSignup("ver001", "Alice", base))
	mustAppend(t, store, newSignup("ver001", "Bob", base))
	if got := version(); got != 2 {
		t.Fatalf("version after two appends = %d, want 2", got)
	}

	// Rejected changes leave the version alone.
	if err := store.AppendSignup(ctx, newSignup("ver001", "alice", base)); !errors.Is(err, repository.ErrConstraintViolation) {
		t.Fatalf("duplicate append error = %v, want %v", err, repository.ErrConstraintViolation)
	}
	if err := store.DeleteSignup(ctx, "ver001", "carol"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("delete missing error = %v, want %v", err, repository.ErrNotFound)
	}
	if got := version(); got != 2 {
		t.Fatalf("version after rejected changes = %d, want 2", got)
	}

	if err := store.DeleteSignup(ctx, "ver001", "alice"); err != nil {
		t.Fatalf("delete signup: %v", err)
	}
	if got := version(); got != 3 {
		t.Fatalf("version after delete = %d, want 3", got)
	}

	events, err := store.ListEvents(ctx)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Version != 3 {
		t.Fatalf("listed events = %+v, want version 3", events)
	}

	// A reused id starts over.
	if err := store.DeleteEvent(ctx, "ver001"); err != nil {
		t.Fatalf("delete event: %v", err)
	}
	mustPut(t, store, newEvent("ver001", base))
	if got := version(); got != 0 {
		t.Fatalf("version after id reuse = %d, want 0", got)
	}
}

func testConcurrentAppend(t *testing.T, store repository.Store) {
	mustPut(t, store, newEvent("race01", base))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		other     []error
	)
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			name := "Alice"
			if i%2 == 1 {
				name = " alice "
			}
			err := store.AppendSignup(context.Background(), newSignup("race01", name, base))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, repository.ErrConstraintViolation):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("successes = %d, conflicts = %d, want 1 and %d", successes, conflicts, workers-1)
	}
	if got := signupNames(t, store, "race01"); len(got) != 1 {
		t.Fatalf("signups = %v, want exactly one", got)
	}
}
