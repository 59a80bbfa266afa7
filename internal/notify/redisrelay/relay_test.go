package redisrelay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/notify"
)

func startRelay(t *testing.T, addr string) (*Relay, *notify.Notifier) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	local := notify.New()
	relay := New(rdb, local)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- relay.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})

	select {
	case <-relay.Ready():
	case err := <-errc:
		t.Fatalf("relay run: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never became ready")
	}
	return relay, local
}

func TestRelayDeliversAcrossInstances(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	first, firstLocal := startRelay(t, mr.Addr())
	_, secondLocal := startRelay(t, mr.Addr())

	here := firstLocal.Subscribe("evt1")
	there := secondLocal.Subscribe("evt1")
	defer here.Close()
	defer there.Close()

	first.Publish("evt1", notify.Snapshot(model.EventDetail{
		Event:   model.Event{ID: "evt1", Title: "Picnic", Capacity: 2},
		Signups: []model.Signup{{Name: "Alice", Timestamp: time.Unix(10, 0).UTC()}},
	}))

	for _, sub := range []*notify.Subscription{here, there} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		msg, err := sub.Next(ctx)
		cancel()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if msg.Type != notify.TypeSnapshot || msg.Event.Title != "Picnic" {
			t.Fatalf("message = %+v, want Picnic snapshot", msg)
		}
		if len(msg.Signups) != 1 || msg.Signups[0].Name != "Alice" {
			t.Fatalf("signups = %+v, want [Alice]", msg.Signups)
		}
	}
}

func TestRelayFallsBackToLocalDelivery(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	local := notify.New()
	relay := New(rdb, local)
	relay.timeout = 200 * time.Millisecond

	sub := local.Subscribe("evt1")
	defer sub.Close()
	mr.Close()

	relay.Publish("evt1", notify.Deleted(model.Event{ID: "evt1"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !msg.Terminal() {
		t.Fatalf("message type = %q, want deleted", msg.Type)
	}
}

func TestRelayDeliversLocallyBeforeSubscribing(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	local := notify.New()
	// Run is never started, as while the subscription reconnects.
	relay := New(rdb, local)

	sub := local.Subscribe("evt1")
	defer sub.Close()
	relay.Publish("evt1", notify.Snapshot(model.EventDetail{Event: model.Event{ID: "evt1", Title: "Quiz night", Capacity: 4}}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if msg.Event.Title != "Quiz night" {
		t.Fatalf("message = %+v, want Quiz night snapshot", msg)
	}
}

func TestRelayIgnoresItsOwnEcho(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	first, firstLocal := startRelay(t, mr.Addr())
	_, secondLocal := startRelay(t, mr.Addr())

	here := firstLocal.Subscribe("evt1")
	there := secondLocal.Subscribe("evt1")
	defer here.Close()
	defer there.Close()

	first.Publish("evt1", notify.Snapshot(model.EventDetail{Event: model.Event{ID: "evt1", Title: "Choir", Capacity: 1}}))

	for _, sub := range []*notify.Subscription{here, there} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := sub.Next(ctx)
		cancel()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
	}

	// The copy coming back through Redis must not reach local viewers twice.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if msg, err := here.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected second delivery: %+v, %v", msg, err)
	}
}
