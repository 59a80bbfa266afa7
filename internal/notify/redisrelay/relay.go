// Package redisrelay carries notifier messages between service instances
// through Redis pub/sub, so viewers connected to any instance see mutations
// made on every other instance.
//
// Local subscribers are served directly; each instance tags what it sends
// with its origin id and ignores its own messages when Redis echoes them
// back.
package redisrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/notify"
)

// DefaultPrefix is the channel prefix; the event id is appended to it.
const DefaultPrefix = "signups:changes:"

var _ notify.Publisher = (*Relay)(nil)

// envelope is the wire form of a relayed message.
type envelope struct {
	Origin  string         `json:"origin"`
	Message notify.Message `json:"message"`
}

// Relay publishes to Redis and feeds received messages into a local notifier.
type Relay struct {
	rdb     *redis.Client
	local   *notify.Notifier
	origin  string
	prefix  string
	timeout time.Duration

	readyOnce sync.Once
	ready     chan struct{}
}

// New constructs a Relay that delivers into local.
func New(rdb *redis.Client, local *notify.Notifier) *Relay {
	return &Relay{
		rdb:     rdb,
		local:   local,
		origin:  uuid.NewString(),
		prefix:  DefaultPrefix,
		timeout: 2 * time.Second,
		ready:   make(chan struct{}),
	}
}

// Publish delivers msg to local subscribers, then sends it to the other
// instances. Local delivery does not depend on Redis being reachable or on
// Run being subscribed.
func (r *Relay) Publish(eventID string, msg notify.Message) {
	r.local.Publish(eventID, msg)

	payload, err := json.Marshal(envelope{Origin: r.origin, Message: msg})
	if err != nil {
		log.Printf("relay: encode message for %s: %v", eventID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.prefix+eventID, payload).Err(); err != nil {
		log.Printf("relay: publish %s: %v (other instances miss this change)", eventID, err)
	}
}

// Ready is closed once Run has an active Redis subscription.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run forwards messages from Redis into the local notifier until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	log.Printf("✓ Relay subscribed to %s*", r.prefix)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(m)
		}
	}
}

func (r *Relay) forward(m *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
		log.Printf("relay: decode message on %s: %v", m.Channel, err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.Publish(strings.TrimPrefix(m.Channel, r.prefix), env.Message)
}
