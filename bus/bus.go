// Package bus implements the in-process typed event bus: ordered,
// synchronous publish/subscribe with wildcard subscriptions and per-caller
// delivery ordering. It is the leaf dependency of the orchestration core —
// every other component either publishes to it or subscribes from it.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type (
	// Event is an immutable unit of information flowing through the bus.
	// Once constructed and published, an Event's fields must not be mutated
	// by callers; Payload and Metadata should be treated as read-only by
	// subscribers.
	Event struct {
		// ID identifies this specific event instance.
		ID string
		// Type is a hierarchical dotted label, e.g. "tool.execution.completed".
		Type string
		// Timestamp is milliseconds since epoch. Successive events published by
		// a single caller carry non-decreasing timestamps.
		Timestamp int64
		// Source identifies the component or persona that published the event.
		Source string
		// Payload carries the event-specific opaque structured value.
		Payload any
		// Metadata carries optional out-of-band key/value annotations.
		Metadata map[string]any
	}

	// Handler reacts to a published event. A returned error (or a panic
	// recovered by the bus) does not prevent delivery to subsequent
	// subscribers; it is captured and surfaced as a separate
	// "event.subscriber.failed" event.
	Handler func(ctx context.Context, event Event) error

	// Unsubscribe removes a previously registered subscription. Calling it
	// more than once is a no-op.
	Unsubscribe func()

	// Bus is the typed in-process publish/subscribe primitive described in
	// the event bus design: synchronous, ordered per publisher, with exact
	// and wildcard ("*") subscriptions.
	Bus struct {
		mu   sync.Mutex
		subs []*subscription // all live subscriptions, in registration order
		seq  uint64
	}

	subscription struct {
		id      uint64
		pattern string
		handler Handler
	}
)

// Wildcard matches every event type when used as a subscribe pattern.
const Wildcard = "*"

// recursiveFailureKey marks metadata on a subscriber-failure event so the
// bus's own handling of that event never spawns another one: only the
// original publish of a real event can fail into event.subscriber.failed.
const recursiveFailureKey = "recursive"

// SubscriberFailedType is the event type published when a subscriber's
// handler returns an error or panics.
const SubscriberFailedType = "event.subscriber.failed"

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Publish delivers event synchronously to every subscriber whose pattern
// matches event.Type, in registration order. Publish never returns an
// error or panics: a subscriber failure is captured and republished as a
// SubscriberFailedType event (unless event itself is already a recursive
// failure event, which has no further subscribers beyond whatever is
// registered on the wildcard or that exact type).
func (b *Bus) Publish(ctx context.Context, event Event) {
	for _, sub := range b.matching(event.Type) {
		b.invoke(ctx, sub, event)
	}
}

// invoke calls handler, recovering panics, and on failure republishes a
// SubscriberFailedType event describing the failure. It never panics or
// returns an error to the caller.
func (b *Bus) invoke(ctx context.Context, sub *subscription, event Event) {
	err := b.safeCall(sub.handler, ctx, event)
	if err == nil {
		return
	}
	if isRecursiveFailure(event) {
		return
	}
	b.Publish(ctx, Event{
		ID:        fmt.Sprintf("%s.failed.%d", event.ID, sub.id),
		Type:      SubscriberFailedType,
		Timestamp: nowMs(),
		Source:    event.Source,
		Payload: SubscriberFailure{
			OriginalEvent: event,
			Pattern:       sub.pattern,
			Error:         err.Error(),
		},
		Metadata: map[string]any{recursiveFailureKey: true},
	})
}

// SubscriberFailure describes a subscriber that returned an error or
// panicked while handling an event. It is the payload of a
// SubscriberFailedType event.
type SubscriberFailure struct {
	OriginalEvent Event
	Pattern       string
	Error         string
}

func isRecursiveFailure(event Event) bool {
	if event.Type != SubscriberFailedType {
		return false
	}
	v, ok := event.Metadata[recursiveFailureKey]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// safeCall invokes handler and converts a panic into an error so a single
// misbehaving subscriber can never take down the publisher.
func (b *Bus) safeCall(handler Handler, ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Subscribe registers handler against pattern, which is either an exact
// event type or Wildcard. Returns an Unsubscribe handle; calling it more
// than once is a no-op.
func (b *Bus) Subscribe(pattern string, handler Handler) Unsubscribe {
	b.mu.Lock()
	b.seq++
	sub := &subscription{id: b.seq, pattern: pattern, handler: handler}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Bus) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of subscribers registered for pattern
// (an exact type or Wildcard). It does not sum exact-type and wildcard
// subscribers together; call it twice to inspect both.
func (b *Bus) ListenerCount(pattern string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, sub := range b.subs {
		if sub.pattern == pattern {
			n++
		}
	}
	return n
}

// RemoveAllListeners removes every subscriber for the given patterns. With
// no arguments, it removes every subscriber for every pattern.
func (b *Bus) RemoveAllListeners(patterns ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(patterns) == 0 {
		b.subs = nil
		return
	}
	drop := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		drop[p] = struct{}{}
	}
	kept := b.subs[:0:0]
	for _, sub := range b.subs {
		if _, ok := drop[sub.pattern]; !ok {
			kept = append(kept, sub)
		}
	}
	b.subs = kept
}

// matching returns, under the lock, a snapshot of subscribers whose pattern
// matches typ (exact match or Wildcard), in global registration order. A
// snapshot is taken so handlers invoked during delivery may safely
// subscribe/unsubscribe without deadlocking on b.mu.
func (b *Bus) matching(typ string) []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.pattern == Wildcard || sub.pattern == typ {
			out = append(out, sub)
		}
	}
	return out
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
