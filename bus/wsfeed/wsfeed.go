// Package wsfeed streams EventBus events to external listeners (the IDE
// front-end pane named as an out-of-scope external collaborator in spec
// §1) over a websocket, one JSON frame per event. It is read-only: it never
// accepts frames from the client beyond the initial upgrade handshake.
package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairdev/orchestrator-core/bus"
)

// Frame is the JSON shape written to every connected client for each
// matching bus event.
type Frame struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Source    string         `json:"source"`
	Payload   any            `json:"payload,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Options configures a Feed.
type Options struct {
	// Bus is the event source. Required.
	Bus *bus.Bus
	// Pattern is the subscription pattern (exact type or bus.Wildcard).
	// Defaults to bus.Wildcard.
	Pattern string
	// WriteTimeout bounds how long a single frame write may take before the
	// client is dropped. Defaults to 5s.
	WriteTimeout time.Duration
	// Upgrader allows overriding the websocket upgrader (e.g. to relax
	// CheckOrigin in tests). Defaults to one with 1 KiB buffers and no
	// CheckOrigin, so gorilla's same-origin check applies.
	Upgrader *websocket.Upgrader
}

// Feed is an http.Handler that upgrades each incoming request to a
// websocket connection and tails the bus onto it until the client
// disconnects or the feed is closed.
type Feed struct {
	bus          *bus.Bus
	pattern      string
	writeTimeout time.Duration
	upgrader     websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]chan Frame
	closed bool
}

// New constructs a Feed subscribed to opts.Bus under opts.Pattern.
func New(opts Options) *Feed {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = bus.Wildcard
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	upgrader := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if opts.Upgrader != nil {
		upgrader = *opts.Upgrader
	}

	f := &Feed{
		bus:          opts.Bus,
		pattern:      pattern,
		writeTimeout: writeTimeout,
		upgrader:     upgrader,
		conns:        make(map[*websocket.Conn]chan Frame),
	}
	if opts.Bus != nil {
		opts.Bus.Subscribe(pattern, f.onEvent)
	}
	return f
}

func (f *Feed) onEvent(_ context.Context, event bus.Event) error {
	frame := Frame{
		ID:        event.ID,
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Source:    event.Source,
		Payload:   event.Payload,
		Metadata:  event.Metadata,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.conns {
		select {
		case ch <- frame:
		default:
			// Slow consumer: drop the frame rather than block the publisher,
			// matching the bus's synchronous, non-suspending publish contract.
		}
	}
	return nil
}

// ServeHTTP upgrades the connection and streams frames until the client
// disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan Frame, 64)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.conns[conn] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.conns, conn)
		f.mu.Unlock()
	}()

	for frame := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// ConnectionCount reports the number of currently attached websocket
// clients.
func (f *Feed) ConnectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Close disconnects every attached client and stops accepting new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for conn, ch := range f.conns {
		close(ch)
		_ = conn.Close()
	}
	f.conns = make(map[*websocket.Conn]chan Frame)
}
