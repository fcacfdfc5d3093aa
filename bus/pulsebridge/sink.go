package pulsebridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pairdev/orchestrator-core/bus"
)

type (
	// SinkOptions configures a Sink.
	SinkOptions struct {
		// Client is the Pulse client used to publish events. Required.
		Client Client
		// StreamName derives the target Pulse stream from an event. Defaults
		// to "orchestrator/events/<event.Type>".
		StreamName func(bus.Event) (string, error)
		// MarshalEnvelope allows overriding the envelope serialization (primarily for tests).
		MarshalEnvelope func(Envelope) ([]byte, error)
		// OnPublished, when set, is invoked after an event has been
		// successfully written to the underlying Pulse stream. If it returns
		// an error, Send fails and callers should treat the event as not
		// fully relayed.
		OnPublished func(context.Context, PublishedEvent) error
	}

	// Sink relays bus.Event values into Pulse streams. Subscribe its Handler
	// to bus.Wildcard to mirror the entire event stream, or to a narrower
	// pattern to relay only a subset.
	Sink struct {
		client          Client
		streamName      func(bus.Event) (string, error)
		marshalEnvelope func(Envelope) ([]byte, error)
		onPublished     func(context.Context, PublishedEvent) error
	}

	// Envelope wraps a bus.Event for transmission over a Pulse stream.
	Envelope struct {
		ID        string         `json:"id"`
		Type      string         `json:"type"`
		Timestamp int64          `json:"timestamp"`
		Source    string         `json:"source"`
		Payload   any            `json:"payload,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}

	// PublishedEvent describes a bus event that has been successfully written
	// to a Pulse stream.
	PublishedEvent struct {
		Event      bus.Event
		StreamName string
		EntryID    string
	}
)

// NewSink constructs a Pulse-backed relay Sink. opts.Client is required;
// StreamName and MarshalEnvelope default to the built-in implementations if
// not provided.
func NewSink(opts SinkOptions) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamName := opts.StreamName
	if streamName == nil {
		streamName = defaultStreamName
	}
	marshal := opts.MarshalEnvelope
	if marshal == nil {
		marshal = defaultMarshal
	}
	return &Sink{
		client:          opts.Client,
		streamName:      streamName,
		marshalEnvelope: marshal,
		onPublished:     opts.OnPublished,
	}, nil
}

// Handler returns a bus.Handler suitable for Bus.Subscribe, so a Sink can be
// wired directly into the event bus: b.Subscribe(bus.Wildcard, sink.Handler()).
func (s *Sink) Handler() bus.Handler {
	return func(ctx context.Context, event bus.Event) error {
		return s.Send(ctx, event)
	}
}

// Send publishes event to the derived Pulse stream. It derives the stream
// name, wraps the event in an envelope, marshals it to JSON, and publishes it
// via the Pulse client.
func (s *Sink) Send(ctx context.Context, event bus.Event) error {
	name, err := s.streamName(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(name)
	if err != nil {
		return err
	}
	env := Envelope{
		ID:        event.ID,
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Source:    event.Source,
		Payload:   event.Payload,
		Metadata:  event.Metadata,
	}
	payload, err := s.marshalEnvelope(env)
	if err != nil {
		return err
	}
	entryID, err := handle.Add(ctx, env.Type, payload)
	if err != nil {
		return err
	}
	if cb := s.onPublished; cb != nil {
		return cb(ctx, PublishedEvent{Event: event, StreamName: name, EntryID: entryID})
	}
	return nil
}

// Close releases resources owned by the sink's underlying Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// defaultStreamName derives the Pulse stream name from the event's type.
// Returns an error if the type is empty.
func defaultStreamName(event bus.Event) (string, error) {
	if event.Type == "" {
		return "", errors.New("bus event missing type")
	}
	return fmt.Sprintf("orchestrator/events/%s", event.Type), nil
}

// defaultMarshal serializes an envelope to JSON.
func defaultMarshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
