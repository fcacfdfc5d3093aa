package pulsebridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	"github.com/pairdev/orchestrator-core/bus"
)

// EventProcessed and EventProcessingFailed are published onto localBus by
// RepublishOnto for every cross-process event it relays, so a
// fidelity tracker subscribed to localBus can observe eventProcessing
// outcomes for events that originated outside this process.
const (
	EventProcessed        = "event.processed"
	EventProcessingFailed = "event.processing.failed"
)

type (
	// EnvelopeDecoder converts raw payloads read from Pulse back into
	// bus.Event values. Custom decoders can be provided to handle
	// non-standard envelope formats.
	EnvelopeDecoder func([]byte) (bus.Event, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "orchestrator_core_subscriber".
		SinkName string
		// Buffer specifies the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes event payloads. Defaults to the built-in JSON decoder.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes Pulse streams and emits bus.Event values, decoded
	// from the Envelope format written by Sink. It wraps a Pulse sink
	// (consumer group).
	Subscriber struct {
		client Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber. The Client field in opts
// is required; SinkName, Buffer, and Decoder default to sensible values if not
// provided (see SubscriberOptions field documentation).
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "orchestrator_core_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{
		client: opts.Client,
		buffer: buffer,
		name:   name,
		decode: decoder,
	}, nil
}

// Subscribe opens a Pulse sink on the given stream name and returns channels
// for decoded events and errors. It spawns a goroutine that consumes from the
// sink, decodes payloads, and emits bus events. The returned cancel function
// stops consumption, closes the sink, and closes both channels.
//
// Usage:
//
//	events, errs, cancel, err := sub.Subscribe(ctx, "orchestrator/events/tool.execution.completed")
//	defer cancel()
//	for evt := range events {
//	    // republish onto a local bus, or process directly
//	}
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamName string,
	opts ...streamopts.Sink,
) (<-chan bus.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamName)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan bus.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, cancelFunc, nil
}

// RepublishOnto relays every bus.Event consumed from streamName onto
// localBus, so a process that only holds a Pulse subscription can rejoin the
// in-process pub/sub world (e.g. a fidelity tracker running out-of-process
// from the orchestrator that originally published the events). It blocks
// until ctx is cancelled or the stream is closed, returning nil, or until
// the subscription reports an error, which it publishes locally as
// EventProcessingFailed and returns.
func (s *Subscriber) RepublishOnto(ctx context.Context, streamName string, localBus *bus.Bus, opts ...streamopts.Sink) error {
	events, errs, cancel, err := s.Subscribe(ctx, streamName, opts...)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			localBus.Publish(ctx, bus.Event{
				ID:        fmt.Sprintf("%s.%s.%d", EventProcessingFailed, streamName, time.Now().UnixMilli()),
				Type:      EventProcessingFailed,
				Timestamp: time.Now().UnixMilli(),
				Source:    "pulsebridge.Subscriber",
				Payload:   map[string]any{"stream": streamName, "error": err.Error()},
			})
			return err
		case event, ok := <-events:
			if !ok {
				return nil
			}
			localBus.Publish(ctx, event)
			localBus.Publish(ctx, bus.Event{
				ID:        EventProcessed + "." + event.ID,
				Type:      EventProcessed,
				Timestamp: time.Now().UnixMilli(),
				Source:    "pulsebridge.Subscriber",
				Payload:   map[string]any{"stream": streamName, "eventType": event.Type, "eventId": event.ID},
			})
		}
	}
}

// consume reads events from the Pulse sink channel, decodes them, and emits
// them on the out channel. It acks each event after successful emission.
// Closes both channels when ctx is canceled or when the sink channel closes.
// Sends errors on the errs channel if decoding or acking fails, then returns.
func (s *Subscriber) consume(ctx context.Context, sink Sink, out chan<- bus.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}

// decodeEnvelope deserializes the default JSON Envelope format written by
// Sink and reconstructs the original bus.Event. Returns an error if the
// payload is malformed.
func decodeEnvelope(payload []byte) (bus.Event, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return bus.Event{}, err
	}
	return bus.Event{
		ID:        env.ID,
		Type:      env.Type,
		Timestamp: env.Timestamp,
		Source:    env.Source,
		Payload:   env.Payload,
		Metadata:  env.Metadata,
	}, nil
}
