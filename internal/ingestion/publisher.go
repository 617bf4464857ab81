package ingestion

import (
	"DefiHub/internal/event"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes engine events to NATS for downstream consumers
// (indexers, notification services, analytics).
// Subjects follow the pattern: defihub.events.{event_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan *event.Envelope
}

// outboundJSON is the wire form of a published envelope. The raw payload is
// embedded as-is so consumers decode it against the event type.
type outboundJSON struct {
	EventID   string          `json:"event_id"`
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	Account   string          `json:"account,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan *event.Envelope) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop. Publish failures are non-fatal:
// the event log in Postgres remains the source of truth.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, env); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", env.Sequence, err)
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.Envelope) error {
	data, err := json.Marshal(outboundJSON{
		EventID:   env.EventID,
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Account:   env.Account,
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("defihub.events.%s", env.EventType.String())
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "DEFIHUB_EVENTS",
		Subjects:  []string{"defihub.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream DEFIHUB_EVENTS")
	return nil
}

// ChannelSink adapts a buffered channel to the engine's event sink. Emit
// never blocks the engine: if the buffer is full the event is dropped with
// a warning. Size the buffer so this only happens when downstream is stuck.
type ChannelSink struct {
	ch chan *event.Envelope
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan *event.Envelope, buffer)}
}

// Events returns the receive side for the publisher loop.
func (s *ChannelSink) Events() <-chan *event.Envelope {
	return s.ch
}

func (s *ChannelSink) Emit(env *event.Envelope) {
	select {
	case s.ch <- env:
	default:
		log.Printf("WARN: event sink full, dropping seq=%d type=%s", env.Sequence, env.EventType)
	}
}

// Close closes the channel so the publisher loop drains and exits.
func (s *ChannelSink) Close() {
	close(s.ch)
}
