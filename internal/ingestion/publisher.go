package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PairLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// EventSubjectPrefix is the subject root for outbound events:
// pair.events.{event_type}[.{pair}].
const EventSubjectPrefix = "pair.events."

// Publisher is the subset of jetstream.JetStream the outbound publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes applied events to NATS for downstream
// consumers.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// PublishableEvent is one event record of an applied command.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	Index          int             `json:"index"`
	EventType      string          `json:"event_type"`
	CommandKind    string          `json:"command_kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Pair           *string         `json:"pair,omitempty"`
	Source         string          `json:"source"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Subject returns pair.events.{event_type}, suffixed with the pair name
// for pair-scoped events.
func (e PublishableEvent) Subject() string {
	subject := EventSubjectPrefix + e.EventType
	if e.Pair != nil {
		subject += "." + *e.Pair
	}
	return subject
}

// MsgID lets JetStream drop republished events after a restart.
func (e PublishableEvent) MsgID() string {
	return fmt.Sprintf("%d-%d", e.Sequence, e.Index)
}

func NewOutboundPublisher(js Publisher, inputChan <-chan PublishableEvent, metrics *observability.Metrics, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log.With().Str("component", "publisher").Logger(),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: consumers can read the command log directly.
				op.log.Warn().Err(err).Int64("sequence", evt.Sequence).Str("event", evt.EventType).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(evt.MsgID()))
	return err
}
