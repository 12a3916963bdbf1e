package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream = "PAIR_COMMANDS"
	EventStream   = "PAIR_EVENTS"
)

// NATSSubscriber consumes JetStream command subjects and hands raw
// messages to the ingestor.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawCommand
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawCommand is an unparsed inbound message. Exactly one of the ack
// functions is called once the command has been handled.
type RawCommand struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func()              // applied or duplicate
	NakFunc  func(time.Duration) // retry later
	TermFunc func()              // never redeliver
}

// SubjectConfig binds a durable consumer to a subject filter.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects uses one durable consumer over every command kind so
// the stream order, and with it per-sender nonce order, is preserved.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: CommandSubjectPrefix + ">", ConsumerName: "pairledger-commands", StreamName: CommandStream},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawCommand, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		log:     log.With().Str("component", "nats").Logger(),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s and at most one
// unacknowledged message, so commands reach the engine in stream order.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			MaxAckPending: 1,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:  msg.Subject(),
				Data:     msg.Data(),
				Received: time.Now(),
				AckFunc:  func() { _ = msg.Ack() },
				NakFunc:  func(d time.Duration) { _ = msg.NakWithDelay(d) },
				TermFunc: func() { _ = msg.Term() },
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, cc)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// EnsureStreams creates the command and event streams if missing.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      CommandStream,
			Subjects:  []string{CommandSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      EventStream,
			Subjects:  []string{EventSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("pairledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
