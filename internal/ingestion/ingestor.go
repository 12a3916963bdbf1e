package ingestion

import (
	"context"
	"errors"
	"time"

	"PairLedger/internal/core"
	"PairLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Submitter applies a command; *core.Runner satisfies it.
type Submitter interface {
	Submit(ctx context.Context, cmd core.Command) (*core.Receipt, error)
}

// Disposition is what happens to an inbound message after handling.
type Disposition int

const (
	Ack Disposition = iota
	Nak
	Term
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	default:
		return "term"
	}
}

// Ingestor parses raw messages and submits them to the engine.
type Ingestor struct {
	submitter Submitter
	rawChan   <-chan RawCommand
	nakDelay  time.Duration
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewIngestor(s Submitter, rawChan <-chan RawCommand, metrics *observability.Metrics, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		submitter: s,
		rawChan:   rawChan,
		nakDelay:  time.Second,
		metrics:   metrics,
		log:       log.With().Str("component", "ingestor").Logger(),
	}
}

// Run handles messages until ctx is cancelled or the channel closes.
func (in *Ingestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in.rawChan:
			if !ok {
				return nil
			}
			d := in.Handle(ctx, raw)
			switch d {
			case Ack:
				call(raw.AckFunc)
			case Nak:
				if raw.NakFunc != nil {
					raw.NakFunc(in.nakDelay)
				}
			case Term:
				call(raw.TermFunc)
			}
		}
	}
}

// Handle parses and submits one message and decides its disposition.
// Duplicates are acknowledged; nonce gaps and a stopped engine are
// retried; every other rejection is final, since replaying the same
// command against the same state fails the same way.
func (in *Ingestor) Handle(ctx context.Context, raw RawCommand) Disposition {
	cmd, err := ParseRawCommand(raw)
	if err != nil {
		if in.metrics != nil {
			in.metrics.IngestParseErrors.WithLabelValues(raw.Subject).Inc()
		}
		in.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable command")
		return Term
	}

	receipt, err := in.submitter.Submit(ctx, cmd)
	switch {
	case err == nil:
		in.log.Debug().Int64("sequence", receipt.Sequence).Str("kind", string(cmd.Kind)).Msg("command applied")
		return Ack
	case errors.Is(err, core.ErrDuplicate):
		return Ack
	case errors.Is(err, core.ErrNonceGap),
		errors.Is(err, core.ErrEngineStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return Nak
	default:
		in.log.Info().Err(err).
			Str("kind", string(cmd.Kind)).
			Str("key", cmd.IdempotencyKey).
			Str("sender", cmd.Sender.Hex()).
			Msg("command rejected")
		return Term
	}
}

func call(f func()) {
	if f != nil {
		f()
	}
}
