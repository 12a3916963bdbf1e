// Package bridge converts core outputs into the row types of the
// persistence, projection and publishing workers, and logged rows back
// into commands for replay. Those worker packages do not import core.
package bridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"PairLedger/internal/core"
	"PairLedger/internal/ingestion"
	"PairLedger/internal/observability"
	"PairLedger/internal/persistence"
	"PairLedger/internal/projection"
	"PairLedger/internal/types"
)

// CommandRow builds the command log row for an applied command.
func CommandRow(out core.CoreOutput) (persistence.CommandRow, error) {
	env := out.Envelope
	events, err := json.Marshal(env.Events)
	if err != nil {
		return persistence.CommandRow{}, fmt.Errorf("marshal events at %d: %w", env.Sequence, err)
	}
	return persistence.CommandRow{
		Sequence:       env.Sequence,
		CommandID:      env.CommandID,
		IdempotencyKey: env.IdempotencyKey,
		Kind:           env.CommandKind,
		Pair:           env.PairID,
		Sender:         env.Sender.Hex(),
		Nonce:          int64(env.Nonce),
		Payload:        env.Payload,
		Events:         events,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		BlockTime:      env.Timestamp,
	}, nil
}

// CommandFromRow rebuilds the command and its logged state hash. The
// logged block time is the engine clock after the command, so replaying
// with it reproduces the original clock.
func CommandFromRow(row persistence.CommandRow) (core.Command, [32]byte, error) {
	var hash [32]byte
	if len(row.StateHash) != len(hash) {
		return core.Command{}, hash, fmt.Errorf("sequence %d: state hash has %d bytes", row.Sequence, len(row.StateHash))
	}
	copy(hash[:], row.StateHash)

	sender, err := types.HexToAddress(row.Sender)
	if err != nil {
		return core.Command{}, hash, fmt.Errorf("sequence %d: %w", row.Sequence, err)
	}

	cmd := core.Command{
		ID:             row.CommandID,
		IdempotencyKey: row.IdempotencyKey,
		Kind:           core.Kind(row.Kind),
		Sender:         sender,
		Nonce:          uint64(row.Nonce),
		BlockTime:      uint64(row.BlockTime.Unix()),
	}
	if row.Pair != nil {
		cmd.Pair = *row.Pair
	}
	if len(row.Payload) > 0 && string(row.Payload) != "null" {
		cmd.Payload = json.RawMessage(row.Payload)
	}
	return cmd, hash, nil
}

// ProjectionOutput builds the projection update. ok is false for
// commands that did not touch a pair.
func ProjectionOutput(out core.CoreOutput) (projection.Output, bool) {
	if out.Pair == nil {
		return projection.Output{}, false
	}
	s := out.Pair.State
	o := projection.Output{
		Sequence: out.Envelope.Sequence,
		Pair:     out.Pair.Name,
		Totals: projection.PairTotals{
			Address:              out.Pair.Address.Hex(),
			AssetElastic:         s.TotalAsset.Elastic,
			AssetBase:            s.TotalAsset.Base,
			BorrowElastic:        s.TotalBorrow.Elastic,
			BorrowBase:           s.TotalBorrow.Base,
			TotalCollateralShare: s.TotalCollateralShare,
			ExchangeRate:         s.ExchangeRate,
			InterestPerSecond:    s.InterestPerSecond,
			LastAccrued:          s.LastAccrued,
			FeesEarnedFraction:   s.FeesEarnedFraction,
		},
	}
	for _, p := range s.Positions {
		o.Positions = append(o.Positions, projection.PositionRow{
			User:            p.User.Hex(),
			BorrowPart:      p.BorrowPart,
			CollateralShare: p.CollateralShare,
		})
	}
	for _, b := range s.Balances {
		o.Balances = append(o.Balances, projection.BalanceRow{User: b.User.Hex(), Fraction: b.Fraction})
	}
	return o, true
}

// PublishableEvents splits an applied command into outbound events.
func PublishableEvents(out core.CoreOutput) []ingestion.PublishableEvent {
	env := out.Envelope
	hash := "0x" + hex.EncodeToString(env.StateHash[:])
	evts := make([]ingestion.PublishableEvent, 0, len(env.Events))
	for i, r := range env.Events {
		evts = append(evts, ingestion.PublishableEvent{
			Sequence:       env.Sequence,
			Index:          i,
			EventType:      r.Type.String(),
			CommandKind:    env.CommandKind,
			IdempotencyKey: env.IdempotencyKey,
			Pair:           env.PairID,
			Source:         r.Source.Hex(),
			Payload:        r.Payload,
			StateHash:      hash,
			Timestamp:      env.Timestamp,
		})
	}
	return evts
}

// Pipes are the worker channels the bridge feeds. Any may be nil.
type Pipes struct {
	Persist    chan<- persistence.Output
	Projection chan<- projection.Output
	Publish    chan<- ingestion.PublishableEvent
}

// RunPersist forwards core persist outputs to the persistence worker with
// a blocking send and fans events out to the publisher without blocking.
// It closes p.Persist when in closes.
func RunPersist(ctx context.Context, in <-chan core.CoreOutput, p Pipes, metrics *observability.Metrics) error {
	if p.Persist != nil {
		defer close(p.Persist)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-in:
			if !ok {
				return nil
			}
			row, err := CommandRow(out)
			if err != nil {
				return err
			}
			if p.Persist != nil {
				select {
				case p.Persist <- persistence.Output{Command: row}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if p.Publish != nil {
				for _, evt := range PublishableEvents(out) {
					select {
					case p.Publish <- evt:
					default:
						if metrics != nil {
							metrics.PublishDrops.Inc()
						}
					}
				}
			}
		}
	}
}

// RunProjection forwards core projection outputs without blocking.
func RunProjection(ctx context.Context, in <-chan core.CoreOutput, out chan<- projection.Output, metrics *observability.Metrics) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o, ok := <-in:
			if !ok {
				return nil
			}
			po, touched := ProjectionOutput(o)
			if !touched {
				continue
			}
			select {
			case out <- po:
			default:
				if metrics != nil {
					metrics.ProjectionDrops.WithLabelValues("projection_worker").Inc()
				}
			}
		}
	}
}

// ChannelGauges samples channel depth into the channel metrics until ctx
// is cancelled.
func ChannelGauges(ctx context.Context, metrics *observability.Metrics, every time.Duration, chans map[string]func() (int, int)) {
	if metrics == nil {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for name, f := range chans {
				size, capacity := f()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}
