package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"PairLedger/internal/bridge"
	"PairLedger/internal/config"
	"PairLedger/internal/core"
	"PairLedger/internal/observability"
	"PairLedger/internal/persistence"
	"PairLedger/internal/projection"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// recoverEngine restores the latest verified snapshot, replays the
// command log after it and warms the idempotency cache. A replayed
// command whose hash disagrees with the log stops startup.
func recoverEngine(ctx context.Context, engine *core.Engine, store *persistence.SnapshotStore, warmKeys int, metrics *observability.Metrics, log zerolog.Logger) error {
	start := time.Now()

	rec, err := store.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("load snapshot failed, replaying from genesis")
		rec = nil
	}
	if rec != nil {
		var snap core.SnapshotState
		if err := json.Unmarshal(rec.Data, &snap); err != nil {
			return fmt.Errorf("decode snapshot %s: %w", rec.SnapshotID, err)
		}
		if snap.Sequence != rec.Sequence || !bytes.Equal(snap.StateHash, rec.StateHash) {
			return fmt.Errorf("snapshot %s: body disagrees with its row", rec.SnapshotID)
		}
		if err := engine.RestoreFromSnapshot(&snap); err != nil {
			return err
		}
	} else {
		log.Info().Msg("no snapshot found, cold start")
	}

	replayed, err := replayLog(ctx, store, engine.GetSequence(), func(cmd core.Command, seq int64, hash [32]byte) error {
		return engine.Replay(cmd, seq, hash)
	})
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	keys, err := store.RecentIdempotencyKeys(ctx, warmKeys)
	if err != nil {
		log.Warn().Err(err).Msg("warm idempotency cache failed")
	} else {
		engine.WarmLRU(keys)
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	log.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", engine.GetSequence()).
		Int("warm_keys", len(keys)).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

// replayLog feeds every logged command from sequence from onward to fn.
func replayLog(ctx context.Context, store *persistence.SnapshotStore, from int64, fn func(core.Command, int64, [32]byte) error) (int64, error) {
	var total int64
	for {
		rows, err := store.LoadCommandsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load commands from %d: %w", from, err)
		}
		if len(rows) == 0 {
			return total, nil
		}
		for _, row := range rows {
			cmd, hash, err := bridge.CommandFromRow(row)
			if err != nil {
				return total, err
			}
			if err := fn(cmd, row.Sequence, hash); err != nil {
				return total, err
			}
			total++
		}
		from = rows[len(rows)-1].Sequence + 1
	}
}

// rebuildProjections truncates the projection tables and replays the
// whole log through a fresh engine, writing each pair-scoped output.
func rebuildProjections(ctx context.Context, db *sql.DB, store *persistence.SnapshotStore, markets *config.Markets, genesis uint64, metrics *observability.Metrics, log zerolog.Logger) (int64, error) {
	if err := projection.Truncate(ctx, db); err != nil {
		return 0, err
	}
	engine, err := core.NewFromMarkets(markets, core.Options{GenesisTime: genesis, Logger: log})
	if err != nil {
		return 0, err
	}
	worker := projection.NewProjectionWorker(db, nil, metrics, log)
	return replayLog(ctx, store, 1, func(cmd core.Command, seq int64, hash [32]byte) error {
		out, err := engine.ReplayOutput(cmd, seq, hash)
		if err != nil {
			return err
		}
		po, ok := bridge.ProjectionOutput(out)
		if !ok {
			return nil
		}
		return worker.Apply(ctx, po)
	})
}

// snapshotter takes engine snapshots through the runner and stores them.
type snapshotter struct {
	runner  *core.Runner
	store   *persistence.SnapshotStore
	metrics *observability.Metrics
	log     zerolog.Logger
}

// take snapshots the live engine. It satisfies server.Snapshotter.
func (s *snapshotter) take(ctx context.Context) (int64, int, error) {
	var snap *core.SnapshotState
	if err := s.runner.View(ctx, func(e *core.Engine) { snap = e.CreateSnapshotState() }); err != nil {
		return 0, 0, err
	}
	return s.save(ctx, snap)
}

// save stores snap and verifies it against the logged hash at its
// sequence. The log row may still be in the persistence pipeline, so
// verification is retried briefly; an unverified snapshot is never
// loaded.
func (s *snapshotter) save(ctx context.Context, snap *core.SnapshotState) (int64, int, error) {
	if snap.Sequence <= 0 {
		return 0, 0, nil
	}
	start := time.Now()
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := s.store.SaveSnapshot(ctx, snap.Sequence, snap.StateHash, data); err != nil {
		return 0, 0, fmt.Errorf("save snapshot: %w", err)
	}

	verified := false
	for attempt := 0; attempt < 10 && !verified; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return snap.Sequence, len(data), ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
		if verified, err = s.store.VerifySnapshot(ctx, snap.Sequence); err != nil {
			return snap.Sequence, len(data), fmt.Errorf("verify snapshot: %w", err)
		}
	}
	if !verified {
		s.log.Warn().Int64("sequence", snap.Sequence).Msg("snapshot saved but not verified")
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		if verified {
			s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
		}
	}
	return snap.Sequence, len(data), nil
}

// runPeriodic snapshots every interval commands, checking every 10s.
func (s *snapshotter) runPeriodic(ctx context.Context, interval int64) {
	if interval <= 0 {
		return
	}
	last := int64(-1)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var current int64
			if err := s.runner.View(ctx, func(e *core.Engine) { current = e.GetSequence() - 1 }); err != nil {
				continue
			}
			if last < 0 {
				last = current
				continue
			}
			if current-last < interval {
				continue
			}
			seq, size, err := s.take(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = seq
			s.log.Info().Int64("sequence", seq).Int("bytes", size).Msg("periodic snapshot")
		}
	}
}
