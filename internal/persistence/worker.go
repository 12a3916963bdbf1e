package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PairLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Output mirrors core.CoreOutput to avoid an import cycle.
// The orchestrator (cmd/pairledger) bridges between the two.
type Output struct {
	Command CommandRow
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on the persist channel with a blocking send, so if this
// worker falls behind the core stalls and no command is lost.
type PersistenceWorker struct {
	writer       *CommandLogWriter
	inputChan    <-chan Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &PersistenceWorker{
		writer:       NewCommandLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log.With().Str("component", "persistence").Logger(),
	}
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled or the input channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]CommandRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(batch) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.log.Error().Err(err).Int("commands", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.log.Error().Err(err).Int("commands", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, output.Command)
			if len(batch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write
// succeeds or ctx is cancelled. The worker never drops a batch.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, rows []CommandRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("commands", len(rows)).Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// Shutdown: one last attempt outside the cancelled context.
				if err := pw.flush(context.Background(), rows); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.log.Debug().Err(err).Msg("flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, rows []CommandRow) error {
	start := time.Now()

	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteCommandBatch(ctx, tx, rows); err != nil {
		pw.countError("write_commands")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(rows)))
		pw.metrics.PersistCommandsWritten.Add(float64(len(rows)))
		pw.metrics.PersistLastSequence.Set(float64(rows[len(rows)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
