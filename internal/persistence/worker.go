package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"EscrowLedger/internal/command"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/observability"

	"github.com/rs/zerolog"
)

// CoreOutput is the storage view of one accepted command.
// The orchestrator (cmd/escrowledger) bridges core.CoreOutput into this.
type CoreOutput struct {
	CommandRow  CommandRow
	JournalRows []JournalRow
}

// NewCoreOutput builds the rows for one envelope and its batch.
func NewCoreOutput(env *command.Envelope, batch *ledger.Batch) CoreOutput {
	return CoreOutput{
		CommandRow:  NewCommandRow(env),
		JournalRows: NewJournalRows(batch),
	}
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on the persist channel with BLOCKING sends, so if this
// worker falls behind the core stalls and no command is lost.
type PersistenceWorker struct {
	writer       *CommandLogWriter
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewCommandLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming outputs and flushes either when the batch is full
// or the flush timeout expires. Blocks until ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	commandBatch := make([]CommandRow, 0, pw.batchSize)
	journalBatch := make([]JournalRow, 0, pw.batchSize*2)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(commandBatch) > 0 {
				if err := pw.flush(context.Background(), commandBatch, journalBatch); err != nil {
					pw.logger.Error().Err(err).Int("commands", len(commandBatch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(commandBatch) > 0 {
					if err := pw.flush(context.Background(), commandBatch, journalBatch); err != nil {
						pw.logger.Error().Err(err).Int("commands", len(commandBatch)).Msg("final flush failed")
					}
				}
				return nil
			}

			commandBatch = append(commandBatch, output.CommandRow)
			journalBatch = append(journalBatch, output.JournalRows...)

			if len(commandBatch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, commandBatch, journalBatch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				commandBatch = commandBatch[:0]
				journalBatch = journalBatch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(commandBatch) > 0 {
				if err := pw.flushWithRetry(ctx, commandBatch, journalBatch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				commandBatch = commandBatch[:0]
				journalBatch = journalBatch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. The worker never drops commands.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, commands []CommandRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("commands", len(commands)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// One last attempt so the batch is not lost on shutdown.
				if err := pw.flush(context.Background(), commands, journals); err != nil {
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

		err := pw.flush(ctx, commands, journals)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, commands []CommandRow, journals []JournalRow) error {
	start := time.Now()

	// Commands and journals commit together
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		pw.recordError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteCommandBatch(ctx, tx, commands); err != nil {
		pw.recordError("write_commands")
		return err
	}

	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.recordError("write_journals")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.recordError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(commands)))
		pw.metrics.PersistCommandsWritten.Add(float64(len(commands)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(commands) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(commands[len(commands)-1].Sequence))
		}
	}

	return nil
}

func (pw *PersistenceWorker) recordError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}

// Writer returns the underlying writer, used for replay reads.
func (pw *PersistenceWorker) Writer() *CommandLogWriter {
	return pw.writer
}
