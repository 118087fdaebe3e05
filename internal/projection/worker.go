package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"EscrowLedger/internal/observability"

	"github.com/rs/zerolog"
)

const watermarkWorkerID = "main"

// ProjectionWorker updates projection tables from accepted commands.
// The projection channel is non-blocking with drop; if projections fall
// behind they are rebuilt from the command log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	history   *TransferHistory
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewProjectionWorker creates a worker. db may be nil, in which case only
// the in-memory transfer history is maintained.
func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan ProjectionOutput,
	history *TransferHistory,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if output.Sequence <= pw.lastSeq {
				continue
			}
			if pw.lastSeq > 0 && output.Sequence > pw.lastSeq+1 {
				// Outputs were dropped upstream; the tables are behind until a rebuild.
				pw.logger.Warn().
					Int64("last_sequence", pw.lastSeq).
					Int64("sequence", output.Sequence).
					Msg("projection gap")
			}

			if output.Transfer != nil && pw.history != nil {
				pw.history.Add(*output.Transfer)
			}

			if pw.db != nil {
				if err := pw.processOutput(ctx, output); err != nil {
					// Projections are eventually consistent and can be rebuilt.
					pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				}
			}

			pw.lastSeq = output.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionSequence.Set(float64(pw.lastSeq))
			}
		}
	}
}

// LastSequence returns the last sequence the worker consumed.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Transfer != nil {
		if err := insertTransfer(ctx, tx, *output.Transfer); err != nil {
			return fmt.Errorf("transfer projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkWorkerID, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("balances").Observe(time.Since(start).Seconds())
	}
	return nil
}

func updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, sequence int64) error {
	// Debit account: increase balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $2, last_sequence = $3
	`, j.DebitAccount, j.Amount, sequence); err != nil {
		return err
	}

	// Credit account: decrease balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		VALUES ($1, -$2::BIGINT, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $2, last_sequence = $3
	`, j.CreditAccount, j.Amount, sequence); err != nil {
		return err
	}

	return nil
}

func insertTransfer(ctx context.Context, tx *sql.Tx, t Transfer) error {
	var fromClub sql.NullString
	if !t.FromClub.IsZero() {
		fromClub = sql.NullString{String: t.FromClub.Hex(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.transfers (sequence, player, from_club, to_club, transfer_fee, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO NOTHING
	`, t.Sequence, t.Player.Hex(), fromClub, t.ToClub.Hex(), t.TransferFee, t.Timestamp)
	return err
}

// RebuildProjections rebuilds all projection tables from the command log.
// Debits increase an account and credits decrease it, matching the ledger.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []struct {
		name string
		sql  string
	}{
		{"truncate balances", `TRUNCATE projections.balances`},
		{"truncate transfers", `TRUNCATE projections.transfers`},
		{"clear watermark", `DELETE FROM projections.watermark WHERE worker_id = 'main'`},
		{"rebuild balances", `
			INSERT INTO projections.balances (account_path, balance, last_sequence)
			SELECT account_path, SUM(delta), MAX(sequence)
			FROM (
				SELECT debit_account AS account_path, amount AS delta, sequence FROM event_log.journal
				UNION ALL
				SELECT credit_account AS account_path, -amount AS delta, sequence FROM event_log.journal
			) moves
			GROUP BY account_path`},
		{"rebuild transfers", `
			INSERT INTO projections.transfers (sequence, player, from_club, to_club, transfer_fee, timestamp)
			SELECT c.sequence,
			       c.caller,
			       r.debit_account_club,
			       COALESCE(c.payload->>'new_club', c.payload->>'club'),
			       COALESCE(r.fee, 0),
			       c.timestamp
			FROM event_log.commands c
			LEFT JOIN (
				SELECT sequence,
				       MAX(split_part(debit_account, ':', 2)) AS debit_account_club,
				       SUM(amount) AS fee
				FROM event_log.journal
				WHERE journal_type = 'EscrowRelease'
				GROUP BY sequence
			) r ON r.sequence = c.sequence
			WHERE c.command_type IN ('PlayerValidateOffer', 'PlayerValidateOfferForFreeAgent')`},
		{"restore watermark", `
			INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM event_log.commands`},
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("%s: %w", stmt.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}
