package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"EscrowLedger/internal/command"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
)

// CommandLogWriter writes accepted commands and their journals to Postgres
// using multi-row INSERTs.
type CommandLogWriter struct {
	db *sql.DB
}

// CommandRow represents a row in event_log.commands
type CommandRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Caller         string
	Nonce          int64
	Payload        []byte // JSON-encoded command (command.Encode)
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	CommandRef    string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
	Timestamp     int64
}

func NewCommandLogWriter(db *sql.DB) *CommandLogWriter {
	return &CommandLogWriter{db: db}
}

// NewCommandRow flattens an envelope for storage.
func NewCommandRow(env *command.Envelope) CommandRow {
	return CommandRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller.Hex(),
		Nonce:          env.Nonce,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
	}
}

// NewJournalRows flattens a batch for storage. A nil batch yields no rows.
func NewJournalRows(batch *ledger.Batch) []JournalRow {
	if batch == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(batch.Journals))
	for _, j := range batch.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			CommandRef:    j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return rows
}

// Envelope rebuilds the logged envelope for replay.
func (r CommandRow) Envelope() (*command.Envelope, error) {
	ct, err := command.ParseCommandType(r.CommandType)
	if err != nil {
		return nil, fmt.Errorf("sequence %d: %w", r.Sequence, err)
	}
	caller, err := identity.Parse(r.Caller)
	if err != nil {
		return nil, fmt.Errorf("sequence %d: %w", r.Sequence, err)
	}
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("sequence %d: malformed hash", r.Sequence)
	}

	env := &command.Envelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		CommandType:    ct,
		Caller:         caller,
		Nonce:          r.Nonce,
		Timestamp:      r.Timestamp,
		Payload:        r.Payload,
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

// WriteCommandBatch writes a batch of commands to event_log.commands.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, tx *sql.Tx, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.commands
		(sequence, command_type, idempotency_key, caller, nonce, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(commands))
	args := make([]interface{}, 0, len(commands)*9)

	for i, c := range commands {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			c.Sequence, c.CommandType, c.IdempotencyKey, c.Caller, c.Nonce,
			string(c.Payload), c.StateHash, c.PrevHash, c.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *CommandLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, command_ref, sequence, debit_account, credit_account, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*9)

	for i, j := range journals {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.CommandRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LoadCommandsFrom loads logged commands from a given sequence for replay.
func (w *CommandLogWriter) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, caller, nonce, payload,
		       state_hash, prev_hash, timestamp
		FROM event_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(
			&c.Sequence, &c.CommandType, &c.IdempotencyKey, &c.Caller, &c.Nonce,
			&c.Payload, &c.StateHash, &c.PrevHash, &c.Timestamp,
		); err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}

	return commands, rows.Err()
}

// GetLatestSequence returns the highest sequence in the command log.
func (w *CommandLogWriter) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.commands
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
