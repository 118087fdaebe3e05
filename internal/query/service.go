package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/observability"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// QueryService provides read-only access to projection tables and the
// journal. All responses include as_of_sequence for freshness semantics.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// GetBalance returns a principal's projected withdrawable balance.
func (qs *QueryService) GetBalance(ctx context.Context, p identity.Principal) (_ *BalanceResponse, err error) {
	defer qs.observe("balance", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	balance, err := qs.getProjectedBalance(ctx, ledger.NewPrincipalAccountKey(p).AccountPath())
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Principal:    p,
		Withdrawable: balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetEscrowSummary returns every escrow account that currently holds value.
func (qs *QueryService) GetEscrowSummary(ctx context.Context) (_ *EscrowSummary, err error) {
	defer qs.observe("escrow", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, balance, last_sequence
		FROM projections.balances
		WHERE account_path LIKE 'escrow:%' AND balance <> 0
		ORDER BY account_path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &EscrowSummary{AsOfSequence: asOfSeq}
	for rows.Next() {
		var a AccountBalance
		if err := rows.Scan(&a.AccountPath, &a.Balance, &a.LastSequence); err != nil {
			return nil, err
		}
		summary.Accounts = append(summary.Accounts, a)
		summary.TotalHeld += a.Balance
	}
	return summary, rows.Err()
}

// GetTransferHistory returns completed transfers, newest first. When p is
// non-zero only transfers involving p as player or club are returned.
// beforeSequence is the pagination cursor.
func (qs *QueryService) GetTransferHistory(
	ctx context.Context,
	p identity.Principal,
	limit int,
	beforeSequence *int64,
) (_ []TransferResponse, err error) {
	defer qs.observe("transfers", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, player, from_club, to_club, transfer_fee, timestamp
		FROM projections.transfers
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	// Addresses are stored in mixed case; compare case-insensitively.
	if !p.IsZero() {
		query += fmt.Sprintf(" AND (lower(player) = $%d OR lower(from_club) = $%d OR lower(to_club) = $%d)", argIdx, argIdx, argIdx)
		args = append(args, lowerHex(p))
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []TransferResponse
	for rows.Next() {
		var (
			t              TransferResponse
			player, toClub string
			fromClub       sql.NullString
		)
		if err := rows.Scan(&t.Sequence, &player, &fromClub, &toClub, &t.TransferFee, &t.Timestamp); err != nil {
			return nil, err
		}
		if t.Player, err = identity.Parse(player); err != nil {
			return nil, err
		}
		if t.ToClub, err = identity.Parse(toClub); err != nil {
			return nil, err
		}
		if fromClub.Valid {
			from, err := identity.Parse(fromClub.String)
			if err != nil {
				return nil, err
			}
			t.FromClub = &from
		}
		t.AsOfSequence = asOfSeq
		history = append(history, t)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching p's account with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	p identity.Principal,
	limit int,
	beforeSequence *int64,
) (_ []JournalHistoryEntry, err error) {
	defer qs.observe("journal", time.Now(), &err)

	accountPath := ledger.NewPrincipalAccountKey(p).AccountPath()

	query := `
		SELECT journal_id, batch_id, command_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []interface{}{accountPath}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.CommandRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain, the global zero-sum and that no
// principal or escrow account is negative.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (_ *IntegrityReport, err error) {
	defer qs.observe("integrity", time.Now(), &err)

	report := &IntegrityReport{}
	if report.AsOfSequence, err = qs.getWatermark(ctx); err != nil {
		return nil, err
	}

	// Hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM event_log.commands c1
		LEFT JOIN event_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.sequence > 1 AND c1.prev_hash != COALESCE(c2.state_hash, c1.prev_hash)
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()

	// Every move is double-entry, so all accounts sum to zero.
	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM projections.balances
	`).Scan(&report.GlobalImbalance); err != nil {
		return nil, err
	}

	negRows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, balance, last_sequence
		FROM projections.balances
		WHERE balance < 0 AND account_path NOT LIKE 'external:%'
		ORDER BY account_path
	`)
	if err != nil {
		return nil, err
	}
	defer negRows.Close()

	for negRows.Next() {
		var a AccountBalance
		if err := negRows.Scan(&a.AccountPath, &a.Balance, &a.LastSequence); err != nil {
			return nil, err
		}
		report.NegativeAccounts = append(report.NegativeAccounts, a)
	}
	if err := negRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		report.GlobalImbalance == 0 &&
		len(report.NegativeAccounts) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if *err != nil {
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func lowerHex(p identity.Principal) string {
	return "0x" + fmt.Sprintf("%x", p.Bytes())
}
