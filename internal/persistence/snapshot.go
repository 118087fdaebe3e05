package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/market"

	"github.com/google/uuid"
)

const snapshotFormatVersion = 1 // v1: JSON-encoded SnapshotData

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64                        `json:"sequence"`
	StateHash       []byte                       `json:"state_hash"`
	Balances        map[string]int64             `json:"balances"` // AccountPath -> balance
	Game            game.State                   `json:"game"`
	Market          market.State                 `json:"market"`
	Nonces          map[identity.Principal]int64 `json:"nonces"`
	IdempotencyKeys []string                     `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time                    `json:"created_at"`
}

// NewSnapshotData converts a core snapshot into its stored form.
func NewSnapshotData(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make(map[string]int64, len(s.Balances))
	for key, amount := range s.Balances {
		balances[key.AccountPath()] = amount
	}
	return &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Balances:        balances,
		Game:            s.Game,
		Market:          s.Market,
		Nonces:          s.Nonces,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
}

// CoreState converts the stored form back for core.RestoreFromSnapshot.
func (d *SnapshotData) CoreState() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash is %d bytes", d.Sequence, len(d.StateHash))
	}
	balances := make(map[ledger.AccountKey]int64, len(d.Balances))
	for path, amount := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		balances[key] = amount
	}

	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        balances,
		Game:            d.Game,
		Market:          d.Market,
		Nonces:          d.Nonces,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)
	return s, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres and returns its encoded size.
// Snapshots are written unverified; MarkVerified flips them once a replay
// from the snapshot reproduced the logged hash.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, snapshotFormatVersion)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifyAgainstLog checks a snapshot's hash against the command logged at
// the same sequence and marks it verified on a match.
func (sm *SnapshotManager) VerifyAgainstLog(ctx context.Context, snap *SnapshotData) error {
	var logged []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.commands WHERE sequence = $1
	`, snap.Sequence).Scan(&logged)
	if err == sql.ErrNoRows {
		return fmt.Errorf("snapshot %d: sequence not in command log", snap.Sequence)
	}
	if err != nil {
		return err
	}
	if string(logged) != string(snap.StateHash) {
		return fmt.Errorf("snapshot %d: state hash does not match command log", snap.Sequence)
	}
	return sm.MarkVerified(ctx, snap.Sequence)
}

// VerifyPending verifies every unverified snapshot whose sequence has been
// persisted, and returns how many were marked verified. Mismatching
// snapshots are left unverified and reported.
func (sm *SnapshotManager) VerifyPending(ctx context.Context) (int, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT s.sequence, s.state_hash, c.state_hash
		FROM event_log.snapshots s
		JOIN event_log.commands c ON c.sequence = s.sequence
		WHERE s.verified = FALSE
		ORDER BY s.sequence ASC
	`)
	if err != nil {
		return 0, err
	}

	type pending struct {
		sequence     int64
		snap, logged []byte
	}
	var candidates []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.sequence, &p.snap, &p.logged); err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	verified := 0
	for _, p := range candidates {
		if string(p.snap) != string(p.logged) {
			return verified, fmt.Errorf("snapshot %d: state hash does not match command log", p.sequence)
		}
		if err := sm.MarkVerified(ctx, p.sequence); err != nil {
			return verified, err
		}
		verified++
	}
	return verified, nil
}
