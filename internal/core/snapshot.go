package core

import (
	"fmt"

	"EscrowLedger/internal/command"
	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/market"
)

// SnapshotState is the full in-memory state of the core at one sequence.
type SnapshotState struct {
	Sequence        int64 // last processed sequence
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Game            game.State
	Market          market.State
	Nonces          map[identity.Principal]int64
	IdempotencyKeys []string // oldest first
}

// CreateSnapshotState captures the current state under the read lock.
func (c *Core) CreateSnapshotState() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.book.Tracker().Snapshot(),
		Game:            c.game.State(),
		Market:          c.market.State(),
		Nonces:          c.nonces.All(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart: load latest snapshot, then Replay the log after it.
func (c *Core) RestoreFromSnapshot(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.game.Restore(snap.Game); err != nil {
		return fmt.Errorf("restore game: %w", err)
	}
	if err := c.market.Restore(snap.Market); err != nil {
		return fmt.Errorf("restore market: %w", err)
	}
	c.book.Tracker().Restore(snap.Balances)

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.nonces.Restore(snap.Nonces)
	c.idempotency.Warm(snap.IdempotencyKeys)

	if err := c.book.Verify(); err != nil {
		return fmt.Errorf("snapshot %d: %w", snap.Sequence, err)
	}
	if err := c.game.Verify(); err != nil {
		return fmt.Errorf("snapshot %d: %w", snap.Sequence, err)
	}
	if err := c.market.Verify(); err != nil {
		return fmt.Errorf("snapshot %d: %w", snap.Sequence, err)
	}
	return nil
}

// Replay re-applies one logged command without emitting outputs and checks
// that it lands on the same sequence and state hash it was logged with.
func (c *Core) Replay(env *command.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Sequence != c.sequence {
		return fmt.Errorf("replay gap: expected sequence %d, got %d", c.sequence, env.Sequence)
	}
	if env.PrevHash != c.hasher.GetPrevHash() {
		return fmt.Errorf("replay sequence %d: prev hash mismatch", env.Sequence)
	}

	cmd, err := command.Decode(env.CommandType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
	}

	res, err := c.process(cmd, true)
	if err != nil {
		return fmt.Errorf("replay sequence %d rejected: %w", env.Sequence, err)
	}
	if res.StateHash != env.StateHash {
		return fmt.Errorf("replay sequence %d: state hash mismatch: logged %x, computed %x",
			env.Sequence, env.StateHash, res.StateHash)
	}
	if c.metrics != nil {
		c.metrics.ReplayCommandTotal.Inc()
	}
	return nil
}

// WarmLRU loads recent idempotency keys (e.g. from the event log) into the cache.
func (c *Core) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.Warm(keys)
}
