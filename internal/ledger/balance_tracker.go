package ledger

import (
	"fmt"

	"EscrowLedger/internal/identity"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// WithdrawableOf returns the withdrawable balance of a principal
func (bt *BalanceTracker) WithdrawableOf(p identity.Principal) int64 {
	return bt.GetBalance(NewPrincipalAccountKey(p))
}

// HeldIn returns the amount escrowed against one record
func (bt *BalanceTracker) HeldIn(subType AccountSubType, record common.Hash) int64 {
	return bt.GetBalance(NewEscrowAccountKey(subType, record))
}

// === Invariant Checks ===

// ValidateSufficientWithdrawable checks if a principal can pay out amount
func (bt *BalanceTracker) ValidateSufficientWithdrawable(p identity.Principal, required int64) error {
	available := bt.WithdrawableOf(p)
	if available < required {
		return fmt.Errorf("insufficient withdrawable balance: have=%d, need=%d", available, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// TotalHeld sums every escrow account
func (bt *BalanceTracker) TotalHeld() int64 {
	var total int64
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeEscrow {
			total += balance
		}
	}
	return total
}

// TotalHeldBy sums the escrow accounts of one kind
func (bt *BalanceTracker) TotalHeldBy(subType AccountSubType) int64 {
	var total int64
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeEscrow && key.SubType == subType {
			total += balance
		}
	}
	return total
}

// Snapshot returns a copy of all non-zero balances (for state hashing and snapshots)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		if v != 0 {
			snapshot[k] = v
		}
	}
	return snapshot
}

// Restore replaces all balances, used when loading a snapshot
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
