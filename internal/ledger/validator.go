package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum: everything held or
// withdrawable was deposited and not yet paid out.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("global balance is non-zero: %d", total)
	}
	return nil
}

// ValidateEscrowEquals verifies the escrow account of a record holds exactly expected.
// A cleared record must hold zero.
func (v *InvariantValidator) ValidateEscrowEquals(subType AccountSubType, record common.Hash, expected int64) error {
	key := NewEscrowAccountKey(subType, record)
	if held := v.tracker.GetBalance(key); held != expected {
		return fmt.Errorf("escrow %s holds %d, want %d", key.AccountPath(), held, expected)
	}
	return nil
}

// ValidateInternalNonNegative checks every principal and escrow account is >= 0
func (v *InvariantValidator) ValidateInternalNonNegative() error {
	for key := range v.tracker.balances {
		if key.Scope == AccountScopeExternal {
			continue
		}
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}
