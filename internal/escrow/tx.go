package escrow

import (
	"fmt"

	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// Tx stages the value movements of one operation. Staging never touches
// balances, so an operation that fails after staging has no effect.
type Tx struct {
	book   *Book
	call   Call
	batch  *ledger.Batch
	staged map[ledger.AccountKey]int64
	held   bool
	done   bool
}

// Call returns the call this transaction belongs to.
func (tx *Tx) Call() Call {
	return tx.call
}

// Available returns the amount held against record including staged movements.
func (tx *Tx) Available(subType ledger.AccountSubType, record common.Hash) int64 {
	key := ledger.NewEscrowAccountKey(subType, record)
	return tx.book.tracker.GetBalance(key) + tx.staged[key]
}

// HoldAttached moves the whole attached value into the escrow of record.
// The attached value can be held once per call; a zero value stages nothing.
func (tx *Tx) HoldAttached(subType ledger.AccountSubType, record common.Hash) error {
	if tx.held {
		return fmt.Errorf("attached value of %s already held", tx.call.Ref)
	}
	if tx.call.Value < 0 {
		return failure.ErrNegativeAmount
	}
	tx.held = true
	if tx.call.Value == 0 {
		return nil
	}

	key := ledger.NewEscrowAccountKey(subType, record)
	tx.book.generator.AppendHold(tx.batch, key, tx.call.Value)
	tx.staged[key] += tx.call.Value
	return nil
}

// Release pays amount from the escrow of record to a principal's withdrawable
// balance. A zero amount stages nothing.
func (tx *Tx) Release(subType ledger.AccountSubType, record common.Hash, to identity.Principal, amount int64) error {
	return tx.release(subType, record, to, amount, ledger.JournalTypeEscrowRelease)
}

// Refund returns amount from the escrow of record to its depositor.
func (tx *Tx) Refund(subType ledger.AccountSubType, record common.Hash, depositor identity.Principal, amount int64) error {
	return tx.release(subType, record, depositor, amount, ledger.JournalTypeEscrowRefund)
}

func (tx *Tx) release(subType ledger.AccountSubType, record common.Hash, to identity.Principal, amount int64, jt ledger.JournalType) error {
	if amount < 0 {
		return failure.ErrNegativeAmount
	}
	if to.IsZero() {
		return failure.ErrZeroAddressTarget.WithReason("Funds can not be released to address 0.")
	}
	if amount == 0 {
		return nil
	}
	if tx.Available(subType, record) < amount {
		return failure.ErrInsufficientEscrow
	}

	key := ledger.NewEscrowAccountKey(subType, record)
	tx.book.generator.AppendRelease(tx.batch, key, to, amount, jt)
	tx.staged[key] -= amount
	return nil
}

// Commit applies every staged movement at once. It returns nil when nothing
// was staged. A commit error means the staged batch was malformed, which is a
// programming error rather than a rejection.
func (tx *Tx) Commit() (*ledger.Batch, error) {
	if tx.done {
		return nil, fmt.Errorf("transaction %s already committed", tx.call.Ref)
	}
	tx.done = true

	if tx.call.HasValue() && !tx.held {
		return nil, fmt.Errorf("transaction %s: attached value %d was never held", tx.call.Ref, tx.call.Value)
	}
	if len(tx.batch.Journals) == 0 {
		return nil, nil
	}
	if err := tx.book.tracker.ApplyBatch(tx.batch); err != nil {
		return nil, fmt.Errorf("commit %s: %w", tx.call.Ref, err)
	}
	return tx.batch, nil
}
