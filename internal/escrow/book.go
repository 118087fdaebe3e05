package escrow

import (
	"fmt"

	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// Book is the single owner of balances. Engines read through it and move
// value only through a Tx obtained from Begin.
type Book struct {
	tracker   *ledger.BalanceTracker
	generator *ledger.JournalGenerator
	validator *ledger.InvariantValidator
}

func NewBook() *Book {
	tracker := ledger.NewBalanceTracker()
	return &Book{
		tracker:   tracker,
		generator: ledger.NewJournalGenerator(tracker),
		validator: ledger.NewInvariantValidator(tracker),
	}
}

func (b *Book) Tracker() *ledger.BalanceTracker {
	return b.tracker
}

// BalanceOf returns the withdrawable balance of p.
func (b *Book) BalanceOf(p identity.Principal) int64 {
	return b.tracker.WithdrawableOf(p)
}

// Held returns the amount escrowed against record.
func (b *Book) Held(subType ledger.AccountSubType, record common.Hash) int64 {
	return b.tracker.HeldIn(subType, record)
}

// HeldByKind returns the total escrowed across all records of one kind.
func (b *Book) HeldByKind(subType ledger.AccountSubType) int64 {
	return b.tracker.TotalHeldBy(subType)
}

// Begin opens a transaction for one call. Nothing is applied until Commit.
func (b *Book) Begin(call Call) *Tx {
	return &Tx{
		book:   b,
		call:   call,
		batch:  b.generator.NewBatch(call.Ref, call.Sequence, call.Timestamp),
		staged: make(map[ledger.AccountKey]int64),
	}
}

// Withdraw pays amount of the caller's withdrawable balance out of the ledger.
func (b *Book) Withdraw(call Call, amount int64) (*ledger.Batch, error) {
	if call.HasValue() {
		return nil, failure.ErrUnexpectedValue
	}
	if amount <= 0 {
		return nil, failure.ErrAmountNotPositive.WithReason("Withdrawal amount is not greater than 0.")
	}
	if b.tracker.WithdrawableOf(call.Caller) < amount {
		return nil, failure.ErrInsufficientBalance
	}

	batch, err := b.generator.GenerateWithdrawal(call.Caller, amount, call.Ref, call.Sequence, call.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := b.tracker.ApplyBatch(batch); err != nil {
		return nil, fmt.Errorf("apply withdrawal: %w", err)
	}
	return batch, nil
}

// Verify checks the ledger-wide invariants.
func (b *Book) Verify() error {
	if err := b.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	return b.validator.ValidateInternalNonNegative()
}

// VerifyEscrow checks that record holds exactly expected.
func (b *Book) VerifyEscrow(subType ledger.AccountSubType, record common.Hash, expected int64) error {
	return b.validator.ValidateEscrowEquals(subType, record, expected)
}
