package escrow_test

import (
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	depositor = identity.Derive("depositor")
	payee     = identity.Derive("payee")
	record    = common.HexToHash("0xabc")
)

func call(caller identity.Principal, value int64, ref string) escrow.Call {
	return escrow.Call{Caller: caller, Value: value, Ref: ref, Sequence: 1}
}

func mustCommit(t *testing.T, tx *escrow.Tx) *ledger.Batch {
	t.Helper()
	batch, err := tx.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return batch
}

// ============================================================================
// Test: Hold / Release / Refund
// ============================================================================

func TestTx_HoldAttached(t *testing.T) {
	book := escrow.NewBook()
	tx := book.Begin(call(depositor, 100, "hold"))

	if err := tx.HoldAttached(ledger.SubTypeOfferEscrow, record); err != nil {
		t.Fatalf("HoldAttached: %v", err)
	}
	if book.Held(ledger.SubTypeOfferEscrow, record) != 0 {
		t.Error("staging must not touch balances")
	}
	if tx.Available(ledger.SubTypeOfferEscrow, record) != 100 {
		t.Errorf("staged available: got %d, want 100", tx.Available(ledger.SubTypeOfferEscrow, record))
	}

	batch := mustCommit(t, tx)
	if batch == nil || len(batch.Journals) != 1 {
		t.Fatalf("expected one journal, got %+v", batch)
	}
	if book.Held(ledger.SubTypeOfferEscrow, record) != 100 {
		t.Errorf("held: got %d, want 100", book.Held(ledger.SubTypeOfferEscrow, record))
	}
	if err := book.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestTx_HoldAttached_ZeroValue(t *testing.T) {
	book := escrow.NewBook()
	tx := book.Begin(call(depositor, 0, "hold"))

	if err := tx.HoldAttached(ledger.SubTypeOfferEscrow, record); err != nil {
		t.Fatalf("HoldAttached: %v", err)
	}
	batch, err := tx.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if batch != nil {
		t.Errorf("zero hold should stage nothing, got %d journals", len(batch.Journals))
	}
	if book.Held(ledger.SubTypeOfferEscrow, record) != 0 {
		t.Errorf("held: got %d, want 0", book.Held(ledger.SubTypeOfferEscrow, record))
	}
}

func TestTx_HoldAttached_NegativeValue(t *testing.T) {
	tx := escrow.NewBook().Begin(call(depositor, -1, "hold"))

	err := tx.HoldAttached(ledger.SubTypeGameEscrow, record)
	if !errors.Is(err, failure.ErrNegativeAmount) {
		t.Errorf("got %v, want ErrNegativeAmount", err)
	}
}

func TestTx_HoldAttached_Twice(t *testing.T) {
	tx := escrow.NewBook().Begin(call(depositor, 5, "hold"))
	if err := tx.HoldAttached(ledger.SubTypeGameEscrow, record); err != nil {
		t.Fatalf("first hold: %v", err)
	}
	if err := tx.HoldAttached(ledger.SubTypeGameEscrow, record); err == nil {
		t.Error("attached value must not be held twice")
	}
}

func TestTx_ReleaseWithinSameTx(t *testing.T) {
	book := escrow.NewBook()
	tx := book.Begin(call(depositor, 100, "hold-release"))

	if err := tx.HoldAttached(ledger.SubTypeGameEscrow, record); err != nil {
		t.Fatalf("HoldAttached: %v", err)
	}
	if err := tx.Release(ledger.SubTypeGameEscrow, record, payee, 60); err != nil {
		t.Fatalf("Release: %v", err)
	}
	mustCommit(t, tx)

	if book.BalanceOf(payee) != 60 {
		t.Errorf("payee balance: got %d, want 60", book.BalanceOf(payee))
	}
	if book.Held(ledger.SubTypeGameEscrow, record) != 40 {
		t.Errorf("held: got %d, want 40", book.Held(ledger.SubTypeGameEscrow, record))
	}
}

func TestTx_Release_InsufficientEscrow(t *testing.T) {
	book := escrow.NewBook()
	hold := book.Begin(call(depositor, 10, "hold"))
	if err := hold.HoldAttached(ledger.SubTypeGameEscrow, record); err != nil {
		t.Fatalf("HoldAttached: %v", err)
	}
	mustCommit(t, hold)

	tx := book.Begin(call(payee, 0, "release"))
	if err := tx.Release(ledger.SubTypeGameEscrow, record, payee, 6); err != nil {
		t.Fatalf("first release: %v", err)
	}
	// Staged releases count against the escrow.
	err := tx.Release(ledger.SubTypeGameEscrow, record, payee, 6)
	if !errors.Is(err, failure.ErrInsufficientEscrow) {
		t.Errorf("got %v, want ErrInsufficientEscrow", err)
	}
}

func TestTx_Release_ZeroAndNegative(t *testing.T) {
	book := escrow.NewBook()
	tx := book.Begin(call(payee, 0, "zero"))

	if err := tx.Release(ledger.SubTypeGameEscrow, record, payee, 0); err != nil {
		t.Errorf("zero release should be a no-op: %v", err)
	}
	if err := tx.Release(ledger.SubTypeGameEscrow, record, payee, -1); !errors.Is(err, failure.ErrNegativeAmount) {
		t.Errorf("got %v, want ErrNegativeAmount", err)
	}

	batch := mustCommit(t, tx)
	if batch != nil {
		t.Error("empty transaction should commit to a nil batch")
	}
}

func TestTx_Release_ZeroPrincipal(t *testing.T) {
	tx := escrow.NewBook().Begin(call(payee, 0, "zero-target"))

	err := tx.Release(ledger.SubTypeGameEscrow, record, identity.Zero, 1)
	if !errors.Is(err, failure.ErrZeroAddressTarget) {
		t.Errorf("got %v, want ErrZeroAddressTarget", err)
	}
}

func TestTx_Refund(t *testing.T) {
	book := escrow.NewBook()
	tx := book.Begin(call(depositor, 75, "offer"))
	if err := tx.HoldAttached(ledger.SubTypeOfferEscrow, record); err != nil {
		t.Fatalf("HoldAttached: %v", err)
	}
	mustCommit(t, tx)

	refund := book.Begin(call(depositor, 0, "withdraw-offer"))
	if err := refund.Refund(ledger.SubTypeOfferEscrow, record, depositor, 75); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	batch := mustCommit(t, refund)

	if batch.Journals[0].JournalType != ledger.JournalTypeEscrowRefund {
		t.Errorf("got %s, want escrow_refund", batch.Journals[0].JournalType)
	}
	if err := book.VerifyEscrow(ledger.SubTypeOfferEscrow, record, 0); err != nil {
		t.Errorf("cleared record should hold zero: %v", err)
	}
	if book.BalanceOf(depositor) != 75 {
		t.Errorf("depositor balance: got %d, want 75", book.BalanceOf(depositor))
	}
}

// ============================================================================
// Test: Commit
// ============================================================================

func TestTx_Commit_UnheldValue(t *testing.T) {
	tx := escrow.NewBook().Begin(call(depositor, 1, "unheld"))
	if _, err := tx.Commit(); err == nil {
		t.Error("commit with attached but unheld value should fail")
	}
}

func TestTx_Commit_Twice(t *testing.T) {
	tx := escrow.NewBook().Begin(call(depositor, 0, "twice"))
	mustCommit(t, tx)
	if _, err := tx.Commit(); err == nil {
		t.Error("second commit should fail")
	}
}

// ============================================================================
// Test: Withdraw
// ============================================================================

func TestBook_Withdraw(t *testing.T) {
	book := escrow.NewBook()
	tx := book.Begin(call(depositor, 30, "fund"))
	if err := tx.HoldAttached(ledger.SubTypeGameEscrow, record); err != nil {
		t.Fatal(err)
	}
	if err := tx.Release(ledger.SubTypeGameEscrow, record, payee, 30); err != nil {
		t.Fatal(err)
	}
	mustCommit(t, tx)

	if _, err := book.Withdraw(call(payee, 0, "w0"), 0); !errors.Is(err, failure.ErrAmountNotPositive) {
		t.Errorf("got %v, want ErrAmountNotPositive", err)
	}
	if _, err := book.Withdraw(call(payee, 0, "w1"), 31); !errors.Is(err, failure.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	if _, err := book.Withdraw(call(payee, 1, "w2"), 10); !errors.Is(err, failure.ErrUnexpectedValue) {
		t.Errorf("got %v, want ErrUnexpectedValue", err)
	}

	if _, err := book.Withdraw(call(payee, 0, "w3"), 30); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if book.BalanceOf(payee) != 0 {
		t.Errorf("balance after withdraw: got %d, want 0", book.BalanceOf(payee))
	}
	if err := book.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}
