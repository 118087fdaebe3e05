package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeEscrowHold JournalType = iota
	JournalTypeEscrowRelease
	JournalTypeEscrowRefund
	JournalTypeWithdrawal
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeEscrowHold:
		return "escrow_hold"
	case JournalTypeEscrowRelease:
		return "escrow_release"
	case JournalTypeEscrowRefund:
		return "escrow_refund"
	case JournalTypeWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Amount        int64       // ALWAYS positive
	JournalType   JournalType // Entry type
	Timestamp     int64       // Command timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries applied all-or-nothing
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from its credit account to its debit
// account, so every entry is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}

// Touched returns the distinct accounts referenced by the batch, in journal order.
func (b *Batch) Touched() []AccountKey {
	seen := make(map[AccountKey]struct{}, len(b.Journals)*2)
	out := make([]AccountKey, 0, len(b.Journals)*2)
	for _, j := range b.Journals {
		for _, k := range [2]AccountKey{j.DebitAccount, j.CreditAccount} {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	return out
}
