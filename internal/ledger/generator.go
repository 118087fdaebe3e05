package ledger

import (
	"fmt"

	"EscrowLedger/internal/identity"

	"github.com/google/uuid"
)

// journalNamespace derives stable journal and batch ids so that replaying a
// command yields the same ids it was first persisted with.
var journalNamespace = uuid.MustParse("6f1c2f9e-3a8d-4b6e-9c57-2d9b1f0e7a41")

// JournalGenerator creates balanced journal batches
type JournalGenerator struct {
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// NewBatch starts an empty batch for one command.
func (jg *JournalGenerator) NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.NewSHA1(journalNamespace, []byte(eventRef)),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}
}

func (jg *JournalGenerator) appendJournal(b *Batch, debit, credit AccountKey, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("%s/%d", b.EventRef, len(b.Journals)))),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// AppendHold moves attached value into a record's escrow.
// Moves funds: external:deposits → escrow:<kind>:<record>
func (jg *JournalGenerator) AppendHold(b *Batch, escrow AccountKey, amount int64) {
	jg.appendJournal(b, escrow, NewExternalAccountKey(SubTypeExternalDeposits), amount, JournalTypeEscrowHold)
}

// AppendRelease pays escrow out to a principal's withdrawable balance.
// Moves funds: escrow:<kind>:<record> → principal:<p>:withdrawable
func (jg *JournalGenerator) AppendRelease(b *Batch, escrow AccountKey, to identity.Principal, amount int64, jt JournalType) {
	jg.appendJournal(b, NewPrincipalAccountKey(to), escrow, amount, jt)
}

// GenerateWithdrawal pays a principal's withdrawable balance out of the ledger.
// Pre-check: the principal must have sufficient withdrawable balance.
func (jg *JournalGenerator) GenerateWithdrawal(
	p identity.Principal,
	amount int64,
	eventRef string,
	sequence int64,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientWithdrawable(p, amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}

	batch := jg.NewBatch(eventRef, sequence, timestamp)

	// Finalize: principal:withdrawable -> external:withdrawals
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals),
		NewPrincipalAccountKey(p),
		amount,
		JournalTypeWithdrawal,
	)

	return batch, nil
}
