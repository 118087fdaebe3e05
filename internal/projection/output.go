package projection

import (
	"time"

	"EscrowLedger/internal/command"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges core.CoreOutput into this with NewOutput.
type ProjectionOutput struct {
	Sequence       int64
	CommandType    string
	JournalEntries []JournalEntry
	Transfer       *Transfer // set when the command moved a player
	Timestamp      time.Time
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
}

// Transfer is a completed player move. FromClub is zero for free agents.
type Transfer struct {
	Sequence    int64              `json:"sequence"`
	Player      identity.Principal `json:"player"`
	FromClub    identity.Principal `json:"from_club"`
	ToClub      identity.Principal `json:"to_club"`
	TransferFee int64              `json:"transfer_fee"`
	Timestamp   time.Time          `json:"timestamp"`
}

// NewOutput flattens one accepted command for the projection workers.
func NewOutput(env *command.Envelope, cmd command.Command, batch *ledger.Batch) ProjectionOutput {
	out := ProjectionOutput{
		Sequence:    env.Sequence,
		CommandType: env.CommandType.String(),
		Timestamp:   env.Timestamp,
	}
	if batch != nil {
		out.JournalEntries = make([]JournalEntry, 0, len(batch.Journals))
		for _, j := range batch.Journals {
			out.JournalEntries = append(out.JournalEntries, JournalEntry{
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
			})
		}
	}
	out.Transfer = transferOf(env, cmd, batch)
	return out
}

func transferOf(env *command.Envelope, cmd command.Command, batch *ledger.Batch) *Transfer {
	switch c := cmd.(type) {
	case *command.PlayerValidateOfferForFreeAgent:
		return &Transfer{
			Sequence:  env.Sequence,
			Player:    c.Caller,
			ToClub:    c.Club,
			Timestamp: env.Timestamp,
		}
	case *command.PlayerValidateOffer:
		t := &Transfer{
			Sequence:  env.Sequence,
			Player:    c.Caller,
			ToClub:    c.NewClub,
			Timestamp: env.Timestamp,
		}
		// The fee is released from the offer escrow to the old club.
		if batch != nil {
			for _, j := range batch.Journals {
				if j.JournalType == ledger.JournalTypeEscrowRelease {
					t.FromClub = j.DebitAccount.Principal()
					t.TransferFee += j.Amount
				}
			}
		}
		return t
	default:
		return nil
	}
}
