package query

import (
	"time"

	"EscrowLedger/internal/identity"
)

// TransferResponse represents a completed transfer for API queries.
type TransferResponse struct {
	Sequence     int64               `json:"sequence"`
	Player       identity.Principal  `json:"player"`
	FromClub     *identity.Principal `json:"from_club,omitempty"` // nil for free agents
	ToClub       identity.Principal  `json:"to_club"`
	TransferFee  int64               `json:"transfer_fee"`
	Timestamp    time.Time           `json:"timestamp"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	CommandRef    string `json:"command_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool             `json:"is_healthy"`
	HashChainBreaks  []int64          `json:"hash_chain_breaks,omitempty"`
	GlobalImbalance  int64            `json:"global_imbalance"`
	NegativeAccounts []AccountBalance `json:"negative_accounts,omitempty"`
	AsOfSequence     int64            `json:"as_of_sequence"`
}
