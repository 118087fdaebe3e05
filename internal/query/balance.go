package query

import "EscrowLedger/internal/identity"

// BalanceResponse represents a principal's ledger balance for API queries
type BalanceResponse struct {
	Principal identity.Principal `json:"principal"`

	// Value the principal can withdraw
	Withdrawable int64 `json:"withdrawable"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last projected command sequence
}

// AccountBalance is one projected account.
type AccountBalance struct {
	AccountPath  string `json:"account_path"`
	Balance      int64  `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
}

// EscrowSummary lists every escrow account holding value.
type EscrowSummary struct {
	Accounts     []AccountBalance `json:"accounts"`
	TotalHeld    int64            `json:"total_held"`
	AsOfSequence int64            `json:"as_of_sequence"`
}
