package server

import (
	"encoding/json"
	"time"

	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/market"
	"EscrowLedger/internal/query"

	"github.com/ethereum/go-ethereum/common"
)

type Empty struct{}

// SubmitRequest carries one command in its JSON wire format.
type SubmitRequest struct {
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload"`
}

type SubmitResponse struct {
	Sequence  int64                    `json:"sequence"`
	StateHash common.Hash              `json:"state_hash"`
	Duplicate bool                     `json:"duplicate"`
	Journals  []ingestion.EventJournal `json:"journals,omitempty"`
}

type PrincipalRequest struct {
	Principal identity.Principal `json:"principal"`
}

// BalanceResponse is read from the live ledger, not the projection.
type BalanceResponse struct {
	Principal    identity.Principal `json:"principal"`
	Withdrawable int64              `json:"withdrawable"`
	Nonce        int64              `json:"nonce"`
	AsOfSequence int64              `json:"as_of_sequence"`
}

type ClubResponse struct {
	Club             identity.Principal `json:"club"`
	AuthorizedBudget int64              `json:"authorized_budget"`
	Withdrawable     int64              `json:"withdrawable"`
	AsOfSequence     int64              `json:"as_of_sequence"`
}

type PlayerResponse struct {
	Player       identity.Principal     `json:"player"`
	Contract     *market.PlayerContract `json:"contract,omitempty"`
	AsOfSequence int64                  `json:"as_of_sequence"`
}

// OfferRequest names an offer by player and offering club.
type OfferRequest struct {
	Player identity.Principal `json:"player"`
	Club   identity.Principal `json:"club"`
}

// OfferResponse holds whichever of the two offer kinds exists for the pair.
type OfferResponse struct {
	Offer          *market.Offer          `json:"offer,omitempty"`
	FreeAgentOffer *market.FreeAgentOffer `json:"free_agent_offer,omitempty"`
	AsOfSequence   int64                  `json:"as_of_sequence"`
}

type GameResponse struct {
	Game         game.State  `json:"game"`
	StateHash    common.Hash `json:"state_hash"`
	AsOfSequence int64       `json:"as_of_sequence"`
}

// HistoryRequest pages through history newest first. A zero principal lists
// every transfer.
type HistoryRequest struct {
	Principal      identity.Principal `json:"principal"`
	Limit          int                `json:"limit"`
	BeforeSequence *int64             `json:"before_sequence,omitempty"`
}

type TransfersResponse struct {
	Transfers []query.TransferResponse `json:"transfers"`
}

type JournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type SystemStatusResponse struct {
	Sequence  int64       `json:"sequence"`
	StateHash common.Hash `json:"state_hash"`
	TotalHeld int64       `json:"total_held"`
	StartTime time.Time   `json:"start_time"`
	Ready     bool        `json:"ready"`
}
