package market

import (
	"EscrowLedger/internal/identity"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Terms are the contract conditions carried by offers and contracts.
// EndDate is opaque unix seconds; no expiry is enforced.
type Terms struct {
	MinTransferFee int64 `json:"min_transfer_fee"`
	Salary         int64 `json:"salary"`
	EndDate        int64 `json:"end_date"`
}

// FreeAgentOffer is a club's offer to a player without a contract.
type FreeAgentOffer struct {
	Club   identity.Principal `json:"club"`
	Player identity.Principal `json:"player"`
	Terms
}

// Offer is a bid by NewClub for a player under contract with OldClub.
// TransferFee is escrowed until the offer is finalized, withdrawn or declined.
type Offer struct {
	OldClub       identity.Principal `json:"old_club"`
	NewClub       identity.Principal `json:"new_club"`
	Player        identity.Principal `json:"player"`
	TransferFee   int64              `json:"transfer_fee"`
	Contract      Terms              `json:"contract"`
	OldClubSigned bool               `json:"old_club_signed"`
}

// PlayerContract binds a player to a club. A player has at most one.
type PlayerContract struct {
	Club   identity.Principal `json:"club"`
	Player identity.Principal `json:"player"`
	Terms
}

// OfferKey identifies an offer by player and the offering club.
type OfferKey struct {
	Player identity.Principal
	Club   identity.Principal
}

// OfferRecordID is the escrow record backing the offer of club for player.
func OfferRecordID(player, club identity.Principal) common.Hash {
	return crypto.Keccak256Hash([]byte("transfer-offer"), player.Bytes(), club.Bytes())
}
