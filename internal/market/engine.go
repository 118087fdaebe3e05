package market

import (
	"fmt"

	"EscrowLedger/internal/access"
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// Market is one deployed transfer market. The owner sets club budgets; clubs
// and players negotiate contracts through offers.
type Market struct {
	owner identity.Principal
	book  *escrow.Book

	budgets         map[identity.Principal]int64
	contracts       map[identity.Principal]PlayerContract
	freeAgentOffers map[OfferKey]FreeAgentOffer
	offers          map[OfferKey]Offer
}

func New(owner identity.Principal, book *escrow.Book) *Market {
	return &Market{
		owner:           owner,
		book:            book,
		budgets:         make(map[identity.Principal]int64),
		contracts:       make(map[identity.Principal]PlayerContract),
		freeAgentOffers: make(map[OfferKey]FreeAgentOffer),
		offers:          make(map[OfferKey]Offer),
	}
}

func validateTerms(t Terms) error {
	if t.MinTransferFee < 0 || t.Salary < 0 {
		return failure.ErrNegativeAmount
	}
	return nil
}

// SetClubAuthorizedBudget overwrites the spending ceiling of club.
func (m *Market) SetClubAuthorizedBudget(call escrow.Call, club identity.Principal, amount int64) (*ledger.Batch, error) {
	if err := access.RequireOwner(m.owner, call); err != nil {
		return nil, err
	}
	if err := access.RequireNoValue(call); err != nil {
		return nil, err
	}
	if club.IsZero() {
		return nil, failure.ErrZeroAddressTarget.WithReason("Club can not be address 0.")
	}
	if amount < 0 {
		return nil, failure.ErrNegativeAmount
	}

	m.budgets[club] = amount
	return nil, nil
}

// === Free agents ===

// MakeOfferForFreeAgent records the caller club's offer to a player without a contract.
func (m *Market) MakeOfferForFreeAgent(call escrow.Call, player identity.Principal, terms Terms) (*ledger.Batch, error) {
	if err := access.RequireNoValue(call); err != nil {
		return nil, err
	}
	if player.IsZero() {
		return nil, failure.ErrInvalidPlayerAddress
	}
	if _, ok := m.contracts[player]; ok {
		return nil, failure.ErrPlayerNotFreeAgent
	}
	if err := validateTerms(terms); err != nil {
		return nil, err
	}

	m.freeAgentOffers[OfferKey{Player: player, Club: call.Caller}] = FreeAgentOffer{
		Club:   call.Caller,
		Player: player,
		Terms:  terms,
	}
	return nil, nil
}

// PlayerValidateOfferForFreeAgent signs the offer of club, creating the caller's contract.
func (m *Market) PlayerValidateOfferForFreeAgent(call escrow.Call, club identity.Principal) (*ledger.Batch, error) {
	if err := access.RequireNoValue(call); err != nil {
		return nil, err
	}
	key := OfferKey{Player: call.Caller, Club: club}
	offer, ok := m.freeAgentOffers[key]
	if !ok {
		return nil, failure.ErrOfferNotFound
	}
	if _, ok := m.contracts[call.Caller]; ok {
		return nil, failure.ErrPlayerNotFreeAgent
	}

	delete(m.freeAgentOffers, key)
	m.contracts[call.Caller] = PlayerContract{
		Club:   offer.Club,
		Player: offer.Player,
		Terms:  offer.Terms,
	}
	return nil, nil
}

// PlayerDeclineOfferForFreeAgent discards the offer of club to the caller.
func (m *Market) PlayerDeclineOfferForFreeAgent(call escrow.Call, club identity.Principal) (*ledger.Batch, error) {
	return m.clearFreeAgentOffer(call, OfferKey{Player: call.Caller, Club: club})
}

// WithdrawOfferForFreeAgent discards the caller club's offer to player.
func (m *Market) WithdrawOfferForFreeAgent(call escrow.Call, player identity.Principal) (*ledger.Batch, error) {
	return m.clearFreeAgentOffer(call, OfferKey{Player: player, Club: call.Caller})
}

func (m *Market) clearFreeAgentOffer(call escrow.Call, key OfferKey) (*ledger.Batch, error) {
	if err := access.RequireNoValue(call); err != nil {
		return nil, err
	}
	if _, ok := m.freeAgentOffers[key]; !ok {
		return nil, failure.ErrOfferNotFound
	}

	delete(m.freeAgentOffers, key)
	return nil, nil
}

// === Players under contract ===

// MakeOffer escrows the attached value as the caller club's transfer fee for player.
// A previous offer by the same club for the same player is replaced and its fee refunded.
func (m *Market) MakeOffer(call escrow.Call, player identity.Principal, terms Terms) (*ledger.Batch, error) {
	if player.IsZero() {
		return nil, failure.ErrInvalidPlayerAddress
	}
	contract, ok := m.contracts[player]
	if !ok {
		return nil, failure.ErrPlayerHasNoActiveContract
	}
	if contract.Club == call.Caller {
		return nil, failure.ErrOfferToOwnPlayer
	}
	if call.Value < 0 {
		return nil, failure.ErrNegativeAmount
	}
	if call.Value > m.budgets[call.Caller] {
		return nil, failure.ErrBudgetExceeded
	}
	if call.Value < contract.MinTransferFee {
		return nil, failure.ErrBelowMinimumFee
	}
	if err := validateTerms(terms); err != nil {
		return nil, err
	}

	key := OfferKey{Player: player, Club: call.Caller}
	record := OfferRecordID(player, call.Caller)

	tx := m.book.Begin(call)
	if prev, ok := m.offers[key]; ok {
		if err := tx.Refund(ledger.SubTypeOfferEscrow, record, prev.NewClub, prev.TransferFee); err != nil {
			return nil, err
		}
	}
	if err := tx.HoldAttached(ledger.SubTypeOfferEscrow, record); err != nil {
		return nil, err
	}

	m.offers[key] = Offer{
		OldClub:     contract.Club,
		NewClub:     call.Caller,
		Player:      player,
		TransferFee: call.Value,
		Contract:    terms,
	}

	return m.commit(tx, record)
}

// WithdrawOffer cancels the caller club's offer for player and refunds its fee.
func (m *Market) WithdrawOffer(call escrow.Call, player identity.Principal) (*ledger.Batch, error) {
	if err := access.RequireNoValue(call); err != nil {
		return nil, err
	}
	key := OfferKey{Player: player, Club: call.Caller}
	offer, ok := m.offers[key]
	if !ok {
		return nil, failure.ErrOfferNotFound
	}
	return m.refundAndClear(call, key, offer)
}

// ClubValidateOffer records the current club's signature on the offer of newClub.
func (m *Market) ClubValidateOffer(call escrow.Call, player, newClub identity.Principal) (*ledger.Batch, error) {
	key, offer, err := m.offerForOldClub(call, player, newClub)
	if err != nil {
		return nil, err
	}

	offer.OldClubSigned = true
	m.offers[key] = offer
	return nil, nil
}

// ClubDeclineOffer rejects the offer of newClub and refunds its fee.
func (m *Market) ClubDeclineOffer(call escrow.Call, player, newClub identity.Principal) (*ledger.Batch, error) {
	key, offer, err := m.offerForOldClub(call, player, newClub)
	if err != nil {
		return nil, err
	}
	return m.refundAndClear(call, key, offer)
}

func (m *Market) offerForOldClub(call escrow.Call, player, newClub identity.Principal) (OfferKey, Offer, error) {
	if err := access.RequireNoValue(call); err != nil {
		return OfferKey{}, Offer{}, err
	}
	key := OfferKey{Player: player, Club: newClub}
	offer, ok := m.offers[key]
	if !ok {
		return OfferKey{}, Offer{}, failure.ErrOfferNotFound
	}
	if err := access.RequireCaller(offer.OldClub, call, failure.ErrNotAuthorizedForOffer); err != nil {
		return OfferKey{}, Offer{}, err
	}
	return key, offer, nil
}

// PlayerValidateOffer finalizes the transfer to newClub: the fee goes to the
// old club, budgets move with it, and the caller's contract is replaced.
// The budget was checked when the offer was made; a budget lowered since then
// does not block the transfer and may go negative.
func (m *Market) PlayerValidateOffer(call escrow.Call, newClub identity.Principal) (*ledger.Batch, error) {
	if err := access.RequireNoValue(call); err != nil {
		return nil, err
	}
	key := OfferKey{Player: call.Caller, Club: newClub}
	offer, ok := m.offers[key]
	if !ok {
		return nil, failure.ErrOfferNotFound
	}
	if !offer.OldClubSigned {
		return nil, failure.ErrOldClubSignatureMissing
	}
	contract, ok := m.contracts[call.Caller]
	if !ok {
		return nil, failure.ErrPlayerHasNoActiveContract
	}
	if contract.Club != offer.OldClub {
		return nil, failure.ErrCurrentClubMismatch
	}

	record := OfferRecordID(offer.Player, offer.NewClub)
	tx := m.book.Begin(call)
	if err := tx.Release(ledger.SubTypeOfferEscrow, record, offer.OldClub, offer.TransferFee); err != nil {
		return nil, err
	}

	delete(m.offers, key)
	m.budgets[offer.NewClub] -= offer.TransferFee
	m.budgets[offer.OldClub] += offer.TransferFee
	m.contracts[call.Caller] = PlayerContract{
		Club:   offer.NewClub,
		Player: offer.Player,
		Terms:  offer.Contract,
	}

	return m.commit(tx, record)
}

// PlayerDeclineOffer rejects the offer of newClub and refunds its fee.
// Budgets are untouched; they only move when a transfer is finalized.
func (m *Market) PlayerDeclineOffer(call escrow.Call, newClub identity.Principal) (*ledger.Batch, error) {
	if err := access.RequireNoValue(call); err != nil {
		return nil, err
	}
	key := OfferKey{Player: call.Caller, Club: newClub}
	offer, ok := m.offers[key]
	if !ok {
		return nil, failure.ErrOfferNotFound
	}
	return m.refundAndClear(call, key, offer)
}

func (m *Market) refundAndClear(call escrow.Call, key OfferKey, offer Offer) (*ledger.Batch, error) {
	record := OfferRecordID(offer.Player, offer.NewClub)
	tx := m.book.Begin(call)
	if err := tx.Refund(ledger.SubTypeOfferEscrow, record, offer.NewClub, offer.TransferFee); err != nil {
		return nil, err
	}

	delete(m.offers, key)
	return m.commit(tx, record)
}

func (m *Market) commit(tx *escrow.Tx, record common.Hash) (*ledger.Batch, error) {
	batch, err := tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("offer %s: %w", record.Hex(), err)
	}
	return batch, nil
}

// === Reads ===

func (m *Market) Owner() identity.Principal {
	return m.owner
}

// ClubAuthorizedBudget returns the budget of club, zero when never set.
func (m *Market) ClubAuthorizedBudget(club identity.Principal) int64 {
	return m.budgets[club]
}

func (m *Market) Offer(player, newClub identity.Principal) (Offer, bool) {
	o, ok := m.offers[OfferKey{Player: player, Club: newClub}]
	return o, ok
}

func (m *Market) FreeAgentOffer(player, club identity.Principal) (FreeAgentOffer, bool) {
	o, ok := m.freeAgentOffers[OfferKey{Player: player, Club: club}]
	return o, ok
}

func (m *Market) PlayerContract(player identity.Principal) (PlayerContract, bool) {
	c, ok := m.contracts[player]
	return c, ok
}

// Verify checks that every open offer is fully escrowed. Cleared offers are
// checked by the ledger-wide invariants: all offer escrow must be owned by an open offer.
func (m *Market) Verify() error {
	var open int64
	for key, offer := range m.offers {
		if offer.TransferFee < 0 {
			return fmt.Errorf("offer %s/%s has negative fee %d", key.Player, key.Club, offer.TransferFee)
		}
		record := OfferRecordID(offer.Player, offer.NewClub)
		if err := m.book.VerifyEscrow(ledger.SubTypeOfferEscrow, record, offer.TransferFee); err != nil {
			return err
		}
		open += offer.TransferFee
	}
	if held := m.book.HeldByKind(ledger.SubTypeOfferEscrow); held != open {
		return fmt.Errorf("offer escrow holds %d, open offers total %d", held, open)
	}
	return nil
}
