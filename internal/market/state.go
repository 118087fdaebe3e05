package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"EscrowLedger/internal/identity"
)

// State is the serializable form of a market, used by snapshots and hashing.
// Slices are sorted so equal markets encode to equal bytes.
type State struct {
	Owner           identity.Principal           `json:"owner"`
	Budgets         map[identity.Principal]int64 `json:"budgets"`
	Contracts       []PlayerContract             `json:"contracts"`
	FreeAgentOffers []FreeAgentOffer             `json:"free_agent_offers"`
	Offers          []Offer                      `json:"offers"`
}

func comparePrincipal(a, b identity.Principal) int {
	return bytes.Compare(a.Bytes(), b.Bytes())
}

func compareKey(aPlayer, aClub, bPlayer, bClub identity.Principal) int {
	if c := comparePrincipal(aPlayer, bPlayer); c != 0 {
		return c
	}
	return comparePrincipal(aClub, bClub)
}

func (m *Market) State() State {
	s := State{
		Owner:           m.owner,
		Budgets:         make(map[identity.Principal]int64, len(m.budgets)),
		Contracts:       make([]PlayerContract, 0, len(m.contracts)),
		FreeAgentOffers: make([]FreeAgentOffer, 0, len(m.freeAgentOffers)),
		Offers:          make([]Offer, 0, len(m.offers)),
	}
	for club, amount := range m.budgets {
		s.Budgets[club] = amount
	}
	for _, c := range m.contracts {
		s.Contracts = append(s.Contracts, c)
	}
	for _, o := range m.freeAgentOffers {
		s.FreeAgentOffers = append(s.FreeAgentOffers, o)
	}
	for _, o := range m.offers {
		s.Offers = append(s.Offers, o)
	}

	slices.SortFunc(s.Contracts, func(a, b PlayerContract) int {
		return comparePrincipal(a.Player, b.Player)
	})
	slices.SortFunc(s.FreeAgentOffers, func(a, b FreeAgentOffer) int {
		return compareKey(a.Player, a.Club, b.Player, b.Club)
	})
	slices.SortFunc(s.Offers, func(a, b Offer) int {
		return compareKey(a.Player, a.NewClub, b.Player, b.NewClub)
	})
	return s
}

// Restore loads a previously exported state. Offer escrow is restored
// separately through the ledger.
func (m *Market) Restore(s State) error {
	if s.Owner != m.owner {
		return fmt.Errorf("snapshot owner %s does not match market owner %s", s.Owner, m.owner)
	}

	m.budgets = make(map[identity.Principal]int64, len(s.Budgets))
	for club, amount := range s.Budgets {
		m.budgets[club] = amount
	}
	m.contracts = make(map[identity.Principal]PlayerContract, len(s.Contracts))
	for _, c := range s.Contracts {
		m.contracts[c.Player] = c
	}
	m.freeAgentOffers = make(map[OfferKey]FreeAgentOffer, len(s.FreeAgentOffers))
	for _, o := range s.FreeAgentOffers {
		m.freeAgentOffers[OfferKey{Player: o.Player, Club: o.Club}] = o
	}
	m.offers = make(map[OfferKey]Offer, len(s.Offers))
	for _, o := range s.Offers {
		m.offers[OfferKey{Player: o.Player, Club: o.NewClub}] = o
	}
	return nil
}

// Digest is a canonical byte encoding of the market for state hashing.
func (s State) Digest() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode market state: %w", err)
	}
	return data, nil
}
