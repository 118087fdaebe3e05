package core

import (
	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/market"
)

// GetSequence returns the last processed sequence (0 before any command).
func (c *Core) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence - 1
}

// GetStateHash returns the current chain tip.
func (c *Core) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}

// BalanceOf returns the withdrawable balance of p.
func (c *Core) BalanceOf(p identity.Principal) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.book.BalanceOf(p)
}

// TotalHeld returns the value held across every escrow record.
func (c *Core) TotalHeld() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.book.Tracker().TotalHeld()
}

func (c *Core) Nonce(p identity.Principal) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nonces.Last(p)
}

func (c *Core) GameState() game.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.game.State()
}

func (c *Core) ClubAuthorizedBudget(club identity.Principal) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.ClubAuthorizedBudget(club)
}

func (c *Core) Offer(player, newClub identity.Principal) (market.Offer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.Offer(player, newClub)
}

func (c *Core) FreeAgentOffer(player, club identity.Principal) (market.FreeAgentOffer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.FreeAgentOffer(player, club)
}

func (c *Core) PlayerContract(player identity.Principal) (market.PlayerContract, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.PlayerContract(player)
}
