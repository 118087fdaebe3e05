package projection

import (
	"sync"

	"EscrowLedger/internal/identity"
)

// TransferHistory keeps the most recent transfers in memory for the live
// feed and for queries that run without Postgres.
type TransferHistory struct {
	mu       sync.RWMutex
	capacity int
	entries  []Transfer
}

func NewTransferHistory(capacity int) *TransferHistory {
	return &TransferHistory{
		capacity: capacity,
		entries:  make([]Transfer, 0, capacity),
	}
}

// Add records a transfer, evicting the oldest when full.
func (h *TransferHistory) Add(t Transfer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.capacity > 0 && len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, t)
}

// QueryByPrincipal returns up to limit transfers, newest first, where p is
// the player or either club. The zero principal matches every transfer.
func (h *TransferHistory) QueryByPrincipal(p identity.Principal, limit int) []Transfer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Transfer, 0)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := h.entries[i]
		if p.IsZero() || e.Player == p || e.ToClub == p || (!e.FromClub.IsZero() && e.FromClub == p) {
			result = append(result, e)
		}
	}
	return result
}

func (h *TransferHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
