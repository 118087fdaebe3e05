package core

import (
	"errors"
	"fmt"

	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/observability"
)

// ErrStaleNonce is returned when a caller reuses or rewinds its nonce.
var ErrStaleNonce = errors.New("stale nonce")

// NonceValidator orders commands per caller. A nonce of 0 opts out of
// ordering; otherwise it must exceed the last accepted nonce. Gaps are tolerated.
// Not thread-safe: only accessed from the single-threaded core.
type NonceValidator struct {
	last    map[identity.Principal]int64
	metrics *observability.Metrics
}

func NewNonceValidator(metrics *observability.Metrics) *NonceValidator {
	return &NonceValidator{
		last:    make(map[identity.Principal]int64),
		metrics: metrics,
	}
}

// Check validates nonce without advancing it.
func (nv *NonceValidator) Check(caller identity.Principal, nonce int64) error {
	if nonce == 0 {
		return nil
	}
	if last := nv.last[caller]; nonce <= last {
		if nv.metrics != nil {
			nv.metrics.NonceStale.Inc()
		}
		return fmt.Errorf("%w: caller=%s, last=%d, got=%d", ErrStaleNonce, caller, last, nonce)
	}
	return nil
}

// Advance records nonce as accepted. Call only after the command committed.
func (nv *NonceValidator) Advance(caller identity.Principal, nonce int64) {
	if nonce == 0 {
		return
	}
	if nonce > nv.last[caller]+1 && nv.metrics != nil {
		nv.metrics.NonceGaps.Inc()
	}
	nv.last[caller] = nonce
}

// Last returns the last accepted nonce of caller, 0 if none.
func (nv *NonceValidator) Last(caller identity.Principal) int64 {
	return nv.last[caller]
}

// All returns a copy of every caller's last nonce, used for snapshots.
func (nv *NonceValidator) All() map[identity.Principal]int64 {
	out := make(map[identity.Principal]int64, len(nv.last))
	for p, n := range nv.last {
		out[p] = n
	}
	return out
}

// Restore replaces the nonce table (used during recovery).
func (nv *NonceValidator) Restore(nonces map[identity.Principal]int64) {
	nv.last = make(map[identity.Principal]int64, len(nonces))
	for p, n := range nonces {
		nv.last[p] = n
	}
}
