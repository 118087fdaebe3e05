package core

import (
	"EscrowLedger/internal/observability"

	lru "github.com/hashicorp/golang-lru"
)

const DefaultLRUCapacity = 1_000_000

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *lru.Cache

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = DefaultLRUCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &IdempotencyChecker{
		lru:       cache,
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// IsDuplicate checks if the command has been accepted before (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(idempotencyKey string) bool {
	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(idempotencyKey) {
		ic.recordDuplicate("lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(idempotencyKey)
		if err != nil {
			// Conservative: assume not duplicate so a DB issue does not block processing.
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false
		}

		if isDup {
			ic.recordDuplicate("postgres")
			ic.lru.Add(idempotencyKey, struct{}{})
			return true
		}
	}

	return false
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(idempotencyKey string) {
	ic.lru.Add(idempotencyKey, struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// Warm loads recently accepted keys, oldest first, so that restarts do not
// fall through to Postgres for them.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.Add(key, struct{}{})
	}
}

// Keys returns the cached keys from oldest to newest.
func (ic *IdempotencyChecker) Keys() []string {
	raw := ic.lru.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}
