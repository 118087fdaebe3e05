package main

import (
	"context"
	"fmt"
	"time"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// runPeriodicSnapshots takes a snapshot every interval commands and verifies
// earlier snapshots once their sequence has been persisted. Snapshots are
// only loaded on restart after verification.
func runPeriodicSnapshots(
	ctx context.Context,
	c *core.Core,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	checkEvery time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	lastSnapshotSeq := c.GetSequence()
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := snapMgr.VerifyPending(ctx); err != nil {
				logger.Error().Err(err).Msg("snapshot verification failed")
			}

			currentSeq := c.GetSequence()
			if currentSeq-lastSnapshotSeq < interval {
				continue
			}
			if err := takeSnapshot(ctx, c, snapMgr, metrics); err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = currentSeq
			logger.Info().Int64("sequence", currentSeq).Msg("periodic snapshot")
		}
	}
}

// takeSnapshot captures the core's in-memory state and persists it unverified.
func takeSnapshot(
	ctx context.Context,
	c *core.Core,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	state := c.CreateSnapshotState()
	if state.Sequence == 0 {
		return nil
	}

	size, err := snapMgr.SaveSnapshot(ctx, persistence.NewSnapshotData(state, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	return nil
}
