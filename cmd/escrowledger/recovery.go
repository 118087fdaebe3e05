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

const replayBatchSize = 1000

// recoverCore restores the latest verified snapshot and replays the command
// log after it. Every replayed command must land on its logged state hash;
// any mismatch aborts startup.
func recoverCore(
	ctx context.Context,
	c *core.Core,
	snapMgr *persistence.SnapshotManager,
	writer *persistence.CommandLogWriter,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (int64, error) {
	if n, err := snapMgr.VerifyPending(ctx); err != nil {
		logger.Warn().Err(err).Msg("snapshot verification failed")
	} else if n > 0 {
		logger.Info().Int("verified", n).Msg("verified pending snapshots")
	}

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if snap != nil {
		state, err := snap.CoreState()
		if err != nil {
			return 0, fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		if err := c.RestoreFromSnapshot(state); err != nil {
			return 0, err
		}
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 1")
	}

	start := time.Now()
	var replayed int64
	from := c.GetSequence() + 1
	for {
		rows, err := writer.LoadCommandsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load commands from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return replayed, err
			}
			if err := c.Replay(env); err != nil {
				return replayed, err
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
		metrics.CoreSequence.Set(float64(c.GetSequence()))
	}
	return replayed, nil
}
