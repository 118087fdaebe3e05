package main

import (
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/projection"
)

// bridgePersist converts core outputs into storage rows and, once queued for
// storage, offers them to the outbound publisher and the websocket feed.
// Persistence is a blocking send; publishing drops when the consumer lags.
// It closes every output channel when persistIn is closed.
func bridgePersist(
	persistIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	publishOut, streamOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	defer func() {
		close(persistOut)
		if publishOut != nil {
			close(publishOut)
		}
		close(streamOut)
	}()

	for output := range persistIn {
		persistOut <- persistence.NewCoreOutput(output.Envelope, output.Batch)

		evt := ingestion.NewPublishableEvent(output.Envelope, output.Batch)
		if publishOut != nil {
			offer(publishOut, evt, metrics)
		}
		offer(streamOut, evt, metrics)
	}
}

func offer(ch chan<- ingestion.PublishableEvent, evt ingestion.PublishableEvent, metrics *observability.Metrics) {
	select {
	case ch <- evt:
	default:
		if metrics != nil {
			metrics.PublishDrops.Inc()
		}
	}
}

// bridgeProjection converts core outputs into projection updates. The core
// already dropped what the projection channel could not take; this stage
// drops again if the projection worker falls behind.
func bridgeProjection(
	projectionIn <-chan core.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	metrics *observability.Metrics,
) {
	defer close(projectionOut)

	for output := range projectionIn {
		select {
		case projectionOut <- projection.NewOutput(output.Envelope, output.Command, output.Batch):
		default:
			if metrics != nil {
				metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
			}
		}
	}
}
