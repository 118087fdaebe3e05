package ingestion

import (
	"context"

	"EscrowLedger/internal/command"
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/observability"
)

// GRPCIngestService submits commands received over gRPC. It is the operator
// and tooling surface; high-throughput producers use NATS.
type GRPCIngestService struct {
	requests chan<- core.Request
	metrics  *observability.Metrics
}

func NewGRPCIngestService(requests chan<- core.Request, metrics *observability.Metrics) *GRPCIngestService {
	return &GRPCIngestService{requests: requests, metrics: metrics}
}

// Submit parses a named command payload and waits for the core's outcome.
func (s *GRPCIngestService) Submit(ctx context.Context, commandType string, payload []byte) (core.Result, error) {
	cmd, err := ParseNamed(commandType, payload)
	if err != nil {
		s.record(OutcomeMalformed)
		return core.Result{}, err
	}
	return s.SubmitCommand(ctx, cmd)
}

// SubmitCommand waits for the core's outcome of an already-typed command.
func (s *GRPCIngestService) SubmitCommand(ctx context.Context, cmd command.Command) (core.Result, error) {
	res, err := core.Submit(ctx, s.requests, cmd)
	switch {
	case err == nil && res.Duplicate:
		s.record(OutcomeDuplicate)
	case err == nil:
		s.record(OutcomeAccepted)
	case IsRejection(err):
		s.record(OutcomeRejected)
	default:
		s.record(OutcomeRetry)
	}
	return res, err
}

func (s *GRPCIngestService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.IngestMessages.WithLabelValues("grpc", outcome).Inc()
	}
}
