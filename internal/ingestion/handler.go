package ingestion

import (
	"context"
	"errors"

	"EscrowLedger/internal/command"
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Outcome labels for ingested messages.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeRetry     = "retry"
)

// CommandHandler parses raw commands and submits them to the core one at a time.
type CommandHandler struct {
	source   string
	requests chan<- core.Request
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewCommandHandler(
	source string,
	requests chan<- core.Request,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *CommandHandler {
	return &CommandHandler{
		source:   source,
		requests: requests,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run drains inputChan until ctx is cancelled or the channel is closed.
func (h *CommandHandler) Run(ctx context.Context, inputChan <-chan RawCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inputChan:
			if !ok {
				return nil
			}
			h.Handle(ctx, raw)
		}
	}
}

// Handle processes one raw command and settles it with exactly one of
// AckFunc, NakFunc or TermFunc. It returns the outcome label.
func (h *CommandHandler) Handle(ctx context.Context, raw RawCommand) string {
	cmd, err := ParseRawCommand(raw)
	if err != nil {
		h.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("malformed command")
		return h.settle(raw, OutcomeMalformed)
	}

	res, err := core.Submit(ctx, h.requests, cmd)
	switch {
	case err == nil && res.Duplicate:
		return h.settle(raw, OutcomeDuplicate)
	case err == nil:
		h.logger.Debug().
			Int64("sequence", res.Sequence).
			Str("command_type", cmd.CommandType().String()).
			Msg("command accepted")
		return h.settle(raw, OutcomeAccepted)
	case IsRejection(err):
		h.logRejection(cmd, err)
		return h.settle(raw, OutcomeRejected)
	default:
		h.logger.Warn().Err(err).Str("request_id", cmd.IdempotencyKey()).Msg("command not processed, will retry")
		return h.settle(raw, OutcomeRetry)
	}
}

func (h *CommandHandler) logRejection(cmd command.Command, err error) {
	ev := h.logger.Info().
		Err(err).
		Str("command_type", cmd.CommandType().String()).
		Str("request_id", cmd.IdempotencyKey()).
		Str("caller", cmd.Meta().Caller.String())
	if fe, ok := failure.As(err); ok {
		ev = ev.Str("code", string(fe.Code))
	}
	ev.Msg("command rejected")
}

func (h *CommandHandler) settle(raw RawCommand, outcome string) string {
	var fn func()
	switch outcome {
	case OutcomeRetry:
		fn = raw.NakFunc
	case OutcomeMalformed:
		fn = raw.TermFunc
		if fn == nil {
			fn = raw.AckFunc
		}
	default:
		fn = raw.AckFunc
	}
	if fn != nil {
		fn()
	}
	if h.metrics != nil {
		h.metrics.IngestMessages.WithLabelValues(h.source, outcome).Inc()
	}
	return outcome
}

// IsRejection reports whether err is a deterministic outcome of the command
// itself. Redelivering a rejected command yields the same rejection.
func IsRejection(err error) bool {
	if _, ok := failure.As(err); ok {
		return true
	}
	return errors.Is(err, core.ErrStaleNonce) ||
		errors.Is(err, core.ErrInvalidCommand) ||
		errors.Is(err, core.ErrUnsupportedCommand)
}
