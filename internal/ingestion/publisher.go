package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"EscrowLedger/internal/command"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventStreamName    = "ESCROW_LEDGER_EVENTS"
	EventSubjectPrefix = "escrow.ledger.events."
)

// Publisher is the subset of jetstream.JetStream the outbound publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// PublishableEvent is an accepted command ready for downstream consumers.
type PublishableEvent struct {
	Sequence       int64              `json:"sequence"`
	CommandType    string             `json:"command_type"`
	IdempotencyKey string             `json:"idempotency_key"`
	Caller         identity.Principal `json:"caller"`
	Payload        json.RawMessage    `json:"payload"`
	Journals       []EventJournal     `json:"journals,omitempty"`
	StateHash      common.Hash        `json:"state_hash"`
	Timestamp      time.Time          `json:"timestamp"`
}

// EventJournal is one ledger movement of a published event.
type EventJournal struct {
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
}

// NewPublishableEvent builds the outbound form of an accepted command.
// batch may be nil.
func NewPublishableEvent(env *command.Envelope, batch *ledger.Batch) PublishableEvent {
	evt := PublishableEvent{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      common.Hash(env.StateHash),
		Timestamp:      env.Timestamp,
	}
	if batch != nil {
		evt.Journals = make([]EventJournal, 0, len(batch.Journals))
		for _, j := range batch.Journals {
			evt.Journals = append(evt.Journals, EventJournal{
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
			})
		}
	}
	return evt
}

// Subject returns escrow.ledger.events.<CommandType>.
func (e PublishableEvent) Subject() string {
	return EventSubjectPrefix + e.CommandType
}

// OutboundPublisher publishes accepted commands to NATS for downstream consumers.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

func NewOutboundPublisher(js Publisher, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the command log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The sequence doubles as the JetStream message id, so a restart that
	// republishes the tail is deduplicated by the stream.
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}
