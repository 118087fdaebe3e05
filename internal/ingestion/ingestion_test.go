package ingestion_test

import (
	"EscrowLedger/internal/command"
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/observability"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

var (
	gameOwner   = identity.Derive("game-owner")
	marketOwner = identity.Derive("market-owner")
	mallory     = identity.Derive("mallory")
)

// settled records which settlement function a raw command received.
type settled struct {
	ack, nak, term int
}

func rawFromJSON(t *testing.T, subject string, v interface{}, s *settled) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() { s.ack++ },
		NakFunc:   func() { s.nak++ },
		TermFunc:  func() { s.term++ },
	}
}

func lockFundsPayload(t *testing.T, requestID uuid.UUID, caller identity.Principal, value int64) map[string]interface{} {
	t.Helper()
	h, err := game.Commit("alpha")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return map[string]interface{}{
		"request_id":   requestID.String(),
		"caller":       caller.Hex(),
		"value":        value,
		"timestamp_us": int64(1700000000000000),
		"secret_hash":  h.Hex(),
	}
}

// startCore runs a core on a fresh request channel until the test ends.
func startCore(t *testing.T) chan core.Request {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	requests := make(chan core.Request)
	c := core.NewCore(core.Config{GameOwner: gameOwner, MarketOwner: marketOwner}, nil, nil, nil, nil)
	go c.Run(ctx, requests)
	return requests
}

// ============================================================================
// Parser
// ============================================================================

func TestCommandTypeFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    string
		wantErr bool
	}{
		{"escrow.ledger.cmd.LockFunds", "LockFunds", false},
		{ingestion.CommandSubject(command.CommandTypeMakeOffer), "MakeOffer", false},
		{"escrow.ledger.cmd.", "", true},
		{"escrow.ledger.cmd.Guess.extra", "", true},
		{"orders.created", "", true},
	}
	for _, tt := range tests {
		got, err := ingestion.CommandTypeFromSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err=%v, wantErr=%v", tt.subject, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.subject, got, tt.want)
		}
	}
}

func TestParseLockFunds(t *testing.T) {
	var s settled
	id := uuid.New()
	raw := rawFromJSON(t, "escrow.ledger.cmd.LockFunds", lockFundsPayload(t, id, gameOwner, 200000), &s)

	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	lf, ok := cmd.(*command.LockFunds)
	if !ok {
		t.Fatalf("expected *command.LockFunds, got %T", cmd)
	}
	if lf.RequestID != id {
		t.Errorf("request_id: got %s, want %s", lf.RequestID, id)
	}
	if lf.Caller != gameOwner {
		t.Errorf("caller: got %s, want %s", lf.Caller, gameOwner)
	}
	if lf.Value != 200000 {
		t.Errorf("value: got %d, want 200000", lf.Value)
	}
	want, _ := game.Commit("alpha")
	if lf.SecretHash != want {
		t.Errorf("secret_hash: got %s, want %s", lf.SecretHash, want)
	}
}

func TestParseRejectsUnknownFieldsAndTypes(t *testing.T) {
	var s settled
	payload := lockFundsPayload(t, uuid.New(), gameOwner, 1)
	payload["secret"] = "oops"

	if _, err := ingestion.ParseRawCommand(rawFromJSON(t, "escrow.ledger.cmd.LockFunds", payload, &s)); err == nil {
		t.Error("expected error for unknown field")
	}
	if _, err := ingestion.ParseRawCommand(rawFromJSON(t, "escrow.ledger.cmd.Mint", payload, &s)); err == nil {
		t.Error("expected error for unknown command type")
	}
}

func TestParseRejectsMissingRequestID(t *testing.T) {
	var s settled
	payload := lockFundsPayload(t, uuid.New(), gameOwner, 1)
	delete(payload, "request_id")

	_, err := ingestion.ParseRawCommand(rawFromJSON(t, "escrow.ledger.cmd.LockFunds", payload, &s))
	if err == nil || !strings.Contains(err.Error(), "request_id") {
		t.Errorf("got %v, want request_id error", err)
	}
}

// ============================================================================
// Command handler
// ============================================================================

func TestHandler_Outcomes(t *testing.T) {
	requests := startCore(t)
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	h := ingestion.NewCommandHandler("nats", requests, m, zerolog.Nop())
	ctx := context.Background()

	id := uuid.New()
	var first, dup, rejected, malformed settled

	if got := h.Handle(ctx, rawFromJSON(t, "escrow.ledger.cmd.LockFunds", lockFundsPayload(t, id, gameOwner, 500), &first)); got != ingestion.OutcomeAccepted {
		t.Errorf("first: got %s, want %s", got, ingestion.OutcomeAccepted)
	}
	if got := h.Handle(ctx, rawFromJSON(t, "escrow.ledger.cmd.LockFunds", lockFundsPayload(t, id, gameOwner, 500), &dup)); got != ingestion.OutcomeDuplicate {
		t.Errorf("redelivery: got %s, want %s", got, ingestion.OutcomeDuplicate)
	}
	if got := h.Handle(ctx, rawFromJSON(t, "escrow.ledger.cmd.LockFunds", lockFundsPayload(t, uuid.New(), mallory, 500), &rejected)); got != ingestion.OutcomeRejected {
		t.Errorf("non-owner: got %s, want %s", got, ingestion.OutcomeRejected)
	}
	if got := h.Handle(ctx, ingestion.RawCommand{
		Subject:  "escrow.ledger.cmd.LockFunds",
		Data:     []byte("{not json"),
		AckFunc:  func() { malformed.ack++ },
		TermFunc: func() { malformed.term++ },
	}); got != ingestion.OutcomeMalformed {
		t.Errorf("malformed: got %s, want %s", got, ingestion.OutcomeMalformed)
	}

	for name, tc := range map[string]struct {
		s    settled
		want settled
	}{
		"first":     {first, settled{ack: 1}},
		"duplicate": {dup, settled{ack: 1}},
		"rejected":  {rejected, settled{ack: 1}},
		"malformed": {malformed, settled{term: 1}},
	} {
		if tc.s != tc.want {
			t.Errorf("%s: settled %+v, want %+v", name, tc.s, tc.want)
		}
	}

	for _, outcome := range []string{ingestion.OutcomeAccepted, ingestion.OutcomeDuplicate, ingestion.OutcomeRejected, ingestion.OutcomeMalformed} {
		if got := testutil.ToFloat64(m.IngestMessages.WithLabelValues("nats", outcome)); got != 1 {
			t.Errorf("%s metric: got %v, want 1", outcome, got)
		}
	}
}

func TestHandler_NaksWhenCoreUnavailable(t *testing.T) {
	// Nobody reads this channel, so the submit can only end by cancellation.
	requests := make(chan core.Request)
	h := ingestion.NewCommandHandler("nats", requests, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var s settled
	if got := h.Handle(ctx, rawFromJSON(t, "escrow.ledger.cmd.LockFunds", lockFundsPayload(t, uuid.New(), gameOwner, 1), &s)); got != ingestion.OutcomeRetry {
		t.Errorf("got %s, want %s", got, ingestion.OutcomeRetry)
	}
	if s != (settled{nak: 1}) {
		t.Errorf("settled %+v, want one nak", s)
	}
}

func TestGRPCIngest_Submit(t *testing.T) {
	svc := ingestion.NewGRPCIngestService(startCore(t), nil)
	payload, _ := json.Marshal(lockFundsPayload(t, uuid.New(), gameOwner, 10))

	res, err := svc.Submit(context.Background(), "LockFunds", payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", res.Sequence)
	}

	if _, err := svc.Submit(context.Background(), "Nope", payload); err == nil {
		t.Error("expected error for unknown command type")
	}
}

// ============================================================================
// Outbound publisher
// ============================================================================

type fakePublisher struct {
	subjects []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	return &jetstream.PubAck{Stream: ingestion.EventStreamName}, nil
}

func TestOutboundPublisher_PublishesBySubject(t *testing.T) {
	out := make(chan core.CoreOutput, 1)
	c := core.NewCore(core.Config{GameOwner: gameOwner, MarketOwner: marketOwner}, out, nil, nil, nil)
	payload, _ := json.Marshal(lockFundsPayload(t, uuid.New(), gameOwner, 42))
	cmd, err := command.DecodeNamed("LockFunds", payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := c.ProcessCommand(cmd); err != nil {
		t.Fatalf("process: %v", err)
	}
	o := <-out

	events := make(chan ingestion.PublishableEvent, 1)
	events <- ingestion.NewPublishableEvent(o.Envelope, o.Batch)
	close(events)

	fp := &fakePublisher{}
	if err := ingestion.NewOutboundPublisher(fp, events, zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fp.subjects) != 1 || fp.subjects[0] != "escrow.ledger.events.LockFunds" {
		t.Fatalf("subjects: got %v", fp.subjects)
	}

	var got ingestion.PublishableEvent
	if err := json.Unmarshal(fp.payloads[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Sequence != 1 || got.Caller != gameOwner {
		t.Errorf("event: got seq=%d caller=%s", got.Sequence, got.Caller)
	}
	if got.StateHash != common.Hash(o.Envelope.StateHash) {
		t.Errorf("state_hash: got %s", got.StateHash)
	}
	if len(got.Journals) != 1 || got.Journals[0].Amount != 42 || got.Journals[0].DebitAccount != o.Batch.Journals[0].DebitAccount.AccountPath() {
		t.Errorf("journals: got %+v", got.Journals)
	}
}
