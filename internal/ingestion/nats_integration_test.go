package ingestion_test

import (
	"EscrowLedger/internal/command"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// =============================================================================
// JetStream round trip (requires TEST_NATS_URL or NATS on :4223)
// =============================================================================

func TestNATS_CommandInEventOut(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test NATS not available: %v", err)
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, zerolog.Nop()); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}
	for _, name := range []string{ingestion.CommandStreamName, ingestion.EventStreamName} {
		stream, err := js.Stream(ctx, name)
		if err != nil {
			t.Fatalf("stream %s: %v", name, err)
		}
		if err := stream.Purge(ctx); err != nil {
			t.Fatalf("purge %s: %v", name, err)
		}
	}
	_ = js.DeleteConsumer(ctx, ingestion.CommandStreamName, ingestion.CommandConsumerName)

	// Inbound: a published command reaches the subscriber's channel intact.
	lock := &command.LockFunds{
		Header:     command.Header{RequestID: uuid.New(), Caller: mallory, Value: 10, TimestampUs: 1},
		SecretHash: common.HexToHash("0x01"),
	}
	data, err := command.Encode(lock)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := js.Publish(ctx, ingestion.CommandSubject(lock.CommandType()), data); err != nil {
		t.Fatalf("publish command: %v", err)
	}

	in := make(chan ingestion.RawCommand, 1)
	sub := ingestion.NewNATSSubscriber(js, in, zerolog.Nop())
	if err := sub.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	select {
	case raw := <-in:
		cmd, err := ingestion.ParseRawCommand(raw)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if cmd.IdempotencyKey() != lock.IdempotencyKey() {
			t.Errorf("idempotency key: got %s, want %s", cmd.IdempotencyKey(), lock.IdempotencyKey())
		}
		raw.AckFunc()
	case <-ctx.Done():
		t.Fatal("command not delivered")
	}

	// Outbound: the publisher writes to the event stream under the command type.
	out := make(chan ingestion.PublishableEvent, 1)
	pub := ingestion.NewOutboundPublisher(js, out, zerolog.Nop())
	pubDone := make(chan struct{})
	go func() {
		defer close(pubDone)
		pub.Run(ctx)
	}()

	evt := ingestion.PublishableEvent{
		Sequence:       time.Now().UnixNano(),
		CommandType:    "LockFunds",
		IdempotencyKey: lock.IdempotencyKey(),
		Caller:         mallory,
		Payload:        json.RawMessage(data),
		Timestamp:      time.Now().UTC(),
	}
	out <- evt
	close(out)
	<-pubDone

	consumer, err := js.OrderedConsumer(ctx, ingestion.EventStreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{evt.Subject()},
	})
	if err != nil {
		t.Fatalf("ordered consumer: %v", err)
	}
	msg, err := consumer.Next(jetstream.FetchMaxWait(5 * time.Second))
	if err != nil {
		t.Fatalf("next event: %v", err)
	}

	var got ingestion.PublishableEvent
	if err := json.Unmarshal(msg.Data(), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.Sequence != evt.Sequence {
		t.Errorf("sequence: got %d, want %d", got.Sequence, evt.Sequence)
	}
	if got.Caller != mallory {
		t.Errorf("caller: got %s, want %s", got.Caller, mallory)
	}
}
