package core_test

import (
	"EscrowLedger/internal/command"
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/market"
	"EscrowLedger/internal/observability"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// --- Test helpers ---

var (
	gameOwner   = identity.Derive("game-owner")
	marketOwner = identity.Derive("market-owner")
	alice       = identity.Derive("alice")
	bob         = identity.Derive("bob")
	clubA       = identity.Derive("club-a")
	clubB       = identity.Derive("club-b")
	player      = identity.Derive("player")
)

// newTestCore creates a Core with buffered channels and no DB checker.
func newTestCore() (*core.Core, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewCore(core.Config{GameOwner: gameOwner, MarketOwner: marketOwner}, persistChan, projChan, nil, nil)
	return c, persistChan, projChan
}

var tsCounter int64

func header(caller identity.Principal, value int64) command.Header {
	tsCounter++
	return command.Header{
		RequestID:   uuid.New(),
		Caller:      caller,
		Value:       value,
		TimestampUs: 1_000_000 + tsCounter*1000,
	}
}

func commitment(t *testing.T, secret string) common.Hash {
	t.Helper()
	h, err := game.Commit(secret)
	if err != nil {
		t.Fatalf("commit %q: %v", secret, err)
	}
	return h
}

func mustSecret(t *testing.T, s string) game.Secret {
	t.Helper()
	secret, err := game.SecretFromString(s)
	if err != nil {
		t.Fatalf("secret %q: %v", s, err)
	}
	return secret
}

func mustApply(t *testing.T, c *core.Core, cmd command.Command) core.Result {
	t.Helper()
	res, err := c.ProcessCommand(cmd)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", cmd.CommandType(), err)
	}
	if res.Duplicate {
		t.Fatalf("%s: unexpectedly treated as duplicate", cmd.CommandType())
	}
	return res
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// gameRound plays lock → init → give(alice) → alice guesses half.
func gameRound(t *testing.T) []command.Command {
	return []command.Command{
		&command.LockFunds{Header: header(gameOwner, 200000), SecretHash: commitment(t, "first")},
		&command.InitToken{Header: header(gameOwner, 0)},
		&command.GiveToken{Header: header(gameOwner, 0), To: alice},
		&command.Guess{Header: header(alice, 0), Secret: mustSecret(t, "first"), Amount: 100000, NewSecretHash: commitment(t, "second")},
	}
}

// marketRound signs the player to clubA and has clubB buy them for 60.
func marketRound() []command.Command {
	return []command.Command{
		&command.SetClubAuthorizedBudget{Header: header(marketOwner, 0), Club: clubA, Amount: 100},
		&command.SetClubAuthorizedBudget{Header: header(marketOwner, 0), Club: clubB, Amount: 100},
		&command.MakeOfferForFreeAgent{Header: header(clubA, 0), Player: player, Terms: market.Terms{MinTransferFee: 50, Salary: 10, EndDate: 2000}},
		&command.PlayerValidateOfferForFreeAgent{Header: header(player, 0), Club: clubA},
		&command.MakeOffer{Header: header(clubB, 60), Player: player, Terms: market.Terms{MinTransferFee: 80, Salary: 20, EndDate: 3000}},
		&command.ClubValidateOffer{Header: header(clubA, 0), Player: player, NewClub: clubB},
		&command.PlayerValidateOffer{Header: header(player, 0), NewClub: clubB},
	}
}

// ============================================================================
// Pipeline
// ============================================================================

func TestLockFunds_HoldsValueAndEmits(t *testing.T) {
	c, persistChan, projChan := newTestCore()

	cmd := &command.LockFunds{Header: header(gameOwner, 200000), SecretHash: commitment(t, "first")}
	res := mustApply(t, c, cmd)

	if res.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", res.Sequence)
	}
	if res.Batch == nil || len(res.Batch.Journals) != 1 {
		t.Fatalf("expected one hold journal, got %+v", res.Batch)
	}
	if got := c.TotalHeld(); got != 200000 {
		t.Errorf("held: got %d, want 200000", got)
	}
	if gs := c.GameState(); !gs.Locked || gs.EscrowedAmount != 200000 {
		t.Errorf("game state: got %+v", gs)
	}

	persisted := drainOutputs(persistChan)
	if len(persisted) != 1 {
		t.Fatalf("persist outputs: got %d, want 1", len(persisted))
	}
	if len(drainOutputs(projChan)) != 1 {
		t.Error("expected one projection output")
	}

	env := persisted[0].Envelope
	if env.Sequence != 1 || env.CommandType != command.CommandTypeLockFunds {
		t.Errorf("envelope: got seq=%d type=%s", env.Sequence, env.CommandType)
	}
	if env.IdempotencyKey != cmd.RequestID.String() {
		t.Errorf("idempotency key: got %s, want %s", env.IdempotencyKey, cmd.RequestID)
	}
	if env.PrevHash != core.GenesisHash() {
		t.Error("first envelope should chain from genesis")
	}
	if env.StateHash != res.StateHash || env.StateHash != c.GetStateHash() {
		t.Error("envelope hash should be the chain tip")
	}
	if !env.Timestamp.Equal(time.UnixMicro(cmd.TimestampUs)) {
		t.Errorf("timestamp: got %v, want submitter timestamp", env.Timestamp)
	}
}

func TestGameRound_ThenWithdraw(t *testing.T) {
	c, _, _ := newTestCore()
	for _, cmd := range gameRound(t) {
		mustApply(t, c, cmd)
	}

	if got := c.BalanceOf(alice); got != 100000 {
		t.Fatalf("alice balance: got %d, want 100000", got)
	}

	res := mustApply(t, c, &command.Withdraw{Header: header(alice, 0), Amount: 40000})
	if res.Batch.Journals[0].JournalType != ledger.JournalTypeWithdrawal {
		t.Errorf("journal type: got %s", res.Batch.Journals[0].JournalType)
	}
	if got := c.BalanceOf(alice); got != 60000 {
		t.Errorf("alice balance after withdraw: got %d, want 60000", got)
	}
	if got := c.GetSequence(); got != 5 {
		t.Errorf("sequence: got %d, want 5", got)
	}
}

func TestMarketRound_TransfersPlayer(t *testing.T) {
	c, _, _ := newTestCore()
	for _, cmd := range marketRound() {
		mustApply(t, c, cmd)
	}

	contract, ok := c.PlayerContract(player)
	if !ok || contract.Club != clubB || contract.Salary != 20 {
		t.Fatalf("contract: got %+v ok=%v", contract, ok)
	}
	if got := c.BalanceOf(clubA); got != 60 {
		t.Errorf("clubA balance: got %d, want 60", got)
	}
	if got, want := c.ClubAuthorizedBudget(clubA), int64(160); got != want {
		t.Errorf("clubA budget: got %d, want %d", got, want)
	}
	if got, want := c.ClubAuthorizedBudget(clubB), int64(40); got != want {
		t.Errorf("clubB budget: got %d, want %d", got, want)
	}
	if _, ok := c.Offer(player, clubB); ok {
		t.Error("offer should be cleared")
	}
	if got := c.TotalHeld(); got != 0 {
		t.Errorf("held: got %d, want 0", got)
	}
}

// ============================================================================
// Rejections
// ============================================================================

func TestRejectedCommand_LeavesNoTrace(t *testing.T) {
	c, persistChan, _ := newTestCore()
	mustApply(t, c, &command.LockFunds{Header: header(gameOwner, 10), SecretHash: commitment(t, "s")})
	drainOutputs(persistChan)

	hashBefore := c.GetStateHash()
	again := &command.LockFunds{Header: header(gameOwner, 10), SecretHash: commitment(t, "s")}

	_, err := c.ProcessCommand(again)
	if !errors.Is(err, failure.ErrAlreadyLocked) {
		t.Fatalf("got %v, want ErrAlreadyLocked", err)
	}
	if c.GetStateHash() != hashBefore || c.GetSequence() != 1 {
		t.Error("rejected command must not advance the chain")
	}
	if n := len(drainOutputs(persistChan)); n != 0 {
		t.Errorf("rejected command emitted %d outputs", n)
	}

	// Not marked processed: the same request id is evaluated again, not deduplicated.
	res, err := c.ProcessCommand(again)
	if res.Duplicate || !errors.Is(err, failure.ErrAlreadyLocked) {
		t.Errorf("retry: got dup=%v err=%v", res.Duplicate, err)
	}
}

func TestNotOwner_Rejected(t *testing.T) {
	c, _, _ := newTestCore()
	_, err := c.ProcessCommand(&command.SetClubAuthorizedBudget{Header: header(alice, 0), Club: clubA, Amount: 1})
	if failure.KindOf(err) != failure.KindAuthorization {
		t.Errorf("kind: got %v, want authorization", failure.KindOf(err))
	}
}

func TestInvalidHeader_Rejected(t *testing.T) {
	c, _, _ := newTestCore()
	cmd := &command.InitToken{Header: command.Header{Caller: gameOwner}}
	if _, err := c.ProcessCommand(cmd); !errors.Is(err, core.ErrInvalidCommand) {
		t.Errorf("got %v, want ErrInvalidCommand", err)
	}
}

// ============================================================================
// Idempotency & nonces
// ============================================================================

func TestIdempotency_DuplicateIgnored(t *testing.T) {
	c, persistChan, _ := newTestCore()
	cmd := &command.LockFunds{Header: header(gameOwner, 500), SecretHash: commitment(t, "s")}

	mustApply(t, c, cmd)
	res, err := c.ProcessCommand(cmd)
	if err != nil {
		t.Fatalf("duplicate should not error: %v", err)
	}
	if !res.Duplicate {
		t.Error("expected duplicate result")
	}
	if got := c.TotalHeld(); got != 500 {
		t.Errorf("held: got %d, want 500", got)
	}
	if n := len(drainOutputs(persistChan)); n != 1 {
		t.Errorf("outputs: got %d, want 1", n)
	}
}

type stubDB struct{ seen map[string]bool }

func (s stubDB) IsDuplicate(key string) (bool, error) { return s.seen[key], nil }

func TestIdempotency_Tier2Lookup(t *testing.T) {
	cmd := &command.InitToken{Header: header(gameOwner, 0)}
	db := stubDB{seen: map[string]bool{cmd.IdempotencyKey(): true}}
	c := core.NewCore(core.Config{GameOwner: gameOwner, MarketOwner: marketOwner}, nil, nil, db, nil)

	res, err := c.ProcessCommand(cmd)
	if err != nil || !res.Duplicate {
		t.Errorf("got dup=%v err=%v, want duplicate from tier 2", res.Duplicate, err)
	}
}

func TestNonce_StaleRejectedGapAccepted(t *testing.T) {
	c, _, _ := newTestCore()

	first := &command.SetClubAuthorizedBudget{Header: header(marketOwner, 0), Club: clubA, Amount: 10}
	first.Nonce = 5
	mustApply(t, c, first)

	stale := &command.SetClubAuthorizedBudget{Header: header(marketOwner, 0), Club: clubA, Amount: 20}
	stale.Nonce = 5
	if _, err := c.ProcessCommand(stale); !errors.Is(err, core.ErrStaleNonce) {
		t.Fatalf("got %v, want ErrStaleNonce", err)
	}

	gap := &command.SetClubAuthorizedBudget{Header: header(marketOwner, 0), Club: clubA, Amount: 30}
	gap.Nonce = 9
	mustApply(t, c, gap)

	unordered := &command.SetClubAuthorizedBudget{Header: header(marketOwner, 0), Club: clubA, Amount: 40}
	mustApply(t, c, unordered)

	if got := c.Nonce(marketOwner); got != 9 {
		t.Errorf("nonce: got %d, want 9", got)
	}
	if got := c.ClubAuthorizedBudget(clubA); got != 40 {
		t.Errorf("budget: got %d, want 40", got)
	}
}

func TestNonce_RejectedCommandDoesNotAdvance(t *testing.T) {
	c, _, _ := newTestCore()
	cmd := &command.InitToken{Header: header(gameOwner, 0)}
	cmd.Nonce = 1
	if _, err := c.ProcessCommand(cmd); !errors.Is(err, failure.ErrFundsNotLocked) {
		t.Fatalf("got %v, want ErrFundsNotLocked", err)
	}
	if got := c.Nonce(gameOwner); got != 0 {
		t.Errorf("nonce: got %d, want 0", got)
	}
}

// ============================================================================
// State hash, replay, snapshots
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	cmds := append(gameRound(t), marketRound()...)

	c1, _, _ := newTestCore()
	c2, _, _ := newTestCore()
	for _, cmd := range cmds {
		r1 := mustApply(t, c1, cmd)
		r2 := mustApply(t, c2, cmd)
		if r1.StateHash != r2.StateHash {
			t.Fatalf("%s: hashes diverged", cmd.CommandType())
		}
	}
}

func TestReplay_ReproducesChain(t *testing.T) {
	live, persistChan, _ := newTestCore()
	for _, cmd := range append(gameRound(t), marketRound()...) {
		mustApply(t, live, cmd)
	}
	outputs := drainOutputs(persistChan)

	replica := core.NewCore(core.Config{GameOwner: gameOwner, MarketOwner: marketOwner}, nil, nil, nil, nil)
	for _, out := range outputs {
		if err := replica.Replay(out.Envelope); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}

	if replica.GetStateHash() != live.GetStateHash() {
		t.Error("replica hash differs from live core")
	}
	if replica.BalanceOf(clubA) != live.BalanceOf(clubA) {
		t.Error("replica balances differ")
	}
}

func TestReplay_DetectsTampering(t *testing.T) {
	live, persistChan, _ := newTestCore()
	mustApply(t, live, &command.LockFunds{Header: header(gameOwner, 100), SecretHash: commitment(t, "s")})
	env := *drainOutputs(persistChan)[0].Envelope
	env.StateHash[0] ^= 0xff

	replica := core.NewCore(core.Config{GameOwner: gameOwner, MarketOwner: marketOwner}, nil, nil, nil, nil)
	if err := replica.Replay(&env); err == nil {
		t.Error("expected hash mismatch")
	}
}

func TestSnapshot_RestoreAndContinue(t *testing.T) {
	rounds := gameRound(t)
	tail := marketRound()

	uninterrupted, _, _ := newTestCore()
	for _, cmd := range append(append([]command.Command{}, rounds...), tail...) {
		mustApply(t, uninterrupted, cmd)
	}

	first, _, _ := newTestCore()
	for _, cmd := range rounds {
		mustApply(t, first, cmd)
	}
	snap := first.CreateSnapshotState()
	if snap.Sequence != int64(len(rounds)) {
		t.Fatalf("snapshot sequence: got %d, want %d", snap.Sequence, len(rounds))
	}

	restored, _, _ := newTestCore()
	if err := restored.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	for _, cmd := range tail {
		mustApply(t, restored, cmd)
	}

	if restored.GetStateHash() != uninterrupted.GetStateHash() {
		t.Error("restored core diverged from uninterrupted core")
	}

	// Request ids from before the snapshot are still deduplicated.
	res, err := restored.ProcessCommand(rounds[0])
	if err != nil || !res.Duplicate {
		t.Errorf("got dup=%v err=%v, want duplicate", res.Duplicate, err)
	}
}

// ============================================================================
// Channels, runner, metrics
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput) // never drained
	c := core.NewCore(core.Config{GameOwner: gameOwner, MarketOwner: marketOwner}, persistChan, projChan, nil, nil)

	cmds := gameRound(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, cmd := range cmds {
			c.ProcessCommand(cmd)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("core blocked on the projection channel")
	}
	if n := len(drainOutputs(persistChan)); n != 4 {
		t.Errorf("persisted: got %d, want 4", n)
	}
}

func TestRun_SubmitRoundTrip(t *testing.T) {
	c, _, _ := newTestCore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests := make(chan core.Request)
	go c.Run(ctx, requests)

	res, err := core.Submit(ctx, requests, &command.LockFunds{Header: header(gameOwner, 42), SecretHash: commitment(t, "s")})
	if err != nil || res.Sequence != 1 {
		t.Fatalf("got seq=%d err=%v", res.Sequence, err)
	}

	_, err = core.Submit(ctx, requests, &command.InitToken{Header: header(alice, 0)})
	if !errors.Is(err, failure.ErrNotOwner) {
		t.Errorf("got %v, want ErrNotOwner", err)
	}
}

func TestMetrics_RejectionsByCode(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	c := core.NewCore(core.Config{GameOwner: gameOwner, MarketOwner: marketOwner}, nil, nil, nil, m)

	c.ProcessCommand(&command.InitToken{Header: header(gameOwner, 0)})
	mustApply(t, c, &command.LockFunds{Header: header(gameOwner, 7), SecretHash: commitment(t, "s")})

	if got := testutil.ToFloat64(m.CoreCommandsRejected.WithLabelValues("InitToken", string(failure.CodeFundsNotLocked))); got != 1 {
		t.Errorf("rejected: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EscrowHeld.WithLabelValues("game")); got != 7 {
		t.Errorf("escrow held: got %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.CoreSequence); got != 1 {
		t.Errorf("sequence: got %v, want 1", got)
	}
}
