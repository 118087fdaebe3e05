package query_test

import (
	"EscrowLedger/internal/command"
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/market"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/projection"
	"EscrowLedger/internal/query"
	"EscrowLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestClampLimit(t *testing.T) {
	tests := map[int]int{
		0:    query.DefaultLimit,
		-3:   query.DefaultLimit,
		10:   10,
		5000: query.MaxLimit,
	}
	for in, want := range tests {
		if got := query.ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d): got %d, want %d", in, got, want)
		}
	}
}

// ============================================================================
// Postgres (INTEGRATION_TEST=1)
// ============================================================================

func TestQueryService_AfterTransfer(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var (
		owner  = identity.Derive("market-owner")
		clubA  = identity.Derive("club-a")
		clubB  = identity.Derive("club-b")
		player = identity.Derive("player")
	)
	h := func(caller identity.Principal, value int64) command.Header {
		return command.Header{RequestID: uuid.New(), Caller: caller, Value: value, TimestampUs: time.Now().UnixMicro()}
	}

	out := make(chan core.CoreOutput, 16)
	c := core.NewCore(core.Config{GameOwner: identity.Derive("game-owner"), MarketOwner: owner}, out, nil, nil, nil)
	cmds := []command.Command{
		&command.SetClubAuthorizedBudget{Header: h(owner, 0), Club: clubB, Amount: 100},
		&command.MakeOfferForFreeAgent{Header: h(clubA, 0), Player: player, Terms: market.Terms{MinTransferFee: 10}},
		&command.PlayerValidateOfferForFreeAgent{Header: h(player, 0), Club: clubA},
		&command.MakeOffer{Header: h(clubB, 30), Player: player},
		&command.ClubValidateOffer{Header: h(clubA, 0), Player: player, NewClub: clubB},
		&command.PlayerValidateOffer{Header: h(player, 0), NewClub: clubB},
	}

	persistIn := make(chan persistence.CoreOutput, len(cmds))
	projIn := make(chan projection.ProjectionOutput, len(cmds))
	for _, cmd := range cmds {
		if _, err := c.ProcessCommand(cmd); err != nil {
			t.Fatalf("%s: %v", cmd.CommandType(), err)
		}
		o := <-out
		persistIn <- persistence.NewCoreOutput(o.Envelope, o.Batch)
		projIn <- projection.NewOutput(o.Envelope, o.Command, o.Batch)
	}
	close(persistIn)
	close(projIn)

	if err := persistence.NewPersistenceWorker(db, persistIn, 100, 10*time.Millisecond, nil, zerolog.Nop()).Run(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := projection.NewProjectionWorker(db, projIn, nil, nil, zerolog.Nop()).Run(ctx); err != nil {
		t.Fatalf("project: %v", err)
	}

	qs := query.NewQueryService(db, nil)

	bal, err := qs.GetBalance(ctx, clubA)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Withdrawable != 30 || bal.AsOfSequence != 6 {
		t.Errorf("clubA balance: got %+v", bal)
	}

	transfers, err := qs.GetTransferHistory(ctx, player, 10, nil)
	if err != nil {
		t.Fatalf("transfers: %v", err)
	}
	if len(transfers) != 2 || transfers[0].TransferFee != 30 || transfers[0].FromClub == nil {
		t.Errorf("transfers: got %+v", transfers)
	}

	report, err := qs.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("integrity: got %+v", report)
	}

	// Rebuilding from the journal yields the same projection.
	if err := projection.RebuildProjections(ctx, db, zerolog.Nop()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if bal, _ := qs.GetBalance(ctx, clubA); bal.Withdrawable != 30 {
		t.Errorf("clubA after rebuild: got %d, want 30", bal.Withdrawable)
	}
}
