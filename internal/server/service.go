package server

import (
	"context"
	"database/sql"
	"time"

	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/market"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/projection"
	"EscrowLedger/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "escrowledger.v1.LedgerService"

// StateReader is the live, read-locked view of the core.
type StateReader interface {
	GetSequence() int64
	GetStateHash() [32]byte
	BalanceOf(p identity.Principal) int64
	TotalHeld() int64
	Nonce(p identity.Principal) int64
	GameState() game.State
	ClubAuthorizedBudget(club identity.Principal) int64
	Offer(player, newClub identity.Principal) (market.Offer, bool)
	FreeAgentOffer(player, club identity.Principal) (market.FreeAgentOffer, bool)
	PlayerContract(player identity.Principal) (market.PlayerContract, bool)
}

// LedgerServer is the RPC surface of the ledger. Every method is unary.
type LedgerServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetBalance(context.Context, *PrincipalRequest) (*BalanceResponse, error)
	GetClub(context.Context, *PrincipalRequest) (*ClubResponse, error)
	GetPlayer(context.Context, *PrincipalRequest) (*PlayerResponse, error)
	GetOffer(context.Context, *OfferRequest) (*OfferResponse, error)
	GetGame(context.Context, *Empty) (*GameResponse, error)
	ListTransfers(context.Context, *HistoryRequest) (*TransfersResponse, error)
	ListJournals(context.Context, *HistoryRequest) (*JournalsResponse, error)
	GetEscrowSummary(context.Context, *Empty) (*query.EscrowSummary, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	RebuildProjections(context.Context, *Empty) (*Empty, error)
	GetSystemStatus(context.Context, *Empty) (*SystemStatusResponse, error)
}

// ServiceDeps holds all dependencies needed by the ledger service. DB and
// QueryService may be nil; history and admin methods then return Unavailable.
type ServiceDeps struct {
	Ingest        *ingestion.GRPCIngestService
	State         StateReader
	QueryService  *query.QueryService
	DB            *sql.DB
	HealthChecker *observability.HealthChecker
	StartTime     time.Time
	Logger        zerolog.Logger
}

// LedgerService implements LedgerServer.
type LedgerService struct {
	deps ServiceDeps
}

func NewLedgerService(deps ServiceDeps) *LedgerService {
	return &LedgerService{deps: deps}
}

var errNoDatabase = status.Error(codes.Unavailable, "no database configured")

// ============================================================================
// Commands
// ============================================================================

func (s *LedgerService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.CommandType == "" {
		return nil, status.Error(codes.InvalidArgument, "command_type is required")
	}

	res, err := s.deps.Ingest.Submit(ctx, req.CommandType, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &SubmitResponse{
		Sequence:  res.Sequence,
		StateHash: common.Hash(res.StateHash),
		Duplicate: res.Duplicate,
	}
	if res.Batch != nil {
		for _, j := range res.Batch.Journals {
			resp.Journals = append(resp.Journals, ingestion.EventJournal{
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
			})
		}
	}
	return resp, nil
}

// ============================================================================
// Live reads
// ============================================================================

// GetBalance never fails; an unknown or zero principal reads as zero.
func (s *LedgerService) GetBalance(ctx context.Context, req *PrincipalRequest) (*BalanceResponse, error) {
	return &BalanceResponse{
		Principal:    req.Principal,
		AsOfSequence: s.deps.State.GetSequence(),
		Withdrawable: s.deps.State.BalanceOf(req.Principal),
		Nonce:        s.deps.State.Nonce(req.Principal),
	}, nil
}

func (s *LedgerService) GetClub(ctx context.Context, req *PrincipalRequest) (*ClubResponse, error) {
	return &ClubResponse{
		Club:             req.Principal,
		AsOfSequence:     s.deps.State.GetSequence(),
		AuthorizedBudget: s.deps.State.ClubAuthorizedBudget(req.Principal),
		Withdrawable:     s.deps.State.BalanceOf(req.Principal),
	}, nil
}

func (s *LedgerService) GetPlayer(ctx context.Context, req *PrincipalRequest) (*PlayerResponse, error) {
	resp := &PlayerResponse{Player: req.Principal, AsOfSequence: s.deps.State.GetSequence()}
	if c, ok := s.deps.State.PlayerContract(req.Principal); ok {
		resp.Contract = &c
	}
	return resp, nil
}

// GetOffer returns whichever offers exist for the pair; both are nil when none does.
func (s *LedgerService) GetOffer(ctx context.Context, req *OfferRequest) (*OfferResponse, error) {
	resp := &OfferResponse{AsOfSequence: s.deps.State.GetSequence()}
	if o, ok := s.deps.State.Offer(req.Player, req.Club); ok {
		resp.Offer = &o
	}
	if o, ok := s.deps.State.FreeAgentOffer(req.Player, req.Club); ok {
		resp.FreeAgentOffer = &o
	}
	return resp, nil
}

func (s *LedgerService) GetGame(ctx context.Context, _ *Empty) (*GameResponse, error) {
	return &GameResponse{
		AsOfSequence: s.deps.State.GetSequence(),
		Game:         s.deps.State.GameState(),
		StateHash:    common.Hash(s.deps.State.GetStateHash()),
	}, nil
}

func (s *LedgerService) GetSystemStatus(ctx context.Context, _ *Empty) (*SystemStatusResponse, error) {
	resp := &SystemStatusResponse{
		Sequence:  s.deps.State.GetSequence(),
		StateHash: common.Hash(s.deps.State.GetStateHash()),
		TotalHeld: s.deps.State.TotalHeld(),
		StartTime: s.deps.StartTime,
		Ready:     true,
	}
	if s.deps.HealthChecker != nil {
		resp.Ready = s.deps.HealthChecker.IsReady()
	}
	return resp, nil
}

// ============================================================================
// Projections
// ============================================================================

func (s *LedgerService) ListTransfers(ctx context.Context, req *HistoryRequest) (*TransfersResponse, error) {
	if s.deps.QueryService == nil {
		return nil, errNoDatabase
	}
	transfers, err := s.deps.QueryService.GetTransferHistory(ctx, req.Principal, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get transfers: %v", err)
	}
	return &TransfersResponse{Transfers: transfers}, nil
}

func (s *LedgerService) ListJournals(ctx context.Context, req *HistoryRequest) (*JournalsResponse, error) {
	if req.Principal.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "principal is required")
	}
	if s.deps.QueryService == nil {
		return nil, errNoDatabase
	}
	journals, err := s.deps.QueryService.GetJournalHistory(ctx, req.Principal, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get journals: %v", err)
	}
	return &JournalsResponse{Journals: journals}, nil
}

func (s *LedgerService) GetEscrowSummary(ctx context.Context, _ *Empty) (*query.EscrowSummary, error) {
	if s.deps.QueryService == nil {
		return nil, errNoDatabase
	}
	summary, err := s.deps.QueryService.GetEscrowSummary(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get escrow summary: %v", err)
	}
	return summary, nil
}

// ============================================================================
// Admin
// ============================================================================

func (s *LedgerService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	if s.deps.QueryService == nil {
		return nil, errNoDatabase
	}
	report, err := s.deps.QueryService.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	if !report.IsHealthy {
		s.deps.Logger.Error().
			Int("hash_chain_breaks", len(report.HashChainBreaks)).
			Int64("global_imbalance", report.GlobalImbalance).
			Int("negative_accounts", len(report.NegativeAccounts)).
			Msg("integrity check failed")
	}
	return report, nil
}

func (s *LedgerService) RebuildProjections(ctx context.Context, _ *Empty) (*Empty, error) {
	if s.deps.DB == nil {
		return nil, errNoDatabase
	}
	if err := projection.RebuildProjections(ctx, s.deps.DB, s.deps.Logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &Empty{}, nil
}

// ============================================================================
// Service descriptor
// ============================================================================

// RegisterLedgerServer registers srv under ServiceName.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", LedgerServer.Submit),
		unary("GetBalance", LedgerServer.GetBalance),
		unary("GetClub", LedgerServer.GetClub),
		unary("GetPlayer", LedgerServer.GetPlayer),
		unary("GetOffer", LedgerServer.GetOffer),
		unary("GetGame", LedgerServer.GetGame),
		unary("ListTransfers", LedgerServer.ListTransfers),
		unary("ListJournals", LedgerServer.ListJournals),
		unary("GetEscrowSummary", LedgerServer.GetEscrowSummary),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
		unary("RebuildProjections", LedgerServer.RebuildProjections),
		unary("GetSystemStatus", LedgerServer.GetSystemStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "escrowledger/v1/ledger",
}

func unary[Req, Resp any](method string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(method),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FullMethod returns the gRPC method path of a ledger service method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

