package server

import (
	"context"
	"fmt"

	"EscrowLedger/internal/query"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// LedgerClient calls the ledger service over gRPC with the JSON codec.
type LedgerClient struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without transport security.
func Dial(addr string) (*LedgerClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &LedgerClient{conn: conn}, nil
}

func (c *LedgerClient) Close() error {
	return c.conn.Close()
}

func (c *LedgerClient) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, FullMethod(method), req, resp)
}

func call[Resp any](ctx context.Context, c *LedgerClient, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *LedgerClient) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	return call[SubmitResponse](ctx, c, "Submit", req)
}

func (c *LedgerClient) GetBalance(ctx context.Context, req *PrincipalRequest) (*BalanceResponse, error) {
	return call[BalanceResponse](ctx, c, "GetBalance", req)
}

func (c *LedgerClient) GetClub(ctx context.Context, req *PrincipalRequest) (*ClubResponse, error) {
	return call[ClubResponse](ctx, c, "GetClub", req)
}

func (c *LedgerClient) GetPlayer(ctx context.Context, req *PrincipalRequest) (*PlayerResponse, error) {
	return call[PlayerResponse](ctx, c, "GetPlayer", req)
}

func (c *LedgerClient) GetOffer(ctx context.Context, req *OfferRequest) (*OfferResponse, error) {
	return call[OfferResponse](ctx, c, "GetOffer", req)
}

func (c *LedgerClient) GetGame(ctx context.Context) (*GameResponse, error) {
	return call[GameResponse](ctx, c, "GetGame", &Empty{})
}

func (c *LedgerClient) ListTransfers(ctx context.Context, req *HistoryRequest) (*TransfersResponse, error) {
	return call[TransfersResponse](ctx, c, "ListTransfers", req)
}

func (c *LedgerClient) ListJournals(ctx context.Context, req *HistoryRequest) (*JournalsResponse, error) {
	return call[JournalsResponse](ctx, c, "ListJournals", req)
}

func (c *LedgerClient) GetEscrowSummary(ctx context.Context) (*query.EscrowSummary, error) {
	return call[query.EscrowSummary](ctx, c, "GetEscrowSummary", &Empty{})
}

func (c *LedgerClient) VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error) {
	return call[query.IntegrityReport](ctx, c, "VerifyIntegrity", &Empty{})
}

func (c *LedgerClient) RebuildProjections(ctx context.Context) error {
	return c.invoke(ctx, "RebuildProjections", &Empty{}, &Empty{})
}

func (c *LedgerClient) GetSystemStatus(ctx context.Context) (*SystemStatusResponse, error) {
	return call[SystemStatusResponse](ctx, c, "GetSystemStatus", &Empty{})
}
