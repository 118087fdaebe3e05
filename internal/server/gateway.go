package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"EscrowLedger/internal/identity"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxCommandBody = 1 << 20

type gateway struct {
	mux     *runtime.ServeMux
	service LedgerServer
}

// NewGatewayMux exposes the ledger service as HTTP/JSON for tooling,
// dashboards and curl. Errors are rendered by the gateway's default handler,
// so HTTP status codes follow the gRPC codes of toStatus.
func NewGatewayMux(service LedgerServer) *runtime.ServeMux {
	g := &gateway{
		mux:     runtime.NewServeMux(),
		service: service,
	}

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{"POST", "/v1/commands/{command_type}", g.submit},
		{"GET", "/v1/balances/{principal}", g.balance},
		{"GET", "/v1/clubs/{club}", g.club},
		{"GET", "/v1/players/{player}", g.player},
		{"GET", "/v1/offers/{player}/{club}", g.offer},
		{"GET", "/v1/game", g.game},
		{"GET", "/v1/transfers", g.transfers},
		{"GET", "/v1/journals/{principal}", g.journals},
		{"GET", "/v1/escrow", g.escrow},
		{"GET", "/v1/integrity", g.integrity},
		{"POST", "/v1/admin/rebuild-projections", g.rebuild},
		{"GET", "/v1/status", g.status},
	}
	for _, rt := range routes {
		if err := g.mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			panic(err)
		}
	}
	return g.mux
}

func (g *gateway) submit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		g.fail(w, r, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	resp, err := g.service.Submit(r.Context(), &SubmitRequest{
		CommandType: params["command_type"],
		Payload:     body,
	})
	g.reply(w, r, resp, err)
}

func (g *gateway) balance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	p, err := principalParam(params, "principal")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.service.GetBalance(r.Context(), &PrincipalRequest{Principal: p})
	g.reply(w, r, resp, err)
}

func (g *gateway) club(w http.ResponseWriter, r *http.Request, params map[string]string) {
	p, err := principalParam(params, "club")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.service.GetClub(r.Context(), &PrincipalRequest{Principal: p})
	g.reply(w, r, resp, err)
}

func (g *gateway) player(w http.ResponseWriter, r *http.Request, params map[string]string) {
	p, err := principalParam(params, "player")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.service.GetPlayer(r.Context(), &PrincipalRequest{Principal: p})
	g.reply(w, r, resp, err)
}

func (g *gateway) offer(w http.ResponseWriter, r *http.Request, params map[string]string) {
	player, err := principalParam(params, "player")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	club, err := principalParam(params, "club")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.service.GetOffer(r.Context(), &OfferRequest{Player: player, Club: club})
	g.reply(w, r, resp, err)
}

func (g *gateway) game(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.service.GetGame(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func (g *gateway) transfers(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req, err := historyRequest(r, identity.Zero)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	if s := r.URL.Query().Get("principal"); s != "" {
		if req.Principal, err = identity.Parse(s); err != nil {
			g.fail(w, r, status.Error(codes.InvalidArgument, err.Error()))
			return
		}
	}
	resp, err := g.service.ListTransfers(r.Context(), req)
	g.reply(w, r, resp, err)
}

func (g *gateway) journals(w http.ResponseWriter, r *http.Request, params map[string]string) {
	p, err := principalParam(params, "principal")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	req, err := historyRequest(r, p)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.service.ListJournals(r.Context(), req)
	g.reply(w, r, resp, err)
}

func (g *gateway) escrow(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.service.GetEscrowSummary(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func (g *gateway) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.service.VerifyIntegrity(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func (g *gateway) rebuild(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.service.RebuildProjections(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func (g *gateway) status(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.service.GetSystemStatus(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func (g *gateway) reply(w http.ResponseWriter, r *http.Request, resp any, err error) {
	if err != nil {
		g.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (g *gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	runtime.HTTPError(r.Context(), g.mux, &runtime.JSONPb{}, w, r, err)
}

func principalParam(params map[string]string, name string) (identity.Principal, error) {
	p, err := identity.Parse(params[name])
	if err != nil {
		return identity.Zero, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return p, nil
}

func historyRequest(r *http.Request, p identity.Principal) (*HistoryRequest, error) {
	req := &HistoryRequest{Principal: p}
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "limit: %v", err)
		}
		req.Limit = n
	}
	if s := q.Get("before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "before: %v", err)
		}
		req.BeforeSequence = &n
	}
	return req, nil
}
