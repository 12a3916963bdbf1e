package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PairLedger/internal/config"
	"PairLedger/internal/core"
	"PairLedger/internal/observability"
	"PairLedger/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const marketsYAML = `
vault: vault
master:
  address: master
  owner: owner
tokens:
  - name: WETH
  - name: USDC
oracles:
  - name: weth-usdc
    kind: fixed
    rate: "1000000000000000000"
pairs:
  - name: weth-usdc
    collateral: WETH
    asset: USDC
    oracle: weth-usdc
`

var (
	owner  = types.DeriveAddress("owner")
	lender = types.DeriveAddress("lender")
	usdc   = types.DeriveAddress("USDC")
)

func newTestServer(t *testing.T) *GRPCServer {
	t.Helper()
	m, err := config.Parse([]byte(marketsYAML))
	require.NoError(t, err)
	e, err := core.NewFromMarkets(m, core.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	runner := core.NewRunner(e, 16)
	go runner.Run(ctx)

	return NewGRPCServer("", "", &ServerDeps{
		Engine:  runner,
		Metrics: observability.NewMetrics(prometheus.NewRegistry()),
		Logger:  zerolog.Nop(),
		Snapshot: func(context.Context) (int64, int, error) {
			return 7, 128, nil
		},
	})
}

func creditBody(key string, nonce uint64) []byte {
	return []byte(fmt.Sprintf(`{"idempotency_key":%q,"sender":%q,"nonce":%d,"payload":{"token":%q,"to":%q,"amount":"1000"}}`,
		key, owner.Hex(), nonce, usdc.Hex(), lender.Hex()))
}

func dialBufconn(t *testing.T, s *GRPCServer) *PairServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.ServeGRPC(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewPairServiceClient(conn)
}

func TestGRPCSubmitAndReadBack(t *testing.T) {
	client := dialBufconn(t, newTestServer(t))
	ctx := context.Background()

	resp, err := client.Submit(ctx, &SubmitRequest{Kind: core.KindCreditWallet, Body: creditBody("c-1", 0)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Receipt.Sequence)

	_, err = client.Submit(ctx, &SubmitRequest{Kind: core.KindCreditWallet, Body: creditBody("c-1", 1)})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = client.Submit(ctx, &SubmitRequest{Kind: core.KindCreditWallet, Body: creditBody("c-2", 5)})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "nonce gap")

	_, err = client.Submit(ctx, &SubmitRequest{Kind: core.KindCreditWallet, Body: []byte(`{"bogus":1}`)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	p, err := client.GetPair(ctx, &GetPairRequest{Pair: "weth-usdc"})
	require.NoError(t, err)
	assert.Equal(t, "weth-usdc", p.Name)
	assert.Equal(t, int64(1), p.Sequence)

	pos, err := client.GetPosition(ctx, &GetPositionRequest{Pair: "weth-usdc", User: lender.Hex()})
	require.NoError(t, err)
	assert.Equal(t, "0", pos.BorrowPart)
	require.NotNil(t, pos.Solvent)
	assert.True(t, *pos.Solvent)
}

func TestGRPCErrors(t *testing.T) {
	client := dialBufconn(t, newTestServer(t))
	ctx := context.Background()

	_, err := client.GetPair(ctx, &GetPairRequest{Pair: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetPosition(ctx, &GetPositionRequest{Pair: "weth-usdc", User: "not-an-address"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetPosition(ctx, &GetPositionRequest{Pair: "weth-usdc", User: lender.Hex(), AsOfSequence: 3})
	assert.Equal(t, codes.Unimplemented, status.Code(err), "no projection database")

	_, err = client.ListPositions(ctx, &ListPositionsRequest{Pair: "weth-usdc"})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestHTTPRoutes(t *testing.T) {
	handler, err := newTestServer(t).Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/commands/credit_wallet", "application/json", strings.NewReader(string(creditBody("h-1", 0))))
	require.NoError(t, err)
	var submit SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submit))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), submit.Receipt.Sequence)

	resp, err = http.Post(srv.URL+"/v1/commands/credit_wallet", "application/json", strings.NewReader(string(creditBody("h-1", 1))))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/pairs/weth-usdc")
	require.NoError(t, err)
	var p PairResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "weth-usdc", p.Name)

	resp, err = http.Get(srv.URL + "/v1/pairs/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/pairs/weth-usdc/positions/" + lender.Hex() + "?as_of_sequence=-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/admin/snapshot", "application/json", nil)
	require.NoError(t, err)
	var snap TakeSnapshotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, int64(7), snap.Sequence)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCommandStatusMapping(t *testing.T) {
	cases := map[error]codes.Code{
		core.ErrDuplicate:      codes.AlreadyExists,
		core.ErrUnknownPair:    codes.NotFound,
		core.ErrEngineStopped:  codes.Unavailable,
		core.ErrNonceReplay:    codes.FailedPrecondition,
		core.ErrInvalidCommand: codes.InvalidArgument,
		context.Canceled:       codes.Canceled,
	}
	for err, want := range cases {
		assert.Equal(t, want, status.Code(commandStatus(fmt.Errorf("wrapped: %w", err))), err.Error())
	}
}
