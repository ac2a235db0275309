package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"gardenchain/config"
	"gardenchain/core/precise"
	"gardenchain/core/types"
	"gardenchain/native/controller"
	"gardenchain/native/operations"
	"gardenchain/native/strategy"
	"gardenchain/services/strategyd/node"
)

const testSecret = "strategyd-test-secret"

var (
	dai        = common.HexToAddress("0xd1")
	gardenAddr = common.HexToAddress("0x9a7d")
	routerAddr = common.HexToAddress("0x7e")
	marketAddr = common.HexToAddress("0x1e")
	keeperAddr = common.HexToAddress("0xee77")
	adminAddr  = common.HexToAddress("0xad")
	strategist = common.HexToAddress("0xb0b")
	alice      = common.HexToAddress("0xa1")
)

type harness struct {
	t       *testing.T
	now     time.Time
	node    *node.Node
	handler http.Handler
}

func newHarness(t *testing.T, limit RateLimit) *harness {
	t.Helper()
	h := &harness{t: t, now: time.Unix(1_700_000_000, 0).UTC()}
	cfg := config.Default()
	cfg.Keepers = []string{keeperAddr.Hex()}
	cfg.Oracle.MaxAgeSeconds = 365 * 24 * 3600
	cfg.Assets = []config.Asset{{Symbol: "DAI", Address: dai.Hex(), Price: "1"}}
	cfg.Gardens = []config.Garden{{Name: "stable", Address: gardenAddr.Hex(), Reserve: "DAI"}}
	cfg.Integrations = []config.Integration{
		{Name: "router", Kind: "trade", Address: routerAddr.Hex(), Default: true},
		{Name: "market", Kind: "lend", Address: marketAddr.Hex()},
	}
	n, err := node.New(cfg, node.Options{Now: func() time.Time { return h.now }})
	require.NoError(t, err)
	h.node = n

	srv, err := New(Config{
		Node:      n,
		Auth:      AuthConfig{HMACSecret: testSecret, Issuer: "gardenchain"},
		RateLimit: limit,
	})
	require.NoError(t, err)
	h.handler = srv.Handler()
	return h
}

func token(t *testing.T, subject common.Address, scopes ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   subject.Hex(),
		"iss":   "gardenchain",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": strings.Join(scopes, " "),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (h *harness) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (h *harness) fund() {
	h.t.Helper()
	admin := token(h.t, adminAddr, "strategy:admin")
	rec := h.do(http.MethodPost, "/v1/admin/mint", admin, mintRequest{Token: dai.Hex(), To: alice.Hex(), Amount: precise.FromUnits(20).String()})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.do(http.MethodPost, "/v1/admin/mint", admin, mintRequest{Token: dai.Hex(), To: strategist.Hex(), Amount: precise.FromUnits(2).String()})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/v1/gardens/"+gardenAddr.Hex()+"/deposit", token(h.t, alice), amountRequest{Amount: precise.FromUnits(20).String()})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[gardenView](h.t, rec)
	require.Equal(h.t, precise.FromUnits(20).String(), view.LiquidReserve)
}

func proposal() proposeRequest {
	return proposeRequest{
		Garden:                  gardenAddr.Hex(),
		Stake:                   precise.FromUnits(1).String(),
		MaxCapitalRequested:     precise.FromUnits(5).String(),
		ExpectedReturn:          precise.FromUnits(1).String(),
		DurationSeconds:         int64((30 * 24 * time.Hour) / time.Second),
		MaxAllocationPercentage: precise.Unit().String(),
		Operations:              []stepRequest{{Kind: "lend", Integration: marketAddr.Hex(), Target: dai.Hex()}},
	}
}

func TestHealthReportsHeight(t *testing.T) {
	h := newHarness(t, RateLimit{})
	rec := h.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	require.Equal(t, "ok", body["status"])
}

func TestMutationsRequireToken(t *testing.T) {
	h := newHarness(t, RateLimit{})
	rec := h.do(http.MethodPost, "/v1/strategies", "", proposal())
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/v1/strategies", "not-a-token", proposal())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKeeperRoutesRequireScope(t *testing.T) {
	h := newHarness(t, RateLimit{})
	rec := h.do(http.MethodPost, "/v1/strategies/"+alice.Hex()+"/execute", token(t, keeperAddr), executeRequest{Capital: "1"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/admin/mint", token(t, keeperAddr, "strategy:keeper"), mintRequest{})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, RateLimit{})
	h.fund()
	keeper := token(t, keeperAddr, "strategy:keeper")

	rec := h.do(http.MethodPost, "/v1/strategies", token(t, strategist), proposal())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[strategyView](t, rec)
	require.Equal(t, "proposed", created.State)
	require.Equal(t, strategist.Hex(), created.Strategist)
	require.Len(t, created.Operations, 1)
	require.Equal(t, dai.Hex(), created.Operations[0].Target)
	base := "/v1/strategies/" + created.Address

	power := precise.FromUnits(20).String()
	rec = h.do(http.MethodPost, base+"/resolve", keeper, resolveRequest{
		Voters:        []string{alice.Hex()},
		Powers:        []string{power},
		AbsoluteTotal: power,
		NetTotal:      power,
		KeeperFee:     "0",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "resolved", decodeBody[strategyView](t, rec).State)

	rec = h.do(http.MethodGet, base+"/votes/"+alice.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, power, decodeBody[voteView](t, rec).Power)

	rec = h.do(http.MethodPost, base+"/execute", keeper, executeRequest{Capital: precise.FromUnits(5).String(), Fee: "0"})
	require.Equal(t, http.StatusTooEarly, rec.Code, rec.Body.String())
	require.Equal(t, "temporal", decodeBody[errorResponse](t, rec).Class)

	h.now = h.now.Add(25 * time.Hour)
	rec = h.do(http.MethodPost, base+"/execute", keeper, executeRequest{Capital: precise.FromUnits(5).String(), Fee: "0"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	active := decodeBody[strategyView](t, rec)
	require.Equal(t, "active", active.State)
	require.Equal(t, precise.FromUnits(5).String(), active.CapitalAllocated)

	rec = h.do(http.MethodGet, base+"/nav", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, base+"/finalize", keeper, feeRequest{Fee: "0"})
	require.Equal(t, http.StatusTooEarly, rec.Code, rec.Body.String())

	h.now = h.now.Add(30 * 24 * time.Hour)
	rec = h.do(http.MethodPost, base+"/finalize", keeper, feeRequest{Fee: "0"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	final := decodeBody[strategyView](t, rec)
	require.Equal(t, "finalized", final.State)
	require.NotNil(t, final.Settlement)

	rec = h.do(http.MethodGet, "/v1/strategies?state=finalized", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]strategyView](t, rec), 1)

	rec = h.do(http.MethodGet, "/v1/gardens/"+gardenAddr.Hex()+"/accounts/"+alice.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	account := decodeBody[map[string]string](t, rec)
	require.Equal(t, "0", account["locked_power"])
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t, RateLimit{})

	rec := h.do(http.MethodGet, "/v1/strategies/"+alice.Hex(), "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/v1/strategies/nope", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/v1/gardens/"+alice.Hex(), "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/v1/strategies/"+alice.Hex()+"/trades", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	bad := proposal()
	bad.DurationSeconds = 0
	rec = h.do(http.MethodPost, "/v1/strategies", token(t, strategist), bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	bad = proposal()
	bad.Operations[0].Kind = "borrow"
	rec = h.do(http.MethodPost, "/v1/strategies", token(t, strategist), bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/v1/gardens/"+gardenAddr.Hex()+"/deposit", token(t, alice), amountRequest{Amount: "5"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestAdminPauseBlocksGarden(t *testing.T) {
	h := newHarness(t, RateLimit{})
	h.fund()

	admin := token(t, adminAddr, "strategy:admin")
	rec := h.do(http.MethodPost, "/v1/admin/pauses", admin, pauseRequest{Module: "garden", Paused: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/v1/gardens/"+gardenAddr.Hex()+"/withdraw", token(t, alice), amountRequest{Amount: "1"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/v1/admin/pauses", admin, pauseRequest{Module: "ledger", Paused: true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminPriceOverride(t *testing.T) {
	h := newHarness(t, RateLimit{})
	admin := token(t, adminAddr, "strategy:admin")

	rec := h.do(http.MethodPost, "/v1/admin/prices", admin, priceRequest{Asset: dai.Hex(), Price: "1.01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/v1/admin/prices", admin, priceRequest{Asset: dai.Hex(), Price: "abc"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitThrottles(t *testing.T) {
	h := newHarness(t, RateLimit{RequestsPerMinute: 1, Burst: 1})
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, h.do(http.MethodGet, "/healthz", "", nil).Code)
}

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	h := newHarness(t, RateLimit{})
	h.fund()
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?type=strategy.proposed"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	plan := []operations.Step{{Kind: controller.KindLend, Integration: marketAddr, Data: operations.MustEncodeParams(dai, 0)}}
	created, err := h.node.Engine.Propose(strategist, gardenAddr, strategy.Params{
		Stake:                   precise.FromUnits(1),
		MaxCapitalRequested:     precise.FromUnits(5),
		ExpectedReturn:          precise.FromUnits(1),
		Duration:                30 * 24 * time.Hour,
		MaxAllocationPercentage: precise.Unit(),
	}, plan)
	require.NoError(t, err)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, "strategy.proposed", evt.Type)
	require.Equal(t, created.Address.Hex(), evt.Attributes["strategy"])
}
