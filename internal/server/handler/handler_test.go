package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openforecast/predictd/internal/domain"
	"github.com/openforecast/predictd/internal/server/middleware"
	"github.com/openforecast/predictd/internal/service"
	"github.com/openforecast/predictd/internal/store/memory"
)

const (
	testAdminKey = "admin-key"
	testBalance  = 10_000 * domain.TickScale
)

// newTestServer wires real services over the in-memory store behind the same
// routes the production server registers.
func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()

	exchange := service.NewExchangeService(st, st.Orders(), st.Profiles(), testBalance, logger)
	settlement := service.NewSettlementService(st, st.Profiles(), 0, logger)
	markets := service.NewMarketService(st.Markets(), nil, logger)

	orderHandler := NewOrderHandler(exchange, logger)
	marketHandler := NewMarketHandler(markets, settlement, logger)
	positionHandler := NewPositionHandler(exchange, logger)
	healthHandler := NewHealthHandler(nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", healthHandler.HealthCheck)
	mux.HandleFunc("GET /api/markets", marketHandler.ListMarkets)
	mux.HandleFunc("POST /api/markets", marketHandler.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", marketHandler.GetMarket)
	mux.Handle("POST /api/markets/{id}/resolve",
		middleware.RequireAdmin(testAdminKey)(http.HandlerFunc(marketHandler.Resolve)))
	mux.HandleFunc("POST /api/orders", orderHandler.PlaceOrder)
	mux.HandleFunc("GET /api/positions", positionHandler.ListPositions)
	mux.HandleFunc("GET /api/balance", positionHandler.GetBalance)

	srv := httptest.NewServer(middleware.Identity()(mux))
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, userID string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func createTestMarket(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, srv, http.MethodPost, "/api/markets", "creator", map[string]any{
		"question":     "Will the release ship on time?",
		"closing_date": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["ID"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodGet, "/api/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateAndGetMarket(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTestMarket(t, srv)

	resp, body := doJSON(t, srv, http.MethodGet, "/api/markets/"+id, "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["ID"])
	assert.Equal(t, string(domain.MarketStatusOpen), body["Status"])

	resp, _ = doJSON(t, srv, http.MethodGet, "/api/markets/unknown", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateMarket_RequiresIdentity(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/markets", "", map[string]any{
		"question":     "q?",
		"closing_date": time.Now().Add(time.Hour).Format(time.RFC3339),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListMarkets(t *testing.T) {
	srv, _ := newTestServer(t)
	createTestMarket(t, srv)

	resp, body := doJSON(t, srv, http.MethodGet, "/api/markets", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	markets, ok := body["markets"].([]any)
	require.True(t, ok)
	assert.Len(t, markets, 1)
}

func TestPlaceOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTestMarket(t, srv)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/orders", "alice", map[string]any{
		"market_id": id,
		"side":      "buy",
		"position":  "yes",
		"amount":    500,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1000), body["shares"])
	assert.Equal(t, float64(domain.PriceFromPercent(50)), body["price"])
	assert.InDelta(t, 0.55, body["probability_yes"].(float64), 1e-9)
}

func TestPlaceOrder_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTestMarket(t, srv)

	// Missing identity.
	resp, _ := doJSON(t, srv, http.MethodPost, "/api/orders", "", map[string]any{
		"market_id": id, "side": "buy", "position": "yes", "amount": 10,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Bad side.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/orders", "alice", map[string]any{
		"market_id": id, "side": "short", "position": "yes", "amount": 10,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown market.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/orders", "alice", map[string]any{
		"market_id": "unknown", "side": "buy", "position": "yes", "amount": 10,
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Oversell maps to 422.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/orders", "alice", map[string]any{
		"market_id": id, "side": "sell", "position": "yes", "amount": 10,
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestPositionsAndBalance(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTestMarket(t, srv)

	resp, body := doJSON(t, srv, http.MethodGet, "/api/balance", "alice", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(testBalance), body["balance"])

	_, _ = doJSON(t, srv, http.MethodPost, "/api/orders", "alice", map[string]any{
		"market_id": id, "side": "buy", "position": "yes", "amount": 500,
	}, nil)

	resp, body = doJSON(t, srv, http.MethodGet, "/api/positions?market_id="+id, "alice", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	positions, ok := body["positions"].([]any)
	require.True(t, ok)
	require.Len(t, positions, 1)
	first := positions[0].(map[string]any)
	assert.Equal(t, float64(1000), first["shares"])
}

func TestResolveEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTestMarket(t, srv)

	_, _ = doJSON(t, srv, http.MethodPost, "/api/orders", "alice", map[string]any{
		"market_id": id, "side": "buy", "position": "yes", "amount": 500,
	}, nil)

	// Without the admin key the endpoint refuses.
	resp, _ := doJSON(t, srv, http.MethodPost, "/api/markets/"+id+"/resolve", "validator", map[string]any{
		"outcome": true,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	admin := map[string]string{"X-Admin-Key": testAdminKey}
	resp, body := doJSON(t, srv, http.MethodPost, "/api/markets/"+id+"/resolve", "validator", map[string]any{
		"outcome": true,
	}, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(domain.OutcomeYes), body["WinningPosition"])
	// Redistributed volume is the total buy-side stake, here the single
	// 500-unit bootstrap buy.
	assert.Equal(t, float64(domain.Ticks(500)), body["RedistributedTicks"])

	// Settling twice is a conflict.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/markets/"+id+"/resolve", "validator", map[string]any{
		"outcome": true,
	}, admin)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
