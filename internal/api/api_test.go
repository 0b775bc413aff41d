package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"auction-service/internal/auth"
	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/service"
	"auction-service/internal/store/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var (
	farmer    = auth.Caller{ID: 1, Role: auth.RoleFarmer}
	customerX = auth.Caller{ID: 10, Role: auth.RoleCustomer}
	customerY = auth.Caller{ID: 11, Role: auth.RoleCustomer}
	agentZ    = auth.Caller{ID: 100, Role: auth.RoleDeliveryAgent}
)

// codeCatcher keeps the last delivery code sent to a buyer
type codeCatcher struct {
	mu   sync.Mutex
	code string
}

func (p *codeCatcher) PublishEvent(ctx context.Context, key string, event interface{}) error {
	if e, ok := event.(*models.DeliveryCodeIssuedEvent); ok {
		p.mu.Lock()
		p.code = e.Code
		p.mu.Unlock()
	}
	return nil
}

func (p *codeCatcher) Close() error { return nil }

func (p *codeCatcher) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	router *gin.Engine
	clock  *clock
	codes  *codeCatcher
	repo   *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memory.NewStore(time.Second)
	require.NoError(t, repo.CreateDeliveryAgent(context.Background(), &models.DeliveryAgent{ID: agentZ.ID, Name: "Z", Active: true}))

	codes := &codeCatcher{}
	publisher := broker.NewEventPublisher(codes)
	clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}

	resolver := service.NewResolver(repo, publisher, 50)
	auctions := service.NewAuctionService(repo, resolver, nil, nil, publisher, "USD")
	auctions.SetClock(clk.now)
	bidding := service.NewBiddingEngine(repo, publisher)
	bidding.SetClock(clk.now)
	postSale := service.NewPostSaleService(repo, service.NewLocalCodeStore(), publisher, service.PostSaleConfig{
		RequireDeliveryCode: true,
		DeliveryCodeTTL:     time.Minute,
	})
	postSale.SetClock(clk.now)

	h := NewHandler(auctions, bidding, postSale, testSecret)
	h.AddReadinessCheck("store", repo)

	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, clock: clk, codes: codes, repo: repo}
}

func (s *testServer) do(t *testing.T, caller *auth.Caller, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		token, err := auth.IssueToken(testSecret, *caller, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (s *testServer) createAuction(t *testing.T) int64 {
	t.Helper()
	w, body := s.do(t, &farmer, http.MethodPost, "/api/v1/auctions", gin.H{
		"product_name":   "Arabica coffee",
		"quantity":       "500",
		"unit":           "kg",
		"starting_price": "100.00",
		"currency":       "USD",
		"end_time":       s.clock.now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return int64(body["id"].(float64))
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, body = s.do(t, nil, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])
}

type downPinger struct{}

func (downPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestReadyReportsFailedDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, nil, nil, testSecret)
	h.AddReadinessCheck("redis", downPinger{})
	router := gin.New()
	h.SetupRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, nil, http.MethodGet, "/api/v1/auctions/active", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", body["error"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auctions/active", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAuction_Errors(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, &customerX, http.MethodPost, "/api/v1/auctions", gin.H{
		"product_name":   "Rice",
		"quantity":       "1",
		"starting_price": "1",
		"end_time":       s.clock.now().Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", body["error"])

	w, body = s.do(t, &farmer, http.MethodPost, "/api/v1/auctions", gin.H{
		"product_name":   "",
		"quantity":       "1",
		"starting_price": "1",
		"end_time":       s.clock.now().Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auctions", bytes.NewBufferString("{not json"))
	token, _ := auth.IssueToken(testSecret, farmer, time.Hour)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceBid_HTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createAuction(t)
	path := fmt.Sprintf("/api/v1/auctions/%d/bids", id)

	w, body := s.do(t, &customerX, http.MethodPost, path, gin.H{"amount": "150"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "150", body["current_bid"])

	w, body = s.do(t, &customerY, http.MethodPost, path, gin.H{"amount": "140"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "bid_too_low", body["error"])
	assert.Equal(t, "150.00", body["current_bid"])

	w, body = s.do(t, &farmer, http.MethodPost, path, gin.H{"amount": "500"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = s.do(t, &customerY, http.MethodPost, "/api/v1/auctions/999/bids", gin.H{"amount": "500"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "auction_not_found", body["error"])

	w, _ = s.do(t, &customerY, http.MethodPost, "/api/v1/auctions/abc/bids", gin.H{"amount": "500"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.clock.advance(time.Hour)
	w, body = s.do(t, &customerY, http.MethodPost, path, gin.H{"amount": "500"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "auction_closed", body["error"])

	w, body = s.do(t, &customerY, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["bids"], 1)
}

func TestListEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.createAuction(t)
	s.createAuction(t)

	w, body := s.do(t, &customerX, http.MethodGet, "/api/v1/auctions/active?currency=EUR", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["auctions"], 2)

	w, _ = s.do(t, &customerX, http.MethodGet, "/api/v1/auctions/active?currency=euros", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, &farmer, http.MethodGet, "/api/v1/auctions/mine", nil)
	require.Equal(t, http.StatusOK, w.Code)
	counts := body["counts"].(map[string]interface{})
	assert.EqualValues(t, 2, counts[models.AuctionStatusActive])

	w, _ = s.do(t, &customerX, http.MethodGet, "/api/v1/auctions/mine", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteAuction_HTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createAuction(t)
	path := fmt.Sprintf("/api/v1/auctions/%d", id)

	w, _ := s.do(t, &customerX, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, &farmer, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = s.do(t, &farmer, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostSaleFlow_HTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createAuction(t)
	base := fmt.Sprintf("/api/v1/auctions/%d", id)

	w, _ := s.do(t, &customerX, http.MethodPost, base+"/bids", gin.H{"amount": "120"})
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = s.do(t, &customerY, http.MethodPost, base+"/bids", gin.H{"amount": "150"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := s.do(t, &customerY, http.MethodPost, base+"/pay", gin.H{"shipping_address": "1 Hill Rd", "contact_phone": "555"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "auction_not_resolved", body["error"])

	s.clock.advance(time.Hour)
	w, body = s.do(t, &customerX, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AuctionStatusCompleted, body["status"])
	assert.EqualValues(t, customerY.ID, body["winner_id"])

	w, body = s.do(t, &customerX, http.MethodPost, base+"/pay", gin.H{"shipping_address": "1 Hill Rd", "contact_phone": "555"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_winner", body["error"])

	w, _ = s.do(t, &customerY, http.MethodPost, base+"/pay", gin.H{"shipping_address": "1 Hill Rd", "contact_phone": "555"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = s.do(t, &customerY, http.MethodPost, base+"/pay", gin.H{"shipping_address": "1 Hill Rd", "contact_phone": "555"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_paid", body["error"])

	w, body = s.do(t, &farmer, http.MethodPost, base+"/assign-agent", gin.H{"agent_id": agentZ.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ShippingStatusShippedPending, body["shipping_status"])

	w, _ = s.do(t, &agentZ, http.MethodPost, base+"/confirm-receipt", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = s.do(t, &agentZ, http.MethodPost, base+"/delivery-code", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), s.codes.last())
	assert.NotEmpty(t, body["expires_at"])

	w, body = s.do(t, &agentZ, http.MethodPost, base+"/deliver", gin.H{"code": "not-it"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_delivery_code", body["error"])

	w, body = s.do(t, &agentZ, http.MethodPost, base+"/deliver", gin.H{"code": s.codes.last()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ShippingStatusDelivered, body["shipping_status"])

	w, body = s.do(t, &customerY, http.MethodGet, base+"/tracking", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["entries"], 4)

	w, _ = s.do(t, &customerX, http.MethodGet, base+"/tracking", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
