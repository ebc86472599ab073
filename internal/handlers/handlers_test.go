package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"stock-analytica/internal/logger"
	"stock-analytica/internal/models"
	"stock-analytica/internal/rsakeys"
	"stock-analytica/internal/services"
	"stock-analytica/internal/storage"
)

const adminToken = "let-me-seed"

var keys *rsakeys.KeyPair

func TestMain(m *testing.M) {
	models.PasswordCost = bcrypt.MinCost
	logger.SetOutput(io.Discard)

	dir, err := os.MkdirTemp("", "handlers-keys")
	if err != nil {
		panic(err)
	}
	keys, err = rsakeys.Load(dir)
	if err != nil {
		panic(err)
	}
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	store  *storage.MemoryStore
	hub    *services.WebSocketHub
	acme   models.Stock
}

func newTestServer(t *testing.T, predictionURL string) *testServer {
	t.Helper()
	store := storage.NewMemoryStore()
	stocks, err := store.Stocks().ReplaceAll(context.Background(), []models.Stock{
		{Symbol: "ACME", Name: "Acme Corp", Sector: "Industrials", CurrentPrice: decimal.NewFromInt(100)},
		{Symbol: "BETA", Name: "Beta Labs", Sector: "Healthcare", CurrentPrice: decimal.NewFromInt(250)},
	})
	if err != nil {
		t.Fatalf("ReplaceAll() failed: %v", err)
	}

	hub := services.NewWebSocketHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	if predictionURL == "" {
		predictionURL = "http://127.0.0.1:1"
	}
	catalog := services.NewCatalogService(store)
	router := NewRouter(Deps{
		Name:        "StockAnalytica",
		AdminToken:  adminToken,
		Keys:        keys,
		Auth:        services.NewAuthService(store, services.NewTokenIssuer("test-secret", time.Hour), decimal.NewFromInt(50000)),
		Catalog:     catalog,
		Trades:      services.NewTradeService(store, decimal.RequireFromString("0.04"), hub),
		Portfolio:   services.NewPortfolioService(store),
		Watchlist:   services.NewWatchlistService(store),
		Predictions: services.NewPredictionService(catalog, predictionURL, time.Second),
		Hub:         hub,
	})
	return &testServer{t: t, router: router, store: store, hub: hub, acme: stocks[0]}
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func encrypt(t *testing.T, password string) string {
	t.Helper()
	ct, err := keys.Encrypt(password)
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	return ct
}

// register creates an account and returns its token.
func (s *testServer) register(email string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/auth/register", "", gin.H{
		"email":             email,
		"encryptedPassword": encrypt(s.t, "password123"),
		"name":              "Test User",
	})
	if w.Code != http.StatusCreated {
		s.t.Fatalf("register: %d %s", w.Code, w.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(s.t, w, &resp)
	return resp.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	decode(t, w, &resp)
	return resp.Error
}

func TestPublicKey(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(http.MethodGet, "/api/auth/public-key", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	decode(t, w, &resp)
	if !strings.Contains(resp.PublicKey, "BEGIN PUBLIC KEY") {
		t.Errorf("publicKey = %q", resp.PublicKey)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	s := newTestServer(t, "")
	token := s.register("me@example.com")

	w := s.do(http.MethodGet, "/api/auth/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: %d %s", w.Code, w.Body)
	}
	var me struct {
		User struct {
			ID          string          `json:"id"`
			Email       string          `json:"email"`
			ProfileType string          `json:"profileType"`
			Balance     decimal.Decimal `json:"balance"`
			Password    *string         `json:"password"`
		} `json:"user"`
	}
	decode(t, w, &me)
	if me.User.Email != "me@example.com" || me.User.ProfileType != "diversified" || !me.User.Balance.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("me = %+v", me.User)
	}
	if me.User.Password != nil {
		t.Errorf("password hash leaked")
	}

	w = s.do(http.MethodPost, "/api/auth/login", "", gin.H{
		"email":             "ME@example.com",
		"encryptedPassword": encrypt(t, "password123"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body)
	}
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t, "")
	s.register("taken@example.com")

	testCases := []struct {
		name       string
		method     string
		path       string
		token      string
		body       interface{}
		wantStatus int
		wantError  string
	}{
		{
			name:       "seven character password",
			method:     http.MethodPost,
			path:       "/api/auth/register",
			body:       gin.H{"email": "a@example.com", "encryptedPassword": encrypt(t, "1234567"), "name": "A"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Password must be at least 8 characters",
		},
		{
			name:       "duplicate email",
			method:     http.MethodPost,
			path:       "/api/auth/register",
			body:       gin.H{"email": "taken@example.com", "encryptedPassword": encrypt(t, "12345678"), "name": "B"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Email already registered",
		},
		{
			name:       "missing name",
			method:     http.MethodPost,
			path:       "/api/auth/register",
			body:       gin.H{"email": "c@example.com", "encryptedPassword": encrypt(t, "12345678")},
			wantStatus: http.StatusBadRequest,
			wantError:  "Email, password, and name are required",
		},
		{
			name:       "undecryptable password",
			method:     http.MethodPost,
			path:       "/api/auth/register",
			body:       gin.H{"email": "d@example.com", "encryptedPassword": "bm90IGVuY3J5cHRlZA==", "name": "D"},
			wantStatus: http.StatusBadRequest,
			wantError:  rsakeys.DecryptFailedMessage,
		},
		{
			name:       "wrong password",
			method:     http.MethodPost,
			path:       "/api/auth/login",
			body:       gin.H{"email": "taken@example.com", "encryptedPassword": encrypt(t, "wrongpassword")},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid credentials",
		},
		{
			name:       "unknown email",
			method:     http.MethodPost,
			path:       "/api/auth/login",
			body:       gin.H{"email": "ghost@example.com", "encryptedPassword": encrypt(t, "password123")},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid credentials",
		},
		{
			name:       "no token",
			method:     http.MethodGet,
			path:       "/api/auth/me",
			wantStatus: http.StatusUnauthorized,
			wantError:  "Authorization header required",
		},
		{
			name:       "bad token",
			method:     http.MethodGet,
			path:       "/api/portfolio",
			token:      "not.a.token",
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid token",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(tc.method, tc.path, tc.token, tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.wantStatus, w.Body)
			}
			if got := errorOf(t, w); got != tc.wantError {
				t.Errorf("error = %q, want %q", got, tc.wantError)
			}
		})
	}
}

type tradeResponse struct {
	Message     string          `json:"message"`
	NewBalance  decimal.Decimal `json:"newBalance"`
	Transaction struct {
		Type        string          `json:"type"`
		Quantity    int64           `json:"quantity"`
		Commission  decimal.Decimal `json:"commission"`
		TotalAmount decimal.Decimal `json:"totalAmount"`
		PaymentID   string          `json:"paymentId"`
		Stock       struct {
			Symbol string `json:"symbol"`
		} `json:"stock"`
	} `json:"transaction"`
}

func TestTradeFlow(t *testing.T) {
	s := newTestServer(t, "")
	token := s.register("trader@example.com")
	acme := s.acme.ID.Hex()

	w := s.do(http.MethodPost, "/api/payment/buy", token, gin.H{"stockId": acme, "quantity": 10})
	if w.Code != http.StatusOK {
		t.Fatalf("buy: %d %s", w.Code, w.Body)
	}
	var buy tradeResponse
	decode(t, w, &buy)
	if buy.Message != "Stock purchased successfully" || !buy.NewBalance.Equal(decimal.NewFromInt(48960)) {
		t.Errorf("buy = %+v", buy)
	}
	if buy.Transaction.Stock.Symbol != "ACME" || buy.Transaction.PaymentID == "" {
		t.Errorf("buy transaction = %+v", buy.Transaction)
	}

	if err := s.store.Stocks().UpdatePrice(context.Background(), s.acme.ID, decimal.NewFromInt(120), 0, time.Now()); err != nil {
		t.Fatalf("UpdatePrice() failed: %v", err)
	}

	w = s.do(http.MethodPost, "/api/payment/sell", token, gin.H{"stockId": acme, "quantity": 4})
	if w.Code != http.StatusOK {
		t.Fatalf("sell: %d %s", w.Code, w.Body)
	}
	var sell tradeResponse
	decode(t, w, &sell)
	if sell.Message != "Stock sold successfully" || !sell.NewBalance.Equal(decimal.RequireFromString("49420.80")) {
		t.Errorf("sell = %+v", sell)
	}

	w = s.do(http.MethodGet, "/api/portfolio", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("portfolio: %d %s", w.Code, w.Body)
	}
	var holdings []struct {
		Quantity     int64           `json:"quantity"`
		AvgPrice     decimal.Decimal `json:"avgPrice"`
		CurrentValue decimal.Decimal `json:"currentValue"`
		ProfitLoss   decimal.Decimal `json:"profitLoss"`
	}
	decode(t, w, &holdings)
	if len(holdings) != 1 || holdings[0].Quantity != 6 {
		t.Fatalf("portfolio = %s", w.Body)
	}
	if !holdings[0].AvgPrice.Round(2).Equal(decimal.RequireFromString("86.67")) ||
		!holdings[0].CurrentValue.Equal(decimal.NewFromInt(720)) ||
		!holdings[0].ProfitLoss.Round(2).Equal(decimal.NewFromInt(200)) {
		t.Errorf("holding = %+v", holdings[0])
	}

	w = s.do(http.MethodGet, "/api/portfolio/transactions", token, nil)
	var txs []struct {
		Type string `json:"type"`
	}
	decode(t, w, &txs)
	if len(txs) != 2 || txs[0].Type != "sell" {
		t.Errorf("transactions = %s", w.Body)
	}
}

func TestTradeErrors(t *testing.T) {
	s := newTestServer(t, "")
	token := s.register("poor@example.com")
	acme := s.acme.ID.Hex()

	testCases := []struct {
		name       string
		path       string
		body       interface{}
		wantStatus int
		wantError  string
	}{
		{name: "too expensive", path: "/api/payment/buy", body: gin.H{"stockId": acme, "quantity": 1000}, wantStatus: http.StatusBadRequest, wantError: "Insufficient balance"},
		{name: "nothing to sell", path: "/api/payment/sell", body: gin.H{"stockId": acme, "quantity": 1}, wantStatus: http.StatusBadRequest, wantError: "Insufficient shares"},
		{name: "zero quantity", path: "/api/payment/buy", body: gin.H{"stockId": acme, "quantity": 0}, wantStatus: http.StatusBadRequest, wantError: "Invalid stock ID or quantity"},
		{name: "negative quantity", path: "/api/payment/buy", body: gin.H{"stockId": acme, "quantity": -2}, wantStatus: http.StatusBadRequest, wantError: "Invalid stock ID or quantity"},
		{name: "missing stock id", path: "/api/payment/buy", body: gin.H{"quantity": 1}, wantStatus: http.StatusBadRequest, wantError: "Invalid stock ID or quantity"},
		{name: "malformed stock id", path: "/api/payment/buy", body: gin.H{"stockId": "xyz", "quantity": 1}, wantStatus: http.StatusNotFound, wantError: "Stock not found"},
		{name: "unknown stock", path: "/api/payment/buy", body: gin.H{"stockId": primitive.NewObjectID().Hex(), "quantity": 1}, wantStatus: http.StatusNotFound, wantError: "Stock not found"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(http.MethodPost, tc.path, token, tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.wantStatus, w.Body)
			}
			if got := errorOf(t, w); got != tc.wantError {
				t.Errorf("error = %q, want %q", got, tc.wantError)
			}
		})
	}

	w := s.do(http.MethodGet, "/api/auth/me", token, nil)
	var me struct {
		User struct {
			Balance decimal.Decimal `json:"balance"`
		} `json:"user"`
	}
	decode(t, w, &me)
	if !me.User.Balance.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("balance after failed trades = %s", me.User.Balance)
	}
}

func TestStocks(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodGet, "/api/stocks?sector=Healthcare", "", nil)
	var list []models.Stock
	decode(t, w, &list)
	if w.Code != http.StatusOK || len(list) != 1 || list[0].Symbol != "BETA" {
		t.Fatalf("list healthcare: %d %s", w.Code, w.Body)
	}

	w = s.do(http.MethodGet, "/api/stocks/"+s.acme.ID.Hex(), "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"currentPrice":100`) {
		t.Errorf("get stock: %d %s", w.Code, w.Body)
	}
	for _, path := range []string{"/api/stocks/nope", "/api/stocks/" + primitive.NewObjectID().Hex()} {
		w = s.do(http.MethodGet, path, "", nil)
		if w.Code != http.StatusNotFound || errorOf(t, w) != "Stock not found" {
			t.Errorf("GET %s: %d %s", path, w.Code, w.Body)
		}
	}
}

func TestSeed(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodPost, "/api/stocks/seed", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("seed without token: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/stocks/seed", nil)
	req.Header.Set("X-Admin-Token", adminToken)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("seed: %d %s", w.Code, w.Body)
	}
	var resp struct {
		Message string `json:"message"`
		Count   int    `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Message != "Database seeded successfully" || resp.Count < 10 {
		t.Errorf("seed = %+v", resp)
	}

	w = s.do(http.MethodGet, "/api/stocks?search=apple", "", nil)
	var list []models.Stock
	decode(t, w, &list)
	if len(list) != 1 || list[0].Symbol != "AAPL" {
		t.Errorf("search after seed = %s", w.Body)
	}
}

func TestWatchlistEndpoints(t *testing.T) {
	s := newTestServer(t, "")
	token := s.register("watcher@example.com")
	acme := s.acme.ID.Hex()

	w := s.do(http.MethodPost, "/api/watchlist/add", token, gin.H{"stockId": acme, "notes": "watch", "targetPrice": 90})
	if w.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", w.Code, w.Body)
	}
	w = s.do(http.MethodPost, "/api/watchlist/add", token, gin.H{"stockId": acme})
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "Stock already in watchlist" {
		t.Errorf("duplicate add: %d %s", w.Code, w.Body)
	}
	w = s.do(http.MethodPost, "/api/watchlist/add", token, gin.H{"stockId": acme, "targetPrice": -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative target: %d %s", w.Code, w.Body)
	}

	for i := 0; i < 2; i++ {
		w = s.do(http.MethodGet, "/api/watchlist/check/"+acme, token, nil)
		if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"inWatchlist":true}` {
			t.Errorf("check #%d: %d %s", i, w.Code, w.Body)
		}
	}

	w = s.do(http.MethodPut, "/api/watchlist/update/"+acme, token, gin.H{"targetPrice": nil})
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body)
	}
	var entry struct {
		Notes       string           `json:"notes"`
		TargetPrice *decimal.Decimal `json:"targetPrice"`
	}
	decode(t, w, &entry)
	if entry.Notes != "watch" || entry.TargetPrice != nil {
		t.Errorf("after clearing target = %s", w.Body)
	}

	w = s.do(http.MethodGet, "/api/watchlist", token, nil)
	var list []map[string]interface{}
	decode(t, w, &list)
	if len(list) != 1 {
		t.Errorf("watchlist = %s", w.Body)
	}

	w = s.do(http.MethodDelete, "/api/watchlist/remove/"+acme, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove: %d %s", w.Code, w.Body)
	}
	w = s.do(http.MethodDelete, "/api/watchlist/remove/"+acme, token, nil)
	if w.Code != http.StatusNotFound || errorOf(t, w) != "Stock not found in watchlist" {
		t.Errorf("second remove: %d %s", w.Code, w.Body)
	}
	w = s.do(http.MethodPut, "/api/watchlist/update/"+acme, token, gin.H{"notes": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing: %d %s", w.Code, w.Body)
	}
	w = s.do(http.MethodGet, "/api/watchlist/check/not-an-id", token, nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"inWatchlist":false}` {
		t.Errorf("check malformed id: %d %s", w.Code, w.Body)
	}
}

func TestWatchlistBodies(t *testing.T) {
	s := newTestServer(t, "")
	token := s.register("bodies@example.com")
	acme := s.acme.ID.Hex()

	testCases := []struct {
		name       string
		method     string
		path       string
		body       gin.H
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing stock id",
			method:     http.MethodPost,
			path:       "/api/watchlist/add",
			body:       gin.H{"notes": "x"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Stock ID is required",
		},
		{
			name:       "target price not a number",
			method:     http.MethodPost,
			path:       "/api/watchlist/add",
			body:       gin.H{"stockId": acme, "targetPrice": "abc"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Target price must be a number",
		},
		{
			name:       "notes of the wrong type",
			method:     http.MethodPost,
			path:       "/api/watchlist/add",
			body:       gin.H{"stockId": acme, "notes": 5},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid value for notes",
		},
		{
			name:       "zero target means none",
			method:     http.MethodPost,
			path:       "/api/watchlist/add",
			body:       gin.H{"stockId": acme, "targetPrice": 0},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "update with notes of the wrong type",
			method:     http.MethodPut,
			path:       "/api/watchlist/update/" + acme,
			body:       gin.H{"notes": 5},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid value for notes",
		},
		{
			name:       "update target to zero clears it",
			method:     http.MethodPut,
			path:       "/api/watchlist/update/" + acme,
			body:       gin.H{"targetPrice": 0},
			wantStatus: http.StatusOK,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(tc.method, tc.path, token, tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.wantStatus, w.Body)
			}
			if tc.wantError != "" {
				if got := errorOf(t, w); got != tc.wantError {
					t.Errorf("error = %q, want %q", got, tc.wantError)
				}
				return
			}
			var entry struct {
				TargetPrice *decimal.Decimal `json:"targetPrice"`
			}
			decode(t, w, &entry)
			if entry.TargetPrice != nil {
				t.Errorf("targetPrice = %s, want null", entry.TargetPrice)
			}
		})
	}
}

func TestPrediction(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"path":"` + r.URL.Path + `","days":"` + r.URL.Query().Get("days") + `"}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL)
	w := s.do(http.MethodGet, "/api/stocks/"+s.acme.ID.Hex()+"/prediction", "", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"path":"/predict/ACME","days":"90"}` {
		t.Errorf("prediction: %d %s", w.Code, w.Body)
	}

	w = s.do(http.MethodGet, "/api/stocks/"+s.acme.ID.Hex()+"/prediction?days=400", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("days=400: %d %s", w.Code, w.Body)
	}
	w = s.do(http.MethodGet, "/api/stocks/"+s.acme.ID.Hex()+"/prediction?days=soon", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("days=soon: %d %s", w.Code, w.Body)
	}
}

func TestPredictionUnavailable(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()

	s := newTestServer(t, url)
	w := s.do(http.MethodGet, "/api/stocks/"+s.acme.ID.Hex()+"/prediction?days=7", "", nil)
	if w.Code != http.StatusBadGateway || errorOf(t, w) != "prediction service unavailable" {
		t.Errorf("prediction: %d %s", w.Code, w.Body)
	}
}

func TestIndexHealthAndCORS(t *testing.T) {
	s := newTestServer(t, "")

	for _, path := range []string{"/health", "/api/health"} {
		w := s.do(http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"OK"`) {
			t.Errorf("GET %s: %d %s", path, w.Code, w.Body)
		}
	}

	w := s.do(http.MethodGet, "/", "", nil)
	var index struct {
		Version   string   `json:"version"`
		Endpoints []string `json:"endpoints"`
	}
	decode(t, w, &index)
	if index.Version != Version || len(index.Endpoints) == 0 {
		t.Errorf("index = %s", w.Body)
	}

	w = s.do(http.MethodOptions, "/api/auth/login", "", nil)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight: %d %v", w.Code, w.Header())
	}
}

func TestTradeIsBroadcast(t *testing.T) {
	s := newTestServer(t, "")
	token := s.register("live@example.com")

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w := s.do(http.MethodPost, "/api/payment/buy", token, gin.H{"stockId": s.acme.ID.Hex(), "quantity": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("buy: %d %s", w.Code, w.Body)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() failed: %v", err)
	}
	var ev struct {
		Event string                 `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("event %s: %v", raw, err)
	}
	if ev.Event != "trade" || ev.Data["symbol"] != "ACME" || ev.Data["quantity"] != float64(2) {
		t.Errorf("event = %s", raw)
	}
	if _, leaked := ev.Data["user"]; leaked {
		t.Errorf("trade event carries the account: %s", raw)
	}
}
