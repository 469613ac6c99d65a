package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"exchange-core/internal/bot"
	"exchange-core/internal/events"
	"exchange-core/internal/market"
	"exchange-core/internal/reconcile"
	"exchange-core/internal/settings"
	"exchange-core/internal/settlement"
	"exchange-core/pkg/crypto"
	"exchange-core/pkg/db"
	"exchange-core/pkg/payments"
)

const testWebhookKey = "payment-key"

type fakeGateway struct{ payoutErr error }

func (g *fakeGateway) CreateInvoice(_ context.Context, req payments.InvoiceRequest) (*payments.InvoiceResult, error) {
	return &payments.InvoiceResult{UUID: "gw-" + req.OrderID, URL: "https://pay.example/" + req.OrderID}, nil
}

func (g *fakeGateway) CreatePayout(_ context.Context, req payments.PayoutRequest) (*payments.PayoutResult, error) {
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	return &payments.PayoutResult{UUID: "gw-" + req.OrderID, Status: "process"}, nil
}

func (g *fakeGateway) VerifyWebhook(body []byte, signature string) bool {
	return payments.VerifySignature(body, signature, testWebhookKey)
}

type fakeTester struct {
	pingErr     error
	validateErr error
}

func (f *fakeTester) Ping(context.Context) error                  { return f.pingErr }
func (f *fakeTester) Validate(context.Context, string, string) error { return f.validateErr }

type testEnv struct {
	server   *Server
	database *db.Database
	quotes   *market.StaticProvider
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	enc, err := crypto.NewEncryptor([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	tester := &fakeTester{}
	svc, err := settings.NewService(context.Background(), database, enc, tester)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	bus := events.NewBus()
	quotes := market.NewStaticProvider()
	engine := settlement.NewEngine(database, svc, quotes, nil, bus)
	reconciler := reconcile.NewService(database, &fakeGateway{}, svc, bus,
		"https://app.example/webhooks/payments", "https://app.example/wallet")
	scheduler := bot.NewScheduler(database, engine, quotes, bus)

	server := NewServer(Deps{
		Database:    database,
		Bus:         bus,
		Engine:      engine,
		Reconciler:  reconciler,
		Scheduler:   scheduler,
		Settings:    svc,
		Quotes:      quotes,
		Tester:      tester,
		JWTSecret:   "test-secret",
		AdminEmails: []string{"admin@example.com"},
	})
	return &testEnv{server: server, database: database, quotes: quotes}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) registerAndLogin(t *testing.T, email string) (userID, token string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": email, "password": "hunter22",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}
	var reg struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode register: %v", err)
	}

	w = e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": email, "password": "hunter22",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return reg.UserID, login.Token
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestServer(t)

	// Duplicate registration conflicts.
	env.registerAndLogin(t, "alice@example.com")
	w := env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "alice@example.com", "password": "other",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d", w.Code)
	}

	// Wrong password rejected.
	w = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "alice@example.com", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d", w.Code)
	}

	// Protected route without token.
	w = env.do(t, http.MethodGet, "/api/wallets", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", w.Code)
	}
}

func TestPlaceTradeOverHTTP(t *testing.T) {
	env := newTestServer(t)
	userID, token := env.registerAndLogin(t, "bob@example.com")

	env.quotes.SetPrice("BTC/USDT", 40000)
	if err := db.CreditWallet(context.Background(), env.database.DB, userID, "USDT", 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/trades", token, gin.H{
		"pair": "BTC/USDT", "side": "BUY", "order_kind": "MARKET", "amount": 0.01,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("trade status = %d: %s", w.Code, w.Body.String())
	}
	var trade struct {
		Total  float64 `json:"total"`
		Fee    float64 `json:"fee"`
		Status string  `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &trade); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if trade.Status != db.TradeStatusFilled || trade.Total != 400 {
		t.Errorf("trade = %+v", trade)
	}

	// Insufficient balance maps to 422.
	w = env.do(t, http.MethodPost, "/api/trades", token, gin.H{
		"pair": "BTC/USDT", "side": "BUY", "order_kind": "MARKET", "amount": 10,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("overdraft status = %d: %s", w.Code, w.Body.String())
	}

	// Bad pair maps to 400.
	w = env.do(t, http.MethodPost, "/api/trades", token, gin.H{
		"pair": "BTCUSDT", "side": "BUY", "amount": 1,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad pair status = %d", w.Code)
	}

	// History lists the fill.
	w = env.do(t, http.MethodGet, "/api/trades?pair=BTC/USDT", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var history struct {
		Trades []json.RawMessage `json:"trades"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Trades) != 1 {
		t.Errorf("history = %d trades, want 1", len(history.Trades))
	}
}

func TestWalletEndpoints(t *testing.T) {
	env := newTestServer(t)
	_, token := env.registerAndLogin(t, "carol@example.com")

	w := env.do(t, http.MethodPost, "/api/wallets/deposit", token, gin.H{
		"amount": 500, "currency": "USDT",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d: %s", w.Code, w.Body.String())
	}
	var dep struct {
		TransactionID string `json:"transaction_id"`
		PaymentURL    string `json:"payment_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &dep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dep.PaymentURL == "" {
		t.Error("missing payment url")
	}

	// Confirm via signed webhook.
	payload, _ := json.Marshal(payments.WebhookPayload{
		UUID: "gw-" + dep.TransactionID, OrderID: dep.TransactionID,
		Status: payments.StatusPaid, Amount: "500", Currency: "USDT",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("sign", payments.Sign(payload, testWebhookKey))
	rec := httptest.NewRecorder()
	env.server.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body.String())
	}

	// Bad signature rejected with 401.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("sign", "forged")
	rec = httptest.NewRecorder()
	env.server.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("forged webhook status = %d", rec.Code)
	}

	// Wallet reflects the credited deposit minus the 1% fee.
	w = env.do(t, http.MethodGet, "/api/wallets", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("wallets status = %d", w.Code)
	}
	var wallets struct {
		Wallets []struct {
			Currency string  `json:"currency"`
			Balance  float64 `json:"balance"`
		} `json:"wallets"`
		TotalValueUSD float64 `json:"total_value_usd"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &wallets); err != nil {
		t.Fatalf("decode wallets: %v", err)
	}
	if len(wallets.Wallets) != 1 || wallets.Wallets[0].Balance != 495 {
		t.Errorf("wallets = %+v", wallets)
	}

	// Withdraw part of it.
	w = env.do(t, http.MethodPost, "/api/wallets/withdraw", token, gin.H{
		"amount": 100, "currency": "USDT", "address": "TAddr1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("withdraw status = %d: %s", w.Code, w.Body.String())
	}

	// Withdrawing more than spendable maps to 422.
	w = env.do(t, http.MethodPost, "/api/wallets/withdraw", token, gin.H{
		"amount": 10000, "currency": "USDT", "address": "TAddr1",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("over-withdraw status = %d", w.Code)
	}

	// Transactions history shows both entries.
	w = env.do(t, http.MethodGet, "/api/transactions", token, nil)
	var txns struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &txns); err != nil {
		t.Fatalf("decode transactions: %v", err)
	}
	if len(txns.Transactions) != 2 {
		t.Errorf("transactions = %d, want 2", len(txns.Transactions))
	}
}

func TestBotCRUD(t *testing.T) {
	env := newTestServer(t)
	userID, token := env.registerAndLogin(t, "dave@example.com")

	if err := db.CreditWallet(context.Background(), env.database.DB, userID, "USDT", 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/bots", token, gin.H{
		"pair": "BTC/USDT", "strategy": "DCA", "investment": 100, "interval": 60, "enabled": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Duplicate (pair, strategy) conflicts.
	w = env.do(t, http.MethodPost, "/api/bots", token, gin.H{
		"pair": "BTC/USDT", "strategy": "DCA", "investment": 50,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d", w.Code)
	}

	// Unknown strategy rejected.
	w = env.do(t, http.MethodPost, "/api/bots", token, gin.H{
		"pair": "ETH/USDT", "strategy": "MARTINGALE", "investment": 50,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad strategy status = %d", w.Code)
	}

	// Update interval.
	w = env.do(t, http.MethodPatch, "/api/bots/"+created.ID, token, gin.H{"interval": 30})
	if w.Code != http.StatusOK {
		t.Errorf("update status = %d: %s", w.Code, w.Body.String())
	}

	// Enabling needs balance: drain the wallet and re-enable.
	if err := db.DebitWallet(context.Background(), env.database.DB, userID, "USDT", 950); err != nil {
		t.Fatalf("drain: %v", err)
	}
	disabled := false
	w = env.do(t, http.MethodPatch, "/api/bots/"+created.ID, token, gin.H{"enabled": disabled})
	if w.Code != http.StatusOK {
		t.Fatalf("disable status = %d", w.Code)
	}
	w = env.do(t, http.MethodPatch, "/api/bots/"+created.ID, token, gin.H{"enabled": true})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("enable without balance status = %d: %s", w.Code, w.Body.String())
	}

	// Delete.
	w = env.do(t, http.MethodDelete, "/api/bots/"+created.ID, token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/api/bots/"+created.ID, token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("re-delete status = %d", w.Code)
	}

	// Unknown ids 404 on every bot route.
	w = env.do(t, http.MethodPatch, "/api/bots/no-such-bot", token, gin.H{"interval": 15})
	if w.Code != http.StatusNotFound {
		t.Errorf("patch unknown bot status = %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/api/bots/no-such-bot/trades", token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("trades of unknown bot status = %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminAccess(t *testing.T) {
	env := newTestServer(t)
	_, userToken := env.registerAndLogin(t, "mallory@example.com")
	_, adminToken := env.registerAndLogin(t, "admin@example.com")

	// Regular users are forbidden.
	w := env.do(t, http.MethodGet, "/api/admin/settings", userToken, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("user access status = %d", w.Code)
	}

	// Admin reads masked settings.
	w = env.do(t, http.MethodGet, "/api/admin/settings", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("admin settings status = %d: %s", w.Code, w.Body.String())
	}
	var view struct {
		TradingMode string `json:"trading_mode"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.TradingMode != db.ModeSimulated {
		t.Errorf("mode = %q", view.TradingMode)
	}

	// Fee update through the API.
	w = env.do(t, http.MethodPatch, "/api/admin/settings", adminToken, gin.H{"trading_fee": 0.002})
	if w.Code != http.StatusOK {
		t.Errorf("update status = %d: %s", w.Code, w.Body.String())
	}

	// Switching to REAL without credentials fails closed.
	w = env.do(t, http.MethodPatch, "/api/admin/settings", adminToken, gin.H{"trading_mode": "REAL"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("real mode status = %d: %s", w.Code, w.Body.String())
	}
}

func TestMarketPricesPublic(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/api/market/prices", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("prices status = %d", w.Code)
	}
	var resp struct {
		Prices []market.Quote `json:"prices"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Prices) != 8 {
		t.Errorf("prices = %d, want 8", len(resp.Prices))
	}
}

func TestAdminBotSummaryAndExecute(t *testing.T) {
	env := newTestServer(t)
	userID, userToken := env.registerAndLogin(t, "erin@example.com")
	_, adminToken := env.registerAndLogin(t, "admin@example.com")

	env.quotes.SetPrice("BTC/USDT", 40000)
	if err := db.CreditWallet(context.Background(), env.database.DB, userID, "USDT", 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	w := env.do(t, http.MethodPost, "/api/bots", userToken, gin.H{
		"pair": "BTC/USDT", "strategy": "DCA", "investment": 100, "interval": 60, "enabled": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create bot: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/admin/bots/execute", adminToken, gin.H{})
	if w.Code != http.StatusOK {
		t.Fatalf("execute status = %d: %s", w.Code, w.Body.String())
	}
	var exec struct {
		Executed int `json:"executed"`
		Total    int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &exec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if exec.Executed != 1 || exec.Total != 1 {
		t.Errorf("exec = %+v", exec)
	}

	w = env.do(t, http.MethodGet, "/api/admin/bots/summary", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary status = %d", w.Code)
	}
	var sum struct {
		ActiveBots  int     `json:"active_bots"`
		TotalTrades int     `json:"total_trades"`
		TotalFees   float64 `json:"total_fees"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.ActiveBots != 1 || sum.TotalTrades != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.TotalFees <= 0 {
		t.Errorf("fees = %v, want > 0", sum.TotalFees)
	}
}
