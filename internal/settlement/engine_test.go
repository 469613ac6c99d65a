package settlement

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"testing"

	"exchange-core/internal/events"
	"exchange-core/internal/market"
	"exchange-core/internal/settings"
	"exchange-core/pkg/crypto"
	"exchange-core/pkg/db"
	"exchange-core/pkg/exchanges/common"
)

type passValidator struct{}

func (passValidator) Validate(context.Context, string, string) error { return nil }

func newTestEngine(t *testing.T) (*Engine, *db.Database, *market.StaticProvider) {
	t.Helper()
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
	svc, err := settings.NewService(context.Background(), database, enc, passValidator{})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	quotes := market.NewStaticProvider()
	return NewEngine(database, svc, quotes, nil, events.NewBus()), database, quotes
}

func fund(t *testing.T, database *db.Database, userID, currency string, amount float64) {
	t.Helper()
	if err := db.CreditWallet(context.Background(), database.DB, userID, currency, amount); err != nil {
		t.Fatalf("fund wallet: %v", err)
	}
}

func balance(t *testing.T, database *db.Database, userID, currency string) float64 {
	t.Helper()
	w, err := db.GetWallet(context.Background(), database.DB, userID, currency)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w == nil {
		return 0
	}
	return w.Balance
}

func TestMarketBuy(t *testing.T) {
	engine, database, quotes := newTestEngine(t)
	ctx := context.Background()

	// 0.01 BTC at 43250.50 with the default 0.1% fee:
	// total 432.505, fee 0.432505, debit 432.937505.
	quotes.SetPrice("BTC/USDT", 43250.50)
	fund(t, database, "u1", "USDT", 1000)

	trade, err := engine.Settle(ctx, Request{
		UserID: "u1", Pair: "BTC/USDT", Side: db.SideBuy,
		OrderKind: db.OrderKindMarket, Amount: 0.01,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if trade.Status != db.TradeStatusFilled {
		t.Errorf("status = %q, want FILLED", trade.Status)
	}
	if math.Abs(trade.Total-432.505) > 1e-9 {
		t.Errorf("total = %v, want 432.505", trade.Total)
	}
	if math.Abs(trade.Fee-0.432505) > 1e-9 {
		t.Errorf("fee = %v, want 0.432505", trade.Fee)
	}
	if got := balance(t, database, "u1", "USDT"); math.Abs(got-567.062495) > 1e-6 {
		t.Errorf("USDT balance = %v, want 567.062495", got)
	}
	if got := balance(t, database, "u1", "BTC"); math.Abs(got-0.01) > 1e-12 {
		t.Errorf("BTC balance = %v, want 0.01", got)
	}
}

func TestMarketSell(t *testing.T) {
	engine, database, quotes := newTestEngine(t)
	ctx := context.Background()

	quotes.SetPrice("ETH/USDT", 2000)
	fund(t, database, "u1", "ETH", 1.5)

	trade, err := engine.Settle(ctx, Request{
		UserID: "u1", Pair: "ETH/USDT", Side: db.SideSell,
		OrderKind: db.OrderKindMarket, Amount: 1,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	// Proceeds 2000 minus 0.1% fee.
	if got := balance(t, database, "u1", "USDT"); math.Abs(got-1998) > 1e-9 {
		t.Errorf("USDT balance = %v, want 1998", got)
	}
	if got := balance(t, database, "u1", "ETH"); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("ETH balance = %v, want 0.5", got)
	}
	if math.Abs(trade.Fee-2) > 1e-9 {
		t.Errorf("fee = %v, want 2", trade.Fee)
	}
}

func TestInsufficientBalanceLeavesLedgerUntouched(t *testing.T) {
	engine, database, quotes := newTestEngine(t)
	ctx := context.Background()

	quotes.SetPrice("BTC/USDT", 40000)
	fund(t, database, "u1", "USDT", 100)

	_, err := engine.Settle(ctx, Request{
		UserID: "u1", Pair: "BTC/USDT", Side: db.SideBuy,
		OrderKind: db.OrderKindMarket, Amount: 0.01,
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := balance(t, database, "u1", "USDT"); got != 100 {
		t.Errorf("USDT balance mutated to %v", got)
	}
	if got := balance(t, database, "u1", "BTC"); got != 0 {
		t.Errorf("BTC balance mutated to %v", got)
	}
	trades, err := db.GetTradesByUser(ctx, database.DB, "u1", "", "", 10)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("found %d trades after failed settlement", len(trades))
	}
}

func TestSellWithoutHoldings(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Settle(context.Background(), Request{
		UserID: "u1", Pair: "BTC/USDT", Side: db.SideSell,
		OrderKind: db.OrderKindMarket, Amount: 0.5,
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestValidation(t *testing.T) {
	engine, database, _ := newTestEngine(t)
	ctx := context.Background()
	fund(t, database, "u1", "USDT", 1000)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"bad side", Request{UserID: "u1", Pair: "BTC/USDT", Side: "HOLD", Amount: 1}, ErrInvalidSide},
		{"bad kind", Request{UserID: "u1", Pair: "BTC/USDT", Side: db.SideBuy, OrderKind: "STOP", Amount: 1}, ErrInvalidOrderKind},
		{"zero amount", Request{UserID: "u1", Pair: "BTC/USDT", Side: db.SideBuy, Amount: 0}, ErrInvalidAmount},
		{"negative amount", Request{UserID: "u1", Pair: "BTC/USDT", Side: db.SideBuy, Amount: -1}, ErrInvalidAmount},
		{"bad pair", Request{UserID: "u1", Pair: "BTCUSDT", Side: db.SideBuy, Amount: 1}, ErrInvalidPair},
		{"unknown pair", Request{UserID: "u1", Pair: "FOO/BAR", Side: db.SideBuy, Amount: 1}, ErrQuoteUnavailable},
		{"limit without price", Request{UserID: "u1", Pair: "BTC/USDT", Side: db.SideBuy, OrderKind: db.OrderKindLimit, Amount: 1}, ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := engine.Settle(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLimitOrderRestsPending(t *testing.T) {
	engine, database, _ := newTestEngine(t)
	ctx := context.Background()
	fund(t, database, "u1", "USDT", 1000)

	trade, err := engine.Settle(ctx, Request{
		UserID: "u1", Pair: "BTC/USDT", Side: db.SideBuy,
		OrderKind: db.OrderKindLimit, Amount: 0.01, LimitPrice: 40000,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if trade.Status != db.TradeStatusPending {
		t.Errorf("status = %q, want PENDING", trade.Status)
	}
	if trade.FilledAt != nil {
		t.Error("limit order has FilledAt set")
	}
	// Limit orders rest: no balances move until execution.
	if got := balance(t, database, "u1", "USDT"); got != 1000 {
		t.Errorf("USDT balance = %v, want 1000", got)
	}
}

func TestTxHookRunsInsideSettlementTx(t *testing.T) {
	engine, database, quotes := newTestEngine(t)
	ctx := context.Background()

	quotes.SetPrice("BTC/USDT", 40000)
	fund(t, database, "u1", "USDT", 1000)

	hookErr := errors.New("hook rejected")
	_, err := engine.SettleWith(ctx, Request{
		UserID: "u1", Pair: "BTC/USDT", Side: db.SideBuy,
		OrderKind: db.OrderKindMarket, Amount: 0.01,
	}, func(tx *sql.Tx, trade *db.Trade) error {
		return hookErr
	})
	if !errors.Is(err, hookErr) {
		t.Fatalf("err = %v, want hook error", err)
	}
	// Hook failure rolls back the whole settlement.
	if got := balance(t, database, "u1", "USDT"); got != 1000 {
		t.Errorf("USDT balance = %v after rollback, want 1000", got)
	}
	trades, _ := db.GetTradesByUser(ctx, database.DB, "u1", "", "", 10)
	if len(trades) != 0 {
		t.Errorf("trade persisted despite hook rollback")
	}
}

func TestRealModeUsesExchangeFills(t *testing.T) {
	engine, database, quotes := newTestEngine(t)
	ctx := context.Background()

	quotes.SetPrice("BTC/USDT", 40000)
	fund(t, database, "u1", "USDT", 1000)

	exchange := &fakeConnector{
		result: &common.OrderResult{
			Status:      "FILLED",
			ExecutedQty: 0.01,
			Fills: []common.Fill{
				{Price: 40100, Qty: 0.004},
				{Price: 40200, Qty: 0.006},
			},
		},
	}
	engine.Exchange = exchange
	switchToReal(t, engine)

	trade, err := engine.Settle(ctx, Request{
		UserID: "u1", Pair: "BTC/USDT", Side: db.SideBuy,
		OrderKind: db.OrderKindMarket, Amount: 0.01,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if exchange.calls != 1 {
		t.Fatalf("exchange calls = %d, want 1", exchange.calls)
	}
	wantVWAP := (40100*0.004 + 40200*0.006) / 0.01
	if math.Abs(trade.Price-wantVWAP) > 1e-6 {
		t.Errorf("price = %v, want fill VWAP %v", trade.Price, wantVWAP)
	}

	// Exchange rejection must leave the ledger untouched.
	before := balance(t, database, "u1", "USDT")
	exchange.err = errors.New("lot size")
	_, err = engine.Settle(ctx, Request{
		UserID: "u1", Pair: "BTC/USDT", Side: db.SideBuy,
		OrderKind: db.OrderKindMarket, Amount: 0.01,
	})
	if !errors.Is(err, ErrExchangeExecution) {
		t.Fatalf("err = %v, want ErrExchangeExecution", err)
	}
	if got := balance(t, database, "u1", "USDT"); got != before {
		t.Errorf("balance mutated after exchange rejection")
	}
}

type fakeConnector struct {
	result *common.OrderResult
	err    error
	calls  int
}

func (f *fakeConnector) PlaceMarketOrder(_ context.Context, _ string, _ common.Side, _ float64) (*common.OrderResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func switchToReal(t *testing.T, engine *Engine) {
	t.Helper()
	mode := db.ModeReal
	key, secret := "k", "s"
	if _, err := engine.Settings.Apply(context.Background(), settings.Update{
		TradingMode:       &mode,
		ExchangeAPIKey:    &key,
		ExchangeAPISecret: &secret,
	}); err != nil {
		t.Fatalf("switch to real mode: %v", err)
	}
}
