package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"exchange-core/internal/api"
	"exchange-core/internal/bot"
	"exchange-core/internal/events"
	"exchange-core/internal/market"
	"exchange-core/internal/reconcile"
	"exchange-core/internal/settings"
	"exchange-core/internal/settlement"
	"exchange-core/pkg/config"
	"exchange-core/pkg/crypto"
	"exchange-core/pkg/db"
	"exchange-core/pkg/exchanges/binance"
	"exchange-core/pkg/exchanges/common"
	"exchange-core/pkg/payments"
)

// exchangeBridge adapts the Binance connector to the settings validator,
// the admin connection tester and the settlement engine. Orders always use
// the credentials currently stored in platform settings.
type exchangeBridge struct {
	testnet  bool
	settings *settings.Service
}

func (b *exchangeBridge) client(apiKey, apiSecret string) *binance.Client {
	return binance.New(binance.Config{APIKey: apiKey, APISecret: apiSecret, Testnet: b.testnet})
}

func (b *exchangeBridge) Validate(ctx context.Context, apiKey, apiSecret string) error {
	return b.client(apiKey, apiSecret).ValidateKeys(ctx)
}

func (b *exchangeBridge) Ping(ctx context.Context) error {
	return b.client("", "").Ping(ctx)
}

func (b *exchangeBridge) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, quantity float64) (*common.OrderResult, error) {
	apiKey, apiSecret, err := b.settings.Credentials()
	if err != nil {
		return nil, err
	}
	return b.client(apiKey, apiSecret).PlaceMarketOrder(ctx, symbol, side, quantity)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	encryptor, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
	if err != nil {
		log.Fatalf("encryption key: %v", err)
	}

	bridge := &exchangeBridge{testnet: cfg.ExchangeTestnet}
	settingsSvc, err := settings.NewService(context.Background(), database, encryptor, bridge)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	bridge.settings = settingsSvc

	bus := events.NewBus()
	quotes := market.NewLiveProvider(cfg.QuoteBaseURL)
	engine := settlement.NewEngine(database, settingsSvc, quotes, bridge, bus)

	gateway := payments.NewClient(payments.Config{
		BaseURL:    cfg.GatewayBaseURL,
		MerchantID: cfg.GatewayMerchantID,
		PaymentKey: cfg.GatewayPaymentKey,
		PayoutKey:  cfg.GatewayPayoutKey,
	})
	reconciler := reconcile.NewService(database, gateway, settingsSvc, bus,
		cfg.AppURL+"/webhooks/payments", cfg.AppURL+"/wallet")

	scheduler := bot.NewScheduler(database, engine, quotes, bus)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Periodic bot execution.
	var c *cron.Cron
	if cfg.BotCronSpec != "" {
		c = cron.New()
		if _, err := c.AddFunc(cfg.BotCronSpec, func() {
			ctx, cancel := context.WithTimeout(rootCtx, 50*time.Second)
			defer cancel()
			results, err := scheduler.RunAll(ctx)
			if err != nil {
				log.Printf("bot scheduler: %v", err)
				return
			}
			executed := 0
			for _, r := range results {
				if r.Action == bot.ActionBuy || r.Action == bot.ActionSell {
					executed++
				}
			}
			if len(results) > 0 {
				log.Printf("bot scheduler: %d bots, %d executed", len(results), executed)
			}
		}); err != nil {
			log.Fatalf("bot cron: %v", err)
		}
		c.Start()
		defer c.Stop()
	}

	// Publish quote refreshes for websocket clients.
	go publishTicks(rootCtx, quotes, bus)

	server := api.NewServer(api.Deps{
		Database:    database,
		Bus:         bus,
		Engine:      engine,
		Reconciler:  reconciler,
		Scheduler:   scheduler,
		Settings:    settingsSvc,
		Quotes:      quotes,
		Tester:      bridge,
		JWTSecret:   cfg.JWTSecret,
		AdminEmails: cfg.AdminEmails,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on :%s (mode %s)", cfg.Port, settingsSvc.TradingMode())
		errCh <- server.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		log.Fatalf("server: %v", err)
	case <-rootCtx.Done():
		log.Println("shutting down")
	}
}

// publishTicks polls the provider for every supported pair and fans fresh
// quotes out on the bus.
func publishTicks(ctx context.Context, quotes market.Provider, bus *events.Bus) {
	pairs, err := market.SupportedPairs()
	if err != nil {
		log.Printf("ticks: %v", err)
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pair := range pairs {
				q, err := quotes.GetPrice(ctx, pair)
				if err != nil {
					continue
				}
				bus.Publish(events.EventPriceTick, events.PriceTick{
					Pair:  q.Pair,
					Price: q.Price,
					Stale: q.Stale,
					Time:  q.Time,
				})
			}
		}
	}
}
