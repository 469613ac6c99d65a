package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the exchange core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Public base URL used to build payment gateway callback/return URLs.
	AppURL string

	// Payment gateway (Cryptomus-compatible)
	GatewayBaseURL    string
	GatewayMerchantID string
	GatewayPaymentKey string
	GatewayPayoutKey  string

	// Exchange connector defaults (overridable via platform settings)
	ExchangeTestnet bool

	// Quote provider
	QuoteBaseURL string

	// Bot scheduler cron spec; empty disables the periodic trigger.
	BotCronSpec string

	// Secrets
	JWTSecret     string
	EncryptionKey string // 32 bytes for AES-256

	// Emails granted the admin role on registration.
	AdminEmails []string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./data/exchange.db"),
		AppURL:            getEnv("APP_URL", "http://localhost:8080"),
		GatewayBaseURL:    getEnv("GATEWAY_BASE_URL", "https://api.cryptomus.com/v1"),
		GatewayMerchantID: os.Getenv("GATEWAY_MERCHANT_ID"),
		GatewayPaymentKey: os.Getenv("GATEWAY_PAYMENT_API_KEY"),
		GatewayPayoutKey:  os.Getenv("GATEWAY_PAYOUT_API_KEY"),
		ExchangeTestnet:   getEnv("EXCHANGE_TESTNET", "false") == "true",
		QuoteBaseURL:      getEnv("QUOTE_BASE_URL", "https://api.binance.com"),
		BotCronSpec:       getEnv("BOT_CRON_SPEC", "* * * * *"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		EncryptionKey:     os.Getenv("ENCRYPTION_KEY"),
		AdminEmails:       splitAndTrim(getEnv("ADMIN_EMAILS", "")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
