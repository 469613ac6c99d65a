// Package settings manages platform-wide configuration: trading mode, fee
// schedule and exchange credentials. Credentials are encrypted at rest and
// never returned in plain form.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"exchange-core/pkg/crypto"
	"exchange-core/pkg/db"
)

// ErrLiveTradingUnavailable is returned when switching to real trading is
// requested but the exchange cannot be reached or rejects the credentials.
var ErrLiveTradingUnavailable = errors.New("live trading unavailable")

// ConnectionValidator probes the exchange with a set of credentials.
// Implemented by the exchange connector.
type ConnectionValidator interface {
	Validate(ctx context.Context, apiKey, apiSecret string) error
}

// Service is the settings store facade. Reads are served from a cached copy;
// writes go through a single transaction and refresh the cache.
type Service struct {
	database  *db.Database
	encryptor *crypto.Encryptor
	validator ConnectionValidator

	mu     sync.RWMutex
	cached *db.PlatformSettings

	// applyMu serializes writers so concurrent updates cannot lose each
	// other's fields between the read and the commit.
	applyMu sync.Mutex
}

// NewService loads (or initializes) the settings row.
func NewService(ctx context.Context, database *db.Database, encryptor *crypto.Encryptor, validator ConnectionValidator) (*Service, error) {
	s := &Service{database: database, encryptor: encryptor, validator: validator}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) reload(ctx context.Context) error {
	loaded, err := db.GetPlatformSettings(ctx, s.database.DB)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cached = loaded
	s.mu.Unlock()
	return nil
}

// Current returns a copy of the stored settings with credentials still
// encrypted.
func (s *Service) Current() db.PlatformSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cached
}

// TradingMode reports the active execution mode.
func (s *Service) TradingMode() string {
	return s.Current().TradingMode
}

// TradingFee returns the per-trade fee rate.
func (s *Service) TradingFee() float64 { return s.Current().TradingFee }

// DepositFee returns the deposit fee rate.
func (s *Service) DepositFee() float64 { return s.Current().DepositFee }

// WithdrawalFee returns the withdrawal fee rate.
func (s *Service) WithdrawalFee() float64 { return s.Current().WithdrawalFee }

// Credentials decrypts and returns the stored exchange API key pair.
func (s *Service) Credentials() (apiKey, apiSecret string, err error) {
	cur := s.Current()
	apiKey, err = s.encryptor.Decrypt(cur.ExchangeAPIKey)
	if err != nil {
		return "", "", fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err = s.encryptor.Decrypt(cur.ExchangeAPISecret)
	if err != nil {
		return "", "", fmt.Errorf("decrypt api secret: %w", err)
	}
	return apiKey, apiSecret, nil
}

// Update is a partial settings update. Nil fields keep their stored values.
type Update struct {
	TradingMode       *string
	ExchangeAPIKey    *string
	ExchangeAPISecret *string
	DepositFee        *float64
	WithdrawalFee     *float64
	TradingFee        *float64
}

// Apply validates and persists an update. Switching to real trading requires
// a successful live probe of the (possibly new) credentials; any probe
// failure leaves the platform in simulated mode.
func (s *Service) Apply(ctx context.Context, u Update) (db.PlatformSettings, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	next := s.Current()

	if u.DepositFee != nil {
		if *u.DepositFee < 0 || *u.DepositFee >= 1 {
			return db.PlatformSettings{}, fmt.Errorf("deposit fee out of range: %v", *u.DepositFee)
		}
		next.DepositFee = *u.DepositFee
	}
	if u.WithdrawalFee != nil {
		if *u.WithdrawalFee < 0 || *u.WithdrawalFee >= 1 {
			return db.PlatformSettings{}, fmt.Errorf("withdrawal fee out of range: %v", *u.WithdrawalFee)
		}
		next.WithdrawalFee = *u.WithdrawalFee
	}
	if u.TradingFee != nil {
		if *u.TradingFee < 0 || *u.TradingFee >= 1 {
			return db.PlatformSettings{}, fmt.Errorf("trading fee out of range: %v", *u.TradingFee)
		}
		next.TradingFee = *u.TradingFee
	}

	// New credentials arrive in plain form and are sealed before storage.
	plainKey, plainSecret := "", ""
	if u.ExchangeAPIKey != nil && *u.ExchangeAPIKey != "" {
		plainKey = *u.ExchangeAPIKey
		sealed, err := s.encryptor.Encrypt(plainKey)
		if err != nil {
			return db.PlatformSettings{}, fmt.Errorf("encrypt api key: %w", err)
		}
		next.ExchangeAPIKey = sealed
	}
	if u.ExchangeAPISecret != nil && *u.ExchangeAPISecret != "" {
		plainSecret = *u.ExchangeAPISecret
		sealed, err := s.encryptor.Encrypt(plainSecret)
		if err != nil {
			return db.PlatformSettings{}, fmt.Errorf("encrypt api secret: %w", err)
		}
		next.ExchangeAPISecret = sealed
	}

	if u.TradingMode != nil {
		mode := strings.ToUpper(*u.TradingMode)
		if mode != db.ModeSimulated && mode != db.ModeReal {
			return db.PlatformSettings{}, fmt.Errorf("unknown trading mode %q", *u.TradingMode)
		}
		if mode == db.ModeReal {
			key, secret := plainKey, plainSecret
			if key == "" || secret == "" {
				storedKey, storedSecret, err := s.credentialsFrom(next)
				if err != nil {
					return db.PlatformSettings{}, err
				}
				if key == "" {
					key = storedKey
				}
				if secret == "" {
					secret = storedSecret
				}
			}
			if key == "" || secret == "" {
				return db.PlatformSettings{}, fmt.Errorf("%w: exchange credentials not configured", ErrLiveTradingUnavailable)
			}
			if err := s.validator.Validate(ctx, key, secret); err != nil {
				return db.PlatformSettings{}, fmt.Errorf("%w: %v", ErrLiveTradingUnavailable, err)
			}
		}
		next.TradingMode = mode
	}

	err := s.database.WithTx(ctx, func(tx *sql.Tx) error {
		return db.UpdatePlatformSettings(ctx, tx, next)
	})
	if err != nil {
		return db.PlatformSettings{}, err
	}
	if err := s.reload(ctx); err != nil {
		return db.PlatformSettings{}, err
	}
	return s.Current(), nil
}

// View is the settings shape exposed over the API: credentials are masked.
type View struct {
	TradingMode       string  `json:"trading_mode"`
	ExchangeAPIKey    string  `json:"exchange_api_key"`
	ExchangeAPISecret string  `json:"exchange_api_secret"`
	DepositFee        float64 `json:"deposit_fee"`
	WithdrawalFee     float64 `json:"withdrawal_fee"`
	TradingFee        float64 `json:"trading_fee"`
}

// Masked returns the API-safe view of the current settings.
func (s *Service) Masked() View {
	cur := s.Current()
	return View{
		TradingMode:       cur.TradingMode,
		ExchangeAPIKey:    maskCredential(s.encryptor, cur.ExchangeAPIKey),
		ExchangeAPISecret: maskCredential(s.encryptor, cur.ExchangeAPISecret),
		DepositFee:        cur.DepositFee,
		WithdrawalFee:     cur.WithdrawalFee,
		TradingFee:        cur.TradingFee,
	}
}

func (s *Service) credentialsFrom(p db.PlatformSettings) (string, string, error) {
	key, err := s.encryptor.Decrypt(p.ExchangeAPIKey)
	if err != nil {
		return "", "", fmt.Errorf("decrypt api key: %w", err)
	}
	secret, err := s.encryptor.Decrypt(p.ExchangeAPISecret)
	if err != nil {
		return "", "", fmt.Errorf("decrypt api secret: %w", err)
	}
	return key, secret, nil
}

func maskCredential(enc *crypto.Encryptor, sealed string) string {
	plain, err := enc.Decrypt(sealed)
	if err != nil || plain == "" {
		return ""
	}
	if len(plain) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(plain)-4) + plain[len(plain)-4:]
}
