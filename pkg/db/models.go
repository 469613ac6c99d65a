package db

import "time"

// Trade sides and order kinds.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderKindMarket = "MARKET"
	OrderKindLimit  = "LIMIT"
)

// Trade statuses. FILLED is terminal.
const (
	TradeStatusPending = "PENDING"
	TradeStatusFilled  = "FILLED"
	TradeStatusFailed  = "FAILED"
)

// Transaction types and statuses.
const (
	TxTypeDeposit    = "DEPOSIT"
	TxTypeWithdrawal = "WITHDRAWAL"

	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
)

// Bot strategies.
const (
	StrategyDCA     = "DCA"
	StrategyGrid    = "GRID"
	StrategyScalper = "SCALPER"
)

// Trading modes.
const (
	ModeSimulated = "SIMULATED"
	ModeReal      = "REAL"
)

// User roles.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User is a platform account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Wallet is a per-user, per-currency balance record. Balance is spendable;
// LockedBalance is reserved for in-flight withdrawals. Neither may go negative.
type Wallet struct {
	ID            string
	UserID        string
	Currency      string
	Balance       float64
	LockedBalance float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Trade is an immutable record of a single order.
type Trade struct {
	ID        string
	UserID    string
	Pair      string
	Side      string
	OrderKind string
	Amount    float64
	Price     float64
	Total     float64
	Fee       float64
	Status    string
	CreatedAt time.Time
	FilledAt  *time.Time
}

// Transaction records a deposit or withdrawal against the payment gateway.
// ExternalID correlates gateway callbacks back to the row.
type Transaction struct {
	ID         string
	UserID     string
	Type       string
	Currency   string
	Amount     float64
	Fee        float64
	Status     string
	ExternalID string
	TxHash     string
	Address    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TradingBot is a per-user automated strategy instance, unique per
// (user, pair, strategy).
type TradingBot struct {
	ID            string
	UserID        string
	Pair          string
	Strategy      string
	Enabled       bool
	Investment    float64 // quote-currency amount per BUY
	Interval      int     // minutes between trades
	Holdings      float64 // base-currency units held
	TotalInvested float64
	AvgEntryPrice float64
	TotalProfit   float64
	TradesCount   int
	LastTradeAt   *time.Time
	Params        string // strategy-specific parameters, JSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BotTrade mirrors a Trade for a bot-driven fill, with realized profit and
// the strategy's reason.
type BotTrade struct {
	ID        string
	BotID     string
	Side      string
	Amount    float64
	Price     float64
	Total     float64
	Fee       float64
	Profit    float64
	Reason    string
	CreatedAt time.Time
}

// PlatformSettings is the singleton process-wide configuration row.
// Exchange credentials are stored encrypted.
type PlatformSettings struct {
	TradingMode       string
	ExchangeAPIKey    string
	ExchangeAPISecret string
	DepositFee        float64
	WithdrawalFee     float64
	TradingFee        float64
	UpdatedAt         time.Time
}
