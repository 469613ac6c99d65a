package events

import "time"

// Event enumerates high-level topics inside the engine.
type Event string

const (
	EventPriceTick          Event = "price_tick"
	EventTradeSettled       Event = "trade.settled"
	EventTransactionUpdated Event = "transaction.updated"
	EventBotExecuted        Event = "bot.executed"
)

// PriceTick is published when the market provider refreshes a quote.
type PriceTick struct {
	Pair  string    `json:"pair"`
	Price float64   `json:"price"`
	Stale bool      `json:"stale"`
	Time  time.Time `json:"time"`
}

// TradeSettled is published after a trade commits to the ledger.
type TradeSettled struct {
	TradeID string  `json:"trade_id"`
	UserID  string  `json:"user_id"`
	Pair    string  `json:"pair"`
	Side    string  `json:"side"`
	Amount  float64 `json:"amount"`
	Price   float64 `json:"price"`
	Total   float64 `json:"total"`
	Fee     float64 `json:"fee"`
	Status  string  `json:"status"`
}

// TransactionUpdated is published when a deposit or withdrawal changes state.
type TransactionUpdated struct {
	TransactionID string  `json:"transaction_id"`
	UserID        string  `json:"user_id"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// BotExecuted is published after a scheduler pass over one bot.
type BotExecuted struct {
	BotID    string  `json:"bot_id"`
	UserID   string  `json:"user_id"`
	Pair     string  `json:"pair"`
	Strategy string  `json:"strategy"`
	Action   string  `json:"action"`
	Reason   string  `json:"reason"`
	Price    float64 `json:"price"`
}
