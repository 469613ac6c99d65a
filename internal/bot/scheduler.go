package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"exchange-core/internal/events"
	"exchange-core/internal/market"
	"exchange-core/internal/settlement"
	"exchange-core/pkg/db"
)

// Result summarizes one scheduler pass over one bot.
type Result struct {
	BotID    string  `json:"bot_id"`
	Pair     string  `json:"pair"`
	Strategy string  `json:"strategy"`
	Action   string  `json:"action"`
	Reason   string  `json:"reason"`
	Amount   float64 `json:"amount,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Total    float64 `json:"total,omitempty"`
	Fee      float64 `json:"fee,omitempty"`
	Profit   float64 `json:"profit,omitempty"`
}

// Scheduler evaluates enabled bots and settles their orders.
type Scheduler struct {
	Database *db.Database
	Engine   *settlement.Engine
	Quotes   market.Provider
	Bus      *events.Bus
	History  *History

	now func() time.Time
}

// NewScheduler wires a bot scheduler.
func NewScheduler(database *db.Database, engine *settlement.Engine, quotes market.Provider, bus *events.Bus) *Scheduler {
	return &Scheduler{
		Database: database,
		Engine:   engine,
		Quotes:   quotes,
		Bus:      bus,
		History:  NewHistory(),
		now:      time.Now,
	}
}

// RunAll executes one pass over every enabled bot. Bots are isolated: one
// failing bot never stops the others.
func (s *Scheduler) RunAll(ctx context.Context) ([]Result, error) {
	bots, err := db.ListEnabledBots(ctx, s.Database.DB)
	if err != nil {
		return nil, fmt.Errorf("list enabled bots: %w", err)
	}

	results := make([]Result, 0, len(bots))
	for i := range bots {
		res := s.RunBot(ctx, &bots[i])
		results = append(results, res)
		if res.Action == ActionError {
			log.Printf("bot %s (%s %s): %s", res.BotID, res.Strategy, res.Pair, res.Reason)
		}
	}
	return results, nil
}

// RunBot executes one pass over a single bot.
func (s *Scheduler) RunBot(ctx context.Context, bot *db.TradingBot) Result {
	res := Result{BotID: bot.ID, Pair: bot.Pair, Strategy: bot.Strategy}

	if bot.LastTradeAt != nil {
		elapsed := s.now().Sub(*bot.LastTradeAt).Minutes()
		if elapsed < float64(bot.Interval) {
			res.Action = ActionSkip
			res.Reason = fmt.Sprintf("Next trade in %d minutes", int(math.Ceil(float64(bot.Interval)-elapsed)))
			s.publish(bot, res)
			return res
		}
	}

	quote, err := s.Quotes.GetPrice(ctx, bot.Pair)
	if err != nil || quote.Price <= 0 {
		res.Action = ActionError
		res.Reason = "Failed to fetch price"
		s.publish(bot, res)
		return res
	}
	price := quote.Price

	history, previous := s.History.Push(bot.Pair, price)

	params, err := ParseParams(bot.Params)
	if err != nil {
		res.Action = ActionError
		res.Reason = err.Error()
		s.publish(bot, res)
		return res
	}

	avgEntry := bot.AvgEntryPrice
	if avgEntry == 0 {
		avgEntry = price
	}
	decision := Decide(bot.Strategy, price, previous, avgEntry, bot.Holdings, history, params)
	res.Reason = decision.Reason

	switch decision.Action {
	case ActionHold:
		res.Action = ActionHold
		s.publish(bot, res)
		return res
	case ActionBuy:
		return s.executeBuy(ctx, bot, decision, price, res)
	case ActionSell:
		return s.executeSell(ctx, bot, decision, res)
	default:
		res.Action = ActionHold
		s.publish(bot, res)
		return res
	}
}

func (s *Scheduler) executeBuy(ctx context.Context, bot *db.TradingBot, decision Decision, price float64, res Result) Result {
	_, quoteCur, err := market.SplitPair(bot.Pair)
	if err != nil {
		res.Action = ActionError
		res.Reason = err.Error()
		s.publish(bot, res)
		return res
	}

	wallet, err := db.GetWallet(ctx, s.Database.DB, bot.UserID, quoteCur)
	if err != nil {
		res.Action = ActionError
		res.Reason = err.Error()
		s.publish(bot, res)
		return res
	}
	if wallet == nil || wallet.Balance < bot.Investment {
		res.Action = ActionSkip
		res.Reason = fmt.Sprintf("Insufficient %s balance", quoteCur)
		s.publish(bot, res)
		return res
	}

	trade, err := s.Engine.SettleWith(ctx, settlement.Request{
		UserID:    bot.UserID,
		Pair:      bot.Pair,
		Side:      db.SideBuy,
		OrderKind: db.OrderKindMarket,
		Amount:    bot.Investment / price,
	}, func(tx *sql.Tx, trade *db.Trade) error {
		if err := db.InsertBotTrade(ctx, tx, db.BotTrade{
			ID:        uuid.NewString(),
			BotID:     bot.ID,
			Side:      db.SideBuy,
			Amount:    trade.Amount,
			Price:     trade.Price,
			Total:     trade.Total,
			Fee:       trade.Fee,
			Reason:    decision.Reason,
			CreatedAt: s.now().UTC(),
		}); err != nil {
			return err
		}
		now := s.now().UTC()
		bot.TotalInvested += trade.Total
		bot.Holdings += trade.Amount
		bot.AvgEntryPrice = bot.TotalInvested / bot.Holdings
		bot.TradesCount++
		bot.LastTradeAt = &now
		return db.UpdateBotStats(ctx, tx, *bot)
	})
	if err != nil {
		if errors.Is(err, settlement.ErrInsufficientBalance) {
			res.Action = ActionSkip
			res.Reason = fmt.Sprintf("Insufficient %s balance", quoteCur)
		} else {
			res.Action = ActionError
			res.Reason = "Trade execution failed"
		}
		s.publish(bot, res)
		return res
	}

	res.Action = ActionBuy
	res.Amount = trade.Amount
	res.Price = trade.Price
	res.Total = trade.Total
	res.Fee = trade.Fee
	s.publish(bot, res)
	return res
}

func (s *Scheduler) executeSell(ctx context.Context, bot *db.TradingBot, decision Decision, res Result) Result {
	if bot.Holdings <= 0 {
		res.Action = ActionSkip
		res.Reason = "No holdings to sell"
		s.publish(bot, res)
		return res
	}

	invested := bot.TotalInvested
	var profit float64

	trade, err := s.Engine.SettleWith(ctx, settlement.Request{
		UserID:    bot.UserID,
		Pair:      bot.Pair,
		Side:      db.SideSell,
		OrderKind: db.OrderKindMarket,
		Amount:    bot.Holdings,
	}, func(tx *sql.Tx, trade *db.Trade) error {
		profit = (trade.Total - trade.Fee) - invested
		if err := db.InsertBotTrade(ctx, tx, db.BotTrade{
			ID:        uuid.NewString(),
			BotID:     bot.ID,
			Side:      db.SideSell,
			Amount:    trade.Amount,
			Price:     trade.Price,
			Total:     trade.Total,
			Fee:       trade.Fee,
			Profit:    profit,
			Reason:    decision.Reason,
			CreatedAt: s.now().UTC(),
		}); err != nil {
			return err
		}
		now := s.now().UTC()
		bot.TotalInvested = 0
		bot.Holdings = 0
		bot.AvgEntryPrice = 0
		bot.TotalProfit += profit
		bot.TradesCount++
		bot.LastTradeAt = &now
		return db.UpdateBotStats(ctx, tx, *bot)
	})
	if err != nil {
		if errors.Is(err, settlement.ErrInsufficientBalance) {
			res.Action = ActionSkip
			res.Reason = "No holdings to sell"
		} else {
			res.Action = ActionError
			res.Reason = "Trade execution failed"
		}
		s.publish(bot, res)
		return res
	}

	res.Action = ActionSell
	res.Amount = trade.Amount
	res.Price = trade.Price
	res.Total = trade.Total
	res.Fee = trade.Fee
	res.Profit = profit
	s.publish(bot, res)
	return res
}

func (s *Scheduler) publish(bot *db.TradingBot, res Result) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(events.EventBotExecuted, events.BotExecuted{
		BotID:    bot.ID,
		UserID:   bot.UserID,
		Pair:     bot.Pair,
		Strategy: bot.Strategy,
		Action:   res.Action,
		Reason:   res.Reason,
		Price:    res.Price,
	})
}
