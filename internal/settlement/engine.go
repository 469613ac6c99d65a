// Package settlement executes trades against user wallets. Every balance
// mutation for a trade happens in one database transaction together with the
// trade record itself.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"exchange-core/internal/events"
	"exchange-core/internal/market"
	"exchange-core/internal/settings"
	"exchange-core/pkg/db"
	"exchange-core/pkg/exchanges/common"
)

// Connector forwards market orders to the live exchange in real trading
// mode.
type Connector interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, quantity float64) (*common.OrderResult, error)
}

// Request describes one order to settle.
type Request struct {
	UserID     string
	Pair       string
	Side       string
	OrderKind  string
	Amount     float64
	LimitPrice float64
}

// TxHook runs inside the settlement transaction after wallets and the trade
// row are written. The bot scheduler uses it to persist its own records
// atomically with the trade.
type TxHook func(tx *sql.Tx, trade *db.Trade) error

// Engine is the trade settlement service.
type Engine struct {
	Database *db.Database
	Settings *settings.Service
	Quotes   market.Provider
	Exchange Connector
	Bus      *events.Bus
}

// NewEngine wires a settlement engine.
func NewEngine(database *db.Database, s *settings.Service, quotes market.Provider, exchange Connector, bus *events.Bus) *Engine {
	return &Engine{Database: database, Settings: s, Quotes: quotes, Exchange: exchange, Bus: bus}
}

// Settle validates, prices and executes one order.
func (e *Engine) Settle(ctx context.Context, req Request) (*db.Trade, error) {
	return e.SettleWith(ctx, req, nil)
}

// SettleWith is Settle with an optional hook run inside the same
// transaction.
func (e *Engine) SettleWith(ctx context.Context, req Request, hook TxHook) (*db.Trade, error) {
	side := strings.ToUpper(req.Side)
	if side != db.SideBuy && side != db.SideSell {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, req.Side)
	}
	kind := strings.ToUpper(req.OrderKind)
	if kind == "" {
		kind = db.OrderKindMarket
	}
	if kind != db.OrderKindMarket && kind != db.OrderKindLimit {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrderKind, req.OrderKind)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, req.Amount)
	}

	base, quote, err := market.SplitPair(req.Pair)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPair, req.Pair)
	}

	if kind == db.OrderKindLimit {
		if req.LimitPrice <= 0 {
			return nil, fmt.Errorf("%w: limit price %v", ErrInvalidPrice, req.LimitPrice)
		}
		return e.recordLimitOrder(ctx, req, side)
	}

	q, err := e.Quotes.GetPrice(ctx, req.Pair)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	if q.Price <= 0 {
		return nil, fmt.Errorf("%w: quoted %v", ErrInvalidPrice, q.Price)
	}

	price := q.Price
	amount := req.Amount

	// In real mode the exchange order goes out before any ledger change,
	// and its fills define the execution price.
	if e.Settings.TradingMode() == db.ModeReal {
		if e.Exchange == nil {
			return nil, fmt.Errorf("%w: no exchange connector", ErrExchangeExecution)
		}
		result, err := e.Exchange.PlaceMarketOrder(ctx, strings.ReplaceAll(req.Pair, "/", ""), common.Side(side), amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExchangeExecution, err)
		}
		if vwap := common.VWAP(result.Fills); vwap > 0 {
			price = vwap
		}
		if result.ExecutedQty > 0 {
			amount = result.ExecutedQty
		}
	}

	total := amount * price
	fee := total * e.Settings.TradingFee()
	now := time.Now().UTC()
	trade := db.Trade{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Pair:      req.Pair,
		Side:      side,
		OrderKind: kind,
		Amount:    amount,
		Price:     price,
		Total:     total,
		Fee:       fee,
		Status:    db.TradeStatusFilled,
		CreatedAt: now,
		FilledAt:  &now,
	}

	err = e.Database.WithTx(ctx, func(tx *sql.Tx) error {
		if side == db.SideBuy {
			wallet, err := db.GetWallet(ctx, tx, req.UserID, quote)
			if err != nil {
				return err
			}
			if wallet == nil || wallet.Balance < total+fee {
				return fmt.Errorf("%w: need %.8f %s", ErrInsufficientBalance, total+fee, quote)
			}
			if err := db.DebitWallet(ctx, tx, req.UserID, quote, total+fee); err != nil {
				return err
			}
			if err := db.CreditWallet(ctx, tx, req.UserID, base, amount); err != nil {
				return err
			}
		} else {
			wallet, err := db.GetWallet(ctx, tx, req.UserID, base)
			if err != nil {
				return err
			}
			if wallet == nil || wallet.Balance < amount {
				return fmt.Errorf("%w: need %.8f %s", ErrInsufficientBalance, amount, base)
			}
			if err := db.DebitWallet(ctx, tx, req.UserID, base, amount); err != nil {
				return err
			}
			if err := db.CreditWallet(ctx, tx, req.UserID, quote, total-fee); err != nil {
				return err
			}
		}
		if err := db.InsertTrade(ctx, tx, trade); err != nil {
			return err
		}
		if hook != nil {
			return hook(tx, &trade)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
		}
		return nil, err
	}

	log.Printf("settlement: %s %s %.8f %s @ %.8f (fee %.8f)", side, kind, amount, req.Pair, price, fee)
	if e.Bus != nil {
		e.Bus.Publish(events.EventTradeSettled, events.TradeSettled{
			TradeID: trade.ID,
			UserID:  trade.UserID,
			Pair:    trade.Pair,
			Side:    trade.Side,
			Amount:  trade.Amount,
			Price:   trade.Price,
			Total:   trade.Total,
			Fee:     trade.Fee,
			Status:  trade.Status,
		})
	}
	return &trade, nil
}

// recordLimitOrder stores a resting limit order. No balances move and
// nothing is forwarded to the exchange until a fill engine picks it up.
func (e *Engine) recordLimitOrder(ctx context.Context, req Request, side string) (*db.Trade, error) {
	trade := db.Trade{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Pair:      req.Pair,
		Side:      side,
		OrderKind: db.OrderKindLimit,
		Amount:    req.Amount,
		Price:     req.LimitPrice,
		Total:     req.Amount * req.LimitPrice,
		Status:    db.TradeStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	err := e.Database.WithTx(ctx, func(tx *sql.Tx) error {
		return db.InsertTrade(ctx, tx, trade)
	})
	if err != nil {
		return nil, err
	}
	return &trade, nil
}
