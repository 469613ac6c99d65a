// Package bot runs per-user automated trading strategies on a schedule,
// settling their orders through the same engine as manual trades.
package bot

import (
	"encoding/json"
	"fmt"

	"exchange-core/internal/indicators"
	"exchange-core/pkg/db"
)

// Actions a strategy pass can produce. SKIP and ERROR come from the
// scheduler, strategies themselves only buy, sell or hold.
const (
	ActionBuy   = "BUY"
	ActionSell  = "SELL"
	ActionHold  = "HOLD"
	ActionSkip  = "SKIP"
	ActionError = "ERROR"
)

const rsiPeriod = 14

// Params are the per-strategy tunables stored as JSON on the bot row.
// Zero values fall back to defaults.
type Params struct {
	DCABuyOnDip     float64 `json:"dca_buy_on_dip"`
	GridLevels      int     `json:"grid_levels"`
	GridSpread      float64 `json:"grid_spread"`
	ScalperProfit   float64 `json:"scalper_profit"`
	ScalperStopLoss float64 `json:"scalper_stop_loss"`
}

// ParseParams decodes stored params, applying defaults for missing fields.
func ParseParams(raw string) (Params, error) {
	p := Params{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return Params{}, fmt.Errorf("parse bot params: %w", err)
		}
	}
	if p.DCABuyOnDip <= 0 {
		p.DCABuyOnDip = 2
	}
	if p.GridLevels <= 0 {
		p.GridLevels = 5
	}
	if p.GridSpread <= 0 {
		p.GridSpread = 1
	}
	if p.ScalperProfit <= 0 {
		p.ScalperProfit = 0.5
	}
	if p.ScalperStopLoss <= 0 {
		p.ScalperStopLoss = 1
	}
	return p, nil
}

// Decision is a strategy verdict for one scheduler pass.
type Decision struct {
	Action string
	Reason string
}

// Decide evaluates one strategy against the current market state. It is a
// pure function: all inputs are explicit, nothing is read or written.
func Decide(strategy string, price, previousPrice, avgEntry, holdings float64, history []float64, p Params) Decision {
	switch strategy {
	case db.StrategyDCA:
		return decideDCA(price, previousPrice, p)
	case db.StrategyGrid:
		return decideGrid(price, avgEntry, holdings, p)
	case db.StrategyScalper:
		rsi := indicators.RSI(history, rsiPeriod)
		return decideScalper(price, avgEntry, holdings, rsi, p)
	default:
		return Decision{Action: ActionHold, Reason: "Unknown strategy"}
	}
}

// decideDCA buys on every pass; a dip beyond the threshold just changes the
// stated reason.
func decideDCA(price, previousPrice float64, p Params) Decision {
	change := (price - previousPrice) / previousPrice * 100
	if change <= -p.DCABuyOnDip {
		return Decision{ActionBuy, fmt.Sprintf("Price dipped %.2f%% - buying the dip", change)}
	}
	return Decision{ActionBuy, "Scheduled DCA purchase"}
}

func decideGrid(price, avgEntry, holdings float64, p Params) Decision {
	if holdings == 0 {
		return Decision{ActionBuy, "No holdings - opening grid position"}
	}

	profit := (price - avgEntry) / avgEntry * 100
	if profit >= p.GridSpread {
		return Decision{ActionSell, fmt.Sprintf("Grid profit target hit: +%.2f%%", profit)}
	}
	if profit <= -p.GridSpread {
		return Decision{ActionBuy, fmt.Sprintf("Grid buy level hit: %.2f%%", profit)}
	}
	return Decision{ActionHold, "Within grid range - holding"}
}

func decideScalper(price, avgEntry, holdings, rsi float64, p Params) Decision {
	if holdings == 0 {
		if rsi < 30 {
			return Decision{ActionBuy, fmt.Sprintf("RSI oversold (%.0f) - scalp entry", rsi)}
		}
		return Decision{ActionHold, fmt.Sprintf("Waiting for RSI oversold (current: %.0f)", rsi)}
	}

	profit := (price - avgEntry) / avgEntry * 100
	if profit >= p.ScalperProfit {
		return Decision{ActionSell, fmt.Sprintf("Scalp profit: +%.2f%%", profit)}
	}
	if profit <= -p.ScalperStopLoss {
		return Decision{ActionSell, fmt.Sprintf("Stop loss hit: %.2f%%", profit)}
	}
	if rsi > 70 && profit > 0 {
		return Decision{ActionSell, fmt.Sprintf("RSI overbought (%.0f) - taking profit", rsi)}
	}
	return Decision{ActionHold, "Waiting for profit target or stop loss"}
}
