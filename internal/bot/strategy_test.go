package bot

import (
	"strings"
	"testing"
)

func defaultParams(t *testing.T) Params {
	t.Helper()
	p, err := ParseParams("")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	return p
}

func TestParseParams(t *testing.T) {
	p := defaultParams(t)
	if p.DCABuyOnDip != 2 || p.GridLevels != 5 || p.GridSpread != 1 ||
		p.ScalperProfit != 0.5 || p.ScalperStopLoss != 1 {
		t.Errorf("unexpected defaults: %+v", p)
	}

	p, err := ParseParams(`{"grid_spread": 2.5, "scalper_profit": 1.2}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.GridSpread != 2.5 || p.ScalperProfit != 1.2 {
		t.Errorf("overrides lost: %+v", p)
	}
	if p.DCABuyOnDip != 2 {
		t.Errorf("missing field not defaulted: %+v", p)
	}

	if _, err := ParseParams(`{broken`); err == nil {
		t.Error("malformed params accepted")
	}
}

func TestDCAAlwaysBuys(t *testing.T) {
	p := defaultParams(t)

	d := Decide("DCA", 100, 100, 0, 0, nil, p)
	if d.Action != ActionBuy || d.Reason != "Scheduled DCA purchase" {
		t.Errorf("flat price: %+v", d)
	}

	// 3% dip with a 2% threshold.
	d = Decide("DCA", 97, 100, 0, 0, nil, p)
	if d.Action != ActionBuy || !strings.Contains(d.Reason, "buying the dip") {
		t.Errorf("dip: %+v", d)
	}

	// Rising price still buys on schedule.
	d = Decide("DCA", 105, 100, 0, 0, nil, p)
	if d.Action != ActionBuy || d.Reason != "Scheduled DCA purchase" {
		t.Errorf("rise: %+v", d)
	}
}

func TestGridStrategy(t *testing.T) {
	p := defaultParams(t)

	d := Decide("GRID", 100, 100, 100, 0, nil, p)
	if d.Action != ActionBuy || d.Reason != "No holdings - opening grid position" {
		t.Errorf("flat: %+v", d)
	}

	// +1.5% above entry with 1% spread: sell.
	d = Decide("GRID", 101.5, 101.5, 100, 0.5, nil, p)
	if d.Action != ActionSell || !strings.Contains(d.Reason, "Grid profit target hit") {
		t.Errorf("above spread: %+v", d)
	}

	// -1.5% below entry: buy another level.
	d = Decide("GRID", 98.5, 98.5, 100, 0.5, nil, p)
	if d.Action != ActionBuy || !strings.Contains(d.Reason, "Grid buy level hit") {
		t.Errorf("below spread: %+v", d)
	}

	// Inside the band: hold.
	d = Decide("GRID", 100.5, 100.5, 100, 0.5, nil, p)
	if d.Action != ActionHold {
		t.Errorf("inside band: %+v", d)
	}
}

func TestScalperStrategy(t *testing.T) {
	p := defaultParams(t)

	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = 100 - float64(i)
	}
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}

	// Flat with oversold RSI: entry.
	d := Decide("SCALPER", 81, 82, 81, 0, falling, p)
	if d.Action != ActionBuy || !strings.Contains(d.Reason, "scalp entry") {
		t.Errorf("oversold entry: %+v", d)
	}

	// Flat without signal: wait.
	d = Decide("SCALPER", 119, 118, 119, 0, rising, p)
	if d.Action != ActionHold || !strings.Contains(d.Reason, "Waiting for RSI oversold") {
		t.Errorf("no signal: %+v", d)
	}

	// Holding, profit target hit (0.5% default).
	d = Decide("SCALPER", 100.6, 100.5, 100, 1, falling, p)
	if d.Action != ActionSell || !strings.Contains(d.Reason, "Scalp profit") {
		t.Errorf("profit target: %+v", d)
	}

	// Holding, stop loss hit (-1% default).
	d = Decide("SCALPER", 98.9, 99, 100, 1, falling, p)
	if d.Action != ActionSell || !strings.Contains(d.Reason, "Stop loss hit") {
		t.Errorf("stop loss: %+v", d)
	}

	// Holding, small gain, overbought RSI: take profit.
	d = Decide("SCALPER", 100.3, 100.2, 100, 1, rising, p)
	if d.Action != ActionSell || !strings.Contains(d.Reason, "overbought") {
		t.Errorf("overbought exit: %+v", d)
	}

	// Holding, small gain, neutral RSI: wait.
	short := []float64{100, 100.3}
	d = Decide("SCALPER", 100.3, 100, 100, 1, short, p)
	if d.Action != ActionHold {
		t.Errorf("neutral: %+v", d)
	}
}

func TestUnknownStrategyHolds(t *testing.T) {
	d := Decide("MARTINGALE", 100, 100, 100, 1, nil, defaultParams(t))
	if d.Action != ActionHold || d.Reason != "Unknown strategy" {
		t.Errorf("got %+v", d)
	}
}

func TestHistoryPush(t *testing.T) {
	h := NewHistory()

	series, prev := h.Push("BTC/USDT", 100)
	if len(series) != 1 || prev != 100 {
		t.Errorf("first push: series=%v prev=%v", series, prev)
	}

	series, prev = h.Push("BTC/USDT", 105)
	if len(series) != 2 || prev != 100 {
		t.Errorf("second push: series=%v prev=%v", series, prev)
	}

	// Capacity is bounded.
	for i := 0; i < 300; i++ {
		series, _ = h.Push("BTC/USDT", float64(i))
	}
	if len(series) != historyCap {
		t.Errorf("series length = %d, want %d", len(series), historyCap)
	}
	if series[len(series)-1] != 299 {
		t.Errorf("newest sample = %v, want 299", series[len(series)-1])
	}

	// Pairs are independent.
	series, _ = h.Push("ETH/USDT", 1)
	if len(series) != 1 {
		t.Errorf("cross-pair leak: %v", series)
	}
}
