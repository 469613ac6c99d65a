package binance

import (
	"testing"

	"exchange-core/pkg/exchanges/common"
)

func TestSymbol(t *testing.T) {
	if got := Symbol("BTC/USDT"); got != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", got)
	}
}

func TestFormatQuantity(t *testing.T) {
	tests := []struct {
		symbol string
		qty    float64
		want   float64
	}{
		{"BTCUSDT", 0.0123456789, 0.01234},
		{"BTC/USDT", 0.0123456789, 0.01234},
		{"DOGEUSDT", 12.9, 12},
		{"XRPUSDT", 0.05, 0},
		{"UNKNOWNUSDT", 1.123456789, 1.12345},
	}
	for _, tt := range tests {
		if got := FormatQuantity(tt.symbol, tt.qty); got != tt.want {
			t.Errorf("FormatQuantity(%s, %v) = %v, want %v", tt.symbol, tt.qty, got, tt.want)
		}
	}
}

func TestVWAP(t *testing.T) {
	fills := []common.Fill{
		{Price: 100, Qty: 1},
		{Price: 110, Qty: 3},
	}
	if got := common.VWAP(fills); got != 107.5 {
		t.Errorf("VWAP = %v, want 107.5", got)
	}
	if got := common.VWAP(nil); got != 0 {
		t.Errorf("VWAP(nil) = %v, want 0", got)
	}
}
