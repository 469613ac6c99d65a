// Package common holds exchange-agnostic order vocabulary.
package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Fill is a single execution reported by the exchange. Market orders may
// fill across several price levels.
type Fill struct {
	Price           float64
	Qty             float64
	Commission      float64
	CommissionAsset string
}

// OrderResult is the exchange ack for a submitted order.
type OrderResult struct {
	OrderID       int64
	ClientOrderID string
	Status        string
	ExecutedQty   float64
	Fills         []Fill
}

// VWAP returns the volume-weighted average fill price, or 0 for no fills.
func VWAP(fills []Fill) float64 {
	var notional, qty float64
	for _, f := range fills {
		notional += f.Price * f.Qty
		qty += f.Qty
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}
