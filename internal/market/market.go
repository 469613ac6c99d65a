// Package market supplies spot prices for the trading pairs the platform
// supports. Quotes come from the exchange's public ticker when reachable and
// fall back to an embedded static table otherwise.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownPair is returned for pairs outside the supported set.
var ErrUnknownPair = errors.New("unknown trading pair")

// Quote is one observed price. Stale marks fallback values that did not come
// from a live source.
type Quote struct {
	Pair      string    `json:"pair"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change_24h"`
	High24h   float64   `json:"high_24h"`
	Low24h    float64   `json:"low_24h"`
	Volume24h float64   `json:"volume_24h"`
	Stale     bool      `json:"stale"`
	Time      time.Time `json:"time"`
}

// Provider resolves the current price of a pair.
type Provider interface {
	GetPrice(ctx context.Context, pair string) (Quote, error)
}

// SplitPair parses "BTC/USDT" into base and quote currencies.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownPair, pair)
	}
	return parts[0], parts[1], nil
}
