package bot

import "sync"

// historyCap bounds the per-pair price series kept for RSI.
const historyCap = 100

// History keeps recent observed prices per pair for the momentum
// indicators. It is shared across bots trading the same pair.
type History struct {
	mu     sync.Mutex
	prices map[string][]float64
}

// NewHistory creates an empty history store.
func NewHistory() *History {
	return &History{prices: make(map[string][]float64)}
}

// Push records a price and returns a snapshot of the series plus the price
// observed before this one. With a single sample the previous price equals
// the current one.
func (h *History) Push(pair string, price float64) (series []float64, previous float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := append(h.prices[pair], price)
	if len(s) > historyCap {
		s = s[len(s)-historyCap:]
	}
	h.prices[pair] = s

	previous = price
	if len(s) > 1 {
		previous = s[len(s)-2]
	}
	series = make([]float64, len(s))
	copy(series, s)
	return series, previous
}
