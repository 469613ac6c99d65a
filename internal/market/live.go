package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LiveProvider fetches 24h ticker stats from the exchange's public API. A
// short cache bounds request volume; on fetch failure it serves the last
// good quote and finally the embedded static table, both marked stale.
type LiveProvider struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration

	mu       sync.RWMutex
	cache    map[string]Quote
	lastGood map[string]Quote
}

// NewLiveProvider builds a provider against the given ticker base URL
// (default public Binance endpoint when empty).
func NewLiveProvider(baseURL string) *LiveProvider {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &LiveProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		ttl:        3 * time.Second,
		cache:      make(map[string]Quote),
		lastGood:   make(map[string]Quote),
	}
}

// GetPrice implements Provider.
func (p *LiveProvider) GetPrice(ctx context.Context, pair string) (Quote, error) {
	static, err := loadStatic()
	if err != nil {
		return Quote{}, err
	}
	if _, ok := static[pair]; !ok {
		return Quote{}, fmt.Errorf("%w: %q", ErrUnknownPair, pair)
	}

	p.mu.RLock()
	if q, ok := p.cache[pair]; ok && time.Since(q.Time) < p.ttl {
		p.mu.RUnlock()
		return q, nil
	}
	p.mu.RUnlock()

	q, err := p.fetch(ctx, pair)
	if err != nil {
		log.Printf("market: ticker fetch failed for %s: %v", pair, err)
		p.mu.RLock()
		last, ok := p.lastGood[pair]
		p.mu.RUnlock()
		if ok {
			last.Stale = true
			last.Time = time.Now()
			return last, nil
		}
		fallback := static[pair]
		fallback.Time = time.Now()
		return fallback, nil
	}

	p.mu.Lock()
	p.cache[pair] = q
	p.lastGood[pair] = q
	p.mu.Unlock()
	return q, nil
}

func (p *LiveProvider) fetch(ctx context.Context, pair string) (Quote, error) {
	symbol := strings.ReplaceAll(pair, "/", "")
	u := p.baseURL + "/api/v3/ticker/24hr?symbol=" + symbol

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, err
	}
	res, err := p.httpClient.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("ticker status %d", res.StatusCode)
	}

	var t struct {
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		Volume             string `json:"volume"`
	}
	if err := json.NewDecoder(res.Body).Decode(&t); err != nil {
		return Quote{}, err
	}

	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil || price <= 0 {
		return Quote{}, fmt.Errorf("bad ticker price %q", t.LastPrice)
	}
	return Quote{
		Pair:      pair,
		Price:     price,
		Change24h: parseTickerFloat(t.PriceChangePercent),
		High24h:   parseTickerFloat(t.HighPrice),
		Low24h:    parseTickerFloat(t.LowPrice),
		Volume24h: parseTickerFloat(t.Volume),
		Time:      time.Now(),
	}, nil
}

func parseTickerFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
