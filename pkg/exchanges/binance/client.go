// Package binance is the exchange connector used for REAL trading mode.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"exchange-core/pkg/exchanges/common"
)

// Config holds Binance credentials.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// Client is a Binance spot REST client.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *common.RequestLimiter
}

// New builds a client; Testnet switches base URLs.
func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// 1200 request weight per minute on spot.
		limiter: common.NewRequestLimiter(1200, time.Minute),
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// PlaceMarketOrder submits a MARKET order and returns the ack including
// per-level fills. Symbol is the pair without separator (BTCUSDT).
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, quantity float64) (*common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}
	if quantity <= 0 {
		return nil, errors.New("binance: quantity must be positive")
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(common.OrderTypeMarket))
	params.Set("quantity", formatFloat(FormatQuantity(symbol, quantity)))
	params.Set("newOrderRespType", "FULL")

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		ExecutedQty   string `json:"executedQty"`
		Fills         []struct {
			Price           string `json:"price"`
			Qty             string `json:"qty"`
			Commission      string `json:"commission"`
			CommissionAsset string `json:"commissionAsset"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}

	result := &common.OrderResult{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Status:        resp.Status,
		ExecutedQty:   parseFloat(resp.ExecutedQty),
	}
	for _, f := range resp.Fills {
		result.Fills = append(result.Fills, common.Fill{
			Price:           parseFloat(f.Price),
			Qty:             parseFloat(f.Qty),
			Commission:      parseFloat(f.Commission),
			CommissionAsset: f.CommissionAsset,
		})
	}
	return result, nil
}

// Balance is the free/locked split for one asset.
type Balance struct {
	Free   float64
	Locked float64
}

// GetBalances returns nonzero account balances keyed by asset.
func (c *Client) GetBalances(ctx context.Context) (map[string]Balance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account response: %w", err)
	}

	out := make(map[string]Balance)
	for _, b := range resp.Balances {
		free, locked := parseFloat(b.Free), parseFloat(b.Locked)
		if free > 0 || locked > 0 {
			out[b.Asset] = Balance{Free: free, Locked: locked}
		}
	}
	return out, nil
}

// Ping checks connectivity to the exchange.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/ping", nil)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("binance ping status %d", res.StatusCode)
	}
	return nil
}

// ValidateKeys verifies the configured credentials with a signed account call.
func (c *Client) ValidateKeys(ctx context.Context) error {
	_, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	return err
}

func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	params.Set("signature", sign(query, c.cfg.APISecret))

	u := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("binance: %s (code %d)", apiErr.Msg, apiErr.Code)
		}
		return nil, fmt.Errorf("binance: status %d", res.StatusCode)
	}
	return body, nil
}

func sign(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// minQuantities lists the exchange's minimum order quantity per symbol.
var minQuantities = map[string]float64{
	"BTCUSDT":   0.00001,
	"ETHUSDT":   0.0001,
	"BNBUSDT":   0.001,
	"SOLUSDT":   0.01,
	"XRPUSDT":   0.1,
	"DOGEUSDT":  1,
	"ADAUSDT":   1,
	"DOTUSDT":   0.1,
	"MATICUSDT": 1,
	"LTCUSDT":   0.001,
}

// Symbol converts a pair like BTC/USDT to the exchange form BTCUSDT.
func Symbol(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

// FormatQuantity floors qty to the symbol's minimum-quantity precision so the
// exchange does not reject the order for lot-size violations.
func FormatQuantity(symbol string, qty float64) float64 {
	minQty, ok := minQuantities[Symbol(symbol)]
	if !ok {
		minQty = 0.00001
	}
	precision := math.Ceil(-math.Log10(minQty))
	scale := math.Pow(10, precision)
	return math.Floor(qty*scale) / scale
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
