package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client signs and sends gateway API requests.
type Client struct {
	baseURL    string
	merchantID string
	paymentKey string
	payoutKey  string
	httpClient *http.Client
}

// Config carries the gateway credentials. Payments and payouts are signed
// with separate keys.
type Config struct {
	BaseURL    string
	MerchantID string
	PaymentKey string
	PayoutKey  string
}

// NewClient builds a gateway client.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.cryptomus.com/v1"
	}
	return &Client{
		baseURL:    base,
		merchantID: cfg.MerchantID,
		paymentKey: cfg.PaymentKey,
		payoutKey:  cfg.PayoutKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateInvoice opens a hosted deposit invoice.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*InvoiceResult, error) {
	var out InvoiceResult
	if err := c.post(ctx, "/payment", req, c.paymentKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePayout requests an on-chain withdrawal.
func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	var out PayoutResult
	if err := c.post(ctx, "/payout", req, c.payoutKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyWebhook checks the webhook body against the given signature. The key
// follows the notification type: payout callbacks are signed with the payout
// key, everything else with the payment key.
func (c *Client) VerifyWebhook(body []byte, signature string) bool {
	key := c.paymentKey
	if p, err := ParseWebhook(body); err == nil && p.Type == TypePayout {
		key = c.payoutKey
	}
	return VerifySignature(body, signature, key)
}

func (c *Client) post(ctx context.Context, path string, payload any, apiKey string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("merchant", c.merchantID)
	req.Header.Set("sign", Sign(body, apiKey))

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	// The gateway wraps every response in {state, result|message}.
	var envelope struct {
		State   int             `json:"state"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	if res.StatusCode != http.StatusOK || envelope.State != 0 {
		if envelope.Message != "" {
			return fmt.Errorf("gateway: %s", envelope.Message)
		}
		return fmt.Errorf("gateway: status %d", res.StatusCode)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode gateway result: %w", err)
		}
	}
	return nil
}
