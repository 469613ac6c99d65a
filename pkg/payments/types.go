// Package payments talks to the crypto payment gateway used for deposits and
// withdrawals.
package payments

import "encoding/json"

// InvoiceRequest asks the gateway to create a hosted payment invoice.
type InvoiceRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	URLReturn   string `json:"url_return,omitempty"`
	URLCallback string `json:"url_callback,omitempty"`
}

// InvoiceResult is the gateway's invoice ack.
type InvoiceResult struct {
	UUID    string `json:"uuid"`
	URL     string `json:"url"`
	Address string `json:"address"`
	Status  string `json:"status"`
}

// PayoutRequest asks the gateway to send funds to an external address.
type PayoutRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Network     string `json:"network"`
	OrderID     string `json:"order_id"`
	Address     string `json:"address"`
	URLCallback string `json:"url_callback,omitempty"`
}

// PayoutResult is the gateway's payout ack.
type PayoutResult struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// WebhookPayload is the gateway's status notification body.
type WebhookPayload struct {
	Type     string `json:"type"`
	UUID     string `json:"uuid"`
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Txid     string `json:"txid"`
}

// ParseWebhook decodes a webhook body. Verify the signature first.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TypePayout marks a webhook for a payout; the gateway signs those with the
// payout key instead of the payment key.
const TypePayout = "payout"

// Terminal webhook statuses.
const (
	StatusPaid        = "paid"
	StatusPaidOver    = "paid_over"
	StatusCancel      = "cancel"
	StatusFail        = "fail"
	StatusWrongAmount = "wrong_amount"
)

// IsSuccess reports whether a webhook status means the funds settled.
func IsSuccess(status string) bool {
	return status == StatusPaid || status == StatusPaidOver
}

// IsFailure reports whether a webhook status is a terminal failure.
func IsFailure(status string) bool {
	switch status {
	case StatusCancel, StatusFail, StatusWrongAmount:
		return true
	}
	return false
}
