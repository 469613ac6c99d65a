// Package reconcile bridges the payment gateway with the wallet ledger. It
// opens deposit invoices, runs the withdrawal reservation saga and applies
// signed gateway webhooks to pending transactions.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"exchange-core/internal/events"
	"exchange-core/internal/settings"
	"exchange-core/pkg/db"
	"exchange-core/pkg/payments"
)

var (
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrUnknownTransaction  = errors.New("unknown transaction")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
)

// Gateway is the payment provider surface the service needs.
type Gateway interface {
	CreateInvoice(ctx context.Context, req payments.InvoiceRequest) (*payments.InvoiceResult, error)
	CreatePayout(ctx context.Context, req payments.PayoutRequest) (*payments.PayoutResult, error)
	VerifyWebhook(body []byte, signature string) bool
}

// Service drives deposit and withdrawal lifecycles.
type Service struct {
	Database    *db.Database
	Gateway     Gateway
	Settings    *settings.Service
	Bus         *events.Bus
	CallbackURL string
	ReturnURL   string
}

// NewService wires the reconciliation service.
func NewService(database *db.Database, gateway Gateway, s *settings.Service, bus *events.Bus, callbackURL, returnURL string) *Service {
	return &Service{
		Database:    database,
		Gateway:     gateway,
		Settings:    s,
		Bus:         bus,
		CallbackURL: callbackURL,
		ReturnURL:   returnURL,
	}
}

// Deposit is the client-facing result of InitiateDeposit.
type Deposit struct {
	TransactionID string  `json:"transaction_id"`
	PaymentURL    string  `json:"payment_url"`
	Address       string  `json:"address"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// InitiateDeposit opens a gateway invoice and records a PENDING deposit. No
// balance moves until the gateway confirms payment via webhook.
func (s *Service) InitiateDeposit(ctx context.Context, userID, currency string, amount float64) (*Deposit, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	now := time.Now().UTC()
	txn := db.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      db.TxTypeDeposit,
		Currency:  currency,
		Amount:    amount,
		Status:    db.TxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	invoice, err := s.Gateway.CreateInvoice(ctx, payments.InvoiceRequest{
		Amount:      formatAmount(amount),
		Currency:    currency,
		OrderID:     txn.ID,
		URLReturn:   s.ReturnURL,
		URLCallback: s.CallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	// Correlate future webhooks on the gateway uuid, or on our own id if
	// the gateway did not return one.
	txn.ExternalID = invoice.UUID
	if txn.ExternalID == "" {
		txn.ExternalID = txn.ID
	}

	err = s.Database.WithTx(ctx, func(tx *sql.Tx) error {
		return db.InsertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.publish(txn)
	return &Deposit{
		TransactionID: txn.ID,
		PaymentURL:    invoice.URL,
		Address:       invoice.Address,
		Amount:        amount,
		Currency:      currency,
	}, nil
}

// InitiateWithdrawal reserves amount plus fee and asks the gateway to pay out
// the full amount. Reservation and the PENDING record commit atomically before
// the gateway is called; a gateway failure compensates by refunding the
// reservation.
func (s *Service) InitiateWithdrawal(ctx context.Context, userID, currency, address, network string, amount float64) (*db.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if address == "" {
		return nil, errors.New("withdrawal address required")
	}

	fee := amount * s.Settings.WithdrawalFee()
	now := time.Now().UTC()
	txn := db.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      db.TxTypeWithdrawal,
		Currency:  currency,
		Amount:    amount,
		Fee:       fee,
		Status:    db.TxStatusPending,
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.Database.WithTx(ctx, func(tx *sql.Tx) error {
		if err := db.ReserveBalance(ctx, tx, userID, currency, amount+fee); err != nil {
			return err
		}
		return db.InsertTransaction(ctx, tx, txn)
	})
	if err != nil {
		if errors.Is(err, db.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: %v %s", ErrInsufficientBalance, amount, currency)
		}
		return nil, err
	}

	payout, err := s.Gateway.CreatePayout(ctx, payments.PayoutRequest{
		Amount:      formatAmount(amount),
		Currency:    currency,
		Network:     network,
		OrderID:     txn.ID,
		Address:     address,
		URLCallback: s.CallbackURL,
	})
	if err != nil {
		// Compensate: give the reservation back and fail the record.
		if cErr := s.compensate(ctx, &txn); cErr != nil {
			log.Printf("reconcile: compensation failed for %s: %v", txn.ID, cErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	txn.ExternalID = payout.UUID
	if txn.ExternalID == "" {
		txn.ExternalID = txn.ID
	}
	if err := db.SetTransactionExternalID(ctx, s.Database.DB, txn.ID, txn.ExternalID); err != nil {
		log.Printf("reconcile: record payout id for %s: %v", txn.ID, err)
	}

	s.publish(txn)
	return &txn, nil
}

// HandleWebhook applies one signed gateway notification. Completed
// transactions are idempotent: replays return without touching the ledger.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.Gateway.VerifyWebhook(body, signature) {
		return ErrSignatureInvalid
	}

	payload, err := payments.ParseWebhook(body)
	if err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}

	txn, err := db.GetTransactionByCorrelation(ctx, s.Database.DB, payload.UUID, payload.OrderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: uuid=%s order=%s", ErrUnknownTransaction, payload.UUID, payload.OrderID)
		}
		return err
	}

	if txn.Status == db.TxStatusCompleted {
		log.Printf("reconcile: replayed webhook for completed %s, ignoring", txn.ID)
		return nil
	}

	switch {
	case payments.IsSuccess(payload.Status):
		return s.settleSuccess(ctx, txn, payload)
	case payments.IsFailure(payload.Status):
		return s.settleFailure(ctx, txn)
	default:
		// Intermediate gateway states (process, check) keep the
		// transaction pending.
		log.Printf("reconcile: %s still %s at gateway", txn.ID, payload.Status)
		return nil
	}
}

func (s *Service) settleSuccess(ctx context.Context, txn *db.Transaction, payload *payments.WebhookPayload) error {
	amount := txn.Amount
	if v, err := strconv.ParseFloat(payload.Amount, 64); err == nil && v > 0 {
		amount = v
	}

	err := s.Database.WithTx(ctx, func(tx *sql.Tx) error {
		switch txn.Type {
		case db.TxTypeDeposit:
			fee := amount * s.Settings.DepositFee()
			if err := db.CreditWallet(ctx, tx, txn.UserID, txn.Currency, amount-fee); err != nil {
				return err
			}
			return db.CompleteTransaction(ctx, tx, txn.ID, amount, fee, payload.Txid)
		case db.TxTypeWithdrawal:
			// Amount plus fee was reserved at initiation, burn the lock.
			if err := db.ReleaseLocked(ctx, tx, txn.UserID, txn.Currency, txn.Amount+txn.Fee); err != nil {
				return err
			}
			return db.CompleteTransaction(ctx, tx, txn.ID, txn.Amount, txn.Fee, payload.Txid)
		default:
			return fmt.Errorf("unknown transaction type %q", txn.Type)
		}
	})
	if err != nil {
		return err
	}

	txn.Status = db.TxStatusCompleted
	txn.Amount = amount
	s.publish(*txn)
	log.Printf("reconcile: %s %s completed (%v %s)", txn.Type, txn.ID, amount, txn.Currency)
	return nil
}

func (s *Service) settleFailure(ctx context.Context, txn *db.Transaction) error {
	if err := s.compensate(ctx, txn); err != nil {
		return err
	}
	log.Printf("reconcile: %s %s failed at gateway", txn.Type, txn.ID)
	return nil
}

// compensate marks the transaction FAILED and, for withdrawals, moves the
// reserved amount plus fee back to the spendable balance.
func (s *Service) compensate(ctx context.Context, txn *db.Transaction) error {
	err := s.Database.WithTx(ctx, func(tx *sql.Tx) error {
		if txn.Type == db.TxTypeWithdrawal {
			if err := db.RefundLocked(ctx, tx, txn.UserID, txn.Currency, txn.Amount+txn.Fee); err != nil {
				return err
			}
		}
		return db.UpdateTransactionStatus(ctx, tx, txn.ID, db.TxStatusFailed)
	})
	if err != nil {
		return err
	}
	txn.Status = db.TxStatusFailed
	s.publish(*txn)
	return nil
}

func (s *Service) publish(txn db.Transaction) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(events.EventTransactionUpdated, events.TransactionUpdated{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		Type:          txn.Type,
		Status:        txn.Status,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
	})
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
