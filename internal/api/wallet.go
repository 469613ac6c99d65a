package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"exchange-core/internal/reconcile"
	"exchange-core/pkg/db"
)

type walletView struct {
	Currency      string  `json:"currency"`
	Balance       float64 `json:"balance"`
	LockedBalance float64 `json:"locked_balance"`
	ValueUSD      float64 `json:"value_usd"`
}

// getWallets lists the caller's wallets with an indicative USD valuation.
func (s *Server) getWallets(c *gin.Context) {
	ctx := c.Request.Context()
	wallets, err := db.GetWalletsByUser(ctx, s.Database.DB, CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	views := make([]walletView, 0, len(wallets))
	var totalUSD float64
	for _, w := range wallets {
		v := walletView{
			Currency:      w.Currency,
			Balance:       w.Balance,
			LockedBalance: w.LockedBalance,
		}
		switch w.Currency {
		case "USDT", "USD":
			v.ValueUSD = w.Balance
		default:
			if q, err := s.Quotes.GetPrice(ctx, w.Currency+"/USDT"); err == nil {
				v.ValueUSD = w.Balance * q.Price
			}
		}
		totalUSD += v.ValueUSD
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{
		"wallets":         views,
		"total_value_usd": totalUSD,
	})
}

// createDeposit opens a payment invoice for the caller.
func (s *Server) createDeposit(c *gin.Context) {
	var req struct {
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.Currency == "" {
		req.Currency = "USDT"
	}

	dep, err := s.Reconciler.InitiateDeposit(c.Request.Context(), CurrentUserID(c), req.Currency, req.Amount)
	if err != nil {
		status, code := depositErrorStatus(err)
		c.JSON(status, gin.H{"code": code, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, dep)
}

// createWithdrawal starts the withdrawal saga for the caller.
func (s *Server) createWithdrawal(c *gin.Context) {
	var req struct {
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
		Address  string  `json:"address"`
		Network  string  `json:"network"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.Currency == "" {
		req.Currency = "USDT"
	}
	if req.Network == "" {
		req.Network = "TRC20"
	}

	txn, err := s.Reconciler.InitiateWithdrawal(c.Request.Context(), CurrentUserID(c), req.Currency, req.Address, req.Network, req.Amount)
	if err != nil {
		status, code := withdrawalErrorStatus(err)
		c.JSON(status, gin.H{"code": code, "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction_id": txn.ID,
		"status":         txn.Status,
		"amount":         txn.Amount,
		"fee":            txn.Fee,
		"currency":       txn.Currency,
	})
}

// getTransactions lists the caller's deposits and withdrawals.
func (s *Server) getTransactions(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	txns, err := db.GetTransactionsByUser(c.Request.Context(), s.Database.DB, CurrentUserID(c),
		c.Query("type"), c.Query("currency"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	out := make([]gin.H, 0, len(txns))
	for _, t := range txns {
		out = append(out, gin.H{
			"id":         t.ID,
			"type":       t.Type,
			"currency":   t.Currency,
			"amount":     t.Amount,
			"fee":        t.Fee,
			"status":     t.Status,
			"tx_hash":    t.TxHash,
			"address":    t.Address,
			"created_at": t.CreatedAt,
			"updated_at": t.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func depositErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, reconcile.ErrInvalidAmount):
		return http.StatusBadRequest, "INVALID_AMOUNT"
	case errors.Is(err, reconcile.ErrGatewayUnavailable):
		return http.StatusBadGateway, "GATEWAY_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func withdrawalErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, reconcile.ErrInvalidAmount):
		return http.StatusBadRequest, "INVALID_AMOUNT"
	case errors.Is(err, reconcile.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"
	case errors.Is(err, reconcile.ErrGatewayUnavailable):
		return http.StatusBadGateway, "GATEWAY_UNAVAILABLE"
	default:
		if err != nil && err.Error() == "withdrawal address required" {
			return http.StatusBadRequest, "MISSING_ADDRESS"
		}
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}
