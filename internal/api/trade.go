package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"exchange-core/internal/market"
	"exchange-core/internal/settlement"
	"exchange-core/pkg/db"
)

// getPrices returns current quotes for every supported pair.
func (s *Server) getPrices(c *gin.Context) {
	pairs, err := market.SupportedPairs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	quotes := make([]market.Quote, 0, len(pairs))
	for _, p := range pairs {
		q, err := s.Quotes.GetPrice(c.Request.Context(), p)
		if err != nil {
			continue
		}
		quotes = append(quotes, q)
	}
	c.JSON(http.StatusOK, gin.H{"prices": quotes})
}

// placeTrade settles one order for the caller.
func (s *Server) placeTrade(c *gin.Context) {
	var req struct {
		Pair      string  `json:"pair"`
		Side      string  `json:"side"`
		OrderKind string  `json:"order_kind"`
		Amount    float64 `json:"amount"`
		Price     float64 `json:"price"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	trade, err := s.Engine.Settle(c.Request.Context(), settlement.Request{
		UserID:     CurrentUserID(c),
		Pair:       req.Pair,
		Side:       req.Side,
		OrderKind:  req.OrderKind,
		Amount:     req.Amount,
		LimitPrice: req.Price,
	})
	if err != nil {
		status, code := tradeErrorStatus(err)
		c.JSON(status, gin.H{"code": code, "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"trade_id":   trade.ID,
		"pair":       trade.Pair,
		"side":       trade.Side,
		"order_kind": trade.OrderKind,
		"amount":     trade.Amount,
		"price":      trade.Price,
		"total":      trade.Total,
		"fee":        trade.Fee,
		"status":     trade.Status,
	})
}

// getTrades lists the caller's trade history with optional filters.
func (s *Server) getTrades(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	trades, err := db.GetTradesByUser(c.Request.Context(), s.Database.DB, CurrentUserID(c),
		c.Query("pair"), c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, gin.H{
			"id":         t.ID,
			"pair":       t.Pair,
			"side":       t.Side,
			"order_kind": t.OrderKind,
			"amount":     t.Amount,
			"price":      t.Price,
			"total":      t.Total,
			"fee":        t.Fee,
			"status":     t.Status,
			"created_at": t.CreatedAt,
			"filled_at":  t.FilledAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func tradeErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, settlement.ErrInvalidPair):
		return http.StatusBadRequest, "INVALID_PAIR"
	case errors.Is(err, settlement.ErrInvalidSide):
		return http.StatusBadRequest, "INVALID_SIDE"
	case errors.Is(err, settlement.ErrInvalidOrderKind):
		return http.StatusBadRequest, "INVALID_ORDER_KIND"
	case errors.Is(err, settlement.ErrInvalidAmount):
		return http.StatusBadRequest, "INVALID_AMOUNT"
	case errors.Is(err, settlement.ErrInvalidPrice):
		return http.StatusBadRequest, "INVALID_PRICE"
	case errors.Is(err, settlement.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"
	case errors.Is(err, settlement.ErrQuoteUnavailable):
		return http.StatusServiceUnavailable, "QUOTE_UNAVAILABLE"
	case errors.Is(err, settlement.ErrExchangeExecution):
		return http.StatusBadGateway, "EXCHANGE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
