package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"exchange-core/internal/bot"
	"exchange-core/internal/market"
	"exchange-core/pkg/db"
)

func botView(b db.TradingBot) gin.H {
	return gin.H{
		"id":              b.ID,
		"pair":            b.Pair,
		"strategy":        b.Strategy,
		"enabled":         b.Enabled,
		"investment":      b.Investment,
		"interval":        b.Interval,
		"holdings":        b.Holdings,
		"total_invested":  b.TotalInvested,
		"avg_entry_price": b.AvgEntryPrice,
		"total_profit":    b.TotalProfit,
		"trades_count":    b.TradesCount,
		"last_trade_at":   b.LastTradeAt,
		"params":          json.RawMessage(paramsOrEmpty(b.Params)),
		"created_at":      b.CreatedAt,
	}
}

func paramsOrEmpty(raw string) string {
	if raw == "" {
		return "{}"
	}
	return raw
}

// listBots returns the caller's bots.
func (s *Server) listBots(c *gin.Context) {
	bots, err := db.ListBotsByUser(c.Request.Context(), s.Database.DB, CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	out := make([]gin.H, 0, len(bots))
	for _, b := range bots {
		out = append(out, botView(b))
	}
	c.JSON(http.StatusOK, gin.H{"bots": out})
}

// createBot registers a new strategy bot for the caller. A user gets one bot
// per (pair, strategy) combination.
func (s *Server) createBot(c *gin.Context) {
	var req struct {
		Pair       string          `json:"pair"`
		Strategy   string          `json:"strategy"`
		Investment float64         `json:"investment"`
		Interval   int             `json:"interval"`
		Enabled    bool            `json:"enabled"`
		Params     json.RawMessage `json:"params"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	switch req.Strategy {
	case db.StrategyDCA, db.StrategyGrid, db.StrategyScalper:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_STRATEGY",
			"error": "strategy must be DCA, GRID or SCALPER",
		})
		return
	}
	if _, _, err := market.SplitPair(req.Pair); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAIR",
			"error": "invalid trading pair",
		})
		return
	}
	if req.Investment <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_INVESTMENT",
			"error": "investment must be positive",
		})
		return
	}
	if req.Interval <= 0 {
		req.Interval = 60
	}
	params := string(req.Params)
	if _, err := bot.ParseParams(params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PARAMS",
			"error": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	userID := CurrentUserID(c)

	existing, err := db.GetBotByPairStrategy(ctx, s.Database.DB, userID, req.Pair, req.Strategy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{
			"code":  "BOT_EXISTS",
			"error": "a bot for this pair and strategy already exists",
		})
		return
	}

	if req.Enabled {
		if ok, err := s.hasInvestmentBalance(c, userID, req.Pair, req.Investment); err != nil || !ok {
			return
		}
	}

	now := time.Now().UTC()
	b := db.TradingBot{
		ID:         uuid.NewString(),
		UserID:     userID,
		Pair:       req.Pair,
		Strategy:   req.Strategy,
		Enabled:    req.Enabled,
		Investment: req.Investment,
		Interval:   req.Interval,
		Params:     params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.InsertBot(ctx, s.Database.DB, b); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, botView(b))
}

// updateBot changes a bot's config or toggles it.
func (s *Server) updateBot(c *gin.Context) {
	var req struct {
		Enabled    *bool            `json:"enabled"`
		Investment *float64         `json:"investment"`
		Interval   *int             `json:"interval"`
		Params     *json.RawMessage `json:"params"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	ctx := c.Request.Context()
	userID := CurrentUserID(c)
	b, err := db.GetBotByID(ctx, s.Database.DB, userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "BOT_NOT_FOUND",
				"error": "bot not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	if req.Investment != nil {
		if *req.Investment <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_INVESTMENT",
				"error": "investment must be positive",
			})
			return
		}
		b.Investment = *req.Investment
	}
	if req.Interval != nil && *req.Interval > 0 {
		b.Interval = *req.Interval
	}
	if req.Params != nil {
		params := string(*req.Params)
		if _, err := bot.ParseParams(params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_PARAMS",
				"error": err.Error(),
			})
			return
		}
		b.Params = params
	}
	if req.Enabled != nil {
		if *req.Enabled && !b.Enabled {
			if ok, err := s.hasInvestmentBalance(c, userID, b.Pair, b.Investment); err != nil || !ok {
				return
			}
		}
		b.Enabled = *req.Enabled
	}

	if err := db.UpdateBotConfig(ctx, s.Database.DB, *b); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, botView(*b))
}

// deleteBot removes a bot. Its trade history goes with it.
func (s *Server) deleteBot(c *gin.Context) {
	err := db.DeleteBot(c.Request.Context(), s.Database.DB, CurrentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "BOT_NOT_FOUND",
				"error": "bot not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// getBotTrades lists a bot's execution history.
func (s *Server) getBotTrades(c *gin.Context) {
	ctx := c.Request.Context()
	b, err := db.GetBotByID(ctx, s.Database.DB, CurrentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "BOT_NOT_FOUND",
				"error": "bot not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	trades, err := db.ListBotTrades(ctx, s.Database.DB, b.ID, parseLimit(c.Query("limit"), 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot": botView(*b), "trades": trades})
}

// hasInvestmentBalance checks the quote wallet covers one bot purchase.
// It writes the error response itself and reports whether to proceed.
func (s *Server) hasInvestmentBalance(c *gin.Context, userID, pair string, investment float64) (bool, error) {
	_, quoteCur, err := market.SplitPair(pair)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAIR",
			"error": "invalid trading pair",
		})
		return false, err
	}
	w, err := db.GetWallet(c.Request.Context(), s.Database.DB, userID, quoteCur)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return false, err
	}
	if w == nil || w.Balance < investment {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":  "INSUFFICIENT_BALANCE",
			"error": "balance does not cover the bot investment",
		})
		return false, nil
	}
	return true, nil
}
