package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"exchange-core/internal/settings"
	"exchange-core/pkg/db"
)

// getSettings returns platform settings with masked credentials.
func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.Settings.Masked())
}

// updateSettings applies a partial settings update. Switching to real
// trading is refused unless the exchange accepts the credentials.
func (s *Server) updateSettings(c *gin.Context) {
	var req struct {
		TradingMode       *string  `json:"trading_mode"`
		ExchangeAPIKey    *string  `json:"exchange_api_key"`
		ExchangeAPISecret *string  `json:"exchange_api_secret"`
		DepositFee        *float64 `json:"deposit_fee"`
		WithdrawalFee     *float64 `json:"withdrawal_fee"`
		TradingFee        *float64 `json:"trading_fee"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	_, err := s.Settings.Apply(c.Request.Context(), settings.Update{
		TradingMode:       req.TradingMode,
		ExchangeAPIKey:    req.ExchangeAPIKey,
		ExchangeAPISecret: req.ExchangeAPISecret,
		DepositFee:        req.DepositFee,
		WithdrawalFee:     req.WithdrawalFee,
		TradingFee:        req.TradingFee,
	})
	if err != nil {
		if errors.Is(err, settings.ErrLiveTradingUnavailable) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"code":  "LIVE_TRADING_UNAVAILABLE",
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_SETTINGS",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, s.Settings.Masked())
}

// testConnection probes the exchange with submitted or stored credentials.
func (s *Server) testConnection(c *gin.Context) {
	var req struct {
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	ctx := c.Request.Context()
	if err := s.Tester.Ping(ctx); err != nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "error": "exchange unreachable"})
		return
	}

	key, secret := req.APIKey, req.APISecret
	if key == "" || secret == "" {
		storedKey, storedSecret, err := s.Settings.Credentials()
		if err != nil || storedKey == "" || storedSecret == "" {
			c.JSON(http.StatusOK, gin.H{"connected": false, "error": "no credentials configured"})
			return
		}
		key, secret = storedKey, storedSecret
	}
	if err := s.Tester.Validate(ctx, key, secret); err != nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "error": "credentials rejected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

// getBotSummary reports fleet-wide bot figures.
func (s *Server) getBotSummary(c *gin.Context) {
	sum, err := db.GetBotSummary(c.Request.Context(), s.Database.DB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active_bots":  sum.ActiveBots,
		"total_bots":   sum.TotalBots,
		"total_trades": sum.TotalTrades,
		"total_profit": sum.TotalProfit,
		"total_fees":   sum.TotalFees,
	})
}

// executeBots triggers a scheduler pass outside the cron cadence.
func (s *Server) executeBots(c *gin.Context) {
	results, err := s.Scheduler.RunAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	executed := 0
	for _, r := range results {
		if r.Action == "BUY" || r.Action == "SELL" {
			executed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"executed": executed,
		"total":    len(results),
		"results":  results,
	})
}
