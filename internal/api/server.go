// Package api exposes the HTTP surface of the exchange core: auth, wallets,
// trading, bots, admin settings and the payment gateway webhook.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"exchange-core/internal/bot"
	"exchange-core/internal/events"
	"exchange-core/internal/market"
	"exchange-core/internal/reconcile"
	"exchange-core/internal/settings"
	"exchange-core/internal/settlement"
	"exchange-core/pkg/db"
)

// ConnectionTester probes the exchange with arbitrary credentials for the
// admin test-connection endpoint.
type ConnectionTester interface {
	Validate(ctx context.Context, apiKey, apiSecret string) error
	Ping(ctx context.Context) error
}

// Server wires HTTP endpoints around the core services.
type Server struct {
	Router      *gin.Engine
	Database    *db.Database
	Bus         *events.Bus
	Engine      *settlement.Engine
	Reconciler  *reconcile.Service
	Scheduler   *bot.Scheduler
	Settings    *settings.Service
	Quotes      market.Provider
	Tester      ConnectionTester
	JWTSecret   string
	AdminEmails []string
}

// Deps carries the services the server needs.
type Deps struct {
	Database    *db.Database
	Bus         *events.Bus
	Engine      *settlement.Engine
	Reconciler  *reconcile.Service
	Scheduler   *bot.Scheduler
	Settings    *settings.Service
	Quotes      market.Provider
	Tester      ConnectionTester
	JWTSecret   string
	AdminEmails []string
}

// NewServer builds the router with the full middleware stack.
func NewServer(d Deps) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:      r,
		Database:    d.Database,
		Bus:         d.Bus,
		Engine:      d.Engine,
		Reconciler:  d.Reconciler,
		Scheduler:   d.Scheduler,
		Settings:    d.Settings,
		Quotes:      d.Quotes,
		Tester:      d.Tester,
		JWTSecret:   d.JWTSecret,
		AdminEmails: d.AdminEmails,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	s.Router.POST("/webhooks/payments", s.paymentWebhook)

	api := s.Router.Group("/api")
	{
		api.GET("/market/prices", s.getPrices)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/wallets", s.getWallets)
			protected.POST("/wallets/deposit", s.createDeposit)
			protected.POST("/wallets/withdraw", s.createWithdrawal)
			protected.GET("/transactions", s.getTransactions)

			protected.POST("/trades", s.placeTrade)
			protected.GET("/trades", s.getTrades)

			protected.GET("/bots", s.listBots)
			protected.POST("/bots", s.createBot)
			protected.PATCH("/bots/:id", s.updateBot)
			protected.DELETE("/bots/:id", s.deleteBot)
			protected.GET("/bots/:id/trades", s.getBotTrades)

			// Admin API
			admin := protected.Group("/admin")
			admin.Use(s.RequireAdmin())
			{
				admin.GET("/settings", s.getSettings)
				admin.PATCH("/settings", s.updateSettings)
				admin.POST("/settings/test-connection", s.testConnection)
				admin.GET("/bots/summary", s.getBotSummary)
				admin.POST("/bots/execute", s.executeBots)
			}
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server; it blocks until the listener stops.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
