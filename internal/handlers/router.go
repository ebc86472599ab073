package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stock-analytica/internal/logger"
	"stock-analytica/internal/services"
)

const Version = "1.0.0"

// Deps are the services the router exposes.
type Deps struct {
	Name        string
	AdminToken  string
	Keys        PasswordKeys
	Auth        *services.AuthService
	Catalog     *services.CatalogService
	Trades      *services.TradeService
	Portfolio   *services.PortfolioService
	Watchlist   *services.WatchlistService
	Predictions *services.PredictionService
	Hub         *services.WebSocketHub
}

var endpoints = []string{
	"GET /health",
	"GET /ws",
	"GET /api/health",
	"GET /api/auth/public-key",
	"POST /api/auth/register",
	"POST /api/auth/login",
	"GET /api/auth/me",
	"GET /api/stocks",
	"GET /api/stocks/:id",
	"GET /api/stocks/:id/prediction",
	"POST /api/stocks/seed",
	"POST /api/payment/buy",
	"POST /api/payment/sell",
	"GET /api/portfolio",
	"GET /api/portfolio/transactions",
	"GET /api/watchlist",
	"POST /api/watchlist/add",
	"DELETE /api/watchlist/remove/:stockId",
	"PUT /api/watchlist/update/:stockId",
	"GET /api/watchlist/check/:stockId",
}

// NewRouter builds the HTTP API. gin runs in release mode unless debug
// logging is on.
func NewRouter(d Deps) *gin.Engine {
	if logger.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(requestLogger(), gin.Recovery(), cors())

	authHandler := NewAuthHandler(d.Auth, d.Keys)
	stockHandler := NewStockHandler(d.Catalog, d.Predictions, d.AdminToken)
	paymentHandler := NewPaymentHandler(d.Trades)
	portfolioHandler := NewPortfolioHandler(d.Portfolio)
	watchlistHandler := NewWatchlistHandler(d.Watchlist)
	wsHandler := NewWebSocketHandler(d.Hub)

	authMiddleware := authHandler.AuthMiddleware()

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "OK",
			"message":   d.Name + " API",
			"version":   Version,
			"endpoints": endpoints,
		})
	})

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "OK",
			"message": d.Name + " API is running",
			"clients": d.Hub.Clients(),
		})
	}
	router.GET("/health", health)
	router.GET("/ws", wsHandler.Serve)

	api := router.Group("/api")
	api.GET("/health", health)

	auth := api.Group("/auth")
	auth.GET("/public-key", authHandler.PublicKey)
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.GET("/me", authMiddleware, authHandler.GetCurrentUser)

	stocks := api.Group("/stocks")
	stocks.GET("", stockHandler.ListStocks)
	stocks.POST("/seed", stockHandler.Seed)
	stocks.GET("/:id", stockHandler.GetStock)
	stocks.GET("/:id/prediction", stockHandler.GetPrediction)

	payment := api.Group("/payment", authMiddleware)
	payment.POST("/buy", paymentHandler.BuyStock)
	payment.POST("/sell", paymentHandler.SellStock)

	portfolio := api.Group("/portfolio", authMiddleware)
	portfolio.GET("", portfolioHandler.GetPortfolio)
	portfolio.GET("/transactions", portfolioHandler.GetTransactions)

	watchlist := api.Group("/watchlist", authMiddleware)
	watchlist.GET("", watchlistHandler.GetWatchlist)
	watchlist.POST("/add", watchlistHandler.AddToWatchlist)
	watchlist.DELETE("/remove/:stockId", watchlistHandler.RemoveFromWatchlist)
	watchlist.PUT("/update/:stockId", watchlistHandler.UpdateWatchlistItem)
	watchlist.GET("/check/:stockId", watchlistHandler.CheckWatchlist)

	return router
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"latency": time.Since(start).String(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("%s %s", c.Request.Method, c.Request.URL.Path)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/api/health":
			entry.Debug("%s %s", c.Request.Method, c.Request.URL.Path)
		default:
			entry.Info("%s %s", c.Request.Method, c.Request.URL.Path)
		}
	}
}
