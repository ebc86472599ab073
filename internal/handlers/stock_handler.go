package handlers

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stock-analytica/internal/services"
)

type StockHandler struct {
	catalog     *services.CatalogService
	predictions *services.PredictionService
	adminToken  string
}

// NewStockHandler serves the catalog. An empty adminToken disables reseeding
// over HTTP.
func NewStockHandler(catalog *services.CatalogService, predictions *services.PredictionService, adminToken string) *StockHandler {
	return &StockHandler{catalog: catalog, predictions: predictions, adminToken: adminToken}
}

type ListStocksQuery struct {
	Sector string `form:"sector"`
	Search string `form:"search"`
}

type PredictionQuery struct {
	Days *int `form:"days"`
}

func (h *StockHandler) ListStocks(c *gin.Context) {
	var q ListStocksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	stocks, err := h.catalog.List(c.Request.Context(), q.Sector, q.Search)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stocks)
}

func (h *StockHandler) GetStock(c *gin.Context) {
	id, err := objectID(c.Param("id"), "Stock not found")
	if err != nil {
		respondError(c, err)
		return
	}

	stock, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

// Seed replaces the catalog with the built-in one. It needs X-Admin-Token.
func (h *StockHandler) Seed(c *gin.Context) {
	if h.adminToken == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Seeding is disabled"})
		return
	}
	given := c.GetHeader("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.adminToken)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin token"})
		return
	}

	count, err := h.catalog.Seed(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Database seeded successfully",
		"count":   count,
	})
}

// GetPrediction relays the forecast service's answer, status included.
func (h *StockHandler) GetPrediction(c *gin.Context) {
	id, err := objectID(c.Param("id"), "Stock not found")
	if err != nil {
		respondError(c, err)
		return
	}

	var q PredictionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a whole number"})
		return
	}
	days := services.DefaultPredictionDays
	if q.Days != nil {
		days = *q.Days
	}

	prediction, err := h.predictions.Predict(c.Request.Context(), id, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("X-Prediction-Days", strconv.Itoa(days))
	c.Data(prediction.Status, prediction.ContentType, prediction.Body)
}
