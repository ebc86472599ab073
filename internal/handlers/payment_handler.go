package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"stock-analytica/internal/services"
)

type PaymentHandler struct {
	tradeService *services.TradeService
}

func NewPaymentHandler(tradeService *services.TradeService) *PaymentHandler {
	return &PaymentHandler{tradeService: tradeService}
}

// TradeRequest is the body of both buy and sell.
type TradeRequest struct {
	StockID  string `json:"stockId" binding:"required"`
	Quantity int64  `json:"quantity" binding:"required,min=1"`
}

type tradeFunc func(ctx context.Context, userID, stockID primitive.ObjectID, quantity int64) (services.TradeResult, error)

func (h *PaymentHandler) BuyStock(c *gin.Context) {
	h.trade(c, h.tradeService.Buy, "Stock purchased successfully")
}

func (h *PaymentHandler) SellStock(c *gin.Context) {
	h.trade(c, h.tradeService.Sell, "Stock sold successfully")
}

func (h *PaymentHandler) trade(c *gin.Context, execute tradeFunc, message string) {
	// Get authenticated user ID from JWT
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stock ID or quantity"})
		return
	}
	stockID, err := objectID(req.StockID, "Stock not found")
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := execute(c.Request.Context(), userID, stockID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     message,
		"transaction": result.Transaction,
		"newBalance":  result.NewBalance,
	})
}
