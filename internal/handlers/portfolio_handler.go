package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stock-analytica/internal/services"
)

type PortfolioHandler struct {
	portfolioService *services.PortfolioService
}

func NewPortfolioHandler(portfolioService *services.PortfolioService) *PortfolioHandler {
	return &PortfolioHandler{portfolioService: portfolioService}
}

func (h *PortfolioHandler) GetPortfolio(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	holdings, err := h.portfolioService.Holdings(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, holdings)
}

func (h *PortfolioHandler) GetTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	txs, err := h.portfolioService.ListTransactions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}
