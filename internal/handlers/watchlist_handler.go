package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stock-analytica/internal/apperr"
	"stock-analytica/internal/models"
	"stock-analytica/internal/services"
)

const notWatched = "Stock not found in watchlist"

type WatchlistHandler struct {
	watchlistService *services.WatchlistService
}

func NewWatchlistHandler(watchlistService *services.WatchlistService) *WatchlistHandler {
	return &WatchlistHandler{watchlistService: watchlistService}
}

type AddWatchlistRequest struct {
	StockID     string          `json:"stockId" binding:"required"`
	Notes       string          `json:"notes"`
	TargetPrice json.RawMessage `json:"targetPrice"`
}

// UpdateWatchlistRequest leaves absent fields unchanged. targetPrice null
// clears the target.
type UpdateWatchlistRequest struct {
	Notes       *string         `json:"notes"`
	TargetPrice json.RawMessage `json:"targetPrice"`
}

func (r UpdateWatchlistRequest) patch() (models.WatchlistPatch, error) {
	p := models.WatchlistPatch{Notes: r.Notes}
	if len(r.TargetPrice) > 0 {
		target, err := parseTarget(r.TargetPrice)
		if err != nil {
			return p, err
		}
		p.TargetPrice = &target
	}
	return p, nil
}

// parseTarget reads a target price. Absent, null and 0 all mean no target.
func parseTarget(raw json.RawMessage) (decimal.NullDecimal, error) {
	var target decimal.NullDecimal
	if len(raw) == 0 {
		return target, nil
	}
	if err := target.UnmarshalJSON(raw); err != nil {
		return target, apperr.New(apperr.Validation, "Target price must be a number")
	}
	if !target.Valid || target.Decimal.IsZero() {
		return decimal.NullDecimal{}, nil
	}
	if target.Decimal.IsNegative() {
		return target, apperr.New(apperr.Validation, "Target price must be positive")
	}
	return target, nil
}

func (h *WatchlistHandler) GetWatchlist(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	entries, err := h.watchlistService.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *WatchlistHandler) AddToWatchlist(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req AddWatchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err, "Stock ID is required")})
		return
	}
	target, err := parseTarget(req.TargetPrice)
	if err != nil {
		respondError(c, err)
		return
	}
	stockID, err := objectID(req.StockID, "Stock not found")
	if err != nil {
		respondError(c, err)
		return
	}

	entry, err := h.watchlistService.Add(c.Request.Context(), userID, stockID, req.Notes, target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *WatchlistHandler) RemoveFromWatchlist(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	stockID, err := objectID(c.Param("stockId"), notWatched)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.watchlistService.Remove(c.Request.Context(), userID, stockID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Stock removed from watchlist"})
}

func (h *WatchlistHandler) UpdateWatchlistItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	stockID, err := objectID(c.Param("stockId"), notWatched)
	if err != nil {
		respondError(c, err)
		return
	}

	var req UpdateWatchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err, "Invalid request")})
		return
	}
	patch, err := req.patch()
	if err != nil {
		respondError(c, err)
		return
	}

	entry, err := h.watchlistService.Update(c.Request.Context(), userID, stockID, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// CheckWatchlist answers whether the stock is watched. It never fails.
func (h *WatchlistHandler) CheckWatchlist(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	stockID, err := objectID(c.Param("stockId"), notWatched)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"inWatchlist": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inWatchlist": h.watchlistService.Check(c.Request.Context(), userID, stockID)})
}
