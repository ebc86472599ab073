package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"stock-analytica/internal/apperr"
	"stock-analytica/internal/logger"
	"stock-analytica/internal/models"
	"stock-analytica/internal/storage"
)

type WatchlistService struct {
	store storage.Store
	now   func() time.Time
	log   *logger.Logger
}

func NewWatchlistService(store storage.Store) *WatchlistService {
	return &WatchlistService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.New("watchlist"),
	}
}

func notInWatchlist() error {
	return apperr.NotFoundf("Stock not found in watchlist")
}

// Add puts a stock on the account's watchlist. A second add of the same
// stock is a Duplicate error, also when two adds race.
func (s *WatchlistService) Add(ctx context.Context, userID, stockID primitive.ObjectID, notes string, target decimal.NullDecimal) (models.WatchlistEntry, error) {
	stock, err := s.store.Stocks().GetByID(ctx, stockID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.WatchlistEntry{}, apperr.NotFoundf("Stock not found")
	}
	if err != nil {
		return models.WatchlistEntry{}, apperr.Internalf(err, "load stock %s", stockID.Hex())
	}

	entry := models.WatchlistEntry{
		UserID:      userID,
		StockID:     stockID,
		Notes:       notes,
		TargetPrice: target,
		AddedAt:     s.now(),
	}
	if err := s.store.Watchlist().Insert(ctx, &entry); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return models.WatchlistEntry{}, apperr.New(apperr.Duplicate, "Stock already in watchlist")
		}
		return models.WatchlistEntry{}, apperr.Internalf(err, "insert watchlist entry")
	}
	entry.Stock = &stock

	s.log.Debug("Stock added to watchlist: %s", stock.Symbol)
	return entry, nil
}

func (s *WatchlistService) Remove(ctx context.Context, userID, stockID primitive.ObjectID) error {
	err := s.store.Watchlist().Delete(ctx, userID, stockID)
	if errors.Is(err, storage.ErrNotFound) {
		return notInWatchlist()
	}
	if err != nil {
		return apperr.Internalf(err, "delete watchlist entry")
	}
	return nil
}

// Update changes only the fields set in patch.
func (s *WatchlistService) Update(ctx context.Context, userID, stockID primitive.ObjectID, patch models.WatchlistPatch) (models.WatchlistEntry, error) {
	entry, err := s.store.Watchlist().Update(ctx, userID, stockID, patch)
	if errors.Is(err, storage.ErrNotFound) {
		return models.WatchlistEntry{}, notInWatchlist()
	}
	if err != nil {
		return models.WatchlistEntry{}, apperr.Internalf(err, "update watchlist entry")
	}

	stock, err := s.store.Stocks().GetByID(ctx, stockID)
	switch {
	case err == nil:
		entry.Stock = &stock
	case errors.Is(err, storage.ErrNotFound):
		s.log.Warning("Watchlist entry %s references missing stock %s", entry.ID.Hex(), stockID.Hex())
	default:
		return models.WatchlistEntry{}, apperr.Internalf(err, "load stock %s", stockID.Hex())
	}
	return entry, nil
}

// Check never fails: a store error is logged and reported as false.
func (s *WatchlistService) Check(ctx context.Context, userID, stockID primitive.ObjectID) bool {
	_, err := s.store.Watchlist().Get(ctx, userID, stockID)
	if err == nil {
		return true
	}
	if !errors.Is(err, storage.ErrNotFound) {
		s.log.Error("Error checking watchlist: %v", err)
	}
	return false
}

// List returns the newest entries first, each with its stock.
func (s *WatchlistService) List(ctx context.Context, userID primitive.ObjectID) ([]models.WatchlistEntry, error) {
	entries, err := s.store.Watchlist().ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internalf(err, "load watchlist")
	}
	ids := make([]primitive.ObjectID, len(entries))
	for i, e := range entries {
		ids[i] = e.StockID
	}
	stocks, err := s.store.Stocks().GetMany(ctx, ids)
	if err != nil {
		return nil, apperr.Internalf(err, "load stocks")
	}

	out := make([]models.WatchlistEntry, 0, len(entries))
	for _, e := range entries {
		st, ok := stocks[e.StockID]
		if !ok {
			s.log.Warning("Watchlist entry %s references missing stock %s", e.ID.Hex(), e.StockID.Hex())
			continue
		}
		e.Stock = &st
		out = append(out, e)
	}
	return out, nil
}
