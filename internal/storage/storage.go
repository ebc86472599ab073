// Package storage holds the persistence ports of the service and their
// adapters: MongoDB (the production document store), SQL (sqlite and
// postgres) and an in-memory store used by tests and demos.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"stock-analytica/internal/models"
)

// Common errors
var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrNegativeBalance is returned by AdjustBalance when the debit would take
	// the balance below zero. Nothing is written in that case.
	ErrNegativeBalance = errors.New("storage: balance would become negative")
)

// ===== Ports (interfaces) =====

type StockFilter struct {
	Sector string // exact match, empty for any
	Search string // case-insensitive substring of symbol or name
}

type StockRepository interface {
	List(ctx context.Context, filter StockFilter) ([]models.Stock, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Stock, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Stock, error)
	// ReplaceAll clears the catalog and inserts stocks. A symbol that existed
	// before keeps its id so ledger and watchlist references stay valid.
	ReplaceAll(ctx context.Context, stocks []models.Stock) ([]models.Stock, error)
	UpdatePrice(ctx context.Context, id primitive.ObjectID, price decimal.Decimal, change float64, at time.Time) error
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	// AdjustBalance atomically adds delta to the balance and returns the new
	// balance, or ErrNegativeBalance if the result would be below zero.
	AdjustBalance(ctx context.Context, id primitive.ObjectID, delta decimal.Decimal) (decimal.Decimal, error)
}

type TransactionRepository interface {
	Insert(ctx context.Context, tx *models.Transaction) error
	// ListByUser returns newest first; limit <= 0 means no limit.
	ListByUser(ctx context.Context, userID primitive.ObjectID, limit int) ([]models.Transaction, error)
	ListByUserAndStock(ctx context.Context, userID, stockID primitive.ObjectID) ([]models.Transaction, error)
}

type WatchlistRepository interface {
	Insert(ctx context.Context, entry *models.WatchlistEntry) error
	Get(ctx context.Context, userID, stockID primitive.ObjectID) (models.WatchlistEntry, error)
	Update(ctx context.Context, userID, stockID primitive.ObjectID, patch models.WatchlistPatch) (models.WatchlistEntry, error)
	Delete(ctx context.Context, userID, stockID primitive.ObjectID) error
	// ListByUser returns the most recently added entries first.
	ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.WatchlistEntry, error)
}

type Store interface {
	Stocks() StockRepository
	Users() UserRepository
	Transactions() TransactionRepository
	Watchlist() WatchlistRepository

	// WithinTransaction runs fn so that the writes it makes through the
	// repositories, using the ctx it receives, are applied together or not at
	// all.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	Close(ctx context.Context) error
}

/* ======================== small helpers ======================== */

// txNewer orders transactions newest first, breaking ties on id so the
// order is stable across stores.
func txNewer(a, b models.Transaction) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.Hex() > b.ID.Hex()
}

func entryNewer(a, b models.WatchlistEntry) bool {
	if !a.AddedAt.Equal(b.AddedAt) {
		return a.AddedAt.After(b.AddedAt)
	}
	return a.ID.Hex() > b.ID.Hex()
}

// applyPatch applies the set fields of patch to entry.
func applyPatch(entry *models.WatchlistEntry, patch models.WatchlistPatch) {
	if patch.Notes != nil {
		entry.Notes = *patch.Notes
	}
	if patch.TargetPrice != nil {
		entry.TargetPrice = *patch.TargetPrice
	}
}

// reuseIDs gives each incoming stock the id of the existing stock with the
// same symbol, or a fresh id.
func reuseIDs(existing []models.Stock, incoming []models.Stock) []models.Stock {
	bySymbol := make(map[string]primitive.ObjectID, len(existing))
	for _, s := range existing {
		bySymbol[s.Symbol] = s.ID
	}
	out := make([]models.Stock, len(incoming))
	for i, s := range incoming {
		s.Normalize()
		if id, ok := bySymbol[s.Symbol]; ok {
			s.ID = id
		} else if s.ID.IsZero() {
			s.ID = primitive.NewObjectID()
		}
		out[i] = s
	}
	return out
}

func uniqueSymbols(stocks []models.Stock) error {
	seen := make(map[string]bool, len(stocks))
	for _, st := range stocks {
		if seen[st.Symbol] {
			return ErrDuplicate
		}
		seen[st.Symbol] = true
	}
	return nil
}
