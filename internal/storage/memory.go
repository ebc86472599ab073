package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"stock-analytica/internal/models"
)

// ===== In-memory adapters =====

type watchKey struct {
	user, stock primitive.ObjectID
}

// MemoryStore keeps everything in maps guarded by one RWMutex. Units run by
// WithinTransaction are made atomic by compensation.
type MemoryStore struct {
	mu           sync.RWMutex
	stocks       map[primitive.ObjectID]models.Stock
	users        map[primitive.ObjectID]models.User
	emails       map[string]primitive.ObjectID
	transactions map[primitive.ObjectID]models.Transaction
	watchlist    map[watchKey]models.WatchlistEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks:       make(map[primitive.ObjectID]models.Stock),
		users:        make(map[primitive.ObjectID]models.User),
		emails:       make(map[string]primitive.ObjectID),
		transactions: make(map[primitive.ObjectID]models.Transaction),
		watchlist:    make(map[watchKey]models.WatchlistEntry),
	}
}

func (s *MemoryStore) Stocks() StockRepository             { return memoryStockRepo{s} }
func (s *MemoryStore) Users() UserRepository               { return memoryUserRepo{s} }
func (s *MemoryStore) Transactions() TransactionRepository { return memoryTransactionRepo{s} }
func (s *MemoryStore) Watchlist() WatchlistRepository      { return memoryWatchlistRepo{s} }
func (s *MemoryStore) Close(context.Context) error         { return nil }

func (s *MemoryStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return runCompensated(ctx, fn)
}

/* ---- Stock repo ---- */

type memoryStockRepo struct{ s *MemoryStore }

func (r memoryStockRepo) List(_ context.Context, filter StockFilter) ([]models.Stock, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	search := strings.ToLower(filter.Search)
	out := make([]models.Stock, 0, len(r.s.stocks))
	for _, st := range r.s.stocks {
		if filter.Sector != "" && st.Sector != filter.Sector {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(st.Symbol), search) &&
			!strings.Contains(strings.ToLower(st.Name), search) {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (r memoryStockRepo) GetByID(_ context.Context, id primitive.ObjectID) (models.Stock, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.stocks[id]
	if !ok {
		return models.Stock{}, ErrNotFound
	}
	return st, nil
}

func (r memoryStockRepo) GetMany(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Stock, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[primitive.ObjectID]models.Stock, len(ids))
	for _, id := range ids {
		if st, ok := r.s.stocks[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

func (r memoryStockRepo) ReplaceAll(_ context.Context, stocks []models.Stock) ([]models.Stock, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing := make([]models.Stock, 0, len(r.s.stocks))
	for _, st := range r.s.stocks {
		existing = append(existing, st)
	}
	fresh := reuseIDs(existing, stocks)
	if err := uniqueSymbols(fresh); err != nil {
		return nil, err
	}
	r.s.stocks = make(map[primitive.ObjectID]models.Stock, len(fresh))
	for _, st := range fresh {
		r.s.stocks[st.ID] = st
	}
	return fresh, nil
}

func (r memoryStockRepo) UpdatePrice(_ context.Context, id primitive.ObjectID, price decimal.Decimal, change float64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.stocks[id]
	if !ok {
		return ErrNotFound
	}
	st.CurrentPrice = price
	st.Change = change
	st.LastUpdated = at
	r.s.stocks[id] = st
	return nil
}

/* ---- User repo ---- */

type memoryUserRepo struct{ s *MemoryStore }

func (r memoryUserRepo) Create(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.emails[user.Email]; taken {
		return ErrDuplicate
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	r.s.users[user.ID] = *user
	r.s.emails[user.Email] = user.ID
	return nil
}

func (r memoryUserRepo) GetByID(_ context.Context, id primitive.ObjectID) (models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (r memoryUserRepo) GetByEmail(_ context.Context, email string) (models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.emails[email]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return r.s.users[id], nil
}

func (r memoryUserRepo) AdjustBalance(ctx context.Context, id primitive.ObjectID, delta decimal.Decimal) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return u.Balance, ErrNegativeBalance
	}
	u.Balance = next
	r.s.users[id] = u

	recordUndo(ctx, func(context.Context) error {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		u := r.s.users[id]
		u.Balance = u.Balance.Sub(delta)
		r.s.users[id] = u
		return nil
	})
	return next, nil
}

/* ---- Transaction repo ---- */

type memoryTransactionRepo struct{ s *MemoryStore }

func (r memoryTransactionRepo) Insert(ctx context.Context, tx *models.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if tx.ID.IsZero() {
		tx.ID = primitive.NewObjectID()
	}
	if _, exists := r.s.transactions[tx.ID]; exists {
		return ErrDuplicate
	}
	stored := *tx
	stored.Stock = nil
	r.s.transactions[tx.ID] = stored

	id := tx.ID
	recordUndo(ctx, func(context.Context) error {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		delete(r.s.transactions, id)
		return nil
	})
	return nil
}

func (r memoryTransactionRepo) ListByUser(_ context.Context, userID primitive.ObjectID, limit int) ([]models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.Transaction, 0)
	for _, tx := range r.s.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return txNewer(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryTransactionRepo) ListByUserAndStock(_ context.Context, userID, stockID primitive.ObjectID) ([]models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.Transaction, 0)
	for _, tx := range r.s.transactions {
		if tx.UserID == userID && tx.StockID == stockID {
			out = append(out, tx)
		}
	}
	return out, nil
}

/* ---- Watchlist repo ---- */

type memoryWatchlistRepo struct{ s *MemoryStore }

func (r memoryWatchlistRepo) Insert(_ context.Context, entry *models.WatchlistEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := watchKey{entry.UserID, entry.StockID}
	if _, exists := r.s.watchlist[key]; exists {
		return ErrDuplicate
	}
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	stored := *entry
	stored.Stock = nil
	r.s.watchlist[key] = stored
	return nil
}

func (r memoryWatchlistRepo) Get(_ context.Context, userID, stockID primitive.ObjectID) (models.WatchlistEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.watchlist[watchKey{userID, stockID}]
	if !ok {
		return models.WatchlistEntry{}, ErrNotFound
	}
	return e, nil
}

func (r memoryWatchlistRepo) Update(_ context.Context, userID, stockID primitive.ObjectID, patch models.WatchlistPatch) (models.WatchlistEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := watchKey{userID, stockID}
	e, ok := r.s.watchlist[key]
	if !ok {
		return models.WatchlistEntry{}, ErrNotFound
	}
	applyPatch(&e, patch)
	r.s.watchlist[key] = e
	return e, nil
}

func (r memoryWatchlistRepo) Delete(_ context.Context, userID, stockID primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := watchKey{userID, stockID}
	if _, ok := r.s.watchlist[key]; !ok {
		return ErrNotFound
	}
	delete(r.s.watchlist, key)
	return nil
}

func (r memoryWatchlistRepo) ListByUser(_ context.Context, userID primitive.ObjectID) ([]models.WatchlistEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.WatchlistEntry, 0)
	for key, e := range r.s.watchlist {
		if key.user == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return entryNewer(out[i], out[j]) })
	return out, nil
}
