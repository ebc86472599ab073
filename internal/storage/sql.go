package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"stock-analytica/config"
	"stock-analytica/internal/models"
)

// ===== SQL adapters (sqlite, postgres) =====
//
// Ids are ObjectID hex strings so that they look the same on every driver.
// Money is stored as decimal text and times as unix nanoseconds.

const maxBalanceAttempts = 8

var schema = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		sector TEXT NOT NULL,
		current_price TEXT NOT NULL,
		price_change DOUBLE PRECISION NOT NULL,
		volume TEXT NOT NULL,
		pe DOUBLE PRECISION NOT NULL,
		market_cap TEXT NOT NULL,
		risk TEXT NOT NULL,
		last_updated BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stocks_sector ON stocks (sector)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		name TEXT NOT NULL,
		profile_type TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		stock_id TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		price_per_share TEXT NOT NULL,
		commission TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS watchlists (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		stock_id TEXT NOT NULL,
		notes TEXT NOT NULL,
		target_price TEXT,
		added_at BIGINT NOT NULL,
		UNIQUE (user_id, stock_id)
	)`,
}

type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQL opens a sqlite file or a postgres database and creates the tables
// that are missing.
func OpenSQL(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	var driverName string
	switch dialect {
	case config.DriverSQLite:
		driverName = "sqlite"
	case config.DriverPostgres:
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", dialect, err)
	}

	if dialect == config.DriverSQLite {
		// One writer at a time; a transaction holds the only connection.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL;",
			"PRAGMA synchronous = NORMAL;",
			"PRAGMA busy_timeout = 5000;",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Stocks() StockRepository             { return sqlStockRepo{s} }
func (s *SQLStore) Users() UserRepository               { return sqlUserRepo{s} }
func (s *SQLStore) Transactions() TransactionRepository { return sqlTransactionRepo{s} }
func (s *SQLStore) Watchlist() WatchlistRepository      { return sqlWatchlistRepo{s} }
func (s *SQLStore) Close(context.Context) error         { return s.db.Close() }

type sqlTxKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithinTransaction runs fn inside a database transaction. Nested calls join
// the outer transaction.
func (s *SQLStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqlTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, sqlTxKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(sqlTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn(ctx).ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn(ctx).QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn(ctx).QueryRowContext(ctx, s.rebind(query), args...)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")
	}
	return false
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func parseID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("corrupt id %q: %w", hex, err)
	}
	return id, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

/* ---- Stock repo ---- */

const stockColumns = `id, symbol, name, sector, current_price, price_change, volume, pe, market_cap, risk, last_updated`

func scanStock(row rowScanner) (models.Stock, error) {
	var (
		st      models.Stock
		id      string
		updated int64
	)
	if err := row.Scan(&id, &st.Symbol, &st.Name, &st.Sector, &st.CurrentPrice, &st.Change,
		&st.Volume, &st.PE, &st.MarketCap, &st.Risk, &updated); err != nil {
		return models.Stock{}, err
	}
	var err error
	if st.ID, err = parseID(id); err != nil {
		return models.Stock{}, err
	}
	st.LastUpdated = fromNanos(updated)
	return st, nil
}

func collectStocks(rows *sql.Rows) ([]models.Stock, error) {
	defer rows.Close()
	out := make([]models.Stock, 0)
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type sqlStockRepo struct{ s *SQLStore }

func (r sqlStockRepo) List(ctx context.Context, filter StockFilter) ([]models.Stock, error) {
	query := `SELECT ` + stockColumns + ` FROM stocks WHERE 1 = 1`
	var args []any
	if filter.Sector != "" {
		query += ` AND sector = ?`
		args = append(args, filter.Sector)
	}
	if filter.Search != "" {
		query += ` AND (LOWER(symbol) LIKE ? ESCAPE '\' OR LOWER(name) LIKE ? ESCAPE '\')`
		pattern := "%" + escapeLike(strings.ToLower(filter.Search)) + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY symbol`

	rows, err := r.s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectStocks(rows)
}

func (r sqlStockRepo) GetByID(ctx context.Context, id primitive.ObjectID) (models.Stock, error) {
	st, err := scanStock(r.s.queryRow(ctx, `SELECT `+stockColumns+` FROM stocks WHERE id = ?`, id.Hex()))
	if err != nil {
		return models.Stock{}, noRows(err)
	}
	return st, nil
}

func (r sqlStockRepo) GetMany(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Stock, error) {
	out := make(map[primitive.ObjectID]models.Stock, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.Hex()
	}
	rows, err := r.s.query(ctx, `SELECT `+stockColumns+` FROM stocks WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	stocks, err := collectStocks(rows)
	if err != nil {
		return nil, err
	}
	for _, st := range stocks {
		out[st.ID] = st
	}
	return out, nil
}

func (r sqlStockRepo) ReplaceAll(ctx context.Context, stocks []models.Stock) ([]models.Stock, error) {
	var fresh []models.Stock
	err := r.s.WithinTransaction(ctx, func(ctx context.Context) error {
		existing, err := r.List(ctx, StockFilter{})
		if err != nil {
			return err
		}
		fresh = reuseIDs(existing, stocks)
		if err := uniqueSymbols(fresh); err != nil {
			return err
		}
		if _, err := r.s.exec(ctx, `DELETE FROM stocks`); err != nil {
			return err
		}
		for _, st := range fresh {
			_, err := r.s.exec(ctx, `INSERT INTO stocks (`+stockColumns+`) VALUES (`+placeholders(11)+`)`,
				st.ID.Hex(), st.Symbol, st.Name, st.Sector, st.CurrentPrice, st.Change,
				st.Volume, st.PE, st.MarketCap, st.Risk, st.LastUpdated.UnixNano())
			if err != nil {
				if isUniqueViolation(err) {
					return ErrDuplicate
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

func (r sqlStockRepo) UpdatePrice(ctx context.Context, id primitive.ObjectID, price decimal.Decimal, change float64, at time.Time) error {
	res, err := r.s.exec(ctx, `UPDATE stocks SET current_price = ?, price_change = ?, last_updated = ? WHERE id = ?`,
		price, change, at.UnixNano(), id.Hex())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

/* ---- User repo ---- */

const userColumns = `id, email, password, name, profile_type, balance, created_at`

func scanUser(row rowScanner) (models.User, error) {
	var (
		u       models.User
		id      string
		created int64
	)
	if err := row.Scan(&id, &u.Email, &u.Password, &u.Name, &u.ProfileType, &u.Balance, &created); err != nil {
		return models.User{}, err
	}
	var err error
	if u.ID, err = parseID(id); err != nil {
		return models.User{}, err
	}
	u.CreatedAt = fromNanos(created)
	return u, nil
}

type sqlUserRepo struct{ s *SQLStore }

func (r sqlUserRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	_, err := r.s.exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES (`+placeholders(7)+`)`,
		user.ID.Hex(), user.Email, user.Password, user.Name, user.ProfileType, user.Balance, user.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r sqlUserRepo) GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	u, err := scanUser(r.s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.Hex()))
	if err != nil {
		return models.User{}, noRows(err)
	}
	return u, nil
}

func (r sqlUserRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	u, err := scanUser(r.s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		return models.User{}, noRows(err)
	}
	return u, nil
}

// AdjustBalance is a compare-and-swap on the stored text: the update only
// applies if nobody changed the balance since it was read.
func (r sqlUserRepo) AdjustBalance(ctx context.Context, id primitive.ObjectID, delta decimal.Decimal) (decimal.Decimal, error) {
	for attempt := 0; attempt < maxBalanceAttempts; attempt++ {
		var raw string
		if err := r.s.queryRow(ctx, `SELECT balance FROM users WHERE id = ?`, id.Hex()).Scan(&raw); err != nil {
			return decimal.Zero, noRows(err)
		}
		current, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt balance %q: %w", raw, err)
		}
		next := current.Add(delta)
		if next.IsNegative() {
			return decimal.Zero, ErrNegativeBalance
		}

		res, err := r.s.exec(ctx, `UPDATE users SET balance = ? WHERE id = ? AND balance = ?`, next.String(), id.Hex(), raw)
		if err != nil {
			return decimal.Zero, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return decimal.Zero, err
		} else if n == 1 {
			return next, nil
		}
	}
	return decimal.Zero, fmt.Errorf("balance of user %s kept changing, giving up", id.Hex())
}

/* ---- Transaction repo ---- */

const transactionColumns = `id, user_id, stock_id, type, quantity, price_per_share, commission, total_amount, payment_id, created_at`

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		tx                  models.Transaction
		id, userID, stockID string
		created             int64
	)
	if err := row.Scan(&id, &userID, &stockID, &tx.Type, &tx.Quantity, &tx.PricePerShare,
		&tx.Commission, &tx.TotalAmount, &tx.PaymentID, &created); err != nil {
		return models.Transaction{}, err
	}
	var err error
	if tx.ID, err = parseID(id); err != nil {
		return models.Transaction{}, err
	}
	if tx.UserID, err = parseID(userID); err != nil {
		return models.Transaction{}, err
	}
	if tx.StockID, err = parseID(stockID); err != nil {
		return models.Transaction{}, err
	}
	tx.CreatedAt = fromNanos(created)
	return tx, nil
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	out := make([]models.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type sqlTransactionRepo struct{ s *SQLStore }

func (r sqlTransactionRepo) Insert(ctx context.Context, tx *models.Transaction) error {
	if tx.ID.IsZero() {
		tx.ID = primitive.NewObjectID()
	}
	_, err := r.s.exec(ctx, `INSERT INTO transactions (`+transactionColumns+`) VALUES (`+placeholders(10)+`)`,
		tx.ID.Hex(), tx.UserID.Hex(), tx.StockID.Hex(), tx.Type, tx.Quantity, tx.PricePerShare,
		tx.Commission, tx.TotalAmount, tx.PaymentID, tx.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r sqlTransactionRepo) ListByUser(ctx context.Context, userID primitive.ObjectID, limit int) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{userID.Hex()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r sqlTransactionRepo) ListByUserAndStock(ctx context.Context, userID, stockID primitive.ObjectID) ([]models.Transaction, error) {
	rows, err := r.s.query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND stock_id = ?`,
		userID.Hex(), stockID.Hex())
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

/* ---- Watchlist repo ---- */

const watchlistColumns = `id, user_id, stock_id, notes, target_price, added_at`

func scanEntry(row rowScanner) (models.WatchlistEntry, error) {
	var (
		e                   models.WatchlistEntry
		id, userID, stockID string
		added               int64
	)
	if err := row.Scan(&id, &userID, &stockID, &e.Notes, &e.TargetPrice, &added); err != nil {
		return models.WatchlistEntry{}, err
	}
	var err error
	if e.ID, err = parseID(id); err != nil {
		return models.WatchlistEntry{}, err
	}
	if e.UserID, err = parseID(userID); err != nil {
		return models.WatchlistEntry{}, err
	}
	if e.StockID, err = parseID(stockID); err != nil {
		return models.WatchlistEntry{}, err
	}
	e.AddedAt = fromNanos(added)
	return e, nil
}

type sqlWatchlistRepo struct{ s *SQLStore }

func (r sqlWatchlistRepo) Insert(ctx context.Context, entry *models.WatchlistEntry) error {
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	_, err := r.s.exec(ctx, `INSERT INTO watchlists (`+watchlistColumns+`) VALUES (`+placeholders(6)+`)`,
		entry.ID.Hex(), entry.UserID.Hex(), entry.StockID.Hex(), entry.Notes, entry.TargetPrice, entry.AddedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r sqlWatchlistRepo) Get(ctx context.Context, userID, stockID primitive.ObjectID) (models.WatchlistEntry, error) {
	e, err := scanEntry(r.s.queryRow(ctx, `SELECT `+watchlistColumns+` FROM watchlists WHERE user_id = ? AND stock_id = ?`,
		userID.Hex(), stockID.Hex()))
	if err != nil {
		return models.WatchlistEntry{}, noRows(err)
	}
	return e, nil
}

func (r sqlWatchlistRepo) Update(ctx context.Context, userID, stockID primitive.ObjectID, patch models.WatchlistPatch) (models.WatchlistEntry, error) {
	var updated models.WatchlistEntry
	err := r.s.WithinTransaction(ctx, func(ctx context.Context) error {
		e, err := r.Get(ctx, userID, stockID)
		if err != nil {
			return err
		}
		applyPatch(&e, patch)
		if _, err := r.s.exec(ctx, `UPDATE watchlists SET notes = ?, target_price = ? WHERE id = ?`,
			e.Notes, e.TargetPrice, e.ID.Hex()); err != nil {
			return err
		}
		updated = e
		return nil
	})
	return updated, err
}

func (r sqlWatchlistRepo) Delete(ctx context.Context, userID, stockID primitive.ObjectID) error {
	res, err := r.s.exec(ctx, `DELETE FROM watchlists WHERE user_id = ? AND stock_id = ?`, userID.Hex(), stockID.Hex())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r sqlWatchlistRepo) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.WatchlistEntry, error) {
	rows, err := r.s.query(ctx, `SELECT `+watchlistColumns+` FROM watchlists WHERE user_id = ? ORDER BY added_at DESC, id DESC`,
		userID.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.WatchlistEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
