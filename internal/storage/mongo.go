package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stock-analytica/config"
	"stock-analytica/internal/models"
)

// ===== MongoDB adapters =====

const (
	collStocks       = "stocks"
	collUsers        = "users"
	collTransactions = "transactions"
	collWatchlists   = "watchlists"
)

type MongoStore struct {
	client          *mongo.Client
	db              *mongo.Database
	useTransactions bool
}

// OpenMongo connects with the decimal-aware registry and makes sure the
// indexes exist.
func OpenMongo(ctx context.Context, uri, database string, useTransactions bool) (*MongoStore, error) {
	client, err := config.ConnectDB(ctx, uri, NewRegistry())
	if err != nil {
		return nil, err
	}
	s := NewMongoStore(client, database, useTransactions)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = config.DisconnectDB(client)
		return nil, err
	}
	return s, nil
}

// NewMongoStore wraps an already connected client. The client must have been
// created with NewRegistry.
func NewMongoStore(client *mongo.Client, database string, useTransactions bool) *MongoStore {
	return &MongoStore{
		client:          client,
		db:              client.Database(database),
		useTransactions: useTransactions,
	}
}

func (s *MongoStore) Stocks() StockRepository {
	return mongoStockRepo{s.db.Collection(collStocks)}
}

func (s *MongoStore) Users() UserRepository {
	return mongoUserRepo{s.db.Collection(collUsers)}
}

func (s *MongoStore) Transactions() TransactionRepository {
	return mongoTransactionRepo{s.db.Collection(collTransactions)}
}

func (s *MongoStore) Watchlist() WatchlistRepository {
	return mongoWatchlistRepo{s.db.Collection(collWatchlists)}
}

func (s *MongoStore) Close(context.Context) error {
	return config.DisconnectDB(s.client)
}

// EnsureIndexes creates the unique and listing indexes. It is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		collStocks: {
			{Keys: bson.D{{Key: "symbol", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "sector", Value: 1}}},
		},
		collUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collTransactions: {
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "stock", Value: 1}}},
		},
		collWatchlists: {
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "stock", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for coll, idx := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// WithinTransaction uses a multi-document transaction when the deployment
// supports it (replica set) and compensating writes otherwise.
func (s *MongoStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.useTransactions {
		return runCompensated(ctx, fn)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func decodeAll[T any](ctx context.Context, cur *mongo.Cursor) ([]T, error) {
	out := make([]T, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

/* ---- Stock repo ---- */

type mongoStockRepo struct{ c *mongo.Collection }

func (r mongoStockRepo) List(ctx context.Context, filter StockFilter) ([]models.Stock, error) {
	q := bson.M{}
	if filter.Sector != "" {
		q["sector"] = filter.Sector
	}
	if filter.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
		q["$or"] = bson.A{
			bson.M{"symbol": pattern},
			bson.M{"name": pattern},
		}
	}
	cur, err := r.c.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "symbol", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Stock](ctx, cur)
}

func (r mongoStockRepo) GetByID(ctx context.Context, id primitive.ObjectID) (models.Stock, error) {
	var st models.Stock
	if err := r.c.FindOne(ctx, bson.M{"_id": id}).Decode(&st); err != nil {
		return models.Stock{}, notFound(err)
	}
	return st, nil
}

func (r mongoStockRepo) GetMany(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Stock, error) {
	out := make(map[primitive.ObjectID]models.Stock, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := r.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	stocks, err := decodeAll[models.Stock](ctx, cur)
	if err != nil {
		return nil, err
	}
	for _, st := range stocks {
		out[st.ID] = st
	}
	return out, nil
}

func (r mongoStockRepo) ReplaceAll(ctx context.Context, stocks []models.Stock) ([]models.Stock, error) {
	cur, err := r.c.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"symbol": 1}))
	if err != nil {
		return nil, err
	}
	existing, err := decodeAll[models.Stock](ctx, cur)
	if err != nil {
		return nil, err
	}
	fresh := reuseIDs(existing, stocks)
	if err := uniqueSymbols(fresh); err != nil {
		return nil, err
	}

	if _, err := r.c.DeleteMany(ctx, bson.M{}); err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		return fresh, nil
	}
	docs := make([]interface{}, len(fresh))
	for i := range fresh {
		docs[i] = fresh[i]
	}
	if _, err := r.c.InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return fresh, nil
}

func (r mongoStockRepo) UpdatePrice(ctx context.Context, id primitive.ObjectID, price decimal.Decimal, change float64, at time.Time) error {
	res, err := r.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"currentPrice": price,
		"change":       change,
		"lastUpdated":  at,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

/* ---- User repo ---- */

type mongoUserRepo struct{ c *mongo.Collection }

func (r mongoUserRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if _, err := r.c.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r mongoUserRepo) GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	var u models.User
	if err := r.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return models.User{}, notFound(err)
	}
	return u, nil
}

func (r mongoUserRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	if err := r.c.FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		return models.User{}, notFound(err)
	}
	return u, nil
}

// AdjustBalance relies on the server evaluating the $gte guard and the $inc
// in one document update, so two concurrent debits cannot both pass.
func (r mongoUserRepo) AdjustBalance(ctx context.Context, id primitive.ObjectID, delta decimal.Decimal) (decimal.Decimal, error) {
	filter := bson.M{"_id": id}
	if delta.IsNegative() {
		filter["balance"] = bson.M{"$gte": delta.Neg()}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var u models.User
	err := r.c.FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{"balance": delta}}, opts).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return decimal.Zero, getErr
		}
		return decimal.Zero, ErrNegativeBalance
	}
	if err != nil {
		return decimal.Zero, err
	}

	recordUndo(ctx, func(ctx context.Context) error {
		_, err := r.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"balance": delta.Neg()}})
		return err
	})
	return u.Balance, nil
}

/* ---- Transaction repo ---- */

type mongoTransactionRepo struct{ c *mongo.Collection }

func (r mongoTransactionRepo) Insert(ctx context.Context, tx *models.Transaction) error {
	if tx.ID.IsZero() {
		tx.ID = primitive.NewObjectID()
	}
	if _, err := r.c.InsertOne(ctx, tx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}

	id := tx.ID
	recordUndo(ctx, func(ctx context.Context) error {
		_, err := r.c.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})
	return nil
}

func (r mongoTransactionRepo) ListByUser(ctx context.Context, userID primitive.ObjectID, limit int) ([]models.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.c.Find(ctx, bson.M{"user": userID}, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Transaction](ctx, cur)
}

func (r mongoTransactionRepo) ListByUserAndStock(ctx context.Context, userID, stockID primitive.ObjectID) ([]models.Transaction, error) {
	cur, err := r.c.Find(ctx, bson.M{"user": userID, "stock": stockID})
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Transaction](ctx, cur)
}

/* ---- Watchlist repo ---- */

type mongoWatchlistRepo struct{ c *mongo.Collection }

func (r mongoWatchlistRepo) Insert(ctx context.Context, entry *models.WatchlistEntry) error {
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	if _, err := r.c.InsertOne(ctx, entry); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r mongoWatchlistRepo) Get(ctx context.Context, userID, stockID primitive.ObjectID) (models.WatchlistEntry, error) {
	var e models.WatchlistEntry
	if err := r.c.FindOne(ctx, bson.M{"user": userID, "stock": stockID}).Decode(&e); err != nil {
		return models.WatchlistEntry{}, notFound(err)
	}
	return e, nil
}

func (r mongoWatchlistRepo) Update(ctx context.Context, userID, stockID primitive.ObjectID, patch models.WatchlistPatch) (models.WatchlistEntry, error) {
	set := bson.M{}
	if patch.Notes != nil {
		set["notes"] = *patch.Notes
	}
	if patch.TargetPrice != nil {
		set["targetPrice"] = *patch.TargetPrice
	}
	if len(set) == 0 {
		return r.Get(ctx, userID, stockID)
	}

	var e models.WatchlistEntry
	err := r.c.FindOneAndUpdate(ctx,
		bson.M{"user": userID, "stock": stockID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&e)
	if err != nil {
		return models.WatchlistEntry{}, notFound(err)
	}
	return e, nil
}

func (r mongoWatchlistRepo) Delete(ctx context.Context, userID, stockID primitive.ObjectID) error {
	res, err := r.c.DeleteOne(ctx, bson.M{"user": userID, "stock": stockID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r mongoWatchlistRepo) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.WatchlistEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "addedAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.c.Find(ctx, bson.M{"user": userID}, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.WatchlistEntry](ctx, cur)
}
