package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"stock-analytica/internal/apperr"
	"stock-analytica/internal/logger"
	"stock-analytica/internal/models"
	"stock-analytica/internal/storage"
)

type TradeService struct {
	store      storage.Store
	commission decimal.Decimal
	events     Publisher
	locks      accountLocks
	now        func() time.Time
	log        *logger.Logger
}

// NewTradeService returns an executor charging rate on every trade. events
// may be nil.
func NewTradeService(store storage.Store, rate decimal.Decimal, events Publisher) *TradeService {
	return &TradeService{
		store:      store,
		commission: rate,
		events:     events,
		locks:      accountLocks{held: make(map[primitive.ObjectID]*accountLock)},
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.New("trade"),
	}
}

type TradeResult struct {
	Transaction models.Transaction
	NewBalance  decimal.Decimal
}

// TradeEvent is what other clients learn about a trade.
type TradeEvent struct {
	Symbol        string          `json:"symbol"`
	Type          string          `json:"type"`
	Quantity      int64           `json:"quantity"`
	PricePerShare decimal.Decimal `json:"pricePerShare"`
}

// Buy debits price*quantity plus commission and appends a buy to the ledger.
func (s *TradeService) Buy(ctx context.Context, userID, stockID primitive.ObjectID, quantity int64) (TradeResult, error) {
	return s.execute(ctx, models.TradeBuy, userID, stockID, quantity)
}

// Sell credits price*quantity minus commission and appends a sell to the
// ledger. The account must hold at least quantity shares.
func (s *TradeService) Sell(ctx context.Context, userID, stockID primitive.ObjectID, quantity int64) (TradeResult, error) {
	return s.execute(ctx, models.TradeSell, userID, stockID, quantity)
}

func (s *TradeService) execute(ctx context.Context, side string, userID, stockID primitive.ObjectID, quantity int64) (TradeResult, error) {
	if quantity < 1 {
		return TradeResult{}, apperr.New(apperr.Validation, "Invalid stock ID or quantity")
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	var result TradeResult
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		stock, err := s.store.Stocks().GetByID(ctx, stockID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFoundf("Stock not found")
		}
		if err != nil {
			return apperr.Internalf(err, "load stock %s", stockID.Hex())
		}

		if side == models.TradeSell {
			held, err := s.heldShares(ctx, userID, stockID)
			if err != nil {
				return err
			}
			if held < quantity {
				return apperr.New(apperr.InsufficientShares, "Insufficient shares")
			}
		}

		subtotal := stock.CurrentPrice.Mul(decimal.NewFromInt(quantity))
		commission := subtotal.Mul(s.commission)
		total := subtotal.Add(commission)
		delta := total.Neg()
		if side == models.TradeSell {
			total = subtotal.Sub(commission)
			delta = total
		}

		balance, err := s.store.Users().AdjustBalance(ctx, userID, delta)
		switch {
		case errors.Is(err, storage.ErrNegativeBalance):
			return apperr.New(apperr.InsufficientFunds, "Insufficient balance")
		case errors.Is(err, storage.ErrNotFound):
			return apperr.NotFoundf("User not found")
		case err != nil:
			return apperr.Internalf(err, "adjust balance of %s", userID.Hex())
		}

		tx := models.Transaction{
			UserID:        userID,
			StockID:       stockID,
			Type:          side,
			Quantity:      quantity,
			PricePerShare: stock.CurrentPrice,
			Commission:    commission,
			TotalAmount:   total,
			PaymentID:     uuid.NewString(),
			CreatedAt:     s.now(),
		}
		if err := s.store.Transactions().Insert(ctx, &tx); err != nil {
			return apperr.Internalf(err, "append %s to ledger", side)
		}
		tx.Stock = &stock

		result = TradeResult{Transaction: tx, NewBalance: balance}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.Internal {
			s.log.WithFields(map[string]interface{}{
				"user": userID.Hex(), "stock": stockID.Hex(), "quantity": quantity,
			}).Error("%s failed: %v", side, err)
		}
		return TradeResult{}, err
	}

	tx := result.Transaction
	s.log.WithFields(map[string]interface{}{
		"user":    userID.Hex(),
		"symbol":  tx.Stock.Symbol,
		"total":   tx.TotalAmount.String(),
		"balance": result.NewBalance.String(),
	}).Info("%s %d x %s @ %s", side, quantity, tx.Stock.Symbol, tx.PricePerShare)

	if s.events != nil {
		s.events.Publish(EventTrade, TradeEvent{
			Symbol:        tx.Stock.Symbol,
			Type:          side,
			Quantity:      quantity,
			PricePerShare: tx.PricePerShare,
		})
	}
	return result, nil
}

// heldShares is the sum of bought minus the sum of sold quantities.
func (s *TradeService) heldShares(ctx context.Context, userID, stockID primitive.ObjectID) (int64, error) {
	txs, err := s.store.Transactions().ListByUserAndStock(ctx, userID, stockID)
	if err != nil {
		return 0, apperr.Internalf(err, "load ledger")
	}
	var held int64
	for _, tx := range txs {
		switch tx.Type {
		case models.TradeBuy:
			held += tx.Quantity
		case models.TradeSell:
			held -= tx.Quantity
		}
	}
	return held, nil
}

// accountLocks serialises trades of one account inside this process. Entries
// are dropped once nobody holds or waits for them.
type accountLocks struct {
	mu   sync.Mutex
	held map[primitive.ObjectID]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func (l *accountLocks) lock(id primitive.ObjectID) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.held[id]
	if !ok {
		entry = &accountLock{}
		l.held[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}
