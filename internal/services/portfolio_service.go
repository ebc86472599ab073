package services

import (
	"context"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"stock-analytica/internal/apperr"
	"stock-analytica/internal/logger"
	"stock-analytica/internal/models"
	"stock-analytica/internal/storage"
)

// TransactionHistoryLimit caps the transaction listing.
const TransactionHistoryLimit = 50

type PortfolioService struct {
	store storage.Store
	log   *logger.Logger
}

func NewPortfolioService(store storage.Store) *PortfolioService {
	return &PortfolioService{store: store, log: logger.New("portfolio")}
}

// Holdings derives the account's open positions from its whole ledger.
func (s *PortfolioService) Holdings(ctx context.Context, userID primitive.ObjectID) ([]models.Holding, error) {
	txs, err := s.store.Transactions().ListByUser(ctx, userID, 0)
	if err != nil {
		return nil, apperr.Internalf(err, "load ledger of %s", userID.Hex())
	}
	stocks, err := s.stocksFor(ctx, txs)
	if err != nil {
		return nil, err
	}
	return ComputeHoldings(txs, stocks), nil
}

// ListTransactions returns the newest trades, each with its stock.
func (s *PortfolioService) ListTransactions(ctx context.Context, userID primitive.ObjectID) ([]models.Transaction, error) {
	txs, err := s.store.Transactions().ListByUser(ctx, userID, TransactionHistoryLimit)
	if err != nil {
		return nil, apperr.Internalf(err, "load ledger of %s", userID.Hex())
	}
	stocks, err := s.stocksFor(ctx, txs)
	if err != nil {
		return nil, err
	}

	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		st, ok := stocks[tx.StockID]
		if !ok {
			s.log.Warning("Transaction %s references missing stock %s", tx.ID.Hex(), tx.StockID.Hex())
			continue
		}
		tx.Stock = &st
		out = append(out, tx)
	}
	return out, nil
}

func (s *PortfolioService) stocksFor(ctx context.Context, txs []models.Transaction) (map[primitive.ObjectID]models.Stock, error) {
	seen := make(map[primitive.ObjectID]bool)
	var ids []primitive.ObjectID
	for _, tx := range txs {
		if !seen[tx.StockID] {
			seen[tx.StockID] = true
			ids = append(ids, tx.StockID)
		}
	}
	stocks, err := s.store.Stocks().GetMany(ctx, ids)
	if err != nil {
		return nil, apperr.Internalf(err, "load stocks")
	}
	return stocks, nil
}

type position struct {
	stock models.Stock
	qty   int64
	cost  decimal.Decimal
}

// ComputeHoldings folds a newest-first ledger into positions.
//
// A buy adds its quantity and its cost without commission. A sell removes its
// quantity and pricePerShare*quantity from the cost, so realised gains or
// losses shift the average price of what is left. Positions at or below zero
// shares are dropped. Holdings come out in the order their symbol first
// appears in txs. Transactions whose stock is not in stocks are ignored.
func ComputeHoldings(txs []models.Transaction, stocks map[primitive.ObjectID]models.Stock) []models.Holding {
	var order []string
	bySymbol := make(map[string]*position)

	for _, tx := range txs {
		st, ok := stocks[tx.StockID]
		if !ok {
			continue
		}
		p, ok := bySymbol[st.Symbol]
		if !ok {
			p = &position{stock: st}
			bySymbol[st.Symbol] = p
			order = append(order, st.Symbol)
		}

		q := decimal.NewFromInt(tx.Quantity)
		switch tx.Type {
		case models.TradeBuy:
			p.qty += tx.Quantity
			p.cost = p.cost.Add(tx.TotalAmount.Sub(tx.Commission))
		case models.TradeSell:
			p.qty -= tx.Quantity
			p.cost = p.cost.Sub(tx.PricePerShare.Mul(q))
		}
	}

	holdings := make([]models.Holding, 0, len(order))
	for _, symbol := range order {
		p := bySymbol[symbol]
		if p.qty <= 0 {
			continue
		}
		qty := decimal.NewFromInt(p.qty)
		value := p.stock.CurrentPrice.Mul(qty)
		holdings = append(holdings, models.Holding{
			Stock:        p.stock,
			Quantity:     p.qty,
			AvgPrice:     p.cost.Div(qty),
			CurrentValue: value,
			ProfitLoss:   value.Sub(p.cost),
		})
	}
	return holdings
}
