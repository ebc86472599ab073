package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func init() {
	// The dashboard does arithmetic on prices, so they go out as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"

	TradeBuy  = "buy"
	TradeSell = "sell"
)

type Stock struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Symbol       string             `bson:"symbol" json:"symbol" yaml:"symbol"`
	Name         string             `bson:"name" json:"name" yaml:"name"`
	Sector       string             `bson:"sector" json:"sector" yaml:"sector"`
	CurrentPrice decimal.Decimal    `bson:"currentPrice" json:"currentPrice" yaml:"currentPrice"`
	Change       float64            `bson:"change" json:"change" yaml:"change"` // percent, signed
	Volume       string             `bson:"volume" json:"volume" yaml:"volume"`
	PE           float64            `bson:"pe" json:"pe" yaml:"pe"`
	MarketCap    string             `bson:"marketCap" json:"marketCap" yaml:"marketCap"`
	Risk         string             `bson:"risk" json:"risk" yaml:"risk"` // "low", "medium" or "high"
	LastUpdated  time.Time          `bson:"lastUpdated" json:"lastUpdated" yaml:"-"`
}

// Normalize upper-cases the symbol and fills in the default risk tier.
func (s *Stock) Normalize() {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	switch s.Risk {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		s.Risk = RiskMedium
	}
	if s.LastUpdated.IsZero() {
		s.LastUpdated = time.Now()
	}
}

// Transaction is a ledger entry. Once stored it is never updated.
type Transaction struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	UserID        primitive.ObjectID `bson:"user" json:"user"`
	StockID       primitive.ObjectID `bson:"stock" json:"-"`
	Stock         *Stock             `bson:"-" json:"stock"`
	Type          string             `bson:"type" json:"type"` // "buy" or "sell"
	Quantity      int64              `bson:"quantity" json:"quantity"`
	PricePerShare decimal.Decimal    `bson:"pricePerShare" json:"pricePerShare"`
	Commission    decimal.Decimal    `bson:"commission" json:"commission"`
	TotalAmount   decimal.Decimal    `bson:"totalAmount" json:"totalAmount"`
	PaymentID     string             `bson:"paymentId" json:"paymentId"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
}

type WatchlistEntry struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"_id"`
	UserID      primitive.ObjectID  `bson:"user" json:"user"`
	StockID     primitive.ObjectID  `bson:"stock" json:"-"`
	Stock       *Stock              `bson:"-" json:"stock"`
	Notes       string              `bson:"notes" json:"notes"`
	TargetPrice decimal.NullDecimal `bson:"targetPrice" json:"targetPrice"`
	AddedAt     time.Time           `bson:"addedAt" json:"addedAt"`
}

// WatchlistPatch carries the optional fields of a watchlist update. Nil means
// "leave unchanged"; a TargetPrice with Valid false clears the target.
type WatchlistPatch struct {
	Notes       *string
	TargetPrice *decimal.NullDecimal
}

// Holding is a derived position and is never persisted.
type Holding struct {
	Stock        Stock           `json:"stock"`
	Quantity     int64           `json:"quantity"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	CurrentValue decimal.Decimal `json:"currentValue"`
	ProfitLoss   decimal.Decimal `json:"profitLoss"`
}
