package services

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stock-analytica/internal/logger"
	"stock-analytica/internal/storage"
)

// MaxStepPercent bounds one simulated price move in either direction.
const MaxStepPercent = 1.5

var minPrice = decimal.RequireFromString("0.01")

// PriceSimulator moves catalog prices by a bounded random walk and announces
// every new price.
type PriceSimulator struct {
	stocks   storage.StockRepository
	events   Publisher
	interval time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
	log *logger.Logger
}

func NewPriceSimulator(store storage.Store, events Publisher, interval time.Duration) *PriceSimulator {
	return &PriceSimulator{
		stocks:   store.Stocks(),
		events:   events,
		interval: interval,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.New("market"),
	}
}

// Run ticks until ctx is done.
func (p *PriceSimulator) Run(ctx context.Context) {
	p.log.Info("Starting market data simulation every %s", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.Tick(ctx); err != nil {
				p.log.Error("Market tick failed after %d updates: %v", n, err)
			}
		}
	}
}

// Tick moves every stock once and returns how many prices were written.
func (p *PriceSimulator) Tick(ctx context.Context) (int, error) {
	stocks, err := p.stocks.List(ctx, storage.StockFilter{})
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, st := range stocks {
		pct := p.step()
		price := st.CurrentPrice.Mul(decimal.NewFromFloat(1 + pct/100)).Round(2)
		if price.LessThan(minPrice) {
			price = minPrice
		}
		at := p.now()

		if err := p.stocks.UpdatePrice(ctx, st.ID, price, pct, at); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Removed by a reseed since the listing.
				continue
			}
			return updated, err
		}
		updated++

		st.CurrentPrice = price
		st.Change = pct
		st.LastUpdated = at
		if p.events != nil {
			p.events.Publish(EventPrice, st)
		}
		p.log.Debug("Mock Data: %s - $%s (%+.2f%%)", st.Symbol, price, pct)
	}
	return updated, nil
}

// step returns a move in [-MaxStepPercent, +MaxStepPercent], rounded to
// hundredths of a percent.
func (p *PriceSimulator) step() float64 {
	p.mu.Lock()
	r := p.rnd.Float64()
	p.mu.Unlock()
	return math.Round((r*2-1)*MaxStepPercent*100) / 100
}
