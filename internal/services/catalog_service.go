package services

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v3"

	"stock-analytica/internal/apperr"
	"stock-analytica/internal/logger"
	"stock-analytica/internal/models"
	"stock-analytica/internal/storage"
)

//go:embed seed_stocks.yaml
var seedStocksYAML []byte

type seedFile struct {
	Stocks []models.Stock `yaml:"stocks"`
}

// DefaultCatalog parses the embedded seed catalog.
func DefaultCatalog() ([]models.Stock, error) {
	return ParseCatalog(seedStocksYAML)
}

// ParseCatalog reads a catalog in the seed file format.
func ParseCatalog(data []byte) ([]models.Stock, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for i, st := range f.Stocks {
		if strings.TrimSpace(st.Symbol) == "" {
			return nil, fmt.Errorf("catalog entry %d has no symbol", i)
		}
		if !st.CurrentPrice.IsPositive() {
			return nil, fmt.Errorf("catalog entry %s has a non-positive price", st.Symbol)
		}
	}
	return f.Stocks, nil
}

type CatalogService struct {
	stocks storage.StockRepository
	log    *logger.Logger
}

func NewCatalogService(store storage.Store) *CatalogService {
	return &CatalogService{stocks: store.Stocks(), log: logger.New("catalog")}
}

// List returns the catalog sorted by symbol. A sector of "" or "all" does not
// filter.
func (s *CatalogService) List(ctx context.Context, sector, search string) ([]models.Stock, error) {
	filter := storage.StockFilter{
		Sector: strings.TrimSpace(sector),
		Search: strings.TrimSpace(search),
	}
	if strings.EqualFold(filter.Sector, "all") {
		filter.Sector = ""
	}
	stocks, err := s.stocks.List(ctx, filter)
	if err != nil {
		return nil, apperr.Internalf(err, "list stocks")
	}
	return stocks, nil
}

func (s *CatalogService) Get(ctx context.Context, id primitive.ObjectID) (models.Stock, error) {
	st, err := s.stocks.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Stock{}, apperr.NotFoundf("Stock not found")
	}
	if err != nil {
		return models.Stock{}, apperr.Internalf(err, "load stock %s", id.Hex())
	}
	return st, nil
}

// Seed replaces the catalog with the embedded default and returns how many
// stocks were written.
func (s *CatalogService) Seed(ctx context.Context) (int, error) {
	stocks, err := DefaultCatalog()
	if err != nil {
		return 0, apperr.Internalf(err, "load default catalog")
	}
	return s.Replace(ctx, stocks)
}

// Replace swaps the whole catalog. Symbols already present keep their ids.
func (s *CatalogService) Replace(ctx context.Context, stocks []models.Stock) (int, error) {
	written, err := s.stocks.ReplaceAll(ctx, stocks)
	if errors.Is(err, storage.ErrDuplicate) {
		return 0, apperr.New(apperr.Validation, "Catalog contains a duplicate symbol")
	}
	if err != nil {
		return 0, apperr.Internalf(err, "replace catalog")
	}
	s.log.Info("Catalog seeded with %d stocks", len(written))
	return len(written), nil
}
