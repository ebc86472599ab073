package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"stock-analytica/internal/apperr"
	"stock-analytica/internal/logger"
)

const (
	DefaultPredictionDays = 90
	MaxPredictionDays     = 365

	// The reply carries a base64 chart, so it can be large.
	maxPredictionBody = 16 << 20
)

// Prediction is the upstream reply, relayed as is.
type Prediction struct {
	Status      int
	ContentType string
	Body        []byte
}

// PredictionService asks the external model service for a forecast of a
// catalog stock.
type PredictionService struct {
	catalog *CatalogService
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

func NewPredictionService(catalog *CatalogService, baseURL string, timeout time.Duration) *PredictionService {
	return &PredictionService{
		catalog: catalog,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     logger.New("prediction"),
	}
}

// Predict resolves the stock's symbol and forwards GET /predict/{symbol}.
func (s *PredictionService) Predict(ctx context.Context, stockID primitive.ObjectID, days int) (Prediction, error) {
	if days < 1 || days > MaxPredictionDays {
		return Prediction{}, apperr.Validationf("days must be between 1 and %d", MaxPredictionDays)
	}
	stock, err := s.catalog.Get(ctx, stockID)
	if err != nil {
		return Prediction{}, err
	}

	endpoint := fmt.Sprintf("%s/predict/%s?days=%s", s.baseURL, url.PathEscape(stock.Symbol), strconv.Itoa(days))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Prediction{}, apperr.Internalf(err, "build prediction request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warning("Prediction service unreachable for %s: %v", stock.Symbol, err)
		return Prediction{}, apperr.Wrap(apperr.Unavailable, "prediction service unavailable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPredictionBody))
	if err != nil {
		return Prediction{}, apperr.Wrap(apperr.Unavailable, "prediction service unavailable", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	s.log.Debug("Prediction for %s (%d days): HTTP %d, %d bytes", stock.Symbol, days, resp.StatusCode, len(body))
	return Prediction{Status: resp.StatusCode, ContentType: contentType, Body: body}, nil
}
