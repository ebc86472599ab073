package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"stock-analytica/internal/apperr"
)

func TestPredict(t *testing.T) {
	var (
		mu               sync.Mutex
		gotPath, gotDays string
	)
	seen := func() (string, string) {
		mu.Lock()
		defer mu.Unlock()
		return gotPath, gotDays
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotDays = r.URL.Query().Get("days")
		mu.Unlock()
		if r.URL.Path == "/predict/BETA" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"model failed"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"ACME","predictions":[101.5,102.25]}`))
	}))
	defer upstream.Close()

	ctx := context.Background()
	f := newFixture(t, "0")
	svc := NewPredictionService(NewCatalogService(f.store), upstream.URL+"/", time.Second)

	got, err := svc.Predict(ctx, f.catalog[0].ID, 30)
	if err != nil {
		t.Fatalf("Predict() failed: %v", err)
	}
	if path, days := seen(); path != "/predict/ACME" || days != "30" {
		t.Errorf("upstream saw %s?days=%s", path, days)
	}
	if got.Status != http.StatusOK || got.ContentType != "application/json" || string(got.Body) != `{"symbol":"ACME","predictions":[101.5,102.25]}` {
		t.Errorf("Predict() = %d %s %s", got.Status, got.ContentType, got.Body)
	}

	// Upstream errors are relayed, not translated.
	got, err = svc.Predict(ctx, f.catalog[1].ID, DefaultPredictionDays)
	if err != nil {
		t.Fatalf("Predict(BETA) failed: %v", err)
	}
	if _, days := seen(); got.Status != http.StatusInternalServerError || days != "90" {
		t.Errorf("Predict(BETA) status = %d, days = %s", got.Status, days)
	}
}

func TestPredictErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "0")

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	testCases := []struct {
		name    string
		stockID primitive.ObjectID
		days    int
		want    error
	}{
		{name: "zero days", stockID: f.stock.ID, days: 0, want: apperr.ErrValidation},
		{name: "too many days", stockID: f.stock.ID, days: MaxPredictionDays + 1, want: apperr.ErrValidation},
		{name: "unknown stock", stockID: primitive.NewObjectID(), days: 10, want: apperr.ErrNotFound},
		{name: "service down", stockID: f.stock.ID, days: 10, want: apperr.ErrUnavailable},
	}
	svc := NewPredictionService(NewCatalogService(f.store), downURL, time.Second)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Predict(ctx, tc.stockID, tc.days); !errors.Is(err, tc.want) {
				t.Errorf("Predict() error = %v, want %v", err, tc.want)
			}
		})
	}
}
