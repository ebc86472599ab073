package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"stock-analytica/config"
	"stock-analytica/internal/handlers"
	"stock-analytica/internal/rsakeys"
	"stock-analytica/internal/services"
	"stock-analytica/internal/storage"
)

const shutdownTimeout = 10 * time.Second

type serveCmd struct {
	configPath string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the HTTP and websocket API" }
func (*serveCmd) Usage() string {
	return `stock-analytica serve [-config <file>]

  Serves the API until SIGINT or SIGTERM. Settings come from the optional
  YAML file, then .env and the environment.
`
}

func (s *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.configPath, "config", "", "Path to a YAML configuration file.")
}

func (s *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(s.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		stop()
		log.Critical("%v", err)
	}
	return subcommands.ExitSuccess
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warning("Error closing %s store: %v", cfg.Storage.Driver, err)
		}
	}()

	keys, err := rsakeys.Load(cfg.Auth.KeysDir)
	if err != nil {
		return err
	}

	hub := services.NewWebSocketHub()
	go hub.Run(ctx)

	catalog := services.NewCatalogService(store)
	if cfg.Market.Simulate {
		go services.NewPriceSimulator(store, hub, cfg.Market.Interval).Run(ctx)
	}

	router := handlers.NewRouter(handlers.Deps{
		Name:        cfg.Name,
		AdminToken:  cfg.AdminToken,
		Keys:        keys,
		Auth:        services.NewAuthService(store, services.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), cfg.Trading.StartingBalance),
		Catalog:     catalog,
		Trades:      services.NewTradeService(store, cfg.Trading.CommissionRate, hub),
		Portfolio:   services.NewPortfolioService(store),
		Watchlist:   services.NewWatchlistService(store),
		Predictions: services.NewPredictionService(catalog, cfg.Prediction.URL, cfg.Prediction.Timeout),
		Hub:         hub,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.RequestTimeout,
		ReadTimeout:       cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("%s running on %s (storage: %s)", cfg.Name, cfg.Addr(), cfg.Storage.Driver)
		log.Info("WebSocket available at ws://%s/ws", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
