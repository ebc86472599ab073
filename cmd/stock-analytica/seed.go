package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"stock-analytica/internal/services"
	"stock-analytica/internal/storage"
)

type seedCmd struct {
	configPath string
	file       string
}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "replace the stock catalog" }
func (*seedCmd) Usage() string {
	return `stock-analytica seed [-config <file>] [-file <catalog.yaml>]

  Clears the catalog and loads the built-in one, or the catalog in -file.
  Stocks whose symbol already exists keep their id.
`
}

func (s *seedCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.configPath, "config", "", "Path to a YAML configuration file.")
	f.StringVar(&s.file, "file", "", "Catalog YAML to load instead of the built-in one.")
}

func (s *seedCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(s.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer store.Close(context.Background())

	catalog := services.NewCatalogService(store)
	var count int
	if s.file == "" {
		count, err = catalog.Seed(ctx)
	} else {
		count, err = s.seedFromFile(ctx, catalog)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	fmt.Printf("Database seeded successfully: %d stocks\n", count)
	return subcommands.ExitSuccess
}

func (s *seedCmd) seedFromFile(ctx context.Context, catalog *services.CatalogService) (int, error) {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog '%s': %w", s.file, err)
	}
	stocks, err := services.ParseCatalog(data)
	if err != nil {
		return 0, err
	}
	return catalog.Replace(ctx, stocks)
}
