package storage

import (
	"context"
	"fmt"

	"stock-analytica/config"
)

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		return OpenMongo(ctx, cfg.MongoURI, cfg.Database, cfg.Transactions)
	case config.DriverSQLite, config.DriverPostgres:
		return OpenSQL(ctx, cfg.Driver, cfg.DSN)
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
