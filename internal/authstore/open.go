// Package authstore persists instance session credentials.
package authstore

import (
	"context"
	"fmt"
	"log/slog"

	"omnigate/internal/domain"
)

// Store is an AuthStore that can also enumerate instances and be closed.
type Store interface {
	domain.AuthStore
	Instances(ctx context.Context) ([]string, error)
	Close() error
}

// Open returns the store for driver: "sqlite" (path), "postgres" (dsn) or
// "memory".
func Open(ctx context.Context, driver, path, dsn string, logger *slog.Logger) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(path, logger)
	case "postgres":
		return NewPostgresStore(ctx, dsn, logger)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}
