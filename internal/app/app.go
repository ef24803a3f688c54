// Package app wires configuration into the store and collaborators shared by
// the binaries under cmd/.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"medquote/internal/config"
	"medquote/internal/db"
	"medquote/internal/geo"
	"medquote/internal/repository"
	"medquote/internal/storage"
)

// OpenStore returns the configured store. The *sql.DB is nil for the memory
// store; otherwise the caller closes it.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, *sql.DB, error) {
	switch cfg.Store {
	case config.StorePostgres:
		database, err := db.NewDB(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to db: %w", err)
		}
		return repository.NewPostgresStore(database), database, nil
	case config.StoreMemory:
		st, err := storage.New(cfg.SnapshotFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open memory store: %w", err)
		}
		return st, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// ErrStoreNotShared is returned when a tool that runs beside the server is
// pointed at the memory store, which lives inside the server process.
var ErrStoreNotShared = errors.New("the memory store cannot be shared with a running server; set APP_STORE=postgres")

// OpenSharedStore is OpenStore for tools that work on the server's data
// from another process.
func OpenSharedStore(ctx context.Context, cfg *config.Config) (repository.Store, *sql.DB, error) {
	if cfg.Store == config.StoreMemory {
		return nil, nil, ErrStoreNotShared
	}
	return OpenStore(ctx, cfg)
}

// LoadGeocoder reads a JSON object of address -> {"latitude", "longitude"}. An empty
// path gives a geocoder that resolves nothing.
func LoadGeocoder(path string) (*geo.StaticGeocoder, error) {
	if path == "" {
		return geo.NewStaticGeocoder(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geocoder file: %w", err)
	}
	var table map[string]geo.Point
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse geocoder file: %w", err)
	}
	return geo.NewStaticGeocoder(table), nil
}
