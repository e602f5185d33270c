// Package snapshot selects where snapshots are published and loaded from.
package snapshot

import (
	"context"
	"fmt"

	"evidence-rag/internal/chromemdb"
	"evidence-rag/internal/config"
	"evidence-rag/internal/db"
	"evidence-rag/internal/models"
)

// Backend publishes and loads whole snapshots. Publish must be atomic: a
// concurrent Load sees either the previous snapshot or the new one.
type Backend interface {
	Publish(ctx context.Context, snap *models.Snapshot) error
	Load(ctx context.Context) (*models.Snapshot, error)
	Close() error
}

var (
	_ Backend = (*chromemdb.SnapshotManager)(nil)
	_ Backend = (*db.PostgresStore)(nil)
)

// Open returns the backend configured in cfg.Store.
func Open(cfg *config.Config) (Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendFile:
		return chromemdb.NewSnapshotManager(cfg.Store.Dir, cfg.Store.Collection, cfg.Store.Compress, cfg.Store.EncryptionKey), nil
	case config.BackendPostgres:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		return db.NewPostgresStore(db.NewDB(sqldb, cfg.Database.Debug)), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
