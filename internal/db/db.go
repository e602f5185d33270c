package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"evidence-rag/internal/config"
	"evidence-rag/internal/models"
)

const insertBatchSize = 500

// Snapshot is one published or staged build. Only one row is active.
type Snapshot struct {
	bun.BaseModel `bun:"table:snapshots,alias:s"`
	Version       string          `bun:"version,pk"`
	Meta          models.Metadata `bun:"meta,type:jsonb,notnull"`
	Active        bool            `bun:"active,notnull,default:false"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Document is a record with its vector, keyed by snapshot version and position.
type Document struct {
	bun.BaseModel `bun:"table:snapshot_records,alias:d"`
	Version       string    `bun:"version,pk"`
	Position      int       `bun:"position,pk"`
	SourcePath    string    `bun:"source_path,notnull"`
	LocatorKind   int       `bun:"locator_kind,notnull"`
	LocatorPage   int       `bun:"locator_page,notnull"`
	LocatorSheet  string    `bun:"locator_sheet,notnull"`
	ChunkIndex    int       `bun:"chunk_index,notnull"`
	Content       string    `bun:"content,notnull"`
	Embedding     []float32 `bun:"embedding,array,notnull"`
}

// ConnectDB opens a connection with pgdriver, or lib/pq when configured.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "pq":
		return sql.Open("postgres", cfg.DSN)
	case "", "pgdriver":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// PostgresStore persists snapshots in two tables. Publishing happens in one
// transaction and flips the active flag last.
type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InitDB(ctx context.Context) error {
	for _, model := range []any{(*Snapshot)(nil), (*Document)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Publish(ctx context.Context, snap *models.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if err := s.InitDB(ctx); err != nil {
		return err
	}
	version := snap.Metadata.SnapshotVersion

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := &Snapshot{Version: version, Meta: snap.Metadata}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("inserting snapshot: %w", err)
		}

		docs := toDocuments(version, snap)
		for start := 0; start < len(docs); start += insertBatchSize {
			batch := docs[start:min(start+insertBatchSize, len(docs))]
			if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return fmt.Errorf("inserting records %d-%d: %w", start, start+len(batch), err)
			}
		}

		if _, err := tx.NewUpdate().
			Model((*Snapshot)(nil)).
			Set("active = (version = ?)", version).
			Where("TRUE").
			Exec(ctx); err != nil {
			return fmt.Errorf("activating snapshot: %w", err)
		}
		log.Info().Str("version", version).Int("records", len(docs)).Msg("Published snapshot to postgres")
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.DropDocuments(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to drop inactive snapshots")
	}
	return nil
}

// Load reads the active snapshot. Both reads share one repeatable-read
// transaction, so a concurrent Publish and prune cannot remove the records of
// the version that was found active.
func (s *PostgresStore) Load(ctx context.Context) (*models.Snapshot, error) {
	var snap *models.Snapshot
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := s.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		var err error
		snap, err = loadActive(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func loadActive(ctx context.Context, db bun.IDB) (*models.Snapshot, error) {
	var row Snapshot
	err := db.NewSelect().Model(&row).Where("active = TRUE").Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no active snapshot", models.ErrSnapshotNotFound)
		}
		return nil, err
	}

	var docs []Document
	err = db.NewSelect().
		Model(&docs).
		Where("version = ?", row.Version).
		OrderExpr("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	snap := &models.Snapshot{Metadata: row.Meta}
	for i, d := range docs {
		if d.Position != i {
			return nil, fmt.Errorf("%w: record position %d at offset %d", models.ErrSnapshotCorrupt, d.Position, i)
		}
		snap.Records = append(snap.Records, fromDocument(d))
		snap.Vectors = append(snap.Vectors, d.Embedding)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// DropDocuments removes inactive snapshots and their records.
func (s *PostgresStore) DropDocuments(ctx context.Context) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		inactive := tx.NewSelect().Model((*Snapshot)(nil)).Column("version").Where("active = FALSE")
		if _, err := tx.NewDelete().Model((*Document)(nil)).Where("version IN (?)", inactive).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*Snapshot)(nil)).Where("active = FALSE").Exec(ctx)
		return err
	})
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func toDocuments(version string, snap *models.Snapshot) []Document {
	docs := make([]Document, len(snap.Records))
	for i, r := range snap.Records {
		docs[i] = Document{
			Version:      version,
			Position:     i,
			SourcePath:   r.SourcePath,
			LocatorKind:  int(r.Locator.Kind),
			LocatorPage:  r.Locator.Page,
			LocatorSheet: r.Locator.Sheet,
			ChunkIndex:   r.ChunkIndex,
			Content:      r.Text,
			Embedding:    snap.Vectors[i],
		}
	}
	return docs
}

func fromDocument(d Document) models.Record {
	return models.Record{
		SourcePath: d.SourcePath,
		Locator: models.Locator{
			Kind:  models.LocatorKind(d.LocatorKind),
			Page:  d.LocatorPage,
			Sheet: d.LocatorSheet,
		},
		ChunkIndex: d.ChunkIndex,
		Text:       d.Content,
	}
}
