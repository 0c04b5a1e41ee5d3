package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DatabaseFile is the file name created inside the data directory.
const DatabaseFile = "worksync.db"

// SQLite is a Backend persisted in a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if needed) the database in dataDir and applies
// migrations. The database is opened with:
// - WAL mode so readers do not block the single writer
// - one connection, since SQLite allows a single writer
func Open(dataDir string) (*SQLite, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to create data directory", err)
	}
	return OpenPath(filepath.Join(dataDir, DatabaseFile))
}

// OpenPath opens the database at an explicit path (":memory:" works).
func OpenPath(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to set busy timeout", err)
	}

	migrator := NewMigrator(db, migrationFS, "migrations")
	if err := migrator.Initialize(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to initialize migrations", err)
	}
	if err := migrator.Up(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to migrate database", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Bucket returns the store for namespace.
func (s *SQLite) Bucket(namespace string) Store {
	return &sqliteBucket{db: s.db, namespace: namespace}
}

type sqliteBucket struct {
	db        *sql.DB
	namespace string
}

func (b *sqliteBucket) Get(ctx context.Context, key string) ([]byte, bool) {
	value, ok, err := b.load(ctx, key)
	if err != nil {
		logging.Warn("Local store read failed", map[string]interface{}{
			"namespace": b.namespace,
			"key":       key,
			"error":     err.Error(),
		})
		return nil, false
	}
	return value, ok
}

func (b *sqliteBucket) Load(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := b.load(context.WithoutCancel(ctx), key)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage,
			fmt.Sprintf("failed to read %s/%s", b.namespace, key), err)
	}
	return value, ok, nil
}

func (b *sqliteBucket) load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx,
		"SELECT value FROM kv WHERE namespace = ? AND key = ?", b.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *sqliteBucket) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		b.namespace, key, value, time.Now().UnixMilli())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to write %s/%s", b.namespace, key), err)
	}
	return nil
}
