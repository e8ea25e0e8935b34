package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/repository/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// DB is the SQLite backend. It owns its migrations and hands out the
// repositories built on top of it.
type DB struct {
	SqlDB *sql.DB
}

// New opens a SQLite database at the given path and configures it for use.
// It enables WAL mode and foreign keys.
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{SqlDB: db}, nil
}

// Migrate applies every pending embedded migration.
func (d *DB) Migrate(ctx context.Context) error {
	return migrations.Run(ctx, d.SqlDB)
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.SqlDB.Close()
}

// Bookmarks returns the bookmark repository.
func (d *DB) Bookmarks() domain.BookmarkRepository {
	return &bookmarkRepo{db: d.SqlDB}
}

// Credentials returns the credential repository.
func (d *DB) Credentials() domain.CredentialRepository {
	return &credentialRepo{db: d.SqlDB}
}
