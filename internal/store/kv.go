// Package store provides the durable key-value state used by the mover: the
// task registry and counters are persisted as opaque blobs in a single SQLite
// table. Schema changes are applied with goose migrations embedded in the
// binary.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQL statements for key-value operations.
const (
	sqlGet = `SELECT value FROM kv WHERE key = ?`

	sqlPut = `INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`

	sqlDelete = `DELETE FROM kv WHERE key = ?`

	sqlList = `SELECT key, length(value), updated_at FROM kv ORDER BY key`
)

// dirPerms is the permission mode for the state directory.
const dirPerms = 0o700

// Entry describes one stored key without its value.
type Entry struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KV is a SQLite-backed key-value store. It is the sole writer to its
// database file.
type KV struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the SQLite database at dbPath, runs
// migrations, and returns a ready-to-use store. The database uses WAL mode
// with synchronous=FULL so a saved registry survives a crash.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*KV, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), dirPerms); err != nil {
		return nil, fmt.Errorf("store: creating state directory: %w", err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("state store opened", slog.String("db_path", dbPath))

	return &KV{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Load returns the value stored under key, or nil if the key is absent.
func (s *KV) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.db.QueryRowContext(ctx, sqlGet, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading %s: %w", key, err)
	}

	return value, nil
}

// Save replaces the value stored under key.
func (s *KV) Save(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}

	if _, err := s.db.ExecContext(ctx, sqlPut, key, data, s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("store: saving %s: %w", key, err)
	}

	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *KV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqlDelete, key); err != nil {
		return fmt.Errorf("store: deleting %s: %w", key, err)
	}

	return nil
}

// List describes every stored key, sorted by key.
func (s *KV) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, sqlList)
	if err != nil {
		return nil, fmt.Errorf("store: listing keys: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		var (
			e       Entry
			updated int64
		)

		if err := rows.Scan(&e.Key, &e.Size, &updated); err != nil {
			return nil, fmt.Errorf("store: scanning key row: %w", err)
		}

		e.UpdatedAt = time.Unix(0, updated)
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating key rows: %w", err)
	}

	return out, nil
}

// Close releases the database connection.
func (s *KV) Close() error {
	return s.db.Close()
}
