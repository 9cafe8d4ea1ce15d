// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// The meal log is personal and local: one user, one device, one file. An
// embedded database gives us real transactions (so a half-written meal is
// never observable) without running a server.
//
// WHY modernc.org/sqlite?
// It's a pure Go translation of SQLite: no CGo, and it cross-compiles
// anywhere Go does.
//
// WHAT THIS PACKAGE OWNS:
//   - the meals table (schema, migrations, queries)
//   - the image directory: every row's image_path points at a file in it,
//     and deleting the row deletes the file
//   - per-meal write serialization, and per-file locking for shared image
//     names (see locks.go)
//   - change notifications on the event bus after every successful write
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	// BLANK IMPORT:
	// The sqlite package's init() registers the "sqlite" driver with
	// database/sql. We never call it directly.
	_ "modernc.org/sqlite"

	"github.com/sakif/calorily/internal/eventbus"
)

// Config tells New where the database file and the image directory live.
type Config struct {
	// Path is the database file, or ":memory:" for a throwaway database.
	Path string
	// ImageDir is the application-private directory that holds meal photos.
	ImageDir string
	// BusyTimeout is how long a writer waits for the file lock before failing.
	BusyTimeout time.Duration
}

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn      *sql.DB
	images    *imageStore
	locks     *keyedMutex // by meal_id
	paths     *keyedMutex // by stored image path
	publisher eventbus.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New opens (or creates) the database, applies pragmas and runs migrations.
//
// publisher may be nil, in which case changes are simply not announced
// (the CLI's one-shot commands do this).
func New(cfg Config, publisher eventbus.Publisher, logger *slog.Logger) (*DB, error) {
	if cfg.ImageDir == "" {
		return nil, fmt.Errorf("sqlite: image directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.ImageDir, 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: creating image directory: %w", err)
	}
	imageDir, err := filepath.Abs(cfg.ImageDir)
	if err != nil {
		return nil, fmt.Errorf("sqlite: resolving image directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database exists per connection. Pin the pool to a single
	// connection so every query sees the same tables.
	if cfg.Path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets the views read while the orchestrator writes.
	if cfg.Path != ":memory:" {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
		}
	}

	db := &DB{
		conn:      conn,
		images:    &imageStore{dir: imageDir},
		locks:     newKeyedMutex(),
		paths:     newKeyedMutex(),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}

	if err := db.Setup(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// dsn builds the modernc connection string.
//
// _pragma entries run on EVERY new pool connection (a plain Exec only hits
// one of them). _txlock=immediate makes BeginTx take the write lock up front,
// so two writers never both read-then-write the same row.
func dsn(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")

	path := cfg.Path
	if path == ":memory:" {
		return "file::memory:?" + q.Encode()
	}
	return "file:" + path + "?" + q.Encode()
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ImageDir returns the absolute path of the store-owned image directory.
func (db *DB) ImageDir() string {
	return db.images.dir
}

// Setup idempotently ensures the schema exists. New calls it on every start;
// calling it again is harmless.
func (db *DB) Setup() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS meals (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT,
			carbs         REAL,
			proteins      REAL,
			fats          REAL,
			timestamp     INTEGER NOT NULL,
			image_path    TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return fmt.Errorf("creating meals table: %w", err)
	}

	// Columns added when analysis syncing arrived. Databases created by
	// earlier builds only have the columns above.
	columns := []struct{ name, definition string }{
		{"meal_id", "TEXT"},
		{"favorite", "INTEGER NOT NULL DEFAULT 0"},
		{"status", "TEXT NOT NULL DEFAULT 'complete'"},
		{"last_analysis", "TEXT"},
		{"error_message", "TEXT"},
	}
	for _, c := range columns {
		if err := db.addColumnIfNotExists("meals", c.name, c.definition); err != nil {
			return fmt.Errorf("adding %s to meals: %w", c.name, err)
		}
	}

	// Legacy rows have no meal_id; give them one so the unique index holds
	// and every row can be addressed by its correlation key.
	if _, err := db.conn.Exec(
		`UPDATE meals SET meal_id = lower(hex(randomblob(16))) WHERE meal_id IS NULL OR meal_id = ''`,
	); err != nil {
		return fmt.Errorf("backfilling meal_id: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_meals_meal_id ON meals(meal_id);
		CREATE INDEX IF NOT EXISTS idx_meals_timestamp ON meals(timestamp DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_meals_image_path ON meals(image_path);
	`)
	if err != nil {
		return fmt.Errorf("creating meals indexes: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent, so Setup can run on every start.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

func (db *DB) publish(change any) {
	if db.publisher == nil {
		return
	}
	db.publisher.Publish(eventbus.TopicMeals, change)
}
