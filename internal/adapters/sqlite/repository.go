package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoDataPipe/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.DurableStore and ports.SignalHistory using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

var (
	_ ports.DurableStore  = (*Repository)(nil)
	_ ports.SignalHistory = (*Repository)(nil)
)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/cache.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer at a time; the driver serializes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		payload BLOB NOT NULL,
		fetched_at TIMESTAMP NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (namespace, key)
	);

	CREATE TABLE IF NOT EXISTS signal_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		price REAL NOT NULL,
		provenance TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signal_history_symbol_created ON signal_history (symbol, created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- DurableStore Implementation ---

// Load retrieves a cache record. Returns nil, nil if not found.
func (r *Repository) Load(ctx context.Context, namespace, key string) (*ports.Record, error) {
	const query = `SELECT key, payload, fetched_at, source FROM cache_entries WHERE namespace = ? AND key = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, namespace, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Cache record not found", map[string]interface{}{"namespace": namespace, "key": key})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to load cache record %s/%s: %w: %w", namespace, key, ports.ErrQueryFailed, err)
	}
	return rec, nil
}

// Save inserts or replaces a cache record.
func (r *Repository) Save(ctx context.Context, namespace string, rec ports.Record) error {
	const query = `
	INSERT INTO cache_entries (namespace, key, payload, fetched_at, source)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(namespace, key) DO UPDATE SET
		payload = excluded.payload, fetched_at = excluded.fetched_at, source = excluded.source`

	_, err := r.db.ExecContext(ctx, query, namespace, rec.Key, []byte(rec.Payload), rec.FetchedAt.UTC(), rec.Source)
	if err != nil {
		return fmt.Errorf("failed to save cache record %s/%s: %w: %w", namespace, rec.Key, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Cache record saved", map[string]interface{}{"namespace": namespace, "key": rec.Key})
	return nil
}

// Delete removes a cache record. Deleting a missing record is not an error.
func (r *Repository) Delete(ctx context.Context, namespace, key string) error {
	const query = `DELETE FROM cache_entries WHERE namespace = ? AND key = ?`
	if _, err := r.db.ExecContext(ctx, query, namespace, key); err != nil {
		return fmt.Errorf("failed to delete cache record %s/%s: %w: %w", namespace, key, ports.ErrDeleteFailed, err)
	}
	return nil
}

// Clear removes all records of a namespace.
func (r *Repository) Clear(ctx context.Context, namespace string) error {
	const query = `DELETE FROM cache_entries WHERE namespace = ?`
	result, err := r.db.ExecContext(ctx, query, namespace)
	if err != nil {
		return fmt.Errorf("failed to clear cache namespace %s: %w: %w", namespace, ports.ErrDeleteFailed, err)
	}
	n, _ := result.RowsAffected()
	r.logger.Info(ctx, "Cache namespace cleared", map[string]interface{}{"namespace": namespace, "records": n})
	return nil
}

// --- SignalHistory Implementation ---

// SaveSignals stores the records of one cycle in a single transaction.
func (r *Repository) SaveSignals(ctx context.Context, records []ports.SignalRecord) error {
	if len(records) == 0 {
		return nil
	}
	const query = `
	INSERT INTO signal_history (cycle_id, symbol, price, provenance, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin signal history transaction: %w: %w", ports.ErrDBConnection, err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare signal history insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, rec.CycleID, rec.Symbol, rec.Price, rec.Provenance, []byte(rec.Payload), createdAt.UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert signal for %s: %w: %w", rec.Symbol, ports.ErrUpdateFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit signal history: %w: %w", ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Signal history saved", map[string]interface{}{"cycleID": records[0].CycleID, "records": len(records)})
	return nil
}

// RecentSignals retrieves the most recent signal records for a symbol, up to a limit.
func (r *Repository) RecentSignals(ctx context.Context, symbol string, limit int) ([]ports.SignalRecord, error) {
	const query = `
	SELECT cycle_id, symbol, price, provenance, payload, created_at
	FROM signal_history
	WHERE symbol = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	if limit <= 0 {
		limit = 1
	}
	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal history for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	out := make([]ports.SignalRecord, 0)
	for rows.Next() {
		var rec ports.SignalRecord
		var payload []byte
		if err := rows.Scan(&rec.CycleID, &rec.Symbol, &rec.Price, &rec.Provenance, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal history row: %w", err)
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal history rows: %w", err)
	}
	return out, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row into a ports.Record.
func scanRecord(s scanner) (*ports.Record, error) {
	rec := &ports.Record{}
	var payload []byte
	var source sql.NullString
	if err := s.Scan(&rec.Key, &payload, &rec.FetchedAt, &source); err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	rec.Payload = payload
	rec.Source = source.String
	return rec, nil
}
