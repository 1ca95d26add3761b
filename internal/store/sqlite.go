package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"wholecell-mirror-api/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// metadataKey is the constant primary key of the single sync_metadata row.
const metadataKey = 1

// SQLiteStore implements Store using SQLite.
// Thread-safe with WAL mode for high-concurrency reads.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-backed store.
// dbPath is the path to the SQLite database file (e.g., "./data/inventory.db")
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Open with WAL mode and other optimizations
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	if err := createSQLiteTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[SQLiteStore] Initialized with database: %s", dbPath)
	return &SQLiteStore{db: db}, nil
}

// createSQLiteTables creates the three mirror tables.
func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS inventory_items (
		esn TEXT PRIMARY KEY,
		item_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS inventory_fingerprints (
		esn TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		computed_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sync_metadata (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		metadata_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_updated ON inventory_items(updated_at);
	`
	_, err := db.Exec(query)
	return err
}

// GetAll returns every stored item.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]model.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT item_json FROM inventory_items`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []model.InventoryItem
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var item model.InventoryItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("failed to decode item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem returns one item by ESN, or nil if absent.
func (s *SQLiteStore) GetItem(ctx context.Context, esn string) (*model.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT item_json FROM inventory_items WHERE esn = ?`, esn).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	var item model.InventoryItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	return &item, nil
}

// ApplyBatch upserts items and fingerprints in a single transaction.
func (s *SQLiteStore) ApplyBatch(ctx context.Context, items []model.InventoryItem, fps []model.Fingerprint) error {
	if len(items) == 0 && len(fps) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	itemStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inventory_items (esn, item_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(esn) DO UPDATE SET
			item_json = excluded.item_json,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare item statement: %w", err)
	}
	defer itemStmt.Close()

	now := time.Now().UTC()
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode item %s: %w", item.ESN, err)
		}
		if _, err := itemStmt.ExecContext(ctx, item.ESN, string(raw), now); err != nil {
			return fmt.Errorf("failed to upsert item %s: %w", item.ESN, err)
		}
	}

	fpStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inventory_fingerprints (esn, fingerprint, computed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(esn) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			computed_at = excluded.computed_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare fingerprint statement: %w", err)
	}
	defer fpStmt.Close()

	for _, fp := range fps {
		if _, err := fpStmt.ExecContext(ctx, fp.ESN, fp.Value, fp.ComputedAt); err != nil {
			return fmt.Errorf("failed to upsert fingerprint %s: %w", fp.ESN, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetFingerprint returns the stored fingerprint for an ESN, or "".
func (s *SQLiteStore) GetFingerprint(ctx context.Context, esn string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fp string
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM inventory_fingerprints WHERE esn = ?`, esn).Scan(&fp)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get fingerprint: %w", err)
	}
	return fp, nil
}

// GetFingerprints returns all stored fingerprints keyed by ESN.
func (s *SQLiteStore) GetFingerprints(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT esn, fingerprint FROM inventory_fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	fps := make(map[string]string)
	for rows.Next() {
		var esn, fp string
		if err := rows.Scan(&esn, &fp); err != nil {
			return nil, err
		}
		fps[esn] = fp
	}
	return fps, rows.Err()
}

// GetMetadata returns the sync metadata, or nil before the first full sync.
func (s *SQLiteStore) GetMetadata(ctx context.Context) (*model.SyncMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata_json FROM sync_metadata WHERE id = ?`, metadataKey).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	var meta model.SyncMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &meta, nil
}

// PutMetadata writes the single sync metadata row.
func (s *SQLiteStore) PutMetadata(ctx context.Context, meta *model.SyncMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (id, metadata_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at`,
		metadataKey, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put metadata: %w", err)
	}
	return nil
}

// Count returns the number of stored items.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// Clear wipes all three tables in one transaction.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"inventory_items", "inventory_fingerprints", "sync_metadata"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}

	log.Printf("[SQLiteStore] Cleared all tables")
	return nil
}

// GetStats returns statistics about the mirror database.
func (s *SQLiteStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]interface{})

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inventory_items").Scan(&count); err != nil {
		return nil, err
	}
	stats["total_items"] = count

	var fpCount int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inventory_fingerprints").Scan(&fpCount); err == nil {
		stats["total_fingerprints"] = fpCount
	}

	var lastWrite sql.NullTime
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM inventory_items").Scan(&lastWrite); err == nil && lastWrite.Valid {
		stats["last_write"] = lastWrite.Time
	}

	// Database file size (approximate from page count)
	var pageCount, pageSize int64
	s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats["db_size_bytes"] = pageCount * pageSize

	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
