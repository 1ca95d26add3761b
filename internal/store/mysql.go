package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"wholecell-mirror-api/internal/model"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLStore implements Store using MySQL. Intended for deployments
// that already run a MySQL instance and want the mirror co-located
// with other data.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates a new MySQL-backed store.
// dsn format: "user:password@tcp(host:port)/dbname?parseTime=true"
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	if err := createMySQLTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[MySQLStore] Initialized")
	return &MySQLStore{db: db}, nil
}

// createMySQLTables creates the three mirror tables.
func createMySQLTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS inventory_items (
			esn VARCHAR(64) PRIMARY KEY,
			item_json JSON NOT NULL,
			updated_at DATETIME NOT NULL,
			INDEX idx_items_updated (updated_at)
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_fingerprints (
			esn VARCHAR(64) PRIMARY KEY,
			fingerprint VARCHAR(128) NOT NULL,
			computed_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_metadata (
			id INT PRIMARY KEY,
			metadata_json JSON NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// GetAll returns every stored item.
func (s *MySQLStore) GetAll(ctx context.Context) ([]model.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_json FROM inventory_items`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []model.InventoryItem
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var item model.InventoryItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to decode item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem returns one item by ESN, or nil if absent.
func (s *MySQLStore) GetItem(ctx context.Context, esn string) (*model.InventoryItem, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT item_json FROM inventory_items WHERE esn = ?`, esn).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	var item model.InventoryItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	return &item, nil
}

// ApplyBatch upserts items and fingerprints in a single transaction.
func (s *MySQLStore) ApplyBatch(ctx context.Context, items []model.InventoryItem, fps []model.Fingerprint) error {
	if len(items) == 0 && len(fps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	itemStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inventory_items (esn, item_json, updated_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			item_json = VALUES(item_json),
			updated_at = VALUES(updated_at)`)
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
		if _, err := itemStmt.ExecContext(ctx, item.ESN, raw, now); err != nil {
			return fmt.Errorf("failed to upsert item %s: %w", item.ESN, err)
		}
	}

	fpStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inventory_fingerprints (esn, fingerprint, computed_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			fingerprint = VALUES(fingerprint),
			computed_at = VALUES(computed_at)`)
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
func (s *MySQLStore) GetFingerprint(ctx context.Context, esn string) (string, error) {
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
func (s *MySQLStore) GetFingerprints(ctx context.Context) (map[string]string, error) {
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
func (s *MySQLStore) GetMetadata(ctx context.Context) (*model.SyncMetadata, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata_json FROM sync_metadata WHERE id = ?`, metadataKey).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	var meta model.SyncMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &meta, nil
}

// PutMetadata writes the single sync metadata row.
func (s *MySQLStore) PutMetadata(ctx context.Context, meta *model.SyncMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (id, metadata_json, updated_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			metadata_json = VALUES(metadata_json),
			updated_at = VALUES(updated_at)`,
		metadataKey, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put metadata: %w", err)
	}
	return nil
}

// Count returns the number of stored items.
func (s *MySQLStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// Clear wipes all three tables in one transaction.
func (s *MySQLStore) Clear(ctx context.Context) error {
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

	log.Printf("[MySQLStore] Cleared all tables")
	return nil
}

// GetStats returns statistics about the mirror database.
func (s *MySQLStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
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

	return stats, nil
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// Ensure MySQLStore implements Store
var _ Store = (*MySQLStore)(nil)
