// Package sqlite implements the store on a single SQLite database
// using modernc.org/sqlite (pure Go, no cgo). Products are stored as
// whole JSON documents in one column; the schema is managed by
// embedded golang-migrate migrations.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/scanline-systems/zonewatch/internal/monitoring"
	"github.com/scanline-systems/zonewatch/internal/stats"
	"github.com/scanline-systems/zonewatch/internal/store"
	"github.com/scanline-systems/zonewatch/internal/zone"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const activeProductKey = "active_product_id"

// Store is the SQLite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path, applies the
// connection pragmas, and runs pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// applyPragmas sets the connection options every database gets: WAL
// for concurrent readers, a busy timeout so writers queue instead of
// failing, and in-memory temp storage.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger routes golang-migrate output through the package
// logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// retryOnBusy retries a write that failed because another connection
// held the write lock longer than the busy timeout.
func retryOnBusy(op func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// LoadProducts returns all stored products ordered by name plus the
// active product id.
func (s *Store) LoadProducts() ([]zone.ProductDefinition, string, error) {
	rows, err := s.db.Query(`SELECT doc FROM products ORDER BY name, id`)
	if err != nil {
		return nil, "", fmt.Errorf("loading products: %w", err)
	}
	defer rows.Close()

	var products []zone.ProductDefinition
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, "", fmt.Errorf("scanning product row: %w", err)
		}
		var p zone.ProductDefinition
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, "", fmt.Errorf("decoding product document: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("loading products: %w", err)
	}

	active, err := s.settingValue(activeProductKey)
	if err != nil {
		return nil, "", err
	}
	return products, active, nil
}

// SaveProduct validates and upserts a product as a whole document.
// Validation here is the single enforcement point: invalid definitions
// never reach the database, so evaluation never sees one.
func (s *Store) SaveProduct(p *zone.ProductDefinition) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := zone.ValidateProduct(*p); err != nil {
		return err
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding product %s: %w", p.ID, err)
	}
	query := `
		INSERT INTO products (id, name, doc, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			doc = excluded.doc,
			updated_at = CURRENT_TIMESTAMP
	`
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(query, p.ID, p.Name, string(doc))
		return err
	})
	if err != nil {
		return fmt.Errorf("saving product %s: %w", p.ID, err)
	}
	return nil
}

// DeleteProduct removes a product and clears the active selection if
// it pointed at the deleted product.
func (s *Store) DeleteProduct(id string) error {
	var affected int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM products WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting product %s: %w", id, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM settings WHERE key = ? AND value = ?`, activeProductKey, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("clearing active product after delete: %w", err)
	}
	return nil
}

// SetActiveProduct marks a product as active. The product must exist;
// an empty id clears the selection.
func (s *Store) SetActiveProduct(id string) error {
	if id == "" {
		err := retryOnBusy(func() error {
			_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, activeProductKey)
			return err
		})
		if err != nil {
			return fmt.Errorf("clearing active product: %w", err)
		}
		return nil
	}

	var one int
	if err := s.db.QueryRow(`SELECT 1 FROM products WHERE id = ?`, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("checking product %s: %w", id, err)
	}

	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query, activeProductKey, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("setting active product %s: %w", id, err)
	}
	return nil
}

// SaveStatistics writes the single durable statistics row.
func (s *Store) SaveStatistics(snap stats.Snapshot) error {
	query := `
		INSERT INTO statistics (id, evaluation_count, good_count, bad_count, since)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			evaluation_count = excluded.evaluation_count,
			good_count = excluded.good_count,
			bad_count = excluded.bad_count,
			since = excluded.since
	`
	since := ""
	if !snap.Since.IsZero() {
		since = snap.Since.UTC().Format(time.RFC3339Nano)
	}
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query, snap.EvaluationCount, snap.GoodCount, snap.BadCount, since)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving statistics: %w", err)
	}
	return nil
}

// LoadStatistics reads the persisted counters. A zero snapshot with no
// error means nothing has been saved yet.
func (s *Store) LoadStatistics() (stats.Snapshot, error) {
	var snap stats.Snapshot
	var since string
	err := s.db.QueryRow(`
		SELECT evaluation_count, good_count, bad_count, since FROM statistics WHERE id = 1
	`).Scan(&snap.EvaluationCount, &snap.GoodCount, &snap.BadCount, &since)
	if errors.Is(err, sql.ErrNoRows) {
		return stats.Snapshot{}, nil
	}
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("loading statistics: %w", err)
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			return stats.Snapshot{}, fmt.Errorf("parsing statistics since %q: %w", since, err)
		}
		snap.Since = t
	}
	if snap.EvaluationCount > 0 {
		snap.GoodRate = float64(snap.GoodCount) / float64(snap.EvaluationCount)
	}
	return snap, nil
}

// ResetStatistics clears the persisted counters.
func (s *Store) ResetStatistics() error {
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM statistics WHERE id = 1`)
		return err
	})
	if err != nil {
		return fmt.Errorf("resetting statistics: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) settingValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}
