package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/openfroyo/catalog/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists catalogs, facts and reports in SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// FactsTTL expires stored facts after the given duration. Zero keeps them forever.
	FactsTTL time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: is a separate database
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// Catalogs returns the catalog table as a KeyedStore.
func (s *SQLiteStore) Catalogs() KeyedStore[*engine.Catalog] {
	return &sqliteCatalogs{s: s}
}

// Facts returns the facts table as a KeyedStore.
func (s *SQLiteStore) Facts() KeyedStore[*engine.Facts] {
	return &sqliteFacts{s: s}
}

// UpsertCatalog inserts or replaces the catalog stored for a node.
func (s *SQLiteStore) UpsertCatalog(ctx context.Context, name string, catalog *engine.Catalog) error {
	data, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	query := `
		INSERT INTO catalogs (name, version, environment, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			environment = excluded.environment,
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query,
		name,
		catalog.Version,
		catalog.Environment,
		string(data),
		time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to upsert catalog: %w", err)
	}

	return nil
}

// GetCatalog retrieves the catalog stored for a node.
func (s *SQLiteStore) GetCatalog(ctx context.Context, name string) (*engine.Catalog, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM catalogs WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("catalog %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}

	catalog := &engine.Catalog{}
	if err := json.Unmarshal([]byte(data), catalog); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", name, err)
	}
	return catalog, nil
}

// DeleteCatalog removes the catalog stored for a node.
func (s *SQLiteStore) DeleteCatalog(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM catalogs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete catalog: %w", err)
	}
	return nil
}

// ListCatalogNames returns the stored catalog names in order.
func (s *SQLiteStore) ListCatalogNames(ctx context.Context) ([]string, error) {
	return s.listNames(ctx, `SELECT name FROM catalogs ORDER BY name`)
}

// UpsertFacts inserts or replaces the facts stored for a node.
func (s *SQLiteStore) UpsertFacts(ctx context.Context, name string, facts *engine.Facts) error {
	data, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("failed to encode facts: %w", err)
	}

	var expiresAt *int64
	if s.cfg.FactsTTL > 0 {
		exp := time.Now().Add(s.cfg.FactsTTL).UnixNano()
		expiresAt = &exp
	}

	query := `
		INSERT INTO facts (name, data, collected_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			data = excluded.data,
			collected_at = excluded.collected_at,
			expires_at = excluded.expires_at
	`

	if _, err := s.db.ExecContext(ctx, query, name, string(data), facts.Timestamp.UnixNano(), expiresAt); err != nil {
		return fmt.Errorf("failed to upsert facts: %w", err)
	}
	return nil
}

// GetFacts retrieves unexpired facts for a node.
func (s *SQLiteStore) GetFacts(ctx context.Context, name string) (*engine.Facts, error) {
	query := `
		SELECT data FROM facts
		WHERE name = ? AND (expires_at IS NULL OR expires_at > ?)
	`

	var data string
	err := s.db.QueryRowContext(ctx, query, name, time.Now().UnixNano()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("facts %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get facts: %w", err)
	}

	facts := &engine.Facts{}
	if err := json.Unmarshal([]byte(data), facts); err != nil {
		return nil, fmt.Errorf("failed to decode facts %s: %w", name, err)
	}
	return facts, nil
}

// DeleteExpiredFacts removes expired facts and returns how many were removed.
func (s *SQLiteStore) DeleteExpiredFacts(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM facts WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired facts: %w", err)
	}
	return result.RowsAffected()
}

// SaveReport stores a finalized report and its events in one transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *engine.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	noop := 0
	if report.Noop {
		noop = 1
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reports (id, host, catalog_version, environment, status, noop, data, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		report.Host,
		report.CatalogVersion,
		report.Environment,
		string(report.Status),
		noop,
		string(data),
		report.StartedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	for i, event := range report.Events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO report_events (report_id, seq, resource, status, message)
			VALUES (?, ?, ?, ?, ?)
		`, report.ID, i, event.Resource, string(event.Status), event.Message); err != nil {
			return fmt.Errorf("failed to insert report event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}

// LastReport returns the most recent report for host.
func (s *SQLiteStore) LastReport(ctx context.Context, host string) (*engine.Report, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM reports WHERE host = ? ORDER BY started_at DESC LIMIT 1
	`, host).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report for %s: %w", host, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	report := &engine.Report{}
	if err := json.Unmarshal([]byte(data), report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return report, nil
}

// ListReports returns the most recent reports for host, newest first.
func (s *SQLiteStore) ListReports(ctx context.Context, host string, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, host, catalog_version, environment, status, noop
		FROM reports
		WHERE host = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, host, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	summaries := make([]ReportSummary, 0)
	for rows.Next() {
		var sum ReportSummary
		var status string
		var noop int
		if err := rows.Scan(&sum.ID, &sum.Host, &sum.CatalogVersion, &sum.Environment, &status, &noop); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		sum.Status = engine.ReportStatus(status)
		sum.Noop = noop == 1
		summaries = append(summaries, sum)
	}

	return summaries, rows.Err()
}

// CountEventsByStatus counts stored report events per status across all reports.
func (s *SQLiteStore) CountEventsByStatus(ctx context.Context) (map[engine.EventStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM report_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[engine.EventStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[engine.EventStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) listNames(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list names: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) location(table, key string) string {
	return fmt.Sprintf("%s#%s/%s", s.path, table, key)
}

type sqliteCatalogs struct{ s *SQLiteStore }

func (c *sqliteCatalogs) Get(ctx context.Context, key string) (*engine.Catalog, error) {
	return c.s.GetCatalog(ctx, key)
}

func (c *sqliteCatalogs) Put(ctx context.Context, key string, value *engine.Catalog) error {
	return c.s.UpsertCatalog(ctx, key, value)
}

func (c *sqliteCatalogs) Delete(ctx context.Context, key string) error {
	return c.s.DeleteCatalog(ctx, key)
}

func (c *sqliteCatalogs) Keys(ctx context.Context) ([]string, error) {
	return c.s.ListCatalogNames(ctx)
}

func (c *sqliteCatalogs) Location(key string) string {
	return c.s.location("catalogs", key)
}

type sqliteFacts struct{ s *SQLiteStore }

func (f *sqliteFacts) Get(ctx context.Context, key string) (*engine.Facts, error) {
	return f.s.GetFacts(ctx, key)
}

func (f *sqliteFacts) Put(ctx context.Context, key string, value *engine.Facts) error {
	return f.s.UpsertFacts(ctx, key, value)
}

func (f *sqliteFacts) Delete(ctx context.Context, key string) error {
	if _, err := f.s.db.ExecContext(ctx, `DELETE FROM facts WHERE name = ?`, key); err != nil {
		return fmt.Errorf("failed to delete facts: %w", err)
	}
	return nil
}

func (f *sqliteFacts) Keys(ctx context.Context) ([]string, error) {
	return f.s.listNames(ctx, `SELECT name FROM facts ORDER BY name`)
}

func (f *sqliteFacts) Location(key string) string {
	return f.s.location("facts", key)
}
