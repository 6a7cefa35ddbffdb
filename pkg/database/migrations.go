package database

import (
	"fmt"

	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies embedded schema migrations in version order
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger,
	}
}

// Schema holds the ordered set of migrations for the document pipeline store.
var Schema = []Migration{
	{
		Version: 1,
		Name:    "create_documents",
		SQL: `
			CREATE TABLE IF NOT EXISTS documents (
				doc_id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				filename TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'NEW',
				doc_type TEXT NOT NULL DEFAULT '',
				supplier_name TEXT NOT NULL DEFAULT '',
				supplier_nif TEXT NOT NULL DEFAULT '',
				invoice_number TEXT NOT NULL DEFAULT '',
				invoice_date TEXT NOT NULL DEFAULT '',
				currency TEXT NOT NULL DEFAULT 'EUR',
				net_amount TEXT NOT NULL DEFAULT '0',
				tax_amount TEXT NOT NULL DEFAULT '0',
				gross_amount TEXT NOT NULL DEFAULT '0',
				extraction_conf REAL NOT NULL DEFAULT 0,
				entry_conf REAL NOT NULL DEFAULT 0,
				global_conf REAL NOT NULL DEFAULT 0,
				issues TEXT NOT NULL DEFAULT '[]',
				entry_json TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				received_at DATETIME,
				extracted_at DATETIME,
				validated_at DATETIME,
				posted_at DATETIME,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_documents_tenant_status ON documents(tenant, status);
		`,
	},
	{
		Version: 2,
		Name:    "create_dedupe",
		SQL: `
			CREATE TABLE IF NOT EXISTS dedupe (
				doc_id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				supplier_nif TEXT NOT NULL,
				invoice_number TEXT NOT NULL DEFAULT '',
				invoice_date TEXT NOT NULL,
				gross TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_dedupe_tenant_nif ON dedupe(tenant, supplier_nif, invoice_date);
		`,
	},
	{
		Version: 3,
		Name:    "create_review_queue",
		SQL: `
			CREATE TABLE IF NOT EXISTS review_queue (
				id TEXT PRIMARY KEY,
				doc_id TEXT NOT NULL UNIQUE,
				tenant TEXT NOT NULL,
				reason TEXT NOT NULL,
				issues TEXT NOT NULL DEFAULT '[]',
				suggestion TEXT NOT NULL DEFAULT '',
				resolved INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				resolved_at DATETIME
			);
		`,
	},
	{
		Version: 4,
		Name:    "create_vendor_rules",
		SQL: `
			CREATE TABLE IF NOT EXISTS vendor_rules (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				tenant TEXT NOT NULL,
				supplier_nif TEXT NOT NULL DEFAULT '',
				supplier_name TEXT NOT NULL DEFAULT '',
				account TEXT NOT NULL,
				vat_rate TEXT NOT NULL DEFAULT '21',
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_vendor_rules_tenant ON vendor_rules(tenant, supplier_nif);
		`,
	},
	{
		Version: 5,
		Name:    "create_batch_locks",
		SQL: `
			CREATE TABLE IF NOT EXISTS batch_locks (
				source TEXT PRIMARY KEY,
				holder TEXT NOT NULL,
				acquired_at DATETIME NOT NULL,
				heartbeat_at DATETIME NOT NULL
			);
			CREATE TABLE IF NOT EXISTS batch_runs (
				id TEXT PRIMARY KEY,
				source TEXT NOT NULL,
				trigger_reason TEXT NOT NULL,
				doc_count INTEGER NOT NULL DEFAULT 0,
				posted_count INTEGER NOT NULL DEFAULT 0,
				review_count INTEGER NOT NULL DEFAULT 0,
				error_count INTEGER NOT NULL DEFAULT 0,
				started_at DATETIME NOT NULL,
				finished_at DATETIME
			);
		`,
	},
}

// createMigrationsTable creates the migrations tracking table
func (m *Migrator) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	_, err := m.db.Exec(query)
	return err
}

// getAppliedMigrations returns the set of applied migration versions
func (m *Migrator) getAppliedMigrations() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// Run applies all pending migrations
func (m *Migrator) Run() error {
	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range Schema {
		if applied[migration.Version] {
			continue
		}

		m.logger.Info("Applying migration",
			zap.Int("version", migration.Version),
			zap.String("name", migration.Name))

		if _, err := m.db.Exec(migration.SQL); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		if _, err := m.db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version, migration.Name,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
