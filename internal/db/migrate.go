// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents one applied schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// schemaMigration pairs a version with the SQL that produces it. The core
// carries its schema in code so the library needs no migration files on
// disk at runtime.
type schemaMigration struct {
	version     int
	description string
	sql         string
}

// migrations lists every schema version in order. Append only; never edit
// an entry that has shipped, since checksums of applied versions are
// verified on startup.
var migrations = []schemaMigration{
	{
		version:     1,
		description: "initial_schema",
		sql: `
		CREATE TABLE IF NOT EXISTS offline_queue (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK(kind IN ('create', 'update', 'delete')),
			resource TEXT NOT NULL CHECK(length(resource) > 0),
			payload TEXT NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE,
			enqueued_at INTEGER NOT NULL CHECK(enqueued_at > 0),
			retry_count INTEGER NOT NULL DEFAULT 0 CHECK(retry_count >= 0)
		);
		CREATE INDEX IF NOT EXISTS idx_offline_queue_order
			ON offline_queue(enqueued_at);

		CREATE TABLE IF NOT EXISTS cache_documents (
			collection TEXT NOT NULL CHECK(length(collection) > 0),
			id TEXT NOT NULL CHECK(length(id) > 0),
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL CHECK(updated_at > 0),
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_cache_documents_collection
			ON cache_documents(collection);
		`,
	},
}

// Migrator applies in-code schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// AppliedMigrations returns all applied migrations in version order.
func (m *Migrator) AppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations and verifies checksums of applied ones.
func (m *Migrator) Up() error {
	applied, err := m.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedByVersion := make(map[int]Migration)
	for _, mig := range applied {
		appliedByVersion[mig.Version] = mig
	}

	for _, mig := range migrations {
		if prior, ok := appliedByVersion[mig.version]; ok {
			if prior.Checksum != checksum(mig.sql) {
				return fmt.Errorf("migration V%d checksum mismatch: schema drifted from applied version", mig.version)
			}
			continue
		}

		if err := m.apply(mig); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", mig.version, err)
		}
	}

	return nil
}

// apply executes a single migration inside a transaction.
func (m *Migrator) apply(mig schemaMigration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, mig.version, time.Now().Unix(), mig.description, checksum(mig.sql)); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// checksum returns the hex SHA-256 of migration SQL.
func checksum(sqlText string) string {
	hash := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(hash[:])
}
