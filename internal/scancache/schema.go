package scancache

import (
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 2

func (c *Cache) migrate() error {
	return c.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
			return fmt.Errorf("failed to create schema_version table: %w", err)
		}

		var version int
		err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
		switch {
		case err == sql.ErrNoRows:
			version = 0
		case err != nil:
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if version == currentSchemaVersion {
			return nil
		}
		if version > currentSchemaVersion {
			return fmt.Errorf("cache schema version %d is newer than supported version %d", version, currentSchemaVersion)
		}

		if version < 1 {
			if err := createScansTable(tx); err != nil {
				return err
			}
			if err := createRunsTable(tx); err != nil {
				return err
			}
		} else if version < 2 {
			if err := addLanguageColumn(tx); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			return fmt.Errorf("failed to reset schema version: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
		c.logger.Info("Scan cache schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

func createScansTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS scans (
			path TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			mtime INTEGER NOT NULL,
			hash TEXT NOT NULL,
			backend TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL,
			used_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create scans table: %w", err)
	}
	return createHashIndex(tx)
}

func createHashIndex(tx *sql.Tx) error {
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_scans_hash ON scans(hash, backend, language)`); err != nil {
		return fmt.Errorf("failed to create scans index: %w", err)
	}
	return nil
}

// addLanguageColumn upgrades a version 1 scans table. Existing rows get an
// empty language and are no longer found by hash.
func addLanguageColumn(tx *sql.Tx) error {
	if _, err := tx.Exec(`ALTER TABLE scans ADD COLUMN language TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("failed to add language column: %w", err)
	}
	if _, err := tx.Exec(`DROP INDEX IF EXISTS idx_scans_hash`); err != nil {
		return fmt.Errorf("failed to drop scans index: %w", err)
	}
	return createHashIndex(tx)
}

func createRunsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			entries INTEGER NOT NULL,
			changed INTEGER NOT NULL,
			affected INTEGER NOT NULL,
			modules INTEGER NOT NULL,
			errors INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	return nil
}
