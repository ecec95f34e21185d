package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// upSuffix marks files Migrate applies. Matching .down.sql files are kept
// beside them as manual rollback scripts and never run by the bridge.
const upSuffix = ".up.sql"

// Migrate applies every pending *.up.sql file at the root of fsys, oldest
// first, each in its own transaction.
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql; the first two fields
// form the version recorded in schema_migrations. After each applied (or
// already applied) file the version is visible through SchemaVersion, so a
// failure part way leaves it at the last good migration.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - fsys: Filesystem holding the migration files
//
// Returns:
//   - error: If a file is misnamed or a migration fails
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	files, err := fs.Glob(fsys, "*"+upSuffix)
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(files)

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, name := range files {
		version, err := migrationVersion(name)
		if err != nil {
			return err
		}
		if !applied[version] {
			if err := db.apply(ctx, fsys, name, version); err != nil {
				return err
			}
		}
		db.setSchemaVersion(version)
	}
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (db *DB) apply(ctx context.Context, fsys fs.FS, name, version string) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting migration %s: %w", version, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("applying migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", version, err)
	}
	return nil
}

// migrationVersion extracts "YYYYMMDD_HHMMSS" from a migration filename.
func migrationVersion(name string) (string, error) {
	base := strings.TrimSuffix(path.Base(name), upSuffix)
	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 3 || parts[2] == "" || !digits(parts[0], 8) || !digits(parts[1], 6) {
		return "", fmt.Errorf("migration %q: want YYYYMMDD_HHMMSS_description%s", name, upSuffix)
	}
	return parts[0] + "_" + parts[1], nil
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
