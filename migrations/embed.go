// Package migrations embeds the bridge's SQL migrations into the binary.
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql. Each has a matching
// .down.sql for manual rollback; the bridge only applies the up files.
package migrations

import "embed"

// FS holds the migration files at its root. Pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
