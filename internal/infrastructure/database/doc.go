// Package database provides the SQLite store behind the miio bridge.
//
// The bridge keeps two tables: miio_devices (identity and the last RPC
// request id per device) and miio_channels (the channels materialized from
// each device's schema). Both are created by the embedded migrations in the
// top-level migrations package.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600 after opening
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//	log.Info("schema", "version", db.SchemaVersion())
//
// Migrations are additive: new columns are NULLABLE or carry a DEFAULT, so
// an older bridge binary can still read a newer database.
package database
