package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// pingTimeout bounds the connectivity check in Open.
	pingTimeout = 5 * time.Second
)

// DB is the bridge's SQLite handle. The embedded *sql.DB is handed to the
// device store; DB adds migrations and the applied schema version.
type DB struct {
	*sql.DB

	mu            sync.RWMutex
	schemaVersion string
}

// Config maps the database section of config.yaml.
type Config struct {
	// Path is the SQLite file. Its directory is created when missing.
	Path string

	// WALMode lets status reads run while the bridge persists request ids.
	WALMode bool

	// BusyTimeout is how long a writer waits for the lock, in seconds.
	BusyTimeout int
}

// Open opens (or creates) the bridge database and verifies it answers.
//
// The pool is capped at one connection: request-id writes from every
// device handler serialise through it instead of failing with
// "database is locked".
//
// Parameters:
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database
//   - error: If the directory, file or connection cannot be set up
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*int(time.Second/time.Millisecond))
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file exists after the ping; it holds device identities.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // best effort

	return &DB{DB: sqlDB}, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query against the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the newest migration version applied by Migrate,
// or "" before Migrate has run or when no migration exists.
func (db *DB) SchemaVersion() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.schemaVersion
}

func (db *DB) setSchemaVersion(v string) {
	db.mu.Lock()
	db.schemaVersion = v
	db.mu.Unlock()
}
