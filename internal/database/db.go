package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// DB wraps the sql.DB connection
type DB struct {
	Conn    *sql.DB
	Dialect Dialect
}

// New opens the database named by url and runs migrations. URLs starting
// with postgres:// or postgresql:// use lib/pq; anything else is a sqlite3
// file path or DSN.
func New(ctx context.Context, url string) (*DB, error) {
	dialect, dsn := parseURL(url)

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// One connection: every transaction is BEGIN IMMEDIATE on the same
		// handle, so reconciliations are serialized by the write lock.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{Conn: conn, Dialect: dialect}

	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func parseURL(url string) (Dialect, string) {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres, url
	}
	return DialectSQLite, sqliteDSN(url)
}

// sqliteDSN appends the connection options the store relies on.
func sqliteDSN(path string) string {
	opts := []string{"_txlock=immediate", "_foreign_keys=on", "_busy_timeout=5000"}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		opts = append(opts, "_journal_mode=WAL")
	}
	return path + sep + strings.Join(opts, "&")
}

// Migrate creates the contacts table and its indexes if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if db.Dialect == DialectPostgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := db.Conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    phone_number TEXT,
    email TEXT,
    linked_id INTEGER,
    link_precedence TEXT NOT NULL CHECK(link_precedence IN ('primary', 'secondary')),
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    deleted_at DATETIME,
    FOREIGN KEY (linked_id) REFERENCES contacts(id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_phone ON contacts(phone_number)`,
	`CREATE INDEX IF NOT EXISTS idx_email ON contacts(email)`,
	`CREATE INDEX IF NOT EXISTS idx_linked_id ON contacts(linked_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
    id BIGSERIAL PRIMARY KEY,
    phone_number TEXT,
    email TEXT,
    linked_id BIGINT REFERENCES contacts(id),
    link_precedence TEXT NOT NULL CHECK(link_precedence IN ('primary', 'secondary')),
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    deleted_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS idx_phone ON contacts(phone_number)`,
	`CREATE INDEX IF NOT EXISTS idx_email ON contacts(email)`,
	`CREATE INDEX IF NOT EXISTS idx_linked_id ON contacts(linked_id)`,
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.Conn.Close()
}
