package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS clients (
    id TEXT NOT NULL,
    agency_id TEXT NOT NULL,
    name TEXT,
    profile_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (agency_id, id)
);

CREATE TABLE IF NOT EXISTS posts (
    id TEXT NOT NULL,
    agency_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    title TEXT,
    status TEXT NOT NULL DEFAULT 'draft',
    scheduled_at DATETIME,
    posted_at DATETIME,
    external_post_id TEXT,
    content BLOB,
    content_hash TEXT,
    attachment TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME,
    claimed_until INTEGER,
    PRIMARY KEY (agency_id, client_id, id)
);

CREATE INDEX IF NOT EXISTS posts_due ON posts (status, scheduled_at);`

// migrations bring databases created by earlier versions up to the schema above.
var migrations = []string{
	`ALTER TABLE posts ADD COLUMN claimed_until INTEGER`,
}

type SQLite struct {
	path string
	conn *sql.DB
}

// NewSQLite opens the database at path on InitDb. ":memory:" gives a private in-memory database.
func NewSQLite(path string) *SQLite {
	if path == "" {
		path = "./postdeck.db"
	}
	return &SQLite{path: path}
}

func (s *SQLite) InitDb() error {
	var err error
	dsn := s.path
	if s.path != ":memory:" {
		// The server and postctl may share the file
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	s.conn, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return err
	}

	if s.path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database
		s.conn.SetMaxOpenConns(1)
	}

	if _, err := s.conn.Exec(schema); err != nil {
		return err
	}
	for _, m := range migrations {
		if _, err := s.conn.Exec(m); err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return err
		}
	}

	dbLogger.Info().Str("path", s.path).Msg("Database initialized")
	return nil
}

func (s *SQLite) Get() *sql.DB {
	return s.conn
}

func (s *SQLite) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("database is not initialized")
	}
	return s.conn.PingContext(ctx)
}

func (s *SQLite) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	dbLogger.Debug().Str("query", query).Msg("Query")
	return s.conn.QueryContext(ctx, query, args...)
}

func (s *SQLite) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	dbLogger.Debug().Str("query", query).Msg("QueryRow")
	return s.conn.QueryRowContext(ctx, query, args...)
}

func (s *SQLite) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	dbLogger.Debug().Str("query", query).Msg("Exec")
	return s.conn.ExecContext(ctx, query, args...)
}
