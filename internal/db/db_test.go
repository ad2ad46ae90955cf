package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const failedToInitDB = "Failed to initialize database: %v"

func newTestDb(t *testing.T) *SQLite {
	t.Helper()
	SetLogger(zerolog.New(os.Stdout).Level(zerolog.ErrorLevel))

	db := NewSQLite(":memory:")
	if err := db.InitDb(); err != nil {
		t.Fatalf(failedToInitDB, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func columns(t *testing.T, db *SQLite, table string) map[string]bool {
	t.Helper()
	rows, err := db.Query(context.Background(), "PRAGMA table_info("+table+")")
	if err != nil {
		t.Fatalf("Failed to get %s table info: %v", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull, pk int
		var defaultValue sql.NullString
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			t.Fatalf("Failed to scan column info: %v", err)
		}
		cols[name] = true
	}
	return cols
}

func TestNewSQLite(t *testing.T) {
	db := NewSQLite("")
	if db.path != "./postdeck.db" {
		t.Errorf("Expected default path, got %q", db.path)
	}
	if db.conn != nil {
		t.Error("Expected connection to be nil before InitDb")
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close on an unopened database must not fail: %v", err)
	}
}

func TestSchema(t *testing.T) {
	db := newTestDb(t)

	t.Run("Posts table", func(t *testing.T) {
		cols := columns(t, db, "posts")
		for _, col := range []string{"id", "agency_id", "client_id", "title", "status", "scheduled_at",
			"posted_at", "external_post_id", "content", "content_hash", "attachment", "created_at", "modified_at", "claimed_until"} {
			if !cols[col] {
				t.Errorf("Expected posts table to have column %s", col)
			}
		}
	})

	t.Run("Clients table", func(t *testing.T) {
		cols := columns(t, db, "clients")
		for _, col := range []string{"id", "agency_id", "name", "profile_id"} {
			if !cols[col] {
				t.Errorf("Expected clients table to have column %s", col)
			}
		}
	})

	t.Run("InitDb is repeatable", func(t *testing.T) {
		if _, err := db.Get().Exec(schema); err != nil {
			t.Errorf("Schema must be idempotent: %v", err)
		}
	})
}

func TestQueryAndExec(t *testing.T) {
	db := newTestDb(t)
	ctx := context.Background()

	res, err := db.Exec(ctx, `INSERT INTO posts (id, agency_id, client_id, title) VALUES (?, ?, ?, ?)`,
		"p1", "a1", "c1", "Hello")
	if err != nil {
		t.Fatalf("Failed to insert post: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Errorf("Expected 1 row affected, got %d", n)
	}

	var title, status string
	err = db.QueryRow(ctx, `SELECT title, status FROM posts WHERE id = ?`, "p1").Scan(&title, &status)
	if err != nil {
		t.Fatalf("Failed to read post: %v", err)
	}
	if title != "Hello" || status != "draft" {
		t.Errorf("Expected title 'Hello' with default status draft, got %q/%q", title, status)
	}

	t.Run("Duplicate key", func(t *testing.T) {
		_, err := db.Exec(ctx, `INSERT INTO posts (id, agency_id, client_id) VALUES (?, ?, ?)`, "p1", "a1", "c1")
		if err == nil {
			t.Error("Expected primary key violation")
		}
	})

	t.Run("Invalid SQL", func(t *testing.T) {
		if _, err := db.Query(ctx, "INVALID SQL SYNTAX"); err == nil {
			t.Error("Expected error for invalid SQL")
		}
	})
}

func TestFileDatabase(t *testing.T) {
	SetLogger(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "test.db")

	db := NewSQLite(path)
	if err := db.InitDb(); err != nil {
		t.Fatalf(failedToInitDB, err)
	}
	defer db.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected database file to exist: %v", err)
	}
}

func TestMigratesOlderDatabase(t *testing.T) {
	SetLogger(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "old.db")

	old, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = old.Exec(`CREATE TABLE posts (
		id TEXT NOT NULL, agency_id TEXT NOT NULL, client_id TEXT NOT NULL, title TEXT,
		status TEXT NOT NULL DEFAULT 'draft', scheduled_at DATETIME, posted_at DATETIME,
		external_post_id TEXT, content BLOB, content_hash TEXT, attachment TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP, modified_at DATETIME,
		PRIMARY KEY (agency_id, client_id, id))`)
	old.Close()
	if err != nil {
		t.Fatalf("Failed to create the old schema: %v", err)
	}

	db := NewSQLite(path)
	if err := db.InitDb(); err != nil {
		t.Fatalf(failedToInitDB, err)
	}
	defer db.Close()

	if !columns(t, db, "posts")["claimed_until"] {
		t.Error("Expected claimed_until to be added")
	}
}

func TestPing(t *testing.T) {
	if err := NewSQLite(":memory:").Ping(context.Background()); err == nil {
		t.Error("Expected an error before InitDb")
	}

	db := newTestDb(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	db.Close()
	if err := db.Ping(context.Background()); err == nil {
		t.Error("Expected an error after Close")
	}
}
