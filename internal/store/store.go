// Package store implements the durable persistence for the job queue and
// the login-history records on database/sql. SQLite is the default backend;
// a postgres:// DSN selects Postgres instead. Both dialects share one query
// set, with placeholders rebound for Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up record doesn't exist.
var ErrNotFound = errors.New("record not found")

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store is a handle to the backing database. It implements jobqueue.Driver
// and holds the login-history repository.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the database named by dsn and ensures the schema exists.
// A postgres:// or postgresql:// DSN opens Postgres; anything else is
// treated as a SQLite database path.
func Open(ctx context.Context, dsn string) (*Store, error) {
	store, err := open(dsn)
	if err != nil {
		return nil, err
	}

	if err := store.migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return store, nil
}

func open(dsn string) (*Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening postgres database: %w", err)
		}
		return &Store{db: db, dialect: dialectPostgres}, nil
	}

	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection avoids
	// spurious busy errors under concurrent claims.
	db.SetMaxOpenConns(1)

	return &Store{db: db, dialect: dialectSQLite}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	ddl := schemaSQLite
	if s.dialect == dialectPostgres {
		ddl = schemaPostgres
	}

	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to Postgres's $N form when needed. Queries
// are written once in the SQLite style.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var (
		b   strings.Builder
		arg int
	)
	for _, r := range query {
		if r == '?' {
			arg++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(arg))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func timeFromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	queue TEXT NOT NULL,
	kind TEXT NOT NULL,
	args TEXT NOT NULL DEFAULT '{}',
	state TEXT NOT NULL DEFAULT 'waiting',
	attempt INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	priority INTEGER NOT NULL DEFAULT 2,
	errors TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	scheduled_at INTEGER NOT NULL,
	attempted_at INTEGER,
	finalized_at INTEGER
);

CREATE INDEX IF NOT EXISTS jobs_claim_idx
	ON jobs (queue, state, scheduled_at, priority, id);

CREATE TABLE IF NOT EXISTS login_history (
	id TEXT PRIMARY KEY,
	doc TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS jobs (
	id BIGSERIAL PRIMARY KEY,
	queue TEXT NOT NULL,
	kind TEXT NOT NULL,
	args TEXT NOT NULL DEFAULT '{}',
	state TEXT NOT NULL DEFAULT 'waiting',
	attempt INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	priority INTEGER NOT NULL DEFAULT 2,
	errors TEXT NOT NULL DEFAULT '[]',
	created_at BIGINT NOT NULL,
	scheduled_at BIGINT NOT NULL,
	attempted_at BIGINT,
	finalized_at BIGINT
);

CREATE INDEX IF NOT EXISTS jobs_claim_idx
	ON jobs (queue, state, scheduled_at, priority, id);

CREATE TABLE IF NOT EXISTS login_history (
	id TEXT PRIMARY KEY,
	doc TEXT NOT NULL,
	created_at BIGINT NOT NULL
)`
