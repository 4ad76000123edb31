package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("journal: not found")

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// querier runs statements against either the pool or a transaction.
// Queries are written with '?' placeholders and rebound per driver.
type querier struct {
	ext sqlx.ExtContext
}

func (q querier) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q querier) sel(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q querier) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
}

// insert runs an INSERT and returns the generated id.
func (q querier) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := q.get(ctx, &id, query+" RETURNING id", args...); err != nil {
		return 0, err
	}
	return id, nil
}

// Store is the connection pool.
type Store struct {
	querier
	db *sqlx.DB
}

// Open connects to the database and creates the schema. SQLite uses a
// single connection with WAL and foreign keys enabled, so callers must not
// issue Store queries while holding a Tx.
func Open(driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	s := NewStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing handle without touching the schema.
func NewStore(db *sqlx.DB) *Store {
	return &Store{querier: querier{ext: db}, db: db}
}

// Migrate applies pragmas and creates tables.
func (s *Store) Migrate(ctx context.Context) error {
	schema := SchemaPostgres
	if s.db.DriverName() == DriverSQLite {
		schema = SchemaSQLite
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"} {
			if _, err := s.db.ExecContext(ctx, pragma); err != nil {
				return fmt.Errorf("apply %q: %w", pragma, err)
			}
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{querier: querier{ext: tx}, tx: tx}, nil
}

// Tx is one unit of work. Every Store query method is also available on Tx.
type Tx struct {
	querier
	tx   *sqlx.Tx
	done bool
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
