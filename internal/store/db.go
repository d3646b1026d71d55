package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// dbOps is the query surface shared by *sqlx.DB and *sqlx.Tx, so repository
// methods run unchanged inside or outside a transaction.
type dbOps interface {
	sqlx.ExtContext
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type DB struct {
	dbOps
	root   *sqlx.DB
	driver string
}

// Open connects with driver ("sqlite" or "pgx") and applies the schema.
func Open(driver, dsn string) (*DB, error) {
	root, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if driver == "sqlite" {
		// Set pragmas for better concurrency
		if _, err := root.Exec("PRAGMA journal_mode=WAL"); err != nil {
			root.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
		if _, err := root.Exec("PRAGMA busy_timeout=30000"); err != nil {
			root.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	if err := root.Ping(); err != nil {
		root.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	db := &DB{dbOps: root, root: root, driver: driver}
	if err := db.migrate(context.Background()); err != nil {
		root.Close()
		return nil, err
	}
	return db, nil
}

func NewSQLiteDB(dsn string) (*DB, error) {
	return Open("sqlite", dsn)
}

// Wrap adopts an existing connection without touching the schema, for tests
// that drive the store through sqlmock.
func Wrap(root *sqlx.DB) *DB {
	return &DB{dbOps: root, root: root, driver: root.DriverName()}
}

func (db *DB) Close() error {
	return db.root.Close()
}

func (db *DB) Driver() string {
	return db.driver
}

// RunInTx runs fn against a transaction-scoped DB. Any error rolls back.
func (db *DB) RunInTx(ctx context.Context, fn func(txDB *DB) error) error {
	if _, inTx := db.dbOps.(*sqlx.Tx); inTx {
		return fn(db)
	}

	tx, err := db.root.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	txDB := &DB{
		dbOps:  tx,
		root:   db.root,
		driver: db.driver,
	}

	if err := fn(txDB); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

func (db *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.ExecContext(ctx, db.Rebind(query), args...)
}

func (db *DB) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return db.GetContext(ctx, dest, db.Rebind(query), args...)
}

func (db *DB) sel(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return db.SelectContext(ctx, dest, db.Rebind(query), args...)
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
