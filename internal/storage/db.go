package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OpenOptions configures the database connection.
type OpenOptions struct {
	Driver          string // sqlite or postgres
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens a database connection and applies the schema.
func Open(opts OpenOptions) (*sql.DB, error) {
	driverName := opts.Driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, db, opts.Driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	ddl := schema
	if driver == "postgres" {
		// SQLite's rowid-backed integer keys need explicit generation on
		// Postgres.
		ddl = strings.ReplaceAll(ddl,
			"id INTEGER PRIMARY KEY",
			"id INTEGER PRIMARY KEY GENERATED BY DEFAULT AS IDENTITY")
	}

	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Repositories bundles all repositories over one connection.
type Repositories struct {
	Products    *ProductRepository
	Orders      *OrderRepository
	Suppliers   *SupplierRepository
	SourceFiles *SourceFileRepository
}

// NewRepositories creates all repositories over the given connection.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Products:    NewProductRepository(db),
		Orders:      NewOrderRepository(db),
		Suppliers:   NewSupplierRepository(db),
		SourceFiles: NewSourceFileRepository(db),
	}
}
