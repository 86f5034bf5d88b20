package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Querier is the statement surface shared by DB and Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	Rebind(query string) string
	DriverName() string
}

type DB interface {
	Querier
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	Close() error
	PingContext(ctx context.Context) error
	SetConnMaxIdleTime(d time.Duration)
	SetConnMaxLifetime(d time.Duration)
	SetMaxIdleConns(n int)
	SetMaxOpenConns(n int)
	Stats() sql.DBStats
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	Dialect() Dialect
	SQL() *sql.DB
}

type DatabaseInstance struct {
	*sqlx.DB
	logger  ectologger.Logger
	dialect Dialect
}

func NewDatabaseInstance(db *sqlx.DB, dialect Dialect, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:      db,
		logger:  logger,
		dialect: dialect,
	}
}

// Open connects to the target store. SQLite connections are pinned to a single
// connection so temp tables and in-memory databases stay visible to every
// statement.
func Open(ctx context.Context, dialect Dialect, dsn string, logger ectologger.Logger) (DB, error) {
	db, err := sqlx.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}
	if dialect.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect.Name, err)
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"dialect": dialect.Name,
	}).Info("Connected to target database")

	return NewDatabaseInstance(db, dialect, logger), nil
}

func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db, opts)
}

func (db *DatabaseInstance) Dialect() Dialect {
	return db.dialect
}

func (db *DatabaseInstance) SQL() *sql.DB {
	return db.DB.DB
}

// QuerierFrom returns the open transaction stored in ctx, or db.
func QuerierFrom(ctx context.Context, db DB) Querier {
	if tx, ok := ctx.Value(txKey).(Tx); ok && tx != nil && tx.IsOpen() {
		return tx
	}
	return db
}
