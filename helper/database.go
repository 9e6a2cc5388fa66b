package helper

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// DatabaseConfiguration holds the Postgres connection parameters.
type DatabaseConfiguration struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
	SSLMode  string
}

// NewDatabaseConfiguration reads the database configuration from the
// environment (DB_HOST, DB_PORT, DB_DATABASE, DB_USERNAME, DB_PASSWORD,
// DB_SCHEMA, DB_SSLMODE). A .env file is loaded first if present.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	_ = godotenv.Load()

	config := &DatabaseConfiguration{
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		Database: os.Getenv("DB_DATABASE"),
		Username: os.Getenv("DB_USERNAME"),
		Password: os.Getenv("DB_PASSWORD"),
		Schema:   os.Getenv("DB_SCHEMA"),
		SSLMode:  os.Getenv("DB_SSLMODE"),
	}

	if config.Host == "" || config.Port == "" || config.Database == "" || config.Username == "" {
		return nil, fmt.Errorf("incomplete database configuration, need DB_HOST, DB_PORT, DB_DATABASE and DB_USERNAME")
	}
	if config.Schema == "" {
		config.Schema = "public"
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	return config, nil
}

// ConnectionString returns the lib/pq connection string.
func (c *DatabaseConfiguration) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s search_path=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.Schema, c.SSLMode,
	)
}

// Querier is the query surface shared by *sql.DB and *sql.Tx. Handlers
// run their statements through it so a call inside Atomically joins the
// open transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Database wraps the sql.DB instance together with the logger all
// handlers log through.
type Database struct {
	Name     string
	Instance *sql.DB
	Logger   *slog.Logger

	mu sync.Mutex
	tx *sql.Tx
}

// NewDatabase opens a connection pool and pings it until the database is
// reachable. It panics if the database stays unreachable, matching the
// fail-fast behavior expected at startup.
func NewDatabase(name string, config *DatabaseConfiguration, logger *slog.Logger) *Database {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		logger.Error("Error opening database", slog.String("error", err.Error()))
		panic(err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	for attempt := 1; ; attempt++ {
		err = db.Ping()
		if err == nil {
			break
		}
		if attempt >= 10 {
			logger.Error("Database unreachable", slog.String("error", err.Error()))
			panic(err)
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}

	logger.Info("Connected to database", slog.String("name", name), slog.String("host", config.Host))

	return &Database{
		Name:     name,
		Instance: db,
		Logger:   logger,
	}
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.Instance.Close()
}

// Querier returns the open transaction when one is active, the pool
// otherwise.
func (d *Database) Querier() Querier {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return d.tx
	}
	return d.Instance
}

// Atomically runs fn inside a single transaction: every handler statement
// issued through Querier during fn joins it, and an error from fn rolls
// the whole transaction back. Nested calls are not supported.
func (d *Database) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	d.mu.Lock()
	if d.tx != nil {
		d.mu.Unlock()
		return fmt.Errorf("transaction already active")
	}
	tx, err := d.Instance.BeginTx(ctx, nil)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("begin transaction: %w", err)
	}
	d.tx = tx
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.tx = nil
		d.mu.Unlock()
	}()

	if err := fn(ctx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			d.Logger.Error("Rollback failed", slog.String("error", rollbackErr.Error()))
		}
		return err
	}
	return tx.Commit()
}
