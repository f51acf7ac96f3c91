// Package database provides the state store (C5): connection pooling,
// migrations, and the codecs/repositories the engine persists obligations
// through.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/carrot-kpi/defillama-answerer/pkg/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pingBudget bounds how long NewClient waits for the initial connectivity
// check before giving up.
const pingBudget = 10 * time.Second

// Client wraps a pooled *sql.DB and the embedded migration set.
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the client.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient opens a connection pool against cfg.DBConnectionString, sizes
// it from cfg's pool-tuning fields, and verifies it is reachable before
// returning.
func NewClient(cfg *config.Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database: nil config")
	}
	if cfg.DBConnectionString == "" {
		return nil, fmt.Errorf("database: db_connection_string not set")
	}

	client := &Client{
		logger: log.New(log.Writer(), "[database] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(client)
	}

	db, err := sql.Open("postgres", cfg.DBConnectionString)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	applyPoolSettings(db, cfg)
	client.db = db

	ctx, cancel := context.WithTimeout(context.Background(), pingBudget)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: initial ping: %w", err)
	}

	client.logger.Printf("database pool ready: max_open=%d max_idle=%d", cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)

	return client, nil
}

// applyPoolSettings sizes db's pool from cfg rather than a fixed
// constant, so deployment-tier tuning (bigger box, more chains) doesn't
// require a code change.
func applyPoolSettings(db *sql.DB, cfg *config.Config) {
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleSeconds) * time.Second)
	db.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifeSeconds) * time.Second)
}

// DB returns the underlying *sql.DB for direct access by repositories.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	c.logger.Println("database pool closing")
	return c.db.Close()
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// HealthStatus reports the result of a health probe.
type HealthStatus struct {
	Healthy            bool          `json:"healthy"`
	Error              string        `json:"error,omitempty"`
	Version            string        `json:"version,omitempty"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
	MaxOpenConnections int           `json:"max_open_connections"`
	CheckedAt          time.Time     `json:"checked_at"`
}

// Health returns database health information for the /health endpoint.
// Unlike Ping, a failed probe is reported in the returned status rather
// than as an error, since an unhealthy database is a valid health-check
// result, not a call failure.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{CheckedAt: time.Now()}

	if err := c.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return status, nil
	}
	status.Healthy = true

	stats := c.db.Stats()
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	status.WaitCount = stats.WaitCount
	status.WaitDuration = stats.WaitDuration
	status.MaxOpenConnections = stats.MaxOpenConnections

	c.db.QueryRowContext(ctx, "SELECT version()").Scan(&status.Version)

	return status, nil
}

// migration is a single schema change read from the embedded migrations
// directory.
type migration struct {
	version string
	sql     string
}

// MigrateUp applies every migration under migrations/ that schema_migrations
// does not yet record, oldest version first. Each migration's own SQL is
// responsible for recording itself in schema_migrations (see
// migrations/0001_init.sql); MigrateUp only decides which files are
// still pending and runs them inside a transaction.
func (c *Client) MigrateUp(ctx context.Context) error {
	pending, err := c.pendingMigrations(ctx)
	if err != nil {
		return fmt.Errorf("database: determining pending migrations: %w", err)
	}

	if len(pending) == 0 {
		c.logger.Println("database: no pending migrations")
		return nil
	}

	c.logger.Printf("database: applying %d pending migration(s)", len(pending))
	for _, m := range pending {
		if err := c.runMigration(ctx, m); err != nil {
			return fmt.Errorf("database: migration %s failed: %w", m.version, err)
		}
		c.logger.Printf("database: applied %s", m.version)
	}

	return nil
}

// pendingMigrations diffs the embedded migration set against what
// schema_migrations already records. A missing schema_migrations table
// (first run against an empty database) is not an error: every
// migration is simply pending.
func (c *Client) pendingMigrations(ctx context.Context) ([]migration, error) {
	all, err := readEmbeddedMigrations()
	if err != nil {
		return nil, err
	}

	applied, err := c.appliedVersions(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return nil, err
		}
		applied = nil
	}

	var pending []migration
	for _, m := range all {
		if !applied[m.version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func (c *Client) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (c *Client) runMigration(ctx context.Context, m migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	return tx.Commit()
}

// readEmbeddedMigrations lists migrations/*.sql in version order. The
// directory is flat (no subdirectories), so a single ReadDir finds every
// migration; the result is then sorted by version.
func readEmbeddedMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	migrations := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, migration{
			version: strings.TrimSuffix(entry.Name(), ".sql"),
			sql:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })

	return migrations, nil
}
