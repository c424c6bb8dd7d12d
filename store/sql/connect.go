package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	marketplacemigrations "github.com/goliatone/go-marketplace/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	defaultPingTimeout = 5 * time.Second
)

// ConnectConfig describes one database connection the stores run against.
type ConnectConfig struct {
	Driver         string
	DSN            string
	Debug          bool
	PingTimeout    time.Duration
	OtelIdentifier string
}

type persistenceConfig struct {
	cfg ConnectConfig
}

func (c persistenceConfig) GetDebug() bool {
	return c.cfg.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.cfg.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.cfg.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.cfg.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return c.cfg.PingTimeout
}

func (c persistenceConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.cfg.OtelIdentifier) == "" {
		return "go-marketplace"
	}
	return c.cfg.OtelIdentifier
}

// Connect opens the database, registers the bundled migrations for the
// matching dialect, and runs them before handing the client back.
func Connect(ctx context.Context, cfg ConnectConfig) (*persistence.Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))
	if driver == "" {
		driver = DriverPostgres
	}
	if driver == "sqlite" {
		driver = DriverSQLite
	}
	cfg.Driver = driver
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: connection dsn is required")
	}

	var dialect schema.Dialect
	var migrationDialect string
	switch driver {
	case DriverPostgres:
		dialect = pgdialect.New()
		migrationDialect = marketplacemigrations.DialectPostgres
	case DriverSQLite:
		dialect = sqlitedialect.New()
		migrationDialect = marketplacemigrations.DialectSQLite
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s connection: %w", driver, err)
	}
	if driver == DriverSQLite {
		// Shared in-memory SQLite databases vanish once the last
		// connection closes.
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{cfg: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	_, err = marketplacemigrations.Register(ctx, func(_ context.Context, registered string, _ string, fsys fs.FS) error {
		if registered != migrationDialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, marketplacemigrations.WithValidationTargets(migrationDialect))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}

	return client, nil
}
