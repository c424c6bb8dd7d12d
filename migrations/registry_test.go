package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	marketplace "github.com/goliatone/go-marketplace"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func TestNotificationMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := marketplace.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/20260301000001_create_marketplace_notifications.up.sql",
		"data/sql/migrations/20260301000001_create_marketplace_notifications.down.sql",
		"data/sql/migrations/sqlite/20260301000001_create_marketplace_notifications.up.sql",
		"data/sql/migrations/sqlite/20260301000001_create_marketplace_notifications.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestRateLimitStateMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := marketplace.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/20260301000002_create_marketplace_rate_limit_state.up.sql",
		"data/sql/migrations/20260301000002_create_marketplace_rate_limit_state.down.sql",
		"data/sql/migrations/sqlite/20260301000002_create_marketplace_rate_limit_state.up.sql",
		"data/sql/migrations/sqlite/20260301000002_create_marketplace_rate_limit_state.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteNotificationMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-notifications?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := marketplace.GetCoreMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	if err := execSQLMigration(
		context.Background(),
		db,
		sqliteMigrations,
		"20260301000001_create_marketplace_notifications.up.sql",
	); err != nil {
		t.Fatalf("apply notifications migration up: %v", err)
	}

	insertStatement := `
		INSERT INTO marketplace_notifications (
			id,
			tenant_id,
			event_type,
			resource_id,
			occurred_at,
			dedupe_key,
			status,
			attempts,
			last_error,
			created_at,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"ntf-1",
		"tenant-a",
		"Order",
		555,
		"2026-03-14T09:26:53Z",
		"tenant-a:order:555:2026-03-14T09:26:53Z",
		"pending",
		0,
		"",
		"2026-03-14T09:26:53Z",
		"2026-03-14T09:26:53Z",
	); err != nil {
		t.Fatalf("insert notification: %v", err)
	}

	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"ntf-2",
		"tenant-a",
		"Order",
		555,
		"2026-03-14T09:26:53Z",
		"tenant-a:order:555:2026-03-14T09:26:53Z",
		"pending",
		0,
		"",
		"2026-03-14T09:27:00Z",
		"2026-03-14T09:27:00Z",
	); err == nil {
		t.Fatalf("expected dedupe key unique violation")
	}

	if err := execSQLMigration(
		context.Background(),
		db,
		sqliteMigrations,
		"20260301000001_create_marketplace_notifications.down.sql",
	); err != nil {
		t.Fatalf("apply notifications migration down: %v", err)
	}

	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"marketplace_notifications",
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migration: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected marketplace_notifications to be dropped after down migration")
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
