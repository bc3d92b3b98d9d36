package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"carebook/migrations"
)

// requiredTables must exist once every migration has run.
var requiredTables = []string{"records"}

// Apply runs any pending SQL migrations bundled with the binary and checks
// the resulting schema.
func Apply(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	goose.SetBaseFS(migrations.Files)
	goose.SetLogger(gooseSlogLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("migrate: goose up: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("migrate: read schema version: %w", err)
	}
	if err := verify(ctx, db.DB, requiredTables); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("schema up to date", "version", version)
	}
	return nil
}

func verify(ctx context.Context, db *sql.DB, tables []string) error {
	var missing []string
	for _, name := range tables {
		ok, err := tableExists(ctx, db, name)
		if err != nil {
			return fmt.Errorf("migrate: check table %s: %w", name, err)
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("migrate: missing tables after migration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	schema, table := splitTableName(name)
	query := `SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1)`
	args := []any{table}
	if schema != "" {
		query = `SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = $1 AND tablename = $2)`
		args = []any{schema, table}
	}

	var exists bool
	if err := db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func splitTableName(name string) (string, string) {
	schema, table, found := strings.Cut(name, ".")
	if !found {
		return "", name
	}
	return schema, table
}
