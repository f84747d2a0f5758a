// Package database runs the goose migration set against whichever backend
// the active profile selected.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// Migrate applies every pending migration in dir against db using dialect
// ("postgres" or "sqlite3"). Called once at startup for both profiles —
// lite's embedded SQLite file needs its schema created exactly the same
// way standard's Postgres does.
func Migrate(db *sql.DB, dialect, dir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("setting goose dialect %q: %w", dialect, err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("running migrations from %s: %w", dir, err)
	}
	logger.Info("database migrations applied", "dialect", dialect, "dir", dir)
	return nil
}
