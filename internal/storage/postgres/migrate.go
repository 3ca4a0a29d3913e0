package postgres

import (
	"database/sql"
	"fmt"

	"github.com/joshu-sajeev/resumeflow/migrations"
	"github.com/pressly/goose/v3"
)

// Migrate applies the embedded goose migrations to db.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}

	return nil
}
