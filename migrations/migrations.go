// Package migrations embeds the SQL schema revisions for the match database
// and applies them through goose.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS exposes the embedded migration scripts to goose and to the migrate CLI.
//
//go:embed *.sql
var FS embed.FS

// Run brings db up to the newest embedded schema revision. It runs on every
// database open, so a fresh file and an already-current one are handled the
// same way.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("select dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}
