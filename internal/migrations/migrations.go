// Package migrations embeds the goose SQL migrations.
package migrations

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var files embed.FS

const dir = "sql"

func prepare() error {
	goose.SetBaseFS(files)
	return goose.SetDialect("postgres")
}

// Up applies all pending migrations.
func Up(db *sql.DB) error {
	if err := prepare(); err != nil {
		return err
	}
	return goose.Up(db, dir)
}

// Down rolls back the latest migration.
func Down(db *sql.DB) error {
	if err := prepare(); err != nil {
		return err
	}
	return goose.Down(db, dir)
}

// Version reports the current schema version.
func Version(db *sql.DB) (int64, error) {
	if err := prepare(); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
