// Package migrations embeds the ledger schema for PostgreSQL and SQLite and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Dialect selects the schema variant.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) goose() (goose.Dialect, error) {
	switch d {
	case Postgres:
		return goose.DialectPostgres, nil
	case SQLite:
		return goose.DialectSQLite3, nil
	}
	return "", fmt.Errorf("unknown migration dialect %q", d)
}

// Up applies every pending migration and returns the resulting schema version.
func Up(ctx context.Context, db *sql.DB, d Dialect) (int64, error) {
	gd, err := d.goose()
	if err != nil {
		return 0, err
	}
	sub, err := fs.Sub(files, string(d))
	if err != nil {
		return 0, fmt.Errorf("open %s migrations: %w", d, err)
	}
	p, err := goose.NewProvider(gd, db, sub)
	if err != nil {
		return 0, fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return 0, fmt.Errorf("apply %s migrations: %w", d, err)
	}
	return p.GetDBVersion(ctx)
}
