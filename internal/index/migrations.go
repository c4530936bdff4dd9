package index

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	"github.com/latticeci/lattice/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var migration001 string

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{Version: 1, Name: "initial_schema", SQL: migration001},
}

// runMigrations creates the schema_version table and applies any pending
// migrations.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return schema.NewError(schema.ErrCodeIndex, "create schema_version").WithCause(err)
	}

	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return schema.NewError(schema.ErrCodeIndex, "read schema_version").WithCause(err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeIndex, "begin migration %d", m.Version).WithCause(err)
		}
		for _, stmt := range splitStatements(m.SQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return schema.NewErrorf(schema.ErrCodeIndex, "migration %d (%s)", m.Version, m.Name).WithCause(err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			_ = tx.Rollback()
			return schema.NewErrorf(schema.ErrCodeIndex, "record migration %d", m.Version).WithCause(err)
		}
		if err := tx.Commit(); err != nil {
			return schema.NewErrorf(schema.ErrCodeIndex, "commit migration %d", m.Version).WithCause(err)
		}
	}
	return nil
}

// splitStatements splits a SQL script on semicolons, skipping pure comment
// blocks.
func splitStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		hasCode := false
		for _, l := range strings.Split(s, "\n") {
			l = strings.TrimSpace(l)
			if l != "" && !strings.HasPrefix(l, "--") {
				hasCode = true
				break
			}
		}
		if hasCode {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
