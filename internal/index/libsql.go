package index

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/latticeci/lattice/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path. The path should
// be a file URI, e.g. "file:/path/to/index.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeIndex, "open libsql").WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow it is.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies all pending schema migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *LibSQLStore) Insert(ctx context.Context, entry *Entry) error {
	if entry.Route == "" || entry.TaskID == "" {
		return schema.NewError(schema.ErrCodeIndex, "index entry needs a route and a task id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_entries (route, task_id, label, decision_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(route) DO UPDATE SET
		   task_id=excluded.task_id, label=excluded.label, decision_id=excluded.decision_id,
		   expires_at=excluded.expires_at, created_at=excluded.created_at`,
		entry.Route, entry.TaskID, entry.Label, entry.DecisionID,
		entry.ExpiresAt.UTC(), timeOrNow(entry.CreatedAt),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeIndex, "insert route %q", entry.Route).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) Lookup(ctx context.Context, route string) (*Entry, error) {
	e := &Entry{}
	err := s.db.QueryRowContext(ctx,
		`SELECT route, task_id, label, decision_id, expires_at, created_at
		 FROM index_entries WHERE route = ?`, route,
	).Scan(&e.Route, &e.TaskID, &e.Label, &e.DecisionID, &e.ExpiresAt, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("route", route)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeIndex, "lookup route %q", route).WithCause(err)
	}
	return e, nil
}

func (s *LibSQLStore) SaveIDs(ctx context.Context, decisionID string, ids map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewError(schema.ErrCodeIndex, "begin tx").WithCause(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM decision_ids WHERE decision_id = ?`, decisionID); err != nil {
		return schema.NewErrorf(schema.ErrCodeIndex, "clear decision %q", decisionID).WithCause(err)
	}
	for label, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO decision_ids (decision_id, label, task_id) VALUES (?, ?, ?)`,
			decisionID, label, id); err != nil {
			return schema.NewErrorf(schema.ErrCodeIndex, "save decision %q", decisionID).WithCause(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeIndex, "commit decision %q", decisionID).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) LoadIDs(ctx context.Context, decisionID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, task_id FROM decision_ids WHERE decision_id = ?`, decisionID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeIndex, "load decision %q", decisionID).WithCause(err)
	}
	defer rows.Close()

	ids := make(map[string]string)
	for rows.Next() {
		var label, id string
		if err := rows.Scan(&label, &id); err != nil {
			return nil, err
		}
		ids[label] = id
	}
	return ids, rows.Err()
}

func (s *LibSQLStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM index_entries WHERE expires_at < ?`, before.UTC())
	if err != nil {
		return 0, schema.NewError(schema.ErrCodeIndex, "prune entries").WithCause(err)
	}
	return res.RowsAffected()
}

func notFound(resource, id string) *schema.LatticeError {
	return schema.NewErrorf(schema.ErrCodeIndex, "%s %q not found", resource, id).
		WithDetails(map[string]any{"not_found": true})
}

// IsNotFound reports whether the error is an index miss rather than a
// storage failure.
func IsNotFound(err error) bool {
	var lerr *schema.LatticeError
	if !errors.As(err, &lerr) || lerr.Code != schema.ErrCodeIndex {
		return false
	}
	miss, _ := lerr.Details["not_found"].(bool)
	return miss
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
