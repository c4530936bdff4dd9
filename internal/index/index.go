// Package index persists the results of previous generation runs: which
// task identifier was produced for a given index route, and the label →
// identifier maps of past decisions. The optimizer's index-search strategy
// reads it to replace tasks whose artifacts still exist.
package index

import (
	"context"
	"time"
)

// Entry records one indexed task: a route names the artifact namespace, the
// identifier points at the task that produced it, and ExpiresAt bounds how
// long the artifact can be trusted.
type Entry struct {
	Route      string
	TaskID     string
	Label      string
	DecisionID string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Store is the persistence contract for indexed tasks and decision
// identifier maps. Implementations must be safe for concurrent use.
type Store interface {
	// Insert records an entry, superseding any previous entry on the same
	// route.
	Insert(ctx context.Context, entry *Entry) error

	// Lookup returns the newest entry on the route. A missing route yields
	// an ErrCodeIndex not-found error.
	Lookup(ctx context.Context, route string) (*Entry, error)

	// SaveIDs persists a decision's label → task identifier map.
	SaveIDs(ctx context.Context, decisionID string, ids map[string]string) error

	// LoadIDs returns a decision's persisted identifier map. An unknown
	// decision yields an empty map.
	LoadIDs(ctx context.Context, decisionID string) (map[string]string, error)

	// Prune deletes entries that expired before the given instant and
	// returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
