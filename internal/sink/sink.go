// Package sink implements the typed persistence layer spec.md §6 names
// but leaves unspecified: a Sink interface with two implementations, an
// in-process memory sink (default) and a Postgres sink. The repository
// shape — database/sql with lib/pq placeholders, JSON-marshalled nested
// columns — is grounded on the sibling sample-repos/go-service repo's
// OrderRepository in the same source tree as the teacher.
package sink

import (
	"context"
	"errors"

	"github.com/reconscan/reconscan/internal/scheduler"
)

// ErrNotFound is returned by GetScan when no scan matches the given ID.
var ErrNotFound = errors.New("sink: scan not found")

// Sink is the persistence boundary from spec.md §6's "Persisted state"
// table: scans(id, target, status, user_id?, created_at, completed_at?,
// config_json) and scan_results(id, scan_id, port, state, service,
// version?, banner?, risk?, metadata_json, created_at).
type Sink interface {
	SaveScan(ctx context.Context, record scheduler.ScanRecord) error
	UpdateScan(ctx context.Context, record scheduler.ScanRecord) error
	SaveResults(ctx context.Context, scanID string, record scheduler.ScanRecord) error
	ListScans(ctx context.Context, requestedBy string, limit int) ([]scheduler.ScanRecord, error)
	GetScan(ctx context.Context, scanID string) (scheduler.ScanRecord, error)
}

// Migrator is implemented by sinks whose schema must be prepared before
// use. postgresSink is the only implementation; memorySink needs none.
type Migrator interface {
	Migrate(ctx context.Context) error
}
