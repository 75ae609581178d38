package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/reconscan/reconscan/internal/detector"
	"github.com/reconscan/reconscan/internal/scheduler"
)

// listResultsConcurrency bounds how many resultsForScan queries run at
// once when hydrating a ListScans page, so a large limit doesn't open
// one connection per row against the pool.
const listResultsConcurrency = 8

// postgresSink persists scans/scan_results per spec.md §6, following the
// sibling OrderRepository's shape: database/sql with $n placeholders and
// JSON-marshalled nested columns for config/metadata.
type postgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens a connection pool and returns a Sink backed by
// Postgres. Callers own migrating the schema ahead of time.
func NewPostgresSink(dsn string) (Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &postgresSink{db: db}, nil
}

const scansSchema = `
CREATE TABLE IF NOT EXISTS scans (
	id TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	status TEXT NOT NULL,
	user_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	config_json JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS scans_user_created_idx ON scans (user_id, created_at);
CREATE INDEX IF NOT EXISTS scans_status_idx ON scans (status);

CREATE TABLE IF NOT EXISTS scan_results (
	id SERIAL PRIMARY KEY,
	scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	port INTEGER NOT NULL,
	state TEXT NOT NULL,
	service TEXT,
	version TEXT,
	banner TEXT,
	risk TEXT,
	metadata_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scan_results_scan_port_idx ON scan_results (scan_id, port);
`

// Migrate creates the scans/scan_results tables and their indexes if
// they do not already exist.
func (s *postgresSink) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, scansSchema)
	return err
}

func (s *postgresSink) SaveScan(ctx context.Context, record scheduler.ScanRecord) error {
	configJSON, err := json.Marshal(record.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal scan config: %w", err)
	}

	var userID sql.NullString
	if record.RequestedBy != "" {
		userID = sql.NullString{String: record.RequestedBy, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scans (id, target, status, user_id, created_at, completed_at, config_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at
	`, record.ScanID, record.Target, string(record.Status), userID, record.CreatedAt, record.CompletedAt, configJSON)
	if err != nil {
		return fmt.Errorf("failed to save scan: %w", err)
	}
	return nil
}

func (s *postgresSink) UpdateScan(ctx context.Context, record scheduler.ScanRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = $1, completed_at = $2 WHERE id = $3
	`, string(record.Status), record.CompletedAt, record.ScanID)
	if err != nil {
		return fmt.Errorf("failed to update scan: %w", err)
	}
	return nil
}

func (s *postgresSink) SaveResults(ctx context.Context, scanID string, record scheduler.ScanRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for _, pr := range record.Results {
		metadata, err := json.Marshal(portResultMetadata{
			Confidence:      pr.Confidence,
			Protocol:        pr.Protocol,
			CVSSScore:       pr.CVSSScore,
			Vulnerabilities: pr.Vulnerabilities,
			Recommendations: pr.Recommendations,
			TLS:             pr.TLS,
			HTTP:            pr.HTTP,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal result metadata: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO scan_results (scan_id, port, state, service, version, banner, risk, metadata_json, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, scanID, pr.Port, string(pr.State), pr.Service, nullIfEmpty(pr.Version), nullIfEmpty(pr.Banner), string(pr.Risk), metadata, now)
		if err != nil {
			return fmt.Errorf("failed to save scan result: %w", err)
		}
	}

	return tx.Commit()
}

func (s *postgresSink) ListScans(ctx context.Context, requestedBy string, limit int) ([]scheduler.ScanRecord, error) {
	var rows *sql.Rows
	var err error

	if requestedBy != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, target, status, user_id, created_at, completed_at, config_json
			FROM scans WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
		`, requestedBy, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, target, status, user_id, created_at, completed_at, config_json
			FROM scans ORDER BY created_at DESC LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var out []scheduler.ScanRecord
	for rows.Next() {
		rec, err := scanFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Each row's results come from a separate query; fan them out
	// (bounded) instead of hydrating the page one round trip at a time.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listResultsConcurrency)
	for i := range out {
		i := i
		g.Go(func() error {
			results, err := s.resultsForScan(gctx, out[i].ScanID)
			if err != nil {
				return err
			}
			out[i].Results = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to hydrate scan results: %w", err)
	}

	return out, nil
}

func (s *postgresSink) GetScan(ctx context.Context, scanID string) (scheduler.ScanRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target, status, user_id, created_at, completed_at, config_json
		FROM scans WHERE id = $1
	`, scanID)

	rec, err := scanFromRow(row)
	if err == sql.ErrNoRows {
		return scheduler.ScanRecord{}, ErrNotFound
	}
	if err != nil {
		return scheduler.ScanRecord{}, err
	}

	results, err := s.resultsForScan(ctx, scanID)
	if err != nil {
		return scheduler.ScanRecord{}, err
	}
	rec.Results = results

	return rec, nil
}

func (s *postgresSink) resultsForScan(ctx context.Context, scanID string) ([]detector.PortResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT port, state, service, version, banner, risk, metadata_json
		FROM scan_results WHERE scan_id = $1 ORDER BY port
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan results: %w", err)
	}
	defer rows.Close()

	var out []detector.PortResult
	for rows.Next() {
		var pr detector.PortResult
		var version, banner sql.NullString
		var metadataJSON []byte

		if err := rows.Scan(&pr.Port, &pr.State, &pr.Service, &version, &banner, &pr.Risk, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		pr.Version = version.String
		pr.Banner = banner.String

		var meta portResultMetadata
		if err := json.Unmarshal(metadataJSON, &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result metadata: %w", err)
		}
		pr.Confidence = meta.Confidence
		pr.Protocol = meta.Protocol
		pr.CVSSScore = meta.CVSSScore
		pr.Vulnerabilities = meta.Vulnerabilities
		pr.Recommendations = meta.Recommendations
		pr.TLS = meta.TLS
		pr.HTTP = meta.HTTP

		out = append(out, pr)
	}
	return out, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanFromRow.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFromRow(row rowScanner) (scheduler.ScanRecord, error) {
	var rec scheduler.ScanRecord
	var userID sql.NullString
	var configJSON []byte
	var status string

	err := row.Scan(&rec.ScanID, &rec.Target, &status, &userID, &rec.CreatedAt, &rec.CompletedAt, &configJSON)
	if err != nil {
		return scheduler.ScanRecord{}, err
	}

	rec.Status = scheduler.Status(status)
	rec.RequestedBy = userID.String

	if err := json.Unmarshal(configJSON, &rec.Config); err != nil {
		return scheduler.ScanRecord{}, fmt.Errorf("failed to unmarshal scan config: %w", err)
	}

	return rec, nil
}

// portResultMetadata is the JSON payload stored in scan_results.metadata_json,
// holding everything about a PortResult beyond its flat scalar columns.
type portResultMetadata struct {
	Confidence      float64            `json:"confidence"`
	Protocol        string             `json:"protocol"`
	CVSSScore       float64            `json:"cvss_score"`
	Vulnerabilities []string           `json:"vulnerabilities,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	TLS             *detector.TLSInfo  `json:"tls,omitempty"`
	HTTP            *detector.HTTPInfo `json:"http,omitempty"`
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
