// Package history persists one row per answered batch search in
// PostgreSQL so past runs of a project can be listed.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/postgres"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

const schema = `
CREATE TABLE IF NOT EXISTS search_runs (
    id           BIGSERIAL PRIMARY KEY,
    project      TEXT        NOT NULL,
    segment      TEXT        NOT NULL,
    request_id   TEXT        NOT NULL DEFAULT '',
    queries      INTEGER     NOT NULL,
    returned     INTEGER     NOT NULL,
    cache_status TEXT        NOT NULL,
    latency_ms   BIGINT      NOT NULL,
    results      JSONB       NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS search_runs_project_created_idx
    ON search_runs (project, created_at DESC);
`

// Run is one answered batch.
type Run struct {
	ID          int64           `json:"id"`
	Project     string          `json:"project"`
	Segment     string          `json:"segment"`
	RequestID   string          `json:"request_id,omitempty"`
	Queries     int             `json:"queries"`
	Returned    int             `json:"returned"`
	CacheStatus string          `json:"cache_status"`
	LatencyMs   int64           `json:"latency_ms"`
	Results     []merger.Result `json:"results"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store reads and writes search_runs.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "history-store"),
	}
}

// EnsureSchema creates the table and index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("creating search_runs: %w", err)
		}
		return nil
	})
}

// Record inserts run and returns its id.
func (s *Store) Record(ctx context.Context, run Run) (int64, error) {
	results, err := encodeResults(run.Results)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO search_runs
		    (project, segment, request_id, queries, returned, cache_status, latency_ms, results)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		run.Project, run.Segment, run.RequestID, run.Queries, run.Returned,
		run.CacheStatus, run.LatencyMs, results,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("recording search run: %w", err)
	}
	s.logger.Debug("search run recorded", "id", id, "project", run.Project)
	return id, nil
}

// Recent returns project's latest runs, newest first.
func (s *Store) Recent(ctx context.Context, project string, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, segment, request_id, queries, returned, cache_status, latency_ms, results, created_at
		   FROM search_runs
		  WHERE project = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		project, ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("listing search runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		var results []byte
		if err := rows.Scan(&run.ID, &run.Project, &run.Segment, &run.RequestID, &run.Queries,
			&run.Returned, &run.CacheStatus, &run.LatencyMs, &results, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning search run: %w", err)
		}
		if err := json.Unmarshal(results, &run.Results); err != nil {
			s.logger.Warn("skipping corrupt search run", "id", run.ID, "error", err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ClampLimit maps a requested page size into [1, 200], defaulting to 20.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func encodeResults(results []merger.Result) ([]byte, error) {
	if results == nil {
		results = []merger.Result{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encoding results: %w", err)
	}
	return data, nil
}
