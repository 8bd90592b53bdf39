package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Overview summarizes counter activity over a trailing time window.
type Overview struct {
	WindowSeconds int64 `json:"window_seconds"`
	TotalOps      int64 `json:"total_ops"`
	Increments    int64 `json:"increments"`
	Queries       int64 `json:"queries"`
	Errors        int64 `json:"errors"`
	UniqueKeys    int64 `json:"unique_keys"`
}

// TopKey is a logical counter key ranked by operation volume.
type TopKey struct {
	Key        string `json:"key"`
	Ops        int64  `json:"ops"`
	LastCount  int64  `json:"last_count"`
	LastSeenAt string `json:"last_seen_at"`
}

// QueryService provides read-only views over the recorded counter events.
type QueryService struct {
	db *sql.DB
}

// NewQueryService constructs an audit query service.
func NewQueryService(db *sql.DB) (*QueryService, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: query service requires database connection")
	}

	return &QueryService{db: db}, nil
}

// GetOverview returns aggregate counter activity for a trailing window.
func (s *QueryService) GetOverview(ctx context.Context, window time.Duration) (Overview, error) {
	if window <= 0 {
		return Overview{}, fmt.Errorf("audit: window must be greater than zero")
	}

	since := time.Now().Add(-window)

	out := Overview{WindowSeconds: int64(window.Seconds())}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) AS total_ops,
			COALESCE(SUM(CASE WHEN op = 'increment' THEN 1 ELSE 0 END), 0) AS increments,
			COALESCE(SUM(CASE WHEN op = 'query' THEN 1 ELSE 0 END), 0) AS queries,
			COALESCE(SUM(CASE WHEN status <> 'ok' THEN 1 ELSE 0 END), 0) AS errors,
			COUNT(DISTINCT key) AS unique_keys
		FROM counter_events
		WHERE timestamp >= $1
	`, since).Scan(
		&out.TotalOps,
		&out.Increments,
		&out.Queries,
		&out.Errors,
		&out.UniqueKeys,
	)
	if err != nil {
		return Overview{}, fmt.Errorf("audit: overview query failed: %w", err)
	}

	return out, nil
}

// GetTopKeys returns the most active logical counter keys in a window.
func (s *QueryService) GetTopKeys(ctx context.Context, window time.Duration, limit int) ([]TopKey, error) {
	if window <= 0 {
		return nil, fmt.Errorf("audit: window must be greater than zero")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("audit: limit must be greater than zero")
	}

	since := time.Now().Add(-window)

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			key,
			COUNT(*) AS ops,
			MAX(count) AS last_count,
			MAX(timestamp)::text AS last_seen_at
		FROM counter_events
		WHERE timestamp >= $1
		GROUP BY key
		ORDER BY ops DESC, key ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: top-keys query failed: %w", err)
	}
	defer rows.Close()

	out := make([]TopKey, 0, limit)
	for rows.Next() {
		var item TopKey
		if scanErr := rows.Scan(&item.Key, &item.Ops, &item.LastCount, &item.LastSeenAt); scanErr != nil {
			return nil, fmt.Errorf("audit: failed scanning top-keys row: %w", scanErr)
		}
		out = append(out, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("audit: top-keys rows iteration failed: %w", rowsErr)
	}

	return out, nil
}
