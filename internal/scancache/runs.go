package scancache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run records one affected-test computation.
type Run struct {
	ID        string        `json:"id" yaml:"id" toml:"id"`
	StartedAt time.Time     `json:"startedAt" yaml:"startedAt" toml:"startedAt"`
	Duration  time.Duration `json:"durationNs" yaml:"durationNs" toml:"durationNs"`
	Entries   int           `json:"entries" yaml:"entries" toml:"entries"`
	Changed   int           `json:"changed" yaml:"changed" toml:"changed"`
	Affected  int           `json:"affected" yaml:"affected" toml:"affected"`
	Modules   int           `json:"modules" yaml:"modules" toml:"modules"`
	Errors    int           `json:"errors" yaml:"errors" toml:"errors"`
}

// maxRuns bounds the run history.
const maxRuns = 200

// RecordRun stores r, assigning an ID when it has none, and trims old runs.
func (c *Cache) RecordRun(r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := c.conn.Exec(
		`INSERT INTO runs (id, started_at, duration_ms, entries, changed, affected, modules, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UnixNano(), r.Duration.Milliseconds(),
		r.Entries, r.Changed, r.Affected, r.Modules, r.Errors,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	_, err = c.conn.Exec(
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)`,
		maxRuns,
	)
	if err != nil {
		return "", fmt.Errorf("failed to trim runs: %w", err)
	}
	return r.ID, nil
}

// Runs returns up to limit runs, newest first.
func (c *Cache) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = maxRuns
	}
	rows, err := c.conn.Query(
		`SELECT id, started_at, duration_ms, entries, changed, affected, modules, errors
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, ms int64
		if err := rows.Scan(&r.ID, &started, &ms, &r.Entries, &r.Changed, &r.Affected, &r.Modules, &r.Errors); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
