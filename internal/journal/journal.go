// Package journal persists a local record of executed requests. The journal
// is observability-only: writes are best-effort and readers (the status API,
// the CLI) tolerate it being disabled.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entry is one executed request.
type Entry struct {
	RequestID string
	Name      string
	Worker    string
	Outcome   string
	Error     string
	ErrorID   string
	StartedAt time.Time
	Duration  time.Duration
}

type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// DB exposes the underlying handle for read-side consumers (inspect, CLI).
func (j *Journal) DB() *sql.DB {
	return j.db
}

// Record appends one entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.RequestID == "" {
		return fmt.Errorf("request id is empty")
	}
	if e.Outcome == "" {
		return fmt.Errorf("outcome is empty")
	}

	var errVal, errIDVal any
	if e.Error != "" {
		errVal = e.Error
	}
	if e.ErrorID != "" {
		errIDVal = e.ErrorID
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO request_log(request_id, name, worker, outcome, error, error_id, started_at, duration_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, e.RequestID, e.Name, e.Worker, e.Outcome, errVal, errIDVal,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT request_id, name, worker, outcome, error, error_id, started_at, duration_ms
FROM request_log
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query request_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			errS       sql.NullString
			errIDS     sql.NullString
			startedAtS string
			durationMS int64
		)
		if err := rows.Scan(&e.RequestID, &e.Name, &e.Worker, &e.Outcome, &errS, &errIDS, &startedAtS, &durationMS); err != nil {
			return nil, fmt.Errorf("scan request_log: %w", err)
		}
		if errS.Valid {
			e.Error = errS.String
		}
		if errIDS.Valid {
			e.ErrorID = errIDS.String
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
			e.StartedAt = t
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
