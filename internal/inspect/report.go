// Package inspect renders per-request reports from the request journal. A
// request id can appear more than once when the origin redelivers, so the
// report lists every recorded attempt.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Report is the structured JSON representation of a request report.
type Report struct {
	RequestID   string    `json:"request_id"`
	Name        string    `json:"name"`
	Attempts    int       `json:"attempts"`
	LastOutcome string    `json:"last_outcome"`
	Entries     []Attempt `json:"entries"`
}

// Attempt is one recorded execution of the request.
type Attempt struct {
	Seq        int    `json:"seq"`
	Worker     string `json:"worker"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	ErrorID    string `json:"error_id,omitempty"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
}

// BuildReport renders a terminal-friendly report for a request.
func BuildReport(ctx context.Context, db *sql.DB, requestID string) (string, error) {
	report, err := gatherReportData(ctx, db, requestID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Request Report\n")
	fmt.Fprintf(&out, "Request ID  : %s\n", report.RequestID)
	fmt.Fprintf(&out, "Name        : %s\n", report.Name)
	fmt.Fprintf(&out, "Attempts    : %d\n", report.Attempts)
	fmt.Fprintf(&out, "Last outcome: %s\n", report.LastOutcome)
	fmt.Fprintf(&out, "\n")

	for _, a := range report.Entries {
		fmt.Fprintf(&out, "[%d] %s on %s\n", a.Seq, a.Outcome, a.Worker)
		fmt.Fprintf(&out, "    started  : %s\n", a.StartedAt)
		fmt.Fprintf(&out, "    duration : %s\n", time.Duration(a.DurationMS)*time.Millisecond)
		if a.Error != "" {
			fmt.Fprintf(&out, "    error    : %s\n", a.Error)
		}
		if a.ErrorID != "" {
			fmt.Fprintf(&out, "    error_id : %s\n", a.ErrorID)
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON request report.
func BuildJSONReport(ctx context.Context, db *sql.DB, requestID string) (string, error) {
	report, err := gatherReportData(ctx, db, requestID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, db *sql.DB, requestID string) (*Report, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	rows, err := db.QueryContext(ctx, `
SELECT name, worker, outcome, error, error_id, started_at, duration_ms
FROM request_log
WHERE request_id = ?
ORDER BY started_at ASC, rowid ASC;
`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query request %q: %w", requestID, err)
	}
	defer rows.Close()

	report := &Report{RequestID: requestID, Entries: make([]Attempt, 0)}
	for rows.Next() {
		var (
			a      Attempt
			name   string
			errS   sql.NullString
			errIDS sql.NullString
		)
		if err := rows.Scan(&name, &a.Worker, &a.Outcome, &errS, &errIDS, &a.StartedAt, &a.DurationMS); err != nil {
			return nil, fmt.Errorf("scan request %q: %w", requestID, err)
		}
		if errS.Valid {
			a.Error = errS.String
		}
		if errIDS.Valid {
			a.ErrorID = errIDS.String
		}
		a.Seq = len(report.Entries) + 1
		report.Name = name
		report.LastOutcome = a.Outcome
		report.Entries = append(report.Entries, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read request %q: %w", requestID, err)
	}

	if len(report.Entries) == 0 {
		return nil, fmt.Errorf("request %q not found in journal", requestID)
	}
	report.Attempts = len(report.Entries)
	return report, nil
}
