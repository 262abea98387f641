package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

// RunRecord is one row of run history.
type RunRecord struct {
	ID         string    `json:"id"`
	Requested  []string  `json:"requested"`
	Succeeded  bool      `json:"succeeded"`
	Bailed     bool      `json:"bailed"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Tasks      int       `json:"tasks"`
	Failed     int       `json:"failed"`
}

// TaskRecord is one task result from run history.
type TaskRecord struct {
	RunID      string         `json:"run_id"`
	Task       string         `json:"task"`
	Batch      int            `json:"batch"`
	Runner     models.Backend `json:"runner"`
	Succeeded  bool           `json:"succeeded"`
	Attempts   int            `json:"attempts"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
}

// Run CRUD operations

// SaveRun stores a run summary and its results.
// Saving the same RunID again replaces the stored run.
func (db *DB) SaveRun(s *models.RunSummary) error {
	if s == nil || s.RunID == "" {
		return fmt.Errorf("save run: summary has no run id")
	}
	requested, err := json.Marshal(s.Requested)
	if err != nil {
		return fmt.Errorf("marshal requested: %w", err)
	}
	summary, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM results WHERE run_id = ?`, s.RunID); err != nil {
			return fmt.Errorf("clear results: %w", err)
		}
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO runs (id, requested, succeeded, bailed, started_at, duration_ms, summary)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, s.RunID, string(requested), s.Succeeded, s.Bailed, formatTime(s.StartedAt), s.DurationMs, string(summary))
		if err != nil {
			return fmt.Errorf("save run: %w", err)
		}

		for _, r := range s.Results {
			_, err := tx.Exec(`
				INSERT INTO results (run_id, task, batch, runner, succeeded, attempts, duration_ms, error)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, s.RunID, r.TaskName, r.Batch, string(r.RunnerUsed), r.Succeeded, len(r.Attempts), r.DurationMs, nullString(r.Error))
			if err != nil {
				return fmt.Errorf("save result %s: %w", r.TaskName, err)
			}
		}
		return nil
	})
}

// GetRun retrieves a full run summary by ID. Returns nil when not found.
func (db *DB) GetRun(id string) (*models.RunSummary, error) {
	row := db.QueryRow(`SELECT summary FROM runs WHERE id = ?`, id)

	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	var s models.RunSummary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &s, nil
}

// ListRuns returns the most recent runs, newest first. A limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT r.id, r.requested, r.succeeded, r.bailed, r.started_at, r.duration_ms,
			COUNT(res.task), COALESCE(SUM(CASE WHEN res.succeeded = 0 THEN 1 ELSE 0 END), 0)
		FROM runs r
		LEFT JOIN results res ON res.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var requested, startedAt string
		if err := rows.Scan(&rec.ID, &requested, &rec.Succeeded, &rec.Bailed, &startedAt, &rec.DurationMs, &rec.Tasks, &rec.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(requested), &rec.Requested); err != nil {
			return nil, fmt.Errorf("decode requested tasks: %w", err)
		}
		rec.StartedAt, _ = parseTime(startedAt)
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// ListTaskResults returns the most recent results for one task, newest first.
func (db *DB) ListTaskResults(task string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT res.run_id, res.task, res.batch, COALESCE(res.runner, ''), res.succeeded,
			res.attempts, res.duration_ms, COALESCE(res.error, ''), r.started_at
		FROM results res
		JOIN runs r ON r.id = res.run_id
		WHERE res.task = ?
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?
	`, task, limit)
	if err != nil {
		return nil, fmt.Errorf("list task results: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var runner, startedAt string
		if err := rows.Scan(&rec.RunID, &rec.Task, &rec.Batch, &runner, &rec.Succeeded,
			&rec.Attempts, &rec.DurationMs, &rec.Error, &startedAt); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		rec.Runner = models.Backend(runner)
		rec.StartedAt, _ = parseTime(startedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
