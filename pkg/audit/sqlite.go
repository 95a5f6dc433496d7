package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sidekicklabs/sidekick/pkg/plan"
)

const schema = `
CREATE TABLE IF NOT EXISTS phase_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL,
	at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phase_events_plan ON phase_events(plan_id, id);

CREATE TABLE IF NOT EXISTS tool_executions (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL,
	step_id TEXT NOT NULL,
	tool TEXT NOT NULL,
	outcome TEXT NOT NULL,
	payload TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_executions_plan ON tool_executions(plan_id, started_at);
`

// SQLiteSink persists audit records in SQLite.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (and bootstraps) the audit database at dsn. Use
// ":memory:" for an ephemeral store.
func NewSQLiteSink(dsn string) (*SQLiteSink, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create audit directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	// WAL lets readers observe a turn while the engine is appending.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap audit schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) AppendEvent(ctx context.Context, ev plan.PhaseEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO phase_events (plan_id, kind, payload, at) VALUES (?, ?, ?, ?)`,
		ev.PlanID, string(ev.Kind), string(payload), ev.At.UTC())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteSink) AppendExecution(ctx context.Context, ex *plan.ToolExecution) error {
	payload, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tool_executions
		 (id, plan_id, step_id, tool, outcome, payload, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.PlanID, ex.StepID, ex.Tool, string(ex.Outcome),
		string(payload), ex.StartedAt.UTC(), ex.EndedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Events(ctx context.Context, planID string) ([]plan.PhaseEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM phase_events WHERE plan_id = ? ORDER BY id`, planID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []plan.PhaseEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev plan.PhaseEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Executions(ctx context.Context, planID string) ([]*plan.ToolExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM tool_executions WHERE plan_id = ? ORDER BY started_at`, planID)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []*plan.ToolExecution
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		var ex plan.ToolExecution
		if err := json.Unmarshal([]byte(payload), &ex); err != nil {
			return nil, fmt.Errorf("decode execution: %w", err)
		}
		out = append(out, &ex)
	}
	return out, rows.Err()
}

// RecentPlans lists distinct plan IDs with activity since cutoff, newest
// first.
func (s *SQLiteSink) RecentPlans(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan_id, MAX(at) AS latest FROM phase_events
		 WHERE at >= ? GROUP BY plan_id ORDER BY latest DESC LIMIT ?`,
		cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent plans: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var planID, latest string
		if err := rows.Scan(&planID, &latest); err != nil {
			return nil, fmt.Errorf("scan plan id: %w", err)
		}
		out = append(out, planID)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
