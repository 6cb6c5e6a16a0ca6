package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
)

// RunHistory records one row per collect invocation.
type RunHistory struct {
	db *sql.DB
}

var _ ports.RunHistory = (*RunHistory)(nil)

func Open(ctx context.Context, path string) (*RunHistory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod history db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &RunHistory{db: db}, nil
}

func (h *RunHistory) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *RunHistory) Record(ctx context.Context, run domain.RunRecord) (int64, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin record run: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO runs(started_at, finished_at, outcome, error, missing_calls, task_count, agent_count, uploaded)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, ts(run.StartedAt), ts(run.FinishedAt), string(run.Outcome), run.Error, run.MissingCalls, run.TaskCount, run.AgentCount, boolToInt(run.Uploaded))
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("read run id: %w", err)
	}

	for _, provider := range run.CooldownProviders {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO run_cooldowns(run_id, provider) VALUES (?, ?)`, id, provider); err != nil {
			tx.Rollback() //nolint:errcheck
			return 0, fmt.Errorf("insert run cooldown: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// Recent returns the latest runs, newest first.
func (h *RunHistory) Recent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := h.db.QueryContext(ctx, `
SELECT run_id, started_at, finished_at, outcome, error, missing_calls, task_count, agent_count, uploaded
FROM runs
ORDER BY started_at DESC, run_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord
	index := map[int64]int{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		index[run.ID] = len(runs)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	// Release the only connection before the cooldown query.
	rows.Close()
	if len(runs) == 0 {
		return runs, nil
	}

	if err := h.attachCooldowns(ctx, runs, index); err != nil {
		return nil, err
	}
	return runs, nil
}

func (h *RunHistory) attachCooldowns(ctx context.Context, runs []domain.RunRecord, index map[int64]int) error {
	oldest := runs[0].ID
	for _, run := range runs[1:] {
		oldest = min(oldest, run.ID)
	}

	rows, err := h.db.QueryContext(ctx, `SELECT run_id, provider FROM run_cooldowns WHERE run_id >= ? ORDER BY provider`, oldest)
	if err != nil {
		return fmt.Errorf("list run cooldowns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var provider string
		if err := rows.Scan(&id, &provider); err != nil {
			return fmt.Errorf("scan run cooldown: %w", err)
		}
		if i, ok := index[id]; ok {
			runs[i].CooldownProviders = append(runs[i].CooldownProviders, provider)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate run cooldowns: %w", err)
	}
	return nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (domain.RunRecord, error) {
	var (
		run        domain.RunRecord
		startedAt  string
		finishedAt string
		outcome    string
		uploaded   int
	)
	if err := scanner.Scan(&run.ID, &startedAt, &finishedAt, &outcome, &run.Error, &run.MissingCalls, &run.TaskCount, &run.AgentCount, &uploaded); err != nil {
		return domain.RunRecord{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if run.StartedAt, err = parseTS(startedAt); err != nil {
		return domain.RunRecord{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTS(finishedAt); err != nil {
		return domain.RunRecord{}, fmt.Errorf("parse finished_at: %w", err)
	}
	run.Outcome = domain.RunOutcome(outcome)
	run.Uploaded = uploaded != 0
	return run, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
