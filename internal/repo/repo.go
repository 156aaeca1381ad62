package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"techdebtsim/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,started_at,ended_at,seed,last_step,settings_json,constants_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run     domain.Run
		started string
		ended   sql.NullString
		seed    sql.NullInt64
	)
	err := row.Scan(&run.ID, &started, &ended, &seed, &run.LastStep, &run.SettingsJSON, &run.ConstantsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return run, err
	}
	if ended.Valid {
		t, err := parseTime(ended.String)
		if err != nil {
			return run, err
		}
		run.EndedAt = &t
	}
	if seed.Valid {
		v := uint64(seed.Int64)
		run.Seed = &v
	}
	return run, nil
}

func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO runs(id,started_at,seed,last_step,settings_json,constants_json) VALUES (?,?,?,?,?,?)`,
		run.ID, formatTime(run.StartedAt), nullableSeed(run.Seed), run.LastStep, run.SettingsJSON, run.ConstantsJSON)
	return err
}

// FinishRun stamps ended_at once; finishing an ended run is a no-op.
func (r Repo) FinishRun(ctx context.Context, id string, endedAt time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET ended_at=COALESCE(ended_at,?) WHERE id=?`, formatTime(endedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateRunStepTx(ctx context.Context, tx *sql.Tx, id string, step int) error {
	_, err := tx.ExecContext(ctx, `UPDATE runs SET last_step=MAX(last_step,?) WHERE id=?`, step, id)
	return err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// LatestRun returns the most recently started run.
func (r Repo) LatestRun(ctx context.Context) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`))
}

// ResolveRun accepts a full id, a unique id prefix or "latest".
func (r Repo) ResolveRun(ctx context.Context, ref string) (domain.Run, error) {
	if ref == "" || ref == "latest" {
		return r.LatestRun(ctx)
	}
	if run, err := r.GetRun(ctx, ref); err == nil || !errors.Is(err, ErrNotFound) {
		return run, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id LIKE ? LIMIT 2`, ref+"%")
	if err != nil {
		return domain.Run{}, err
	}
	defer rows.Close()
	var matches []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return domain.Run{}, err
		}
		matches = append(matches, run)
	}
	if err := rows.Err(); err != nil {
		return domain.Run{}, err
	}
	switch len(matches) {
	case 0:
		return domain.Run{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return domain.Run{}, fmt.Errorf("run prefix %q is ambiguous", ref)
	}
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// DeleteRun removes a run with its events and snapshots.
func (r Repo) DeleteRun(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM runs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertSnapshotTx(ctx context.Context, tx *sql.Tx, runID string, s domain.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO snapshots(run_id,step,ts,reputation,user_count,revenue,code_quality,developer_count,average_satisfaction,snapshot_json) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		runID, s.Step, formatTime(s.Timestamp), s.Product.Reputation, s.Product.UserCount, s.Product.Revenue,
		s.Codebase.CodeQuality, s.Team.DeveloperCount, s.Team.AverageSatisfaction, string(data))
	return err
}

// ListSnapshots returns up to limit snapshots of a run in step order. A
// positive fromStep skips earlier steps.
func (r Repo) ListSnapshots(ctx context.Context, runID string, fromStep, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT snapshot_json FROM snapshots WHERE run_id=? AND step>=? ORDER BY step ASC LIMIT ?`, runID, fromStep, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var s domain.Snapshot
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) CountSnapshots(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE run_id=?`, runID).Scan(&n)
	return n, err
}

// EventFilter narrows event queries. Cursor is exclusive.
type EventFilter struct {
	RunID  string
	Kind   string
	Cursor int64
	Limit  int
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, f EventFilter) ([]domain.RunEvent, error) {
	return r.queryEvents(ctx, f, "id>?", "ASC")
}

// LatestEvents returns the newest events first, older than the cursor when set.
func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.RunEvent, error) {
	return r.queryEvents(ctx, f, "id<?", "DESC")
}

func (r Repo) queryEvents(ctx context.Context, f EventFilter, cursorClause, order string) ([]domain.RunEvent, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if f.RunID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, f.RunID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, cursorClause)
		args = append(args, f.Cursor)
	}
	query := fmt.Sprintf(`SELECT id,run_id,ts,kind,step,payload_json FROM events WHERE %s ORDER BY id %s LIMIT ?`, strings.Join(clauses, " AND "), order)
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunEvent
	for rows.Next() {
		var (
			e       domain.RunEvent
			ts      string
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &ts, &e.Kind, &e.Step, &payload); err != nil {
			return nil, err
		}
		if e.TS, err = parseTime(ts); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a run.
func (r Repo) LatestEventID(ctx context.Context, runID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE run_id=?`, runID).Scan(&id)
	return id, err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func nullableSeed(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
