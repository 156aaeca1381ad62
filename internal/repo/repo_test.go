package repo_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techdebtsim/internal/db"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/migrate"
	"techdebtsim/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "tds.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return repo.Repo{DB: conn}
}

func insertRun(t *testing.T, r repo.Repo, id string, started time.Time) {
	t.Helper()
	require.NoError(t, r.InsertRun(context.Background(), domain.Run{
		ID: id, StartedAt: started, SettingsJSON: "{}", ConstantsJSON: "{}",
	}))
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	insertRun(t, r, "abc123", base)
	insertRun(t, r, "abd456", base.Add(time.Minute))

	_, err := r.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	latest, err := r.ResolveRun(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "abd456", latest.ID)
	assert.Nil(t, latest.EndedAt)
	assert.Nil(t, latest.Seed)

	got, err := r.ResolveRun(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.ID)
	assert.True(t, got.StartedAt.Equal(base))

	_, err = r.ResolveRun(ctx, "ab")
	assert.ErrorContains(t, err, "ambiguous")
	_, err = r.ResolveRun(ctx, "zz")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	end := base.Add(time.Hour)
	require.NoError(t, r.FinishRun(ctx, "abc123", end))
	require.NoError(t, r.FinishRun(ctx, "abc123", end.Add(time.Hour)))
	got, err = r.GetRun(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(end), "first finish wins")
	assert.ErrorIs(t, r.FinishRun(ctx, "missing", end), repo.ErrNotFound)

	require.NoError(t, r.DeleteRun(ctx, "abc123"))
	runs, err := r.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.ErrorIs(t, r.DeleteRun(ctx, "abc123"), repo.ErrNotFound)
}

func TestSnapshotsAndEvents(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	insertRun(t, r, "run", ts)

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	for step := 1; step <= 4; step++ {
		snap := domain.Snapshot{Step: step, Timestamp: ts}
		snap.Product.UserCount = int64(1000 + step)
		require.NoError(t, r.InsertSnapshotTx(ctx, tx, "run", snap))
		_, err := tx.ExecContext(ctx, `INSERT INTO events(run_id,ts,kind,step,payload_json) VALUES (?,?,?,?,?)`,
			"run", ts.Format(time.RFC3339Nano), "stepCompleted", step, nil)
		require.NoError(t, err)
		require.NoError(t, r.UpdateRunStepTx(ctx, tx, "run", step))
	}
	require.NoError(t, tx.Commit())

	snaps, err := r.ListSnapshots(ctx, "run", 3, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(1003), snaps[0].Product.UserCount)

	newest, err := r.LatestEvents(ctx, repo.EventFilter{RunID: "run", Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, 4, newest[0].Step)

	after, err := r.EventsAfter(ctx, repo.EventFilter{RunID: "run", Cursor: newest[1].ID})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 4, after[0].Step)

	none, err := r.EventsAfter(ctx, repo.EventFilter{RunID: "run", Kind: "simulationReset"})
	require.NoError(t, err)
	assert.Empty(t, none)

	run, err := r.GetRun(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, 4, run.LastStep)

	require.NoError(t, r.DeleteRun(ctx, "run"))
	n, err := r.CountSnapshots(ctx, "run")
	require.NoError(t, err)
	assert.Zero(t, n, "snapshots cascade with their run")
}
