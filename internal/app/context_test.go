package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techdebtsim/internal/app"
	"techdebtsim/internal/config"
	"techdebtsim/internal/repo"
)

func TestBuildWithoutRecording(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rt, err := app.Build(ctx, app.Options{Workspace: dir})
	require.NoError(t, err)
	assert.Nil(t, rt.Recorder)
	assert.Nil(t, rt.Seed)
	assert.Equal(t, 3, rt.Sim.Metrics().Team.DeveloperCount)
	require.NoError(t, rt.Close(ctx))

	_, err = os.Stat(filepath.Join(dir, ".techdebtsim"))
	assert.True(t, os.IsNotExist(err), "no database without recording")
}

func TestBuildSameSeedSameRun(t *testing.T) {
	ctx := context.Background()
	seed := uint64(77)
	run := func() []float64 {
		rt, err := app.Build(ctx, app.Options{Workspace: t.TempDir(), Seed: &seed})
		require.NoError(t, err)
		defer rt.Close(ctx)
		var out []float64
		for i := 0; i < 50; i++ {
			rep := rt.Sim.RunStep(ctx)
			out = append(out, rep.ProductMetrics.UserCount, rep.ProductMetrics.Reputation)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestBuildRecordsWithOverrides(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg, err := config.FromYAML([]byte("simulation: {seed: 5}\nconstants: {overrides: {churnRate: 0.01}}\nrecording: {enabled: true, snapshot_every: 1}\n"))
	require.NoError(t, err)

	rt, err := app.Build(ctx, app.Options{Workspace: dir, Config: cfg})
	require.NoError(t, err)
	require.NotNil(t, rt.Recorder)
	require.NotNil(t, rt.Seed)
	assert.Equal(t, uint64(5), *rt.Seed)
	assert.Equal(t, 0.01, rt.Store.Get("churnRate", 0))
	runID := rt.Recorder.RunID()
	for i := 0; i < 3; i++ {
		rt.Sim.RunStep(ctx)
	}
	require.NoError(t, rt.Close(ctx))

	conn, err := app.OpenDB(ctx, dir)
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn}
	run, err := r.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 3, run.LastStep)
	assert.NotNil(t, run.EndedAt)
	n, err := r.CountSnapshots(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBuildRecordFlagOverridesConfig(t *testing.T) {
	ctx := context.Background()
	off := false
	cfg := config.Default()
	cfg.Recording.Enabled = true
	rt, err := app.Build(ctx, app.Options{Workspace: t.TempDir(), Config: cfg, Record: &off})
	require.NoError(t, err)
	assert.Nil(t, rt.Recorder)
	require.NoError(t, rt.Close(ctx))
}
