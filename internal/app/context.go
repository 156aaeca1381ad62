// Package app assembles a runnable simulation from workspace configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"techdebtsim/internal/config"
	"techdebtsim/internal/constants"
	"techdebtsim/internal/db"
	"techdebtsim/internal/engine"
	"techdebtsim/internal/events"
	"techdebtsim/internal/migrate"
	"techdebtsim/internal/random"
)

type Options struct {
	Workspace string
	Config    *config.Config
	// Seed overrides the configured seed when non-nil.
	Seed *uint64
	// Record overrides recording.enabled when non-nil.
	Record *bool
	Logger *slog.Logger
}

// Runtime owns the simulation and, when recording, its database handle.
type Runtime struct {
	Config    *config.Config
	Store     *constants.Store
	Sim       *engine.Simulation
	Seed      *uint64
	DB        *sql.DB
	Recorder  *events.Recorder
	detach    func()
	logger    *slog.Logger
	workspace string
}

// Build loads constants, seeds randomness and constructs the simulation.
// Recording opens and migrates the workspace database.
func Build(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(opts.Workspace); err != nil {
			return nil, err
		}
	}
	store := constants.New()
	if err := cfg.ApplyConstants(opts.Workspace, store); err != nil {
		return nil, fmt.Errorf("load constants: %w", err)
	}

	seed := opts.Seed
	if seed == nil && cfg.Simulation.Seed != 0 {
		v := cfg.Simulation.Seed
		seed = &v
	}
	var rng random.Source
	if seed != nil {
		rng = random.NewSeeded(*seed)
	}

	sim := engine.New(engine.Options{
		Settings:  cfg.Settings(),
		Constants: store,
		Rand:      rng,
		Logger:    logger,
	})
	rt := &Runtime{
		Config:    cfg,
		Store:     store,
		Sim:       sim,
		Seed:      seed,
		logger:    logger,
		workspace: opts.Workspace,
	}

	record := cfg.Recording.Enabled
	if opts.Record != nil {
		record = *opts.Record
	}
	if record {
		if err := rt.startRecording(ctx); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func (rt *Runtime) startRecording(ctx context.Context) error {
	conn, err := OpenDB(ctx, rt.workspace)
	if err != nil {
		return err
	}
	rec := events.NewRecorder(conn, events.RecorderOptions{
		SnapshotEvery: rt.Config.Recording.SnapshotEvery,
		Seed:          rt.Seed,
		Settings:      rt.Config.Simulation,
		Constants:     rt.Sim.Constants,
		Logger:        rt.logger,
	})
	if _, err := rec.Begin(ctx); err != nil {
		conn.Close()
		return err
	}
	rt.DB = conn
	rt.Recorder = rec
	rt.detach = rec.Attach(rt.Sim)
	return nil
}

// OpenDB opens the workspace database and applies pending migrations.
func OpenDB(ctx context.Context, workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return conn, nil
}

// Close stops the simulation and finishes any recording.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.Sim.Stop()
	if rt.Recorder == nil {
		return nil
	}
	rt.detach()
	err := rt.Recorder.Close(ctx)
	return errors.Join(err, rt.DB.Close())
}
