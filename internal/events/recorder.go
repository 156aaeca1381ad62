package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"techdebtsim/internal/domain"
	"techdebtsim/internal/engine"
	"techdebtsim/internal/repo"
)

type RecorderOptions struct {
	// SnapshotEvery persists every Nth step snapshot; 0 disables snapshots.
	SnapshotEvery int
	Seed          *uint64
	Settings      any
	// Constants is read whenever a run begins so resets capture overrides.
	Constants func() map[string]float64
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Recorder persists engine events to sqlite. Every reset closes the current
// run and opens a new one.
type Recorder struct {
	db     *sql.DB
	repo   repo.Repo
	writer Writer
	opts   RecorderOptions
	logger *slog.Logger

	mu      sync.Mutex
	runID   string
	lastErr error
	written int
}

func NewRecorder(conn *sql.DB, opts RecorderOptions) *Recorder {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Constants == nil {
		opts.Constants = func() map[string]float64 { return map[string]float64{} }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		db:     conn,
		repo:   repo.Repo{DB: conn},
		writer: Writer{Now: opts.Now},
		opts:   opts,
		logger: logger.With("component", "recorder"),
	}
}

// Begin opens a new run and returns its id.
func (r *Recorder) Begin(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.beginLocked(ctx)
}

func (r *Recorder) beginLocked(ctx context.Context) (string, error) {
	settings, err := json.Marshal(r.opts.Settings)
	if err != nil {
		return "", fmt.Errorf("marshal settings: %w", err)
	}
	consts, err := json.Marshal(r.opts.Constants())
	if err != nil {
		return "", fmt.Errorf("marshal constants: %w", err)
	}
	run := domain.Run{
		ID:            r.opts.NewID(),
		StartedAt:     r.opts.Now().UTC(),
		Seed:          r.opts.Seed,
		SettingsJSON:  string(settings),
		ConstantsJSON: string(consts),
	}
	if err := r.repo.InsertRun(ctx, run); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	r.runID = run.ID
	r.logger.Info("recording run", "run_id", run.ID)
	return run.ID, nil
}

// Attach subscribes the recorder to every simulation event.
func (r *Recorder) Attach(sim *engine.Simulation) func() {
	return sim.Subscribe(r.Handle)
}

// Handle records one event. Failures are logged and kept for Err since
// listeners cannot return errors.
func (r *Recorder) Handle(ev engine.Event) {
	ctx := context.Background()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID == "" {
		if _, err := r.beginLocked(ctx); err != nil {
			r.fail(ev, err)
			return
		}
	}
	if err := r.recordLocked(ctx, ev); err != nil {
		r.fail(ev, err)
		return
	}
	if ev.Kind == engine.EventReset {
		if err := r.repo.FinishRun(ctx, r.runID, ev.Time); err != nil {
			r.fail(ev, err)
		}
		r.runID = ""
		if _, err := r.beginLocked(ctx); err != nil {
			r.fail(ev, err)
		}
	}
}

func (r *Recorder) recordLocked(ctx context.Context, ev engine.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var payload any
	if ev.Report != nil {
		payload = ev.Report
	}
	if err := r.writer.Append(ctx, tx, r.runID, string(ev.Kind), ev.Step, payload); err != nil {
		return err
	}
	if ev.Kind == engine.EventStepCompleted {
		if ev.Snapshot != nil && r.opts.SnapshotEvery > 0 && ev.Step%r.opts.SnapshotEvery == 0 {
			if err := r.repo.InsertSnapshotTx(ctx, tx, r.runID, *ev.Snapshot); err != nil {
				return err
			}
		}
		if err := r.repo.UpdateRunStepTx(ctx, tx, r.runID, ev.Step); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.written++
	return nil
}

func (r *Recorder) fail(ev engine.Event, err error) {
	r.lastErr = err
	r.logger.Warn("record event failed", "kind", ev.Kind, "step", ev.Step, "err", err)
}

// Close stamps the end of the current run.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID == "" {
		return nil
	}
	err := r.repo.FinishRun(ctx, r.runID, r.opts.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		err = nil
	}
	r.logger.Info("run closed", "run_id", r.runID, "events", r.written)
	r.runID = ""
	return err
}

func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Err returns the most recent recording failure.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}
