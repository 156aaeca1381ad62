// Package engine orchestrates the simulation: it owns the product, codebase
// and team, advances them one tick at a time in a fixed order, keeps a bounded
// history and notifies listeners.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"techdebtsim/internal/codebase"
	"techdebtsim/internal/constants"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/product"
	"techdebtsim/internal/random"
	"techdebtsim/internal/team"
)

// SeedProject is an idea enqueued on construction and on every reset.
type SeedProject struct {
	Type   domain.ProjectType `json:"type" yaml:"type"`
	Impact float64            `json:"impact" yaml:"impact"`
}

// Settings are the initial conditions reused by Reset.
type Settings struct {
	InitialDevelopers int
	InitialUsers      float64
	InitialQuality    float64
	StepsPerSecond    float64
	MinStepsPerSecond float64
	MaxStepsPerSecond float64
	MaxHistory        int
	SummaryWindow     int
	SeedProjects      []SeedProject
	Leads             []team.LeadOptions
}

func DefaultSettings() Settings {
	return Settings{
		InitialDevelopers: 3,
		InitialUsers:      1000,
		InitialQuality:    50,
		StepsPerSecond:    2,
		MinStepsPerSecond: 0.1,
		MaxStepsPerSecond: 10,
		MaxHistory:        250,
		SummaryWindow:     10,
		SeedProjects: []SeedProject{
			{Type: domain.ProjectFeature, Impact: 15},
			{Type: domain.ProjectFeature, Impact: 12},
			{Type: domain.ProjectTechDebt, Impact: 8},
			{Type: domain.ProjectFeature, Impact: 10},
		},
	}
}

// IsZero reports whether no setting was provided at all.
func (s Settings) IsZero() bool {
	return s.InitialDevelopers == 0 && s.InitialUsers == 0 && s.InitialQuality == 0 &&
		s.StepsPerSecond == 0 && s.MinStepsPerSecond == 0 && s.MaxStepsPerSecond == 0 &&
		s.MaxHistory == 0 && s.SummaryWindow == 0 &&
		len(s.SeedProjects) == 0 && len(s.Leads) == 0
}

// withDefaults fills the rate band and history bounds. A zero Settings means
// the default fresh simulation; partial settings keep their explicit zeros.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.IsZero() {
		return d
	}
	if s.InitialDevelopers < 0 {
		s.InitialDevelopers = 0
	}
	if s.InitialUsers < 0 {
		s.InitialUsers = 0
	}
	if s.MinStepsPerSecond <= 0 {
		s.MinStepsPerSecond = d.MinStepsPerSecond
	}
	if s.MaxStepsPerSecond < s.MinStepsPerSecond {
		s.MaxStepsPerSecond = math.Max(d.MaxStepsPerSecond, s.MinStepsPerSecond)
	}
	if s.StepsPerSecond <= 0 {
		s.StepsPerSecond = d.StepsPerSecond
	}
	if s.MaxHistory <= 0 {
		s.MaxHistory = d.MaxHistory
	}
	if s.SummaryWindow <= 0 {
		s.SummaryWindow = d.SummaryWindow
	}
	return s
}

type Options struct {
	Settings  Settings
	Constants *constants.Store
	Rand      random.Source
	Logger    *slog.Logger
	Now       func() time.Time
	Tracer    trace.Tracer
}

// Simulation is safe for concurrent use. Ticks never overlap: the driver and
// explicit RunStep calls serialize on the same lock. Listeners run after the
// lock is released and may be called from the driver goroutine.
type Simulation struct {
	mu sync.Mutex

	settings Settings
	store    *constants.Store
	rng      random.Source
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer

	product  *product.Product
	codebase *codebase.Codebase
	team     *team.Team

	step           int
	running        bool
	paused         bool
	stepsPerSecond float64
	generation     uint64
	cancel         context.CancelFunc
	history        *ring[domain.Snapshot]

	listeners registry
}

func New(opts Options) *Simulation {
	store := opts.Constants
	if store == nil {
		store = constants.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("techdebtsim/engine")
	}
	settings := opts.Settings.withDefaults()
	s := &Simulation{
		settings: settings,
		store:    store,
		rng:      random.Or(opts.Rand),
		logger:   logger,
		now:      now,
		tracer:   tracer,
		history:  newRing[domain.Snapshot](settings.MaxHistory),
	}
	s.stepsPerSecond = s.clampRate(settings.StepsPerSecond)
	s.build()
	return s
}

// build constructs every owned subsystem against the shared store.
func (s *Simulation) build() {
	s.codebase = codebase.New(codebase.Options{
		InitialQuality: s.settings.InitialQuality,
		Constants:      s.store,
		Rand:           s.rng,
		Logger:         s.logger,
	})
	s.product = product.New(product.Options{
		InitialUsers: s.settings.InitialUsers,
		Codebase:     s.codebase,
		Constants:    s.store,
		Logger:       s.logger,
	})
	s.team = team.New(team.Options{
		InitialDevelopers: s.settings.InitialDevelopers,
		Constants:         s.store,
		Rand:              s.rng,
		Logger:            s.logger,
	})
	for _, lo := range s.settings.Leads {
		if lo.Rand == nil {
			lo.Rand = s.rng
		}
		s.team.AddLead(team.NewWeightedLead(lo))
	}
	for _, sp := range s.settings.SeedProjects {
		switch sp.Type {
		case domain.ProjectFeature:
			s.team.AddFeatureProject(sp.Impact)
		case domain.ProjectTechDebt:
			s.team.AddTechDebtProject(sp.Impact)
		}
	}
}

func (s *Simulation) clampRate(n float64) float64 {
	return math.Max(s.settings.MinStepsPerSecond, math.Min(s.settings.MaxStepsPerSecond, n))
}

func (s *Simulation) event(kind EventKind) Event {
	return Event{Kind: kind, Step: s.step, Time: s.now().UTC()}
}

// On registers fn for one kind of event and returns a function that removes it.
func (s *Simulation) On(kind EventKind, fn Listener) func() {
	return s.listeners.add(kind, fn)
}

// Subscribe registers fn for every event kind.
func (s *Simulation) Subscribe(fn Listener) func() {
	return s.listeners.add("", fn)
}

// Start launches the driver. Starting a running simulation is a no-op.
func (s *Simulation) Start() bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.paused = false
	s.startDriverLocked()
	ev := s.event(EventStarted)
	s.mu.Unlock()
	s.logger.Info("simulation started", "steps_per_second", s.StepsPerSecond())
	s.listeners.dispatch(ev)
	return true
}

func (s *Simulation) startDriverLocked() {
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	interval := time.Duration(float64(time.Second) / s.stepsPerSecond)
	go s.drive(ctx, gen, interval)
}

func (s *Simulation) stopDriverLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
}

func (s *Simulation) drive(ctx context.Context, gen uint64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if gen != s.generation || !s.running {
				s.mu.Unlock()
				return
			}
			if s.paused {
				s.mu.Unlock()
				continue
			}
			ev := s.stepEventLocked(ctx)
			s.mu.Unlock()
			s.listeners.dispatch(ev)
		}
	}
}

// Pause suspends ticking without stopping the driver.
func (s *Simulation) Pause() bool {
	s.mu.Lock()
	if !s.running || s.paused {
		s.mu.Unlock()
		return false
	}
	s.paused = true
	ev := s.event(EventPaused)
	s.mu.Unlock()
	s.listeners.dispatch(ev)
	return true
}

func (s *Simulation) Resume() bool {
	s.mu.Lock()
	if !s.running || !s.paused {
		s.mu.Unlock()
		return false
	}
	s.paused = false
	ev := s.event(EventResumed)
	s.mu.Unlock()
	s.listeners.dispatch(ev)
	return true
}

// Stop halts the driver between ticks. A step already in flight completes.
func (s *Simulation) Stop() {
	s.mu.Lock()
	ev := s.stopLocked()
	s.mu.Unlock()
	s.logger.Info("simulation stopped", "step", ev.Step)
	s.listeners.dispatch(ev)
}

func (s *Simulation) stopLocked() Event {
	s.stopDriverLocked()
	s.running = false
	s.paused = false
	return s.event(EventStopped)
}

// Reset stops the simulation and rebuilds every subsystem from the initial
// settings against the same constants store. Leads added at runtime are dropped.
func (s *Simulation) Reset() {
	s.mu.Lock()
	stopped := s.stopLocked()
	s.step = 0
	s.history.clear()
	s.build()
	reset := s.event(EventReset)
	s.mu.Unlock()
	s.logger.Info("simulation reset")
	s.listeners.dispatch(stopped, reset)
}

// RunStep advances the simulation by exactly one tick. It is the explicit
// driver used by headless runs and tests.
func (s *Simulation) RunStep(ctx context.Context) domain.StepReport {
	s.mu.Lock()
	ev := s.stepEventLocked(ctx)
	s.mu.Unlock()
	s.listeners.dispatch(ev)
	return *ev.Report
}

func (s *Simulation) stepEventLocked(ctx context.Context) Event {
	report, snap := s.runStepLocked(ctx)
	ev := s.event(EventStepCompleted)
	ev.Report = &report
	ev.Snapshot = &snap
	return ev
}

func (s *Simulation) runStepLocked(ctx context.Context) (domain.StepReport, domain.Snapshot) {
	s.step++
	_, span := s.tracer.Start(ctx, "simulation.step", trace.WithAttributes(attribute.Int("step", s.step)))
	defer span.End()

	s.team.Step()
	completed := s.team.WorkOnProjects(s.codebase.Quality())
	s.product.ProcessCompletedProjects(completed)
	s.codebase.Step()
	ps := s.product.Step()

	factors := team.Factors{CodebaseQuality: s.codebase.Quality()}
	if ps.ReputationChange < -5 {
		factors.RecentFailures = 1
	}
	leaving := s.team.UpdateTeamSatisfaction(factors)
	s.team.StepLeads()
	snap := s.recordLocked()

	report := domain.StepReport{
		Step:              s.step,
		CompletedProjects: make([]domain.Project, 0, len(completed)),
		LeavingDevelopers: make([]domain.Developer, 0, len(leaving)),
		ProductMetrics:    ps,
	}
	for _, p := range completed {
		report.CompletedProjects = append(report.CompletedProjects, p.Snapshot())
	}
	for _, d := range leaving {
		report.LeavingDevelopers = append(report.LeavingDevelopers, d.Snapshot())
	}
	span.SetAttributes(
		attribute.Int("completed_projects", len(completed)),
		attribute.Int("leaving_developers", len(leaving)),
		attribute.Bool("failure", ps.Failure != nil),
	)
	return report, snap
}

func (s *Simulation) recordLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Step:      s.step,
		Product:   s.product.Metrics(),
		Codebase:  s.codebase.Metrics(),
		Team:      s.team.Metrics(),
		Timestamp: s.now().UTC(),
	}
	s.history.push(snap)
	return snap
}

// SetStepsPerSecond clamps n to the configured band and restarts a running
// driver at the new rate. The paused state is kept.
func (s *Simulation) SetStepsPerSecond(n float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepsPerSecond = s.clampRate(n)
	if s.running {
		s.stopDriverLocked()
		s.startDriverLocked()
	}
	return s.stepsPerSecond
}

func (s *Simulation) StepsPerSecond() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepsPerSecond
}

func (s *Simulation) AddDeveloper(opts team.DeveloperOptions) domain.Developer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team.AddDeveloper(opts).Snapshot()
}

func (s *Simulation) RemoveDeveloper(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team.RemoveDeveloper(id) != nil
}

func (s *Simulation) AddFeatureProject(impact float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team.AddFeatureProject(impact)
}

func (s *Simulation) AddTechDebtProject(impact float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team.AddTechDebtProject(impact)
}

func (s *Simulation) ApproveProject(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team.ApproveProject(id)
}

// AddLead registers a lead with the team. Leads without an identity and
// duplicates are refused.
func (s *Simulation) AddLead(l team.Lead) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team.AddLead(l)
}

// NewLead builds a weighted lead that shares the simulation's randomness.
func (s *Simulation) NewLead(opts team.LeadOptions) *team.WeightedLead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.Rand == nil {
		opts.Rand = s.rng
	}
	return team.NewWeightedLead(opts)
}

func (s *Simulation) Leads() []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, l := range s.team.Leads() {
		out = append(out, domain.Lead{ID: l.ID(), Name: l.Name()})
	}
	return out
}

func (s *Simulation) Developers() []domain.Developer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Developer
	for _, d := range s.team.Developers() {
		out = append(out, d.Snapshot())
	}
	return out
}

func (s *Simulation) Projects() domain.ProjectBoard {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := func(ps []*team.Project) []domain.Project {
		out := make([]domain.Project, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.Snapshot())
		}
		return out
	}
	return domain.ProjectBoard{
		Ideas:      snap(s.team.IdeaQueue()),
		Todo:       snap(s.team.TodoList()),
		InProgress: snap(s.team.InProgress()),
		Completed:  snap(s.team.Completed()),
	}
}

func (s *Simulation) metricsLocked() domain.Metrics {
	return domain.Metrics{
		Product:   s.product.Metrics(),
		Codebase:  s.codebase.Metrics(),
		Team:      s.team.Metrics(),
		Step:      s.step,
		IsRunning: s.running,
		IsPaused:  s.paused,
	}
}

// Metrics is a read-only snapshot, cheap enough to poll every frame.
func (s *Simulation) Metrics() domain.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsLocked()
}

func (s *Simulation) Statistics() domain.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Statistics{
		Current: s.metricsLocked(),
		History: s.history.items(),
		Summary: summarize(s.history.items(), s.settings.SummaryWindow),
	}
}

// summarize averages the most recent window entries; total revenue covers
// the whole retained history.
func summarize(history []domain.Snapshot, window int) *domain.Summary {
	if len(history) == 0 {
		return nil
	}
	recent := history
	if window > 0 && len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	sum := &domain.Summary{}
	for _, h := range recent {
		sum.AverageReputation += h.Product.Reputation
		sum.AverageCodeQuality += h.Codebase.CodeQuality
		sum.AverageSatisfaction += h.Team.AverageSatisfaction
	}
	n := float64(len(recent))
	sum.AverageReputation /= n
	sum.AverageCodeQuality /= n
	sum.AverageSatisfaction /= n
	if len(recent) > 1 {
		sum.UserGrowthRate = float64(recent[len(recent)-1].Product.UserCount-recent[0].Product.UserCount) / n
	}
	for _, h := range history {
		sum.TotalRevenue += float64(h.Product.Revenue)
	}
	return sum
}

// ImportConstants merges a JSON object into the store. Malformed input is
// logged and leaves the store untouched.
func (s *Simulation) ImportConstants(data []byte) error {
	if err := s.store.LoadJSON(data); err != nil {
		s.logger.Warn("constants import rejected", "err", err)
		return err
	}
	return nil
}

func (s *Simulation) ExportConstants() ([]byte, error) {
	return s.store.ExportJSON()
}

func (s *Simulation) Constants() map[string]float64 {
	return s.store.Snapshot()
}

func (s *Simulation) SetConstant(key string, v float64) error {
	if key == "" {
		return errors.New("constant key is required")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("constant %s: value must be finite", key)
	}
	s.store.Set(key, v)
	return nil
}

// CheckInvariants verifies pipeline consistency and the bounds every tick must
// preserve.
func (s *Simulation) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.team.CheckInvariants(); err != nil {
		return err
	}
	if q := s.codebase.Quality(); q < 0 || q > 100 {
		return fmt.Errorf("code quality %.2f out of range", q)
	}
	if r := s.product.Reputation(); r < -100 || r > 100 {
		return fmt.Errorf("reputation %.2f out of range", r)
	}
	if s.product.UserCount() < 0 || s.product.Revenue() < 0 {
		return fmt.Errorf("negative users %.2f or revenue %.2f", s.product.UserCount(), s.product.Revenue())
	}
	for _, d := range s.team.Developers() {
		if d.Satisfaction < 0 || d.Satisfaction > 100 || d.BurnoutLevel < 0 || d.BurnoutLevel > 100 {
			return fmt.Errorf("developer %s morale out of range", d.ID)
		}
	}
	return nil
}
