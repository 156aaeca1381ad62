// Package codebase tracks code quality and turns it into failure risk,
// maintenance cost and reputation effects of launched features.
package codebase

import (
	"log/slog"
	"math"

	"techdebtsim/internal/constants"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/random"
	"techdebtsim/internal/team"
)

const (
	KeyMaxFailureProbability    = "maxFailureProbability"
	KeyMinFailureProbability    = "minFailureProbability"
	KeyFeatureLaunchImpactDecay = "featureLaunchImpactDecay"
	KeyCodeQualityDecayRate     = "codeQualityDecayRate"
	KeyTechDebtEfficiency       = "techDebtReductionEfficiency"
	KeyMaintenanceCostFactor    = "maintenanceCostFactor"
	KeyMaxSeverity              = "maxSeverity"
	KeyMinSeverity              = "minSeverity"
	KeyFeatureImpactWindow      = "featureImpactWindow"
	KeyMajorSeverityFraction    = "majorSeverityFraction"
	KeyCriticalSeverityFraction = "criticalSeverityFraction"
	KeyFeatureDebtPerTolerance  = "featureDebtPerTolerance"
)

var defaults = map[string]float64{
	KeyMaxFailureProbability:    0.01,
	KeyMinFailureProbability:    0.0001,
	KeyFeatureLaunchImpactDecay: 0.8,
	KeyCodeQualityDecayRate:     0.05,
	KeyTechDebtEfficiency:       1.0,
	KeyMaintenanceCostFactor:    100,
	KeyMaxSeverity:              10,
	KeyMinSeverity:              2,
	KeyFeatureImpactWindow:      120,
	KeyMajorSeverityFraction:    0.5,
	KeyCriticalSeverityFraction: 0.8,
	KeyFeatureDebtPerTolerance:  0.1,
}

func RegisterDefaults(store *constants.Store) {
	store.RegisterAll(defaults)
}

var failureCauses = []string{
	"Database performance issues",
	"API timeout errors",
	"Security vulnerability discovered",
	"Critical bug in payment system",
	"Server outage",
	"Data corruption detected",
	"Authentication system failure",
	"Third-party integration breakdown",
	"Memory leak causing crashes",
	"Configuration error in production",
}

const (
	LevelMinor    = "Minor"
	LevelMajor    = "Major"
	LevelCritical = "Critical"
)

// Launch is a shipped feature still inside the reputation window.
type Launch struct {
	ProjectID string
	Name      string
	Impact    float64
	Tick      int
	Applied   bool
}

type Codebase struct {
	quality            float64
	failureProbability float64
	maintenanceCost    float64
	launches           []Launch
	tick               int

	constants *constants.Store
	rng       random.Source
	logger    *slog.Logger
}

type Options struct {
	InitialQuality float64
	Constants      *constants.Store
	Rand           random.Source
	Logger         *slog.Logger
}

func New(opts Options) *Codebase {
	store := opts.Constants
	if store == nil {
		store = constants.New()
	}
	RegisterDefaults(store)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Codebase{
		quality:   clamp(opts.InitialQuality),
		constants: store,
		rng:       random.Or(opts.Rand),
		logger:    logger,
	}
	c.refresh()
	return c
}

func (c *Codebase) Quality() float64            { return c.quality }
func (c *Codebase) FailureProbability() float64 { return c.failureProbability }
func (c *Codebase) MaintenanceCost() float64    { return c.maintenanceCost }
func (c *Codebase) Tick() int                   { return c.tick }

func (c *Codebase) RecentLaunches() []Launch {
	return append([]Launch(nil), c.launches...)
}

// CalculateFailureProbability maps quality linearly onto
// [minFailureProbability, maxFailureProbability]; quality 100 gives the floor.
func (c *Codebase) CalculateFailureProbability() float64 {
	lo := c.constants.Get(KeyMinFailureProbability, 0.0001)
	hi := c.constants.Get(KeyMaxFailureProbability, 0.01)
	factor := (100 - c.quality) / 100
	return math.Min(hi, lo*(1-factor)+hi*factor)
}

func (c *Codebase) refresh() {
	c.failureProbability = c.CalculateFailureProbability()
}

func (c *Codebase) ImproveQuality(amount float64) {
	c.quality = clamp(c.quality + amount)
	c.refresh()
}

func (c *Codebase) DegradeQuality(amount float64) {
	c.quality = clamp(c.quality - amount)
	c.refresh()
}

// CheckForFailure rolls once against the current failure probability.
func (c *Codebase) CheckForFailure() *domain.Failure {
	if !random.Chance(c.rng, c.failureProbability) {
		return nil
	}
	lo := c.constants.Get(KeyMinSeverity, 2)
	hi := c.constants.Get(KeyMaxSeverity, 10)
	severity := random.Between(c.rng, lo, hi)
	level := c.severityLevel(severity)
	return &domain.Failure{
		Severity:    severity,
		Impact:      severity * 2,
		Level:       level,
		Description: level + ": " + random.Pick(c.rng, failureCauses),
	}
}

func (c *Codebase) severityLevel(severity float64) string {
	top := c.constants.Get(KeyMaxSeverity, 10)
	switch {
	case severity > top*c.constants.Get(KeyCriticalSeverityFraction, 0.8):
		return LevelCritical
	case severity > top*c.constants.Get(KeyMajorSeverityFraction, 0.5):
		return LevelMajor
	default:
		return LevelMinor
	}
}

// AddFeatureLaunch records a completed feature. Each project launches at most
// once; the author's tolerance for debt is charged against quality.
func (c *Codebase) AddFeatureLaunch(p *team.Project) *Launch {
	if p == nil || p.Type != domain.ProjectFeature || p.Status != domain.StatusCompleted {
		return nil
	}
	for _, l := range c.launches {
		if l.ProjectID == p.ID {
			return nil
		}
	}
	if !p.MarkLaunched() {
		return nil
	}
	c.launches = append(c.launches, Launch{
		ProjectID: p.ID,
		Name:      p.Name,
		Impact:    p.ImpactValue,
		Tick:      c.tick,
	})
	debt := math.Max(0, (100-p.AuthorDebtTolerance)*c.constants.Get(KeyFeatureDebtPerTolerance, 0.1))
	c.DegradeQuality(debt)
	c.logger.Debug("feature launched", "project", p.Name, "impact", p.ImpactValue, "debt", debt)
	return &c.launches[len(c.launches)-1]
}

// ReputationImpactFromFeatures drops launches older than the impact window
// and sums the not yet applied ones with geometric diminishing returns.
func (c *Codebase) ReputationImpactFromFeatures() float64 {
	window := int(c.constants.Get(KeyFeatureImpactWindow, 120))
	kept := c.launches[:0]
	for _, l := range c.launches {
		if c.tick-l.Tick < window {
			kept = append(kept, l)
		}
	}
	c.launches = kept

	decay := c.constants.Get(KeyFeatureLaunchImpactDecay, 0.8)
	var total float64
	for i := range c.launches {
		l := &c.launches[i]
		if l.Applied {
			continue
		}
		total += l.Impact * math.Pow(decay, float64(i))
		l.Applied = true
	}
	if total != 0 {
		c.logger.Debug("feature reputation impact", "impact", total)
	}
	return total
}

// ProcessTechDebtReduction raises quality for a completed tech-debt project
// and returns the raw reduction. Other project types are ignored.
func (c *Codebase) ProcessTechDebtReduction(p *team.Project) float64 {
	if p == nil || p.Type != domain.ProjectTechDebt {
		return 0
	}
	c.ImproveQuality(p.ImpactValue * c.constants.Get(KeyTechDebtEfficiency, 1.0))
	c.logger.Debug("tech debt reduced", "project", p.Name, "impact", p.ImpactValue, "quality", c.quality)
	return p.ImpactValue
}

// Step applies natural decay and recomputes maintenance cost.
func (c *Codebase) Step() {
	c.tick++
	c.DegradeQuality(c.constants.Get(KeyCodeQualityDecayRate, 0.05))
	c.maintenanceCost = (100 - c.quality) * c.constants.Get(KeyMaintenanceCostFactor, 100)
}

func (c *Codebase) Metrics() domain.CodebaseMetrics {
	return domain.CodebaseMetrics{
		CodeQuality:         domain.Round(c.quality, 2),
		FailureProbability:  domain.Round(c.failureProbability*100, 2),
		MaintenanceCost:     int64(math.Round(c.maintenanceCost)),
		RecentFeaturesCount: len(c.launches),
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
