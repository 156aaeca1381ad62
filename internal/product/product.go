// Package product models reputation, the user base and revenue. It reads
// feature launches and failures from the codebase it is attached to.
package product

import (
	"log/slog"
	"math"

	"techdebtsim/internal/codebase"
	"techdebtsim/internal/constants"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/team"
)

const (
	KeyReputationThreshold = "reputationThreshold"
	KeyReputationDecay     = "reputationDecay"
	KeyMaxUserGrowthRate   = "maxUserGrowthRate"
	KeyRevenuePerUser      = "revenuePerUser"
	KeyChurnRate           = "churnRate"
	KeyMarketGrowthRate    = "marketGrowthRate"
	KeyScaleBonusPerUser   = "scaleBonusPerUser"
	KeyScaleReferenceUsers = "scaleReferenceUsers"
)

var defaults = map[string]float64{
	KeyReputationThreshold: 20,
	KeyReputationDecay:     0.02,
	KeyMaxUserGrowthRate:   0.01,
	KeyRevenuePerUser:      10,
	KeyChurnRate:           0.002,
	KeyMarketGrowthRate:    0,
	KeyScaleBonusPerUser:   2,
	KeyScaleReferenceUsers: 1000,
}

func RegisterDefaults(store *constants.Store) {
	store.RegisterAll(defaults)
}

type Product struct {
	reputation float64
	userCount  float64
	revenue    float64

	// codebase is owned by the simulation; the product only reads from it.
	codebase  *codebase.Codebase
	constants *constants.Store
	logger    *slog.Logger
}

type Options struct {
	InitialUsers float64
	Codebase     *codebase.Codebase
	Constants    *constants.Store
	Logger       *slog.Logger
}

func New(opts Options) *Product {
	store := opts.Constants
	if store == nil {
		store = constants.New()
	}
	RegisterDefaults(store)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Product{
		userCount: math.Max(0, opts.InitialUsers),
		codebase:  opts.Codebase,
		constants: store,
		logger:    logger,
	}
}

func (p *Product) SetCodebase(c *codebase.Codebase) { p.codebase = c }

func (p *Product) Reputation() float64 { return p.reputation }
func (p *Product) UserCount() float64  { return p.userCount }
func (p *Product) Revenue() float64    { return p.revenue }

// SetReputation overrides reputation, clamped to [-100, 100].
func (p *Product) SetReputation(v float64) {
	p.reputation = math.Max(-100, math.Min(100, v))
}

// MoneyModel prices a user base at the current reputation. Reputation never
// cuts revenue below half of the unmodified figure.
func (p *Product) MoneyModel(users float64) float64 {
	if users <= 0 {
		return 0
	}
	base := users * p.constants.Get(KeyRevenuePerUser, 10)
	ref := p.constants.Get(KeyScaleReferenceUsers, 1000)
	var bonus float64
	if ref > 0 {
		bonus = math.Log(users/ref+1) * users * p.constants.Get(KeyScaleBonusPerUser, 2)
	}
	multiplier := math.Max(0.5, 1+p.reputation/200)
	return math.Max(0, (base+bonus)*multiplier)
}

// UserGrowthRate is the per-tick growth fraction implied by reputation. It is
// zero inside the ±threshold dead zone and reaches ±maxUserGrowthRate at ±100.
func (p *Product) UserGrowthRate() float64 {
	thr := p.constants.Get(KeyReputationThreshold, 20)
	span := 100 - thr
	if span <= 0 {
		return 0
	}
	peak := p.constants.Get(KeyMaxUserGrowthRate, 0.01)
	switch {
	case p.reputation > thr:
		return peak * (p.reputation - thr) / span
	case p.reputation < -thr:
		return peak * (p.reputation + thr) / span
	}
	return 0
}

func (p *Product) RevenuePerUser() float64 {
	if p.userCount <= 0 {
		return 0
	}
	return p.revenue / p.userCount
}

// UpdateReputation applies this tick's feature impact and failure, then
// decays reputation toward zero without crossing it.
func (p *Product) UpdateReputation() (change, featureImpact float64, failure *domain.Failure) {
	if p.codebase != nil {
		featureImpact = p.codebase.ReputationImpactFromFeatures()
		change += featureImpact
		if failure = p.codebase.CheckForFailure(); failure != nil {
			change -= failure.Impact
			p.logger.Info("product failure", "description", failure.Description, "impact", failure.Impact)
		}
	}
	p.reputation += change

	decay := p.constants.Get(KeyReputationDecay, 0.02)
	switch {
	case p.reputation > 0:
		p.reputation = math.Max(0, p.reputation-decay)
	case p.reputation < 0:
		p.reputation = math.Min(0, p.reputation+decay)
	}
	p.SetReputation(p.reputation)
	return change, featureImpact, failure
}

// UpdateUserCount applies reputation-driven growth and churn multiplicatively.
func (p *Product) UpdateUserCount() float64 {
	rate := p.UserGrowthRate() -
		p.constants.Get(KeyChurnRate, 0.002) +
		p.constants.Get(KeyMarketGrowthRate, 0)
	change := p.userCount * rate
	next := math.Max(0, p.userCount+change)
	change = next - p.userCount
	p.userCount = next
	return change
}

func (p *Product) UpdateRevenue() float64 {
	p.revenue = p.MoneyModel(p.userCount)
	return p.revenue
}

// ProcessCompletedProjects routes finished work into the codebase: features
// launch, tech-debt projects raise quality.
func (p *Product) ProcessCompletedProjects(projects []*team.Project) {
	if p.codebase == nil {
		return
	}
	for _, proj := range projects {
		switch proj.Type {
		case domain.ProjectFeature:
			p.codebase.AddFeatureLaunch(proj)
		case domain.ProjectTechDebt:
			p.codebase.ProcessTechDebtReduction(proj)
		}
	}
}

func (p *Product) Step() domain.ProductStep {
	change, impact, failure := p.UpdateReputation()
	users := p.UpdateUserCount()
	revenue := p.UpdateRevenue()
	return domain.ProductStep{
		ReputationChange: change,
		FeatureImpact:    impact,
		Failure:          failure,
		UserChange:       users,
		Revenue:          revenue,
		Reputation:       p.reputation,
		UserCount:        p.userCount,
	}
}

func (p *Product) Metrics() domain.ProductMetrics {
	return domain.ProductMetrics{
		Reputation:          domain.Round(p.reputation, 2),
		UserCount:           int64(math.Round(p.userCount)),
		Revenue:             int64(math.Round(p.revenue)),
		ReputationThreshold: p.constants.Get(KeyReputationThreshold, 20),
		ChurnRate:           domain.Round(p.constants.Get(KeyChurnRate, 0.002)*100, 2),
		UserGrowthRate:      domain.Round(p.UserGrowthRate(), 6),
		RevenuePerUser:      domain.Round(p.RevenuePerUser(), 2),
	}
}
