package team

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"techdebtsim/internal/domain"
	"techdebtsim/internal/random"
)

// Review is a lead's verdict on an idea.
type Review struct {
	Approved bool
	Feedback string
}

// Lead supersedes the auto-approval fallback once registered. A lead must be
// able to approve or reject an idea and rank a list of projects.
type Lead interface {
	ID() string
	Name() string
	Review(p *Project) Review
	Prioritize(projects []*Project) []*Project
	Step()
}

var leadNames = []string{
	"Sarah Johnson", "Mike Chen", "Emily Rodriguez", "David Kim",
	"Lisa Thompson", "John Martinez", "Angela Davis", "Robert Lee",
	"Jennifer Wilson", "Chris Anderson", "Maria Garcia", "Kevin Brown",
}

// WeightedLead approves ideas with a probability scaled by experience and a
// per-type preference, and ranks work by weighted impact.
type WeightedLead struct {
	id              string
	name            string
	ExperienceLevel float64
	FeatureWeight   float64
	TechDebtWeight  float64
	Steps           int

	rng random.Source
}

type LeadOptions struct {
	Name string
	// ExperienceLevel defaults to 50 when nil; zero is a valid level.
	ExperienceLevel *float64
	FeatureWeight   float64
	TechDebtWeight  float64
	Rand            random.Source
}

func NewWeightedLead(opts LeadOptions) *WeightedLead {
	rng := random.Or(opts.Rand)
	l := &WeightedLead{
		id:              uuid.NewString(),
		name:            opts.Name,
		ExperienceLevel: 50,
		FeatureWeight:   opts.FeatureWeight,
		TechDebtWeight:  opts.TechDebtWeight,
		rng:             rng,
	}
	if l.name == "" {
		l.name = random.Pick(rng, leadNames)
	}
	if opts.ExperienceLevel != nil {
		l.ExperienceLevel = math.Max(0, math.Min(100, *opts.ExperienceLevel))
	}
	if l.FeatureWeight <= 0 && l.TechDebtWeight <= 0 {
		l.FeatureWeight, l.TechDebtWeight = 0.6, 0.4
	}
	return l
}

func (l *WeightedLead) ID() string   { return l.id }
func (l *WeightedLead) Name() string { return l.name }

func (l *WeightedLead) weight(t domain.ProjectType) float64 {
	if t == domain.ProjectFeature {
		return l.FeatureWeight
	}
	return l.TechDebtWeight
}

// ApprovalProbability is the chance a single review approves p.
func (l *WeightedLead) ApprovalProbability(p *Project) float64 {
	return l.weight(p.Type) * l.ExperienceLevel / 100
}

func (l *WeightedLead) Review(p *Project) Review {
	if p == nil {
		return Review{Feedback: "nothing to review"}
	}
	if random.Chance(l.rng, l.ApprovalProbability(p)) {
		return Review{Approved: true, Feedback: "approved by " + l.name}
	}
	return Review{Feedback: "deferred by " + l.name}
}

func (l *WeightedLead) Prioritize(projects []*Project) []*Project {
	out := make([]*Project, len(projects))
	copy(out, projects)
	sort.SliceStable(out, func(i, j int) bool {
		return l.weight(out[i].Type)*out[i].ImpactValue > l.weight(out[j].Type)*out[j].ImpactValue
	})
	return out
}

func (l *WeightedLead) Step() { l.Steps++ }
