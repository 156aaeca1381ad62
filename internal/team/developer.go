package team

import (
	"math"

	"github.com/google/uuid"

	"techdebtsim/internal/constants"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/random"
)

const (
	KeyQualityFrustrationPenalty  = "qualityFrustrationPenalty"
	KeyQualityFrustrationBurnout  = "qualityFrustrationBurnout"
	KeyQualityHappinessBonus      = "qualityHappinessBonus"
	KeyDeveloperSatisfactionDecay = "developerSatisfactionDecay"
	KeyOverworkThreshold          = "overworkThreshold"
	KeyOverworkSatisfactionCost   = "overworkSatisfactionPenalty"
	KeyOverworkBurnout            = "overworkBurnout"
	KeySmallTeamPenalty           = "smallTeamPenalty"
	KeyFailureSatisfactionPenalty = "failureSatisfactionPenalty"
	KeyLeaveSatisfactionWeight    = "leaveSatisfactionWeight"
	KeyLeaveBurnoutWeight         = "leaveBurnoutWeight"
	KeyComfortThreshold           = "satisfactionComfortThreshold"
	KeySatisfactionRecoveryRate   = "satisfactionRecoveryRate"
	KeyBurnoutRecoveryRate        = "burnoutRecoveryRate"
	KeyMaxSuggestionChance        = "maxSuggestionChance"
	KeyFeatureSuggestionShare     = "featureSuggestionShare"
	KeyExperiencePerSkillPoint    = "experiencePerSkillPoint"
)

var developerDefaults = map[string]float64{
	KeyQualityFrustrationPenalty:  0.5,
	KeyQualityFrustrationBurnout:  0.3,
	KeyQualityHappinessBonus:      0.1,
	KeyDeveloperSatisfactionDecay: 0.1,
	KeyOverworkThreshold:          1.5,
	KeyOverworkSatisfactionCost:   1,
	KeyOverworkBurnout:            0.5,
	KeySmallTeamPenalty:           0.5,
	KeyFailureSatisfactionPenalty: 0.5,
	KeyLeaveSatisfactionWeight:    0.001,
	KeyLeaveBurnoutWeight:         0.0005,
	KeyComfortThreshold:           80,
	KeySatisfactionRecoveryRate:   0.05,
	KeyBurnoutRecoveryRate:        0.1,
	KeyMaxSuggestionChance:        0.1,
	KeyFeatureSuggestionShare:     0.7,
	KeyExperiencePerSkillPoint:    100,
}

func RegisterDeveloperDefaults(store *constants.Store) {
	store.RegisterAll(developerDefaults)
}

var developerNames = []string{
	"Alex Chen", "Jordan Smith", "Casey Johnson", "Riley Davis",
	"Morgan Wilson", "Taylor Brown", "Avery Garcia", "Quinn Martinez",
	"Sage Anderson", "River Thompson", "Dakota Lee", "Skyler White",
	"Phoenix Clark", "Rowan Lewis", "Ember Rodriguez", "Sage Walker",
}

// Factors are the team-wide inputs to a satisfaction update.
type Factors struct {
	Workload        float64
	TeamSize        int
	RecentFailures  int
	CodebaseQuality float64
}

type Developer struct {
	ID                string
	Name              string
	BaseSkill         float64
	CodeKnowledge     float64
	TechDebtTolerance float64
	Satisfaction      float64
	BurnoutLevel      float64
	Productivity      float64
	ExperienceGained  float64
	TimeWithCompany   int

	currentProject    *Project
	completedProjects []*Project

	constants *constants.Store
	rng       random.Source
}

// DeveloperOptions leaves a field zero to have it drawn at random.
type DeveloperOptions struct {
	Name              string
	BaseSkill         *float64
	TechDebtTolerance *float64
	Constants         *constants.Store
	Rand              random.Source
}

func NewDeveloper(opts DeveloperOptions) *Developer {
	store := opts.Constants
	if store == nil {
		store = constants.New()
	}
	RegisterDeveloperDefaults(store)
	rng := random.Or(opts.Rand)
	d := &Developer{
		ID:        uuid.NewString(),
		Name:      opts.Name,
		constants: store,
		rng:       rng,
	}
	if d.Name == "" {
		d.Name = random.Pick(rng, developerNames)
	}
	if opts.BaseSkill != nil {
		d.BaseSkill = clamp(*opts.BaseSkill)
	} else {
		d.BaseSkill = random.Between(rng, 20, 80)
	}
	d.CodeKnowledge = random.Between(rng, 10, 30)
	if opts.TechDebtTolerance != nil {
		d.TechDebtTolerance = clamp(*opts.TechDebtTolerance)
	} else {
		d.TechDebtTolerance = random.Between(rng, 20, 80)
	}
	d.Satisfaction = random.Between(rng, 75, 95)
	d.Productivity = d.calculateProductivity()
	return d
}

func (d *Developer) calculateProductivity() float64 {
	skill := d.BaseSkill / 100
	knowledge := math.Min(1, d.CodeKnowledge/100)
	satisfaction := d.Satisfaction / 100
	return skill*0.4 + knowledge*0.3 + satisfaction*0.3
}

func (d *Developer) IsAvailable() bool { return d.currentProject == nil }

func (d *Developer) CurrentProject() *Project { return d.currentProject }

// CompletedProjects returns the projects this developer finished, oldest first.
func (d *Developer) CompletedProjects() []*Project {
	out := make([]*Project, len(d.completedProjects))
	copy(out, d.completedProjects)
	return out
}

func (d *Developer) EffectiveSkill() float64 {
	return d.BaseSkill * d.Productivity
}

// AssignProject claims p when the developer is idle and p is on the todo list.
func (d *Developer) AssignProject(p *Project) bool {
	if p == nil || d.currentProject != nil || p.Status != domain.StatusTodo {
		return false
	}
	if !p.AssignTo(d) {
		return false
	}
	d.currentProject = p
	return true
}

// WorkOnProject advances the held project. It returns the project when this
// call completed it.
func (d *Developer) WorkOnProject(codebaseQuality float64) (*Project, bool) {
	p := d.currentProject
	if p == nil {
		return nil, false
	}
	if p.UpdateProgress(d) {
		d.completeProject()
		return p, true
	}
	if codebaseQuality < d.TechDebtTolerance {
		d.Satisfaction -= d.constants.Get(KeyQualityFrustrationPenalty, 0.5)
		d.BurnoutLevel += d.constants.Get(KeyQualityFrustrationBurnout, 0.3)
	} else {
		d.Satisfaction += d.constants.Get(KeyQualityHappinessBonus, 0.1)
	}
	d.clampMorale()
	d.Productivity = d.calculateProductivity()
	return nil, false
}

func (d *Developer) completeProject() {
	p := d.currentProject
	d.completedProjects = append(d.completedProjects, p)
	d.GainExperience(p.ImpactValue)
	d.currentProject = nil
}

// dropProject detaches the held project without completing it.
func (d *Developer) dropProject() *Project {
	p := d.currentProject
	d.currentProject = nil
	return p
}

func (d *Developer) GainCodeKnowledge(amount float64) {
	d.CodeKnowledge = math.Min(100, d.CodeKnowledge+amount)
	d.Productivity = d.calculateProductivity()
}

func (d *Developer) GainExperience(amount float64) {
	d.ExperienceGained += amount
	per := d.constants.Get(KeyExperiencePerSkillPoint, 100)
	if per <= 0 {
		return
	}
	for d.ExperienceGained >= per {
		d.BaseSkill = math.Min(100, d.BaseSkill+random.Between(d.rng, 1, 2))
		d.ExperienceGained -= per
	}
	d.Productivity = d.calculateProductivity()
}

// SuggestNewProject may append a fresh idea to queue. Knowledgeable developers
// suggest more often.
func (d *Developer) SuggestNewProject(queue *[]*Project) *Project {
	chance := d.CodeKnowledge / 100 * d.constants.Get(KeyMaxSuggestionChance, 0.1)
	if !random.Chance(d.rng, chance) {
		return nil
	}
	typ := domain.ProjectTechDebt
	if random.Chance(d.rng, d.constants.Get(KeyFeatureSuggestionShare, 0.7)) {
		typ = domain.ProjectFeature
	}
	impact := random.Between(d.rng, 5, 20)
	p := NewProject(typ, impact, ProjectOptions{Constants: d.constants, Rand: d.rng})
	*queue = append(*queue, p)
	return p
}

func (d *Developer) UpdateSatisfaction(f Factors) {
	d.Satisfaction -= d.constants.Get(KeyDeveloperSatisfactionDecay, 0.1)
	if f.Workload > d.constants.Get(KeyOverworkThreshold, 1.5) {
		d.Satisfaction -= d.constants.Get(KeyOverworkSatisfactionCost, 1)
		d.BurnoutLevel += d.constants.Get(KeyOverworkBurnout, 0.5)
	}
	if f.TeamSize < 2 {
		d.Satisfaction -= d.constants.Get(KeySmallTeamPenalty, 0.5)
	}
	if f.RecentFailures > 0 {
		d.Satisfaction -= float64(f.RecentFailures) * d.constants.Get(KeyFailureSatisfactionPenalty, 0.5)
	}
	d.clampMorale()
	d.Productivity = d.calculateProductivity()
}

// LeaveProbability is affine in dissatisfaction and burnout.
func (d *Developer) LeaveProbability() float64 {
	return (100-d.Satisfaction)*d.constants.Get(KeyLeaveSatisfactionWeight, 0.001) +
		d.BurnoutLevel*d.constants.Get(KeyLeaveBurnoutWeight, 0.0005)
}

func (d *Developer) ShouldLeave() bool {
	return random.Chance(d.rng, d.LeaveProbability())
}

func (d *Developer) Step() {
	d.TimeWithCompany++
	if d.Satisfaction < d.constants.Get(KeyComfortThreshold, 80) {
		d.Satisfaction += d.constants.Get(KeySatisfactionRecoveryRate, 0.05)
	}
	if d.BurnoutLevel > 0 {
		d.BurnoutLevel -= d.constants.Get(KeyBurnoutRecoveryRate, 0.1)
	}
	d.clampMorale()
	d.Productivity = d.calculateProductivity()
}

func (d *Developer) clampMorale() {
	d.Satisfaction = clamp(d.Satisfaction)
	d.BurnoutLevel = clamp(d.BurnoutLevel)
}

func (d *Developer) Snapshot() domain.Developer {
	s := domain.Developer{
		ID:                d.ID,
		Name:              d.Name,
		BaseSkill:         d.BaseSkill,
		CodeKnowledge:     d.CodeKnowledge,
		TechDebtTolerance: d.TechDebtTolerance,
		Satisfaction:      d.Satisfaction,
		BurnoutLevel:      d.BurnoutLevel,
		Productivity:      d.Productivity,
		CompletedProjects: len(d.completedProjects),
		TimeWithCompany:   d.TimeWithCompany,
	}
	if d.currentProject != nil {
		s.CurrentProjectID = d.currentProject.ID
	}
	return s
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
