package team

import (
	"math"
	"time"

	"github.com/google/uuid"

	"techdebtsim/internal/constants"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/random"
)

const (
	KeyProgressRateMultiplier   = "progressRateMultiplier"
	KeyTechDebtImpactOnProgress = "techDebtImpactOnProgress"
	KeyKnowledgeGainMultiplier  = "knowledgeGainMultiplier"
)

// RegisterProjectDefaults registers the progress tunables.
func RegisterProjectDefaults(store *constants.Store) {
	store.Register(KeyProgressRateMultiplier, 1.0)
	store.Register(KeyTechDebtImpactOnProgress, 1.0)
	store.Register(KeyKnowledgeGainMultiplier, 0.1)
}

var featureNames = []string{
	"User Authentication",
	"Payment Integration",
	"Mobile App",
	"Search Optimization",
	"Performance Dashboard",
	"API Enhancement",
	"Data Analytics",
	"Social Features",
	"Notification System",
	"Security Update",
}

var techDebtNames = []string{
	"Database Optimization",
	"Code Refactoring",
	"Legacy System Update",
	"Test Coverage Improvement",
	"Documentation Update",
	"Performance Optimization",
	"Security Audit",
	"Dependency Updates",
	"Code Review Process",
	"Architecture Cleanup",
}

// Project is a unit of engineering work. A project never owns its developer;
// it only remembers the assignee's id while work is in progress.
type Project struct {
	ID              string
	Name            string
	Type            domain.ProjectType
	ImpactValue     float64
	Status          domain.ProjectStatus
	Progress        float64
	AssigneeID      string
	EstimatedEffort float64
	Approved        bool
	CreatedAt       time.Time

	// CompletedBy and AuthorDebtTolerance describe who finished the work.
	CompletedBy         string
	AuthorDebtTolerance float64

	launched  bool
	constants *constants.Store
	rng       random.Source
}

type ProjectOptions struct {
	Name      string
	Constants *constants.Store
	Rand      random.Source
	Now       func() time.Time
}

func NewProject(typ domain.ProjectType, impact float64, opts ProjectOptions) *Project {
	store := opts.Constants
	if store == nil {
		store = constants.New()
	}
	RegisterProjectDefaults(store)
	rng := random.Or(opts.Rand)
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	p := &Project{
		ID:          uuid.NewString(),
		Name:        opts.Name,
		Type:        typ,
		ImpactValue: impact,
		Status:      domain.StatusIdea,
		CreatedAt:   now().UTC(),
		constants:   store,
		rng:         rng,
	}
	if p.Name == "" {
		p.Name = generateProjectName(rng, typ)
	}
	p.EstimatedEffort = p.calculateEffort()
	return p
}

func generateProjectName(rng random.Source, typ domain.ProjectType) string {
	if typ == domain.ProjectTechDebt {
		return random.Pick(rng, techDebtNames)
	}
	return random.Pick(rng, featureNames)
}

func (p *Project) calculateEffort() float64 {
	var effort float64
	if p.Type == domain.ProjectFeature {
		effort = p.ImpactValue*2 + p.rng.Float64()*20
	} else {
		effort = p.ImpactValue*1.5 + p.rng.Float64()*15
	}
	return math.Max(10, effort)
}

// MoveToTodo moves an idea onto the todo list.
func (p *Project) MoveToTodo() bool {
	if p.Status != domain.StatusIdea {
		return false
	}
	p.Status = domain.StatusTodo
	return true
}

func (p *Project) Approve() bool {
	if p.Status != domain.StatusIdea {
		return false
	}
	p.Approved = true
	return p.MoveToTodo()
}

// AssignTo claims the project for dev. It requires a todo project with no assignee.
func (p *Project) AssignTo(dev *Developer) bool {
	if dev == nil || p.Status != domain.StatusTodo || p.AssigneeID != "" {
		return false
	}
	p.AssigneeID = dev.ID
	p.Status = domain.StatusInProgress
	return true
}

// UpdateProgress advances the project on behalf of dev and reports whether
// this call completed it. Calls from anyone but the assignee are ignored.
func (p *Project) UpdateProgress(dev *Developer) bool {
	if dev == nil || p.Status != domain.StatusInProgress || p.AssigneeID != dev.ID {
		return false
	}
	rate := p.constants.Get(KeyProgressRateMultiplier, 1.0) * (dev.BaseSkill + dev.CodeKnowledge) / 100
	debtFactor := p.constants.Get(KeyTechDebtImpactOnProgress, 1.0) * math.Max(0.1, 1-dev.TechDebtTolerance/100)
	p.Progress += rate * debtFactor * (1 + p.rng.Float64()*0.5)
	if p.Progress >= 100 {
		p.complete(dev)
		return true
	}
	return false
}

func (p *Project) complete(dev *Developer) {
	p.Status = domain.StatusCompleted
	p.Progress = 100
	p.AssigneeID = ""
	p.CompletedBy = dev.ID
	p.AuthorDebtTolerance = dev.TechDebtTolerance
	dev.GainCodeKnowledge(p.ImpactValue * p.constants.Get(KeyKnowledgeGainMultiplier, 0.1))
}

// release returns an in-progress project to the todo state with its progress discarded.
func (p *Project) release() {
	p.Status = domain.StatusTodo
	p.AssigneeID = ""
	p.Progress = 0
}

// MarkLaunched flips the single-fire reputation guard. It reports false when
// the project already launched.
func (p *Project) MarkLaunched() bool {
	if p.launched {
		return false
	}
	p.launched = true
	return true
}

func (p *Project) Launched() bool { return p.launched }

func (p *Project) Snapshot() domain.Project {
	return domain.Project{
		ID:              p.ID,
		Name:            p.Name,
		Type:            p.Type,
		ImpactValue:     p.ImpactValue,
		Status:          p.Status,
		Progress:        p.Progress,
		AssigneeID:      p.AssigneeID,
		CompletedBy:     p.CompletedBy,
		EstimatedEffort: p.EstimatedEffort,
		Approved:        p.Approved,
		CreatedAt:       p.CreatedAt,
	}
}
