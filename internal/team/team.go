// Package team models the engineering team: developers, the project pipeline
// (idea queue, todo list, in progress, completed) and governance by leads.
package team

import (
	"fmt"
	"log/slog"

	"techdebtsim/internal/constants"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/random"
)

const KeyAutoApproveChance = "autoApproveChance"

func RegisterTeamDefaults(store *constants.Store) {
	store.Register(KeyAutoApproveChance, 0.1)
	RegisterDeveloperDefaults(store)
	RegisterProjectDefaults(store)
}

// Team exclusively owns its developers and projects. The in-progress set is
// the union of the developers' current projects.
type Team struct {
	developers []*Developer
	ideaQueue  []*Project
	todoList   []*Project
	completed  []*Project
	leads      []Lead

	constants *constants.Store
	rng       random.Source
	logger    *slog.Logger
}

type Options struct {
	InitialDevelopers int
	Constants         *constants.Store
	Rand              random.Source
	Logger            *slog.Logger
}

func New(opts Options) *Team {
	store := opts.Constants
	if store == nil {
		store = constants.New()
	}
	RegisterTeamDefaults(store)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Team{
		constants: store,
		rng:       random.Or(opts.Rand),
		logger:    logger,
	}
	for i := 0; i < opts.InitialDevelopers; i++ {
		t.AddDeveloper(DeveloperOptions{})
	}
	return t
}

// AddDeveloper hires a developer. Constants and randomness come from the team.
func (t *Team) AddDeveloper(opts DeveloperOptions) *Developer {
	opts.Constants = t.constants
	opts.Rand = t.rng
	d := NewDeveloper(opts)
	t.developers = append(t.developers, d)
	return d
}

// RemoveDeveloper drops a developer. Their in-flight project goes back to the
// todo list with no progress and no assignee.
func (t *Team) RemoveDeveloper(id string) *Developer {
	for i, d := range t.developers {
		if d.ID != id {
			continue
		}
		if p := d.dropProject(); p != nil {
			p.release()
			t.todoList = append(t.todoList, p)
		}
		t.developers = append(t.developers[:i], t.developers[i+1:]...)
		return d
	}
	return nil
}

// AddProject enqueues an idea. Only fresh ideas are accepted.
func (t *Team) AddProject(p *Project) bool {
	if p == nil || p.Status != domain.StatusIdea || t.Project(p.ID) != nil {
		return false
	}
	t.ideaQueue = append(t.ideaQueue, p)
	return true
}

// NewProject builds a project wired to the team's constants and randomness.
func (t *Team) NewProject(typ domain.ProjectType, impact float64) *Project {
	return NewProject(typ, impact, ProjectOptions{Constants: t.constants, Rand: t.rng})
}

// AddFeatureProject enqueues a feature idea; impact <= 0 draws one in [5,20).
func (t *Team) AddFeatureProject(impact float64) bool {
	if impact <= 0 {
		impact = random.Between(t.rng, 5, 20)
	}
	return t.AddProject(t.NewProject(domain.ProjectFeature, impact))
}

// AddTechDebtProject enqueues a debt idea; impact <= 0 draws one in [5,15).
func (t *Team) AddTechDebtProject(impact float64) bool {
	if impact <= 0 {
		impact = random.Between(t.rng, 5, 15)
	}
	return t.AddProject(t.NewProject(domain.ProjectTechDebt, impact))
}

// ApproveProject moves an idea to the todo list.
func (t *Team) ApproveProject(id string) bool {
	for i, p := range t.ideaQueue {
		if p.ID != id {
			continue
		}
		if !p.Approve() {
			return false
		}
		t.ideaQueue = append(t.ideaQueue[:i], t.ideaQueue[i+1:]...)
		t.todoList = append(t.todoList, p)
		return true
	}
	return false
}

// AssignProjects pairs idle developers with todo projects in encounter order.
func (t *Team) AssignProjects() int {
	var idle []*Developer
	for _, d := range t.developers {
		if d.IsAvailable() {
			idle = append(idle, d)
		}
	}
	n := min(len(idle), len(t.todoList))
	if n == 0 {
		return 0
	}
	pairs := t.todoList[:n]
	remaining := make([]*Project, 0, len(t.todoList)-n)
	assigned := 0
	for i, p := range pairs {
		if idle[i].AssignProject(p) {
			assigned++
			continue
		}
		remaining = append(remaining, p)
	}
	t.todoList = append(remaining, t.todoList[n:]...)
	return assigned
}

// WorkOnProjects lets every developer work and returns the projects completed
// this tick.
func (t *Team) WorkOnProjects(codebaseQuality float64) []*Project {
	var done []*Project
	for _, d := range t.developers {
		if p, ok := d.WorkOnProject(codebaseQuality); ok {
			done = append(done, p)
		}
	}
	t.completed = append(t.completed, done...)
	return done
}

func (t *Team) GenerateSuggestions() []*Project {
	var out []*Project
	for _, d := range t.developers {
		if p := d.SuggestNewProject(&t.ideaQueue); p != nil {
			t.logger.Debug("project suggested", "developer", d.Name, "project", p.Name, "type", p.Type)
			out = append(out, p)
		}
	}
	return out
}

// AutoApproveProjects is the governance fallback used when no lead is registered.
func (t *Team) AutoApproveProjects() []*Project {
	chance := t.constants.Get(KeyAutoApproveChance, 0.1)
	var approved []*Project
	for _, p := range t.pendingIdeas() {
		if random.Chance(t.rng, chance) && t.ApproveProject(p.ID) {
			approved = append(approved, p)
		}
	}
	return approved
}

// ReviewIdeas asks each lead in registration order; the first approval wins.
func (t *Team) ReviewIdeas() []*Project {
	var approved []*Project
	for _, p := range t.pendingIdeas() {
		for _, l := range t.leads {
			r := l.Review(p)
			if !r.Approved {
				continue
			}
			if t.ApproveProject(p.ID) {
				t.logger.Debug("idea approved", "lead", l.Name(), "project", p.Name, "feedback", r.Feedback)
				approved = append(approved, p)
			}
			break
		}
	}
	return approved
}

// PrioritizeTodo reorders the todo list by the first lead's ranking. A ranking
// that is not a permutation of the todo list is ignored.
func (t *Team) PrioritizeTodo() bool {
	if len(t.leads) == 0 || len(t.todoList) < 2 {
		return false
	}
	ranked := t.leads[0].Prioritize(t.todoList)
	if !samePermutation(t.todoList, ranked) {
		t.logger.Warn("lead ranking ignored", "lead", t.leads[0].Name())
		return false
	}
	t.todoList = ranked
	return true
}

func samePermutation(a, b []*Project) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[*Project]int, len(a))
	for _, p := range a {
		seen[p]++
	}
	for _, p := range b {
		if seen[p] == 0 {
			return false
		}
		seen[p]--
	}
	return true
}

func (t *Team) pendingIdeas() []*Project {
	var out []*Project
	for _, p := range t.ideaQueue {
		if !p.Approved {
			out = append(out, p)
		}
	}
	return out
}

// UpdateTeamSatisfaction applies team-wide factors to every developer and
// evicts those who decide to leave.
func (t *Team) UpdateTeamSatisfaction(f Factors) []*Developer {
	f.TeamSize = len(t.developers)
	f.Workload = t.AverageWorkload()
	for _, d := range t.developers {
		d.UpdateSatisfaction(f)
	}
	var leaving []*Developer
	for _, d := range t.developers {
		if d.ShouldLeave() {
			leaving = append(leaving, d)
		}
	}
	for _, d := range leaving {
		t.RemoveDeveloper(d.ID)
		t.logger.Info("developer left", "developer", d.Name, "satisfaction", d.Satisfaction, "burnout", d.BurnoutLevel)
	}
	return leaving
}

// Step advances developers, collects suggestions, approves work and assigns
// it, in that order, so work created this tick can start this tick.
func (t *Team) Step() {
	for _, d := range t.developers {
		d.Step()
	}
	t.GenerateSuggestions()
	if t.HasLeads() {
		t.ReviewIdeas()
		t.PrioritizeTodo()
	} else {
		t.AutoApproveProjects()
	}
	t.AssignProjects()
}

// AddLead registers a lead. Nil and duplicate leads are rejected.
func (t *Team) AddLead(l Lead) bool {
	if l == nil || l.ID() == "" {
		return false
	}
	for _, existing := range t.leads {
		if existing.ID() == l.ID() {
			return false
		}
	}
	t.leads = append(t.leads, l)
	return true
}

func (t *Team) HasLeads() bool { return len(t.leads) > 0 }

func (t *Team) Leads() []Lead {
	out := make([]Lead, len(t.leads))
	copy(out, t.leads)
	return out
}

// StepLeads runs each lead's per-tick hook.
func (t *Team) StepLeads() {
	for _, l := range t.leads {
		l.Step()
	}
}

func (t *Team) Developers() []*Developer {
	out := make([]*Developer, len(t.developers))
	copy(out, t.developers)
	return out
}

func (t *Team) Developer(id string) *Developer {
	for _, d := range t.developers {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (t *Team) IdeaQueue() []*Project { return append([]*Project(nil), t.ideaQueue...) }
func (t *Team) TodoList() []*Project  { return append([]*Project(nil), t.todoList...) }
func (t *Team) Completed() []*Project { return append([]*Project(nil), t.completed...) }

func (t *Team) InProgress() []*Project {
	var out []*Project
	for _, d := range t.developers {
		if p := d.CurrentProject(); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Project resolves a project id through the queues the team owns.
func (t *Team) Project(id string) *Project {
	for _, list := range [][]*Project{t.ideaQueue, t.todoList, t.InProgress(), t.completed} {
		for _, p := range list {
			if p.ID == id {
				return p
			}
		}
	}
	return nil
}

func (t *Team) AverageWorkload() float64 {
	if len(t.developers) == 0 {
		return 0
	}
	busy := 0
	for _, d := range t.developers {
		if !d.IsAvailable() {
			busy++
		}
	}
	return float64(busy) / float64(len(t.developers))
}

func (t *Team) AverageSatisfaction() float64 {
	if len(t.developers) == 0 {
		return 0
	}
	var sum float64
	for _, d := range t.developers {
		sum += d.Satisfaction
	}
	return sum / float64(len(t.developers))
}

func (t *Team) AverageSkill() float64 {
	if len(t.developers) == 0 {
		return 0
	}
	var sum float64
	for _, d := range t.developers {
		sum += d.EffectiveSkill()
	}
	return sum / float64(len(t.developers))
}

func (t *Team) Metrics() domain.TeamMetrics {
	return domain.TeamMetrics{
		DeveloperCount:         len(t.developers),
		LeadCount:              len(t.leads),
		IdeaQueueLength:        len(t.ideaQueue),
		TodoListLength:         len(t.todoList),
		InProgressCount:        len(t.InProgress()),
		CompletedProjectsCount: len(t.completed),
		AverageSatisfaction:    t.AverageSatisfaction(),
		AverageSkill:           t.AverageSkill(),
		AverageWorkload:        t.AverageWorkload(),
	}
}

// CheckInvariants verifies that every project sits in exactly one place and
// that assignment state agrees between developers and projects.
func (t *Team) CheckInvariants() error {
	where := map[string]string{}
	place := func(p *Project, loc string) error {
		if prev, ok := where[p.ID]; ok {
			return fmt.Errorf("project %s in both %s and %s", p.ID, prev, loc)
		}
		where[p.ID] = loc
		return nil
	}
	for _, p := range t.ideaQueue {
		if err := place(p, "idea queue"); err != nil {
			return err
		}
		if p.Status != domain.StatusIdea {
			return fmt.Errorf("idea %s has status %s", p.ID, p.Status)
		}
	}
	for _, p := range t.todoList {
		if err := place(p, "todo list"); err != nil {
			return err
		}
		if p.Status != domain.StatusTodo || p.AssigneeID != "" {
			return fmt.Errorf("todo %s has status %s assignee %q", p.ID, p.Status, p.AssigneeID)
		}
	}
	for _, d := range t.developers {
		p := d.CurrentProject()
		if p == nil {
			continue
		}
		if err := place(p, "developer "+d.ID); err != nil {
			return err
		}
		if p.Status != domain.StatusInProgress || p.AssigneeID != d.ID {
			return fmt.Errorf("project %s held by %s has status %s assignee %q", p.ID, d.ID, p.Status, p.AssigneeID)
		}
	}
	for _, p := range t.completed {
		if err := place(p, "completed"); err != nil {
			return err
		}
		if p.Status != domain.StatusCompleted || p.Progress != 100 || p.AssigneeID != "" {
			return fmt.Errorf("completed %s has status %s progress %.2f", p.ID, p.Status, p.Progress)
		}
	}
	return nil
}
