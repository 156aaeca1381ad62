package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techdebtsim/internal/constants"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/random"
)

type stubLead struct {
	id      string
	approve bool
	rank    func([]*Project) []*Project
	steps   int
}

func (l *stubLead) ID() string   { return l.id }
func (l *stubLead) Name() string { return "stub " + l.id }
func (l *stubLead) Review(*Project) Review {
	return Review{Approved: l.approve}
}
func (l *stubLead) Prioritize(ps []*Project) []*Project {
	if l.rank == nil {
		return ps
	}
	return l.rank(ps)
}
func (l *stubLead) Step() { l.steps++ }

func newTestTeam(devs int, rng random.Source) *Team {
	return New(Options{InitialDevelopers: devs, Constants: constants.New(), Rand: rng})
}

func TestNewTeamRegistersDefaults(t *testing.T) {
	store := constants.New()
	store.Set(KeyAutoApproveChance, 0.5)
	tm := New(Options{InitialDevelopers: 3, Constants: store})
	assert.Len(t, tm.Developers(), 3)
	assert.Equal(t, 0.5, store.Get(KeyAutoApproveChance, 0), "pre-existing keys survive")
	assert.True(t, store.Has(KeyProgressRateMultiplier))
	assert.True(t, store.Has(KeyLeaveBurnoutWeight))
}

func TestAddProjectAndApprove(t *testing.T) {
	tm := newTestTeam(0, random.NewSeeded(1))
	require.True(t, tm.AddFeatureProject(12))
	require.True(t, tm.AddTechDebtProject(0))
	assert.False(t, tm.AddProject(nil))

	ideas := tm.IdeaQueue()
	require.Len(t, ideas, 2)
	assert.Equal(t, 12.0, ideas[0].ImpactValue)
	assert.True(t, ideas[1].ImpactValue >= 5 && ideas[1].ImpactValue < 15)
	assert.False(t, tm.AddProject(ideas[0]), "already queued")

	require.True(t, tm.ApproveProject(ideas[0].ID))
	assert.False(t, tm.ApproveProject(ideas[0].ID))
	assert.False(t, tm.ApproveProject("missing"))
	assert.Len(t, tm.IdeaQueue(), 1)
	assert.Equal(t, []*Project{ideas[0]}, tm.TodoList())
	require.NoError(t, tm.CheckInvariants())
}

func TestAssignProjectsEncounterOrder(t *testing.T) {
	tm := newTestTeam(3, random.NewSeeded(2))
	tm.AddFeatureProject(10)
	tm.AddFeatureProject(11)
	for _, p := range tm.IdeaQueue() {
		tm.ApproveProject(p.ID)
	}
	todo := tm.TodoList()
	devs := tm.Developers()

	assert.Equal(t, 2, tm.AssignProjects())
	assert.Same(t, todo[0], devs[0].CurrentProject())
	assert.Same(t, todo[1], devs[1].CurrentProject())
	assert.True(t, devs[2].IsAvailable())
	assert.Empty(t, tm.TodoList())
	assert.Equal(t, 0, tm.AssignProjects())
	require.NoError(t, tm.CheckInvariants())
}

func TestRemoveDeveloperReturnsWorkToTodo(t *testing.T) {
	tm := newTestTeam(1, random.NewSeeded(3))
	tm.AddFeatureProject(10)
	p := tm.IdeaQueue()[0]
	tm.ApproveProject(p.ID)
	tm.AssignProjects()
	dev := tm.Developers()[0]
	dev.WorkOnProject(50)
	require.Greater(t, p.Progress, 0.0)

	removed := tm.RemoveDeveloper(dev.ID)
	assert.Same(t, dev, removed)
	assert.Empty(t, tm.Developers())
	assert.Equal(t, domain.StatusTodo, p.Status)
	assert.Zero(t, p.Progress)
	assert.Empty(t, p.AssigneeID)
	assert.Equal(t, []*Project{p}, tm.TodoList())
	assert.Nil(t, tm.RemoveDeveloper(dev.ID))
	require.NoError(t, tm.CheckInvariants())
}

func TestAutoApproveProjects(t *testing.T) {
	tm := newTestTeam(0, random.Fixed(0))
	tm.AddFeatureProject(5)
	tm.AddTechDebtProject(5)
	assert.Len(t, tm.AutoApproveProjects(), 2)
	assert.Empty(t, tm.IdeaQueue())

	never := newTestTeam(0, random.Fixed(0.5))
	never.AddFeatureProject(5)
	assert.Empty(t, never.AutoApproveProjects())
	assert.Len(t, never.IdeaQueue(), 1)
}

func TestLeadsSupersedeAutoApproval(t *testing.T) {
	tm := newTestTeam(0, random.Fixed(0))
	assert.False(t, tm.AddLead(nil))
	reject := &stubLead{id: "r"}
	require.True(t, tm.AddLead(reject))
	assert.False(t, tm.AddLead(&stubLead{id: "r"}), "duplicate id")

	tm.AddFeatureProject(5)
	tm.Step()
	assert.Len(t, tm.IdeaQueue(), 1, "rejecting lead blocks the fallback")

	approve := &stubLead{id: "a", approve: true}
	require.True(t, tm.AddLead(approve))
	approved := tm.ReviewIdeas()
	assert.Len(t, approved, 1)
	assert.Empty(t, tm.IdeaQueue())

	tm.StepLeads()
	assert.Equal(t, 1, reject.steps)
	assert.Equal(t, 1, approve.steps)
}

func TestPrioritizeTodo(t *testing.T) {
	tm := newTestTeam(0, random.NewSeeded(5))
	for i := 1; i <= 3; i++ {
		tm.AddFeatureProject(float64(i))
	}
	for _, p := range tm.IdeaQueue() {
		tm.ApproveProject(p.ID)
	}
	reverse := func(ps []*Project) []*Project {
		out := make([]*Project, 0, len(ps))
		for i := len(ps) - 1; i >= 0; i-- {
			out = append(out, ps[i])
		}
		return out
	}
	require.True(t, tm.AddLead(&stubLead{id: "l", rank: reverse}))
	before := tm.TodoList()
	require.True(t, tm.PrioritizeTodo())
	assert.Equal(t, reverse(before), tm.TodoList())

	bad := newTestTeam(0, random.NewSeeded(5))
	bad.AddFeatureProject(1)
	bad.AddFeatureProject(2)
	for _, p := range bad.IdeaQueue() {
		bad.ApproveProject(p.ID)
	}
	bad.AddLead(&stubLead{id: "x", rank: func(ps []*Project) []*Project { return ps[:1] }})
	assert.False(t, bad.PrioritizeTodo())
	assert.Len(t, bad.TodoList(), 2)
}

func TestWeightedLead(t *testing.T) {
	experience := 100.0
	l := NewWeightedLead(LeadOptions{ExperienceLevel: &experience, Rand: random.Fixed(0.5)})
	assert.NotEmpty(t, l.ID())
	assert.NotEmpty(t, l.Name())
	feature := NewProject(domain.ProjectFeature, 10, ProjectOptions{})
	debt := NewProject(domain.ProjectTechDebt, 20, ProjectOptions{})

	assert.InDelta(t, 0.6, l.ApprovalProbability(feature), 1e-9)
	assert.InDelta(t, 0.4, l.ApprovalProbability(debt), 1e-9)
	assert.True(t, l.Review(feature).Approved)
	assert.False(t, l.Review(debt).Approved)

	// 0.4*20 > 0.6*10
	assert.Equal(t, []*Project{debt, feature}, l.Prioritize([]*Project{feature, debt}))
}

func TestWeightedLeadExperienceLevel(t *testing.T) {
	feature := NewProject(domain.ProjectFeature, 10, ProjectOptions{})

	zero := 0.0
	novice := NewWeightedLead(LeadOptions{ExperienceLevel: &zero, Rand: random.Fixed(0)})
	assert.Zero(t, novice.ExperienceLevel)
	assert.Zero(t, novice.ApprovalProbability(feature))
	assert.False(t, novice.Review(feature).Approved)

	unset := NewWeightedLead(LeadOptions{Rand: random.Fixed(0.5)})
	assert.Equal(t, 50.0, unset.ExperienceLevel)
	assert.InDelta(t, 0.3, unset.ApprovalProbability(feature), 1e-9)
}

func TestUpdateTeamSatisfactionEvicts(t *testing.T) {
	store := constants.New()
	store.Set(KeyLeaveSatisfactionWeight, 1)
	tm := New(Options{InitialDevelopers: 3, Constants: store, Rand: random.NewSeeded(9)})
	tm.AddFeatureProject(10)
	tm.ApproveProject(tm.IdeaQueue()[0].ID)
	tm.AssignProjects()

	leaving := tm.UpdateTeamSatisfaction(Factors{})
	assert.Len(t, leaving, 3)
	assert.Empty(t, tm.Developers())
	require.Len(t, tm.TodoList(), 1)
	assert.Zero(t, tm.TodoList()[0].Progress)
	require.NoError(t, tm.CheckInvariants())
}

func TestFreshTeamFirstStep(t *testing.T) {
	tm := newTestTeam(3, nil)
	tm.AddFeatureProject(15)
	tm.AddFeatureProject(12)
	tm.AddTechDebtProject(8)
	tm.AddFeatureProject(10)

	tm.Step()

	m := tm.Metrics()
	assert.LessOrEqual(t, m.InProgressCount, 3)
	assert.LessOrEqual(t, m.IdeaQueueLength+m.TodoListLength+m.InProgressCount, 4+3, "at most one suggestion per developer")
	require.NoError(t, tm.CheckInvariants())
}

func TestLongRunKeepsInvariants(t *testing.T) {
	store := constants.New()
	store.Set(KeyLeaveSatisfactionWeight, 0)
	store.Set(KeyLeaveBurnoutWeight, 0)
	tm := New(Options{InitialDevelopers: 4, Constants: store, Rand: random.NewSeeded(123)})
	for i := 0; i < 6; i++ {
		tm.AddFeatureProject(0)
	}
	completed := 0
	for step := 0; step < 2000; step++ {
		tm.Step()
		completed += len(tm.WorkOnProjects(45))
		tm.UpdateTeamSatisfaction(Factors{RecentFailures: step % 50 / 49})
		require.NoError(t, tm.CheckInvariants(), "step %d", step)
		for _, d := range tm.Developers() {
			require.True(t, d.Satisfaction >= 0 && d.Satisfaction <= 100)
			require.True(t, d.BurnoutLevel >= 0 && d.BurnoutLevel <= 100)
			require.True(t, d.CodeKnowledge <= 100)
		}
	}
	assert.Equal(t, completed, len(tm.Completed()))
	assert.Greater(t, completed, 0)
}
