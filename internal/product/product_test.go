package product

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techdebtsim/internal/codebase"
	"techdebtsim/internal/constants"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/random"
	"techdebtsim/internal/team"
)

func finished(t *testing.T, store *constants.Store, typ domain.ProjectType, impact float64) *team.Project {
	t.Helper()
	skill, tolerance := 100.0, 100.0
	dev := team.NewDeveloper(team.DeveloperOptions{
		BaseSkill:         &skill,
		TechDebtTolerance: &tolerance,
		Constants:         store,
		Rand:              random.NewSeeded(4),
	})
	p := team.NewProject(typ, impact, team.ProjectOptions{Constants: store, Rand: random.NewSeeded(5)})
	require.True(t, p.Approve())
	require.True(t, dev.AssignProject(p))
	p.Progress = 99.99
	_, done := dev.WorkOnProject(50)
	require.True(t, done)
	return p
}

func TestNeutralReputationOnlyChurns(t *testing.T) {
	store := constants.New()
	p := New(Options{InitialUsers: 1000, Constants: store})

	res := p.Step()
	assert.Zero(t, res.ReputationChange)
	assert.Zero(t, p.Reputation())
	assert.InDelta(t, -2.0, res.UserChange, 1e-9)
	assert.InDelta(t, 998.0, p.UserCount(), 1e-9)
	assert.Nil(t, res.Failure)
}

func TestReputationDecayDoesNotOvershoot(t *testing.T) {
	tests := []struct {
		name  string
		start float64
		want  float64
	}{
		{name: "positive", start: 0.01, want: 0},
		{name: "negative", start: -0.01, want: 0},
		{name: "large", start: 50, want: 49.98},
		{name: "clamped", start: -100, want: -99.98},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := New(Options{InitialUsers: 1000})
			p.SetReputation(tc.start)
			p.UpdateReputation()
			assert.InDelta(t, tc.want, p.Reputation(), 1e-9)
		})
	}
}

func TestUserGrowthRateDeadZone(t *testing.T) {
	tests := []struct {
		reputation float64
		want       float64
	}{
		{reputation: 0, want: 0},
		{reputation: 20, want: 0},
		{reputation: -20, want: 0},
		{reputation: 60, want: 0.005},
		{reputation: -60, want: -0.005},
		{reputation: 100, want: 0.01},
		{reputation: -100, want: -0.01},
	}
	p := New(Options{InitialUsers: 1000})
	for _, tc := range tests {
		p.SetReputation(tc.reputation)
		assert.InDelta(t, tc.want, p.UserGrowthRate(), 1e-12, "reputation %v", tc.reputation)
	}
}

func TestUserCountGrowsMultiplicatively(t *testing.T) {
	store := constants.New()
	store.Set(KeyChurnRate, 0)
	store.Set(KeyReputationDecay, 0)
	p := New(Options{InitialUsers: 2000, Constants: store})
	p.SetReputation(100)
	assert.InDelta(t, 20.0, p.UpdateUserCount(), 1e-9)
	assert.InDelta(t, 2020.0, p.UserCount(), 1e-9)
}

func TestUserCountNeverNegative(t *testing.T) {
	store := constants.New()
	store.Set(KeyChurnRate, 2)
	p := New(Options{InitialUsers: 10, Constants: store})
	p.UpdateUserCount()
	assert.Zero(t, p.UserCount())
	assert.Zero(t, p.UpdateRevenue())
}

func TestMoneyModel(t *testing.T) {
	store := constants.New()
	p := New(Options{InitialUsers: 1000, Constants: store})
	want := 1000*10 + math.Log(2)*1000*2
	assert.InDelta(t, want, p.MoneyModel(1000), 1e-9)

	p.SetReputation(100)
	assert.InDelta(t, want*1.5, p.MoneyModel(1000), 1e-9)

	p.SetReputation(-100)
	assert.InDelta(t, want*0.5, p.MoneyModel(1000), 1e-9, "never below half")
	assert.Zero(t, p.MoneyModel(0))
}

func TestProcessCompletedProjectsRoutesByType(t *testing.T) {
	store := constants.New()
	cb := codebase.New(codebase.Options{InitialQuality: 50, Constants: store, Rand: random.Fixed(0.99)})
	p := New(Options{InitialUsers: 1000, Constants: store, Codebase: cb})

	feature := finished(t, store, domain.ProjectFeature, 10)
	debt := finished(t, store, domain.ProjectTechDebt, 5)
	p.ProcessCompletedProjects([]*team.Project{feature, debt})

	assert.Len(t, cb.RecentLaunches(), 1)
	assert.InDelta(t, 55.0, cb.Quality(), 1e-9)

	res := p.Step()
	assert.InDelta(t, 10.0, res.FeatureImpact, 1e-9)
	assert.InDelta(t, 10.0, res.ReputationChange, 1e-9)
	assert.InDelta(t, 9.98, p.Reputation(), 1e-9)

	p.ProcessCompletedProjects([]*team.Project{feature})
	res = p.Step()
	assert.Zero(t, res.FeatureImpact, "a feature affects reputation once")
}

func TestFailureReducesReputation(t *testing.T) {
	store := constants.New()
	store.Set(codebase.KeyMinFailureProbability, 1)
	store.Set(codebase.KeyMaxFailureProbability, 1)
	cb := codebase.New(codebase.Options{InitialQuality: 50, Constants: store, Rand: random.Fixed(0)})
	p := New(Options{InitialUsers: 1000, Constants: store, Codebase: cb})

	res := p.Step()
	require.NotNil(t, res.Failure)
	assert.InDelta(t, -4.0, res.ReputationChange, 1e-9)
	assert.InDelta(t, -3.98, p.Reputation(), 1e-9)
}

func TestMetricsRounding(t *testing.T) {
	p := New(Options{InitialUsers: 1000})
	p.SetReputation(12.3456)
	p.UpdateRevenue()
	m := p.Metrics()
	assert.Equal(t, 12.35, m.Reputation)
	assert.Equal(t, int64(1000), m.UserCount)
	assert.Equal(t, 0.2, m.ChurnRate)
	assert.Equal(t, 20.0, m.ReputationThreshold)
	assert.Greater(t, m.RevenuePerUser, 10.0)
}

func TestSetCodebaseAttachesAfterConstruction(t *testing.T) {
	store := constants.New()
	p := New(Options{InitialUsers: 1000, Constants: store})
	debt := finished(t, store, domain.ProjectTechDebt, 8)

	// Without a codebase completed work has nowhere to go.
	p.ProcessCompletedProjects([]*team.Project{debt})
	assert.Zero(t, p.Step().FeatureImpact)

	cb := codebase.New(codebase.Options{InitialQuality: 50, Constants: store, Rand: random.Fixed(0.99)})
	p.SetCodebase(cb)
	p.ProcessCompletedProjects([]*team.Project{debt})
	assert.Greater(t, cb.Quality(), 50.0)

	feature := finished(t, store, domain.ProjectFeature, 10)
	p.ProcessCompletedProjects([]*team.Project{feature})
	res := p.Step()
	assert.Greater(t, res.FeatureImpact, 0.0)
	assert.Nil(t, res.Failure)
}
