package codebase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techdebtsim/internal/constants"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/random"
	"techdebtsim/internal/team"
)

func completedProject(t *testing.T, store *constants.Store, typ domain.ProjectType, impact, tolerance float64) *team.Project {
	t.Helper()
	skill := 100.0
	dev := team.NewDeveloper(team.DeveloperOptions{
		BaseSkill:         &skill,
		TechDebtTolerance: &tolerance,
		Constants:         store,
		Rand:              random.NewSeeded(1),
	})
	p := team.NewProject(typ, impact, team.ProjectOptions{Constants: store, Rand: random.NewSeeded(2)})
	require.True(t, p.Approve())
	require.True(t, dev.AssignProject(p))
	p.Progress = 99.99
	_, done := dev.WorkOnProject(50)
	require.True(t, done)
	return p
}

func TestFailureProbabilityEndpoints(t *testing.T) {
	store := constants.New()
	c := New(Options{InitialQuality: 100, Constants: store})
	assert.Equal(t, store.Get(KeyMinFailureProbability, 0), c.FailureProbability())

	c.DegradeQuality(100)
	assert.Zero(t, c.Quality())
	assert.Equal(t, store.Get(KeyMaxFailureProbability, 0), c.FailureProbability())

	c.ImproveQuality(50)
	assert.InDelta(t, 0.00505, c.FailureProbability(), 1e-12)
}

func TestFailureProbabilityMonotonic(t *testing.T) {
	c := New(Options{InitialQuality: 0})
	prev := c.FailureProbability()
	for i := 0; i < 100; i++ {
		c.ImproveQuality(1)
		require.LessOrEqual(t, c.FailureProbability(), prev)
		prev = c.FailureProbability()
	}
}

func TestQualityStaysInBounds(t *testing.T) {
	c := New(Options{InitialQuality: 150})
	assert.Equal(t, 100.0, c.Quality())
	c.ImproveQuality(10)
	assert.Equal(t, 100.0, c.Quality())
	c.DegradeQuality(500)
	assert.Zero(t, c.Quality())
	c.Step()
	assert.Zero(t, c.Quality())
}

func TestCheckForFailure(t *testing.T) {
	tests := []struct {
		name  string
		draw  float64
		level string
	}{
		{name: "minor", draw: 0, level: LevelMinor},
		{name: "major", draw: 0.6, level: LevelMajor},
		{name: "critical", draw: 0.9, level: LevelCritical},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := constants.New()
			store.Set(KeyMaxFailureProbability, 1)
			store.Set(KeyMinFailureProbability, 1)
			c := New(Options{InitialQuality: 50, Constants: store, Rand: random.Fixed(tc.draw)})
			f := c.CheckForFailure()
			require.NotNil(t, f)
			severity := 2 + tc.draw*8
			assert.InDelta(t, severity, f.Severity, 1e-9)
			assert.InDelta(t, severity*2, f.Impact, 1e-9)
			assert.Equal(t, tc.level, f.Level)
			assert.Contains(t, f.Description, tc.level+": ")
		})
	}
}

func TestCheckForFailureMisses(t *testing.T) {
	c := New(Options{InitialQuality: 0, Rand: random.Fixed(0.5)})
	assert.Nil(t, c.CheckForFailure())
}

func TestAddFeatureLaunchChargesDebtOnce(t *testing.T) {
	store := constants.New()
	c := New(Options{InitialQuality: 50, Constants: store})
	p := completedProject(t, store, domain.ProjectFeature, 10, 30)

	l := c.AddFeatureLaunch(p)
	require.NotNil(t, l)
	assert.Equal(t, p.ID, l.ProjectID)
	assert.InDelta(t, 43.0, c.Quality(), 1e-9)

	assert.Nil(t, c.AddFeatureLaunch(p))
	assert.InDelta(t, 43.0, c.Quality(), 1e-9)
	assert.Len(t, c.RecentLaunches(), 1)
}

func TestAddFeatureLaunchRejectsOtherProjects(t *testing.T) {
	store := constants.New()
	c := New(Options{InitialQuality: 50, Constants: store})
	debt := completedProject(t, store, domain.ProjectTechDebt, 10, 30)
	assert.Nil(t, c.AddFeatureLaunch(debt))
	idea := team.NewProject(domain.ProjectFeature, 10, team.ProjectOptions{Constants: store})
	assert.Nil(t, c.AddFeatureLaunch(idea))
	assert.Nil(t, c.AddFeatureLaunch(nil))
	assert.Equal(t, 50.0, c.Quality())
}

func TestReputationImpactDiminishesAndFiresOnce(t *testing.T) {
	store := constants.New()
	c := New(Options{InitialQuality: 100, Constants: store})
	for i := 0; i < 3; i++ {
		c.AddFeatureLaunch(completedProject(t, store, domain.ProjectFeature, 10, 100))
	}

	assert.InDelta(t, 10+8+6.4, c.ReputationImpactFromFeatures(), 1e-9)
	assert.Zero(t, c.ReputationImpactFromFeatures())

	c.AddFeatureLaunch(completedProject(t, store, domain.ProjectFeature, 10, 100))
	// the fourth retained launch is discounted three times
	assert.InDelta(t, 10*0.8*0.8*0.8, c.ReputationImpactFromFeatures(), 1e-9)
}

func TestReputationWindowPrunesLaunches(t *testing.T) {
	store := constants.New()
	store.Set(KeyFeatureImpactWindow, 3)
	store.Set(KeyCodeQualityDecayRate, 0)
	c := New(Options{InitialQuality: 100, Constants: store})
	c.AddFeatureLaunch(completedProject(t, store, domain.ProjectFeature, 10, 100))
	for i := 0; i < 3; i++ {
		c.Step()
	}
	assert.Zero(t, c.ReputationImpactFromFeatures(), "expired before it was counted")
	assert.Empty(t, c.RecentLaunches())
}

func TestProcessTechDebtReduction(t *testing.T) {
	store := constants.New()
	c := New(Options{InitialQuality: 40, Constants: store})
	debt := completedProject(t, store, domain.ProjectTechDebt, 12, 50)
	assert.Equal(t, 12.0, c.ProcessTechDebtReduction(debt))
	assert.InDelta(t, 52.0, c.Quality(), 1e-9)

	feature := completedProject(t, store, domain.ProjectFeature, 12, 50)
	assert.Zero(t, c.ProcessTechDebtReduction(feature))
	assert.InDelta(t, 52.0, c.Quality(), 1e-9)
}

func TestStepAndMetrics(t *testing.T) {
	c := New(Options{InitialQuality: 50})
	c.Step()
	assert.Equal(t, 1, c.Tick())
	assert.InDelta(t, 49.95, c.Quality(), 1e-9)
	assert.InDelta(t, 5005, c.MaintenanceCost(), 1e-6)

	m := c.Metrics()
	assert.Equal(t, 49.95, m.CodeQuality)
	assert.Equal(t, int64(5005), m.MaintenanceCost)
	assert.Equal(t, 0.51, m.FailureProbability)
	assert.Zero(t, m.RecentFeaturesCount)
}
