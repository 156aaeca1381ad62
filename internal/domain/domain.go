package domain

import (
	"math"
	"time"
)

type ProjectType string

const (
	ProjectFeature  ProjectType = "feature"
	ProjectTechDebt ProjectType = "tech_debt"
)

func (t ProjectType) Valid() bool {
	return t == ProjectFeature || t == ProjectTechDebt
}

type ProjectStatus string

const (
	StatusIdea       ProjectStatus = "idea"
	StatusTodo       ProjectStatus = "todo"
	StatusInProgress ProjectStatus = "in_progress"
	StatusCompleted  ProjectStatus = "completed"
)

type Project struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Type            ProjectType   `json:"type" enum:"feature,tech_debt"`
	ImpactValue     float64       `json:"impact_value"`
	Status          ProjectStatus `json:"status" enum:"idea,todo,in_progress,completed"`
	Progress        float64       `json:"progress"`
	AssigneeID      string        `json:"assignee_id,omitempty"`
	CompletedBy     string        `json:"completed_by,omitempty"`
	EstimatedEffort float64       `json:"estimated_effort"`
	Approved        bool          `json:"approved"`
	CreatedAt       time.Time     `json:"created_at" format:"date-time"`
}

type Developer struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	BaseSkill         float64 `json:"base_skill"`
	CodeKnowledge     float64 `json:"code_knowledge"`
	TechDebtTolerance float64 `json:"tech_debt_tolerance"`
	Satisfaction      float64 `json:"satisfaction"`
	BurnoutLevel      float64 `json:"burnout_level"`
	Productivity      float64 `json:"productivity"`
	CurrentProjectID  string  `json:"current_project_id,omitempty"`
	CompletedProjects int     `json:"completed_projects"`
	TimeWithCompany   int     `json:"time_with_company"`
}

type Lead struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Failure is a product incident rolled by the codebase.
type Failure struct {
	Severity    float64 `json:"severity"`
	Impact      float64 `json:"impact"`
	Level       string  `json:"level" enum:"Minor,Major,Critical"`
	Description string  `json:"description"`
}

type ProductMetrics struct {
	Reputation          float64 `json:"reputation"`
	UserCount           int64   `json:"user_count"`
	Revenue             int64   `json:"revenue"`
	ReputationThreshold float64 `json:"reputation_threshold"`
	ChurnRate           float64 `json:"churn_rate_percent"`
	UserGrowthRate      float64 `json:"user_growth_rate"`
	RevenuePerUser      float64 `json:"revenue_per_user"`
}

type CodebaseMetrics struct {
	CodeQuality         float64 `json:"code_quality"`
	FailureProbability  float64 `json:"failure_probability_percent"`
	MaintenanceCost     int64   `json:"maintenance_cost"`
	RecentFeaturesCount int     `json:"recent_features_count"`
}

type TeamMetrics struct {
	DeveloperCount         int     `json:"developer_count"`
	LeadCount              int     `json:"lead_count"`
	IdeaQueueLength        int     `json:"idea_queue_length"`
	TodoListLength         int     `json:"todo_list_length"`
	InProgressCount        int     `json:"in_progress_count"`
	CompletedProjectsCount int     `json:"completed_projects_count"`
	AverageSatisfaction    float64 `json:"average_satisfaction"`
	AverageSkill           float64 `json:"average_skill"`
	AverageWorkload        float64 `json:"average_workload"`
}

// Metrics is the read-only view handed to renderers and API callers.
type Metrics struct {
	Product   ProductMetrics  `json:"product"`
	Codebase  CodebaseMetrics `json:"codebase"`
	Team      TeamMetrics     `json:"team"`
	Step      int             `json:"step"`
	IsRunning bool            `json:"is_running"`
	IsPaused  bool            `json:"is_paused"`
}

// Snapshot is one history entry.
type Snapshot struct {
	Step      int             `json:"step"`
	Product   ProductMetrics  `json:"product"`
	Codebase  CodebaseMetrics `json:"codebase"`
	Team      TeamMetrics     `json:"team"`
	Timestamp time.Time       `json:"timestamp" format:"date-time"`
}

type Summary struct {
	AverageReputation   float64 `json:"average_reputation"`
	UserGrowthRate      float64 `json:"user_growth_rate"`
	AverageCodeQuality  float64 `json:"average_code_quality"`
	AverageSatisfaction float64 `json:"average_satisfaction"`
	TotalRevenue        float64 `json:"total_revenue"`
}

type Statistics struct {
	Current Metrics    `json:"current"`
	History []Snapshot `json:"history"`
	Summary *Summary   `json:"summary,omitempty"`
}

// ProductStep is the per-tick product outcome carried by step events.
type ProductStep struct {
	ReputationChange float64  `json:"reputation_change"`
	FeatureImpact    float64  `json:"feature_impact"`
	Failure          *Failure `json:"failure,omitempty"`
	UserChange       float64  `json:"user_change"`
	Revenue          float64  `json:"revenue"`
	Reputation       float64  `json:"reputation"`
	UserCount        float64  `json:"user_count"`
}

type StepReport struct {
	Step              int         `json:"step"`
	CompletedProjects []Project   `json:"completed_projects"`
	LeavingDevelopers []Developer `json:"leaving_developers"`
	ProductMetrics    ProductStep `json:"product_metrics"`
}

// Round rounds v to the given number of decimal places, half away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ProjectBoard groups projects by pipeline stage.
type ProjectBoard struct {
	Ideas      []Project `json:"ideas"`
	Todo       []Project `json:"todo"`
	InProgress []Project `json:"in_progress"`
	Completed  []Project `json:"completed"`
}

// Run is one recorded simulation session.
type Run struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at" format:"date-time"`
	EndedAt       *time.Time `json:"ended_at,omitempty" format:"date-time"`
	Seed          *uint64    `json:"seed,omitempty"`
	LastStep      int        `json:"last_step"`
	SettingsJSON  string     `json:"settings_json"`
	ConstantsJSON string     `json:"constants_json"`
}

// RunEvent is a persisted lifecycle or step event.
type RunEvent struct {
	ID      int64     `json:"id"`
	RunID   string    `json:"run_id"`
	TS      time.Time `json:"ts" format:"date-time"`
	Kind    string    `json:"kind"`
	Step    int       `json:"step"`
	Payload string    `json:"payload,omitempty"`
}
