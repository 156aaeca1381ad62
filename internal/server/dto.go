package server

import (
	"techdebtsim/internal/domain"
	"techdebtsim/internal/engine"
)

// output wraps a JSON response body.
type output[T any] struct {
	Body T `json:"body"`
}

// Request payloads

type SpeedRequest struct {
	StepsPerSecond float64 `json:"steps_per_second" example:"2"`
}

type DeveloperRequest struct {
	Name              string   `json:"name,omitempty"`
	BaseSkill         *float64 `json:"base_skill,omitempty"`
	TechDebtTolerance *float64 `json:"tech_debt_tolerance,omitempty"`
}

type ProjectRequest struct {
	Type   domain.ProjectType `json:"type" enum:"feature,tech_debt"`
	Impact float64            `json:"impact,omitempty" doc:"Zero draws a random impact"`
}

type LeadRequest struct {
	Name            string  `json:"name,omitempty"`
	ExperienceLevel *float64 `json:"experience_level,omitempty" doc:"Defaults to 50; zero is accepted"`
	FeatureWeight   float64 `json:"feature_weight,omitempty"`
	TechDebtWeight  float64 `json:"tech_debt_weight,omitempty"`
}

type ConstantRequest struct {
	Value float64 `json:"value"`
}

// Responses

type StateResponse struct {
	Changed        bool    `json:"changed"`
	Running        bool    `json:"running"`
	Paused         bool    `json:"paused"`
	Step           int     `json:"step"`
	StepsPerSecond float64 `json:"steps_per_second"`
}

type StepResponse struct {
	Reports []domain.StepReport `json:"reports"`
	Metrics domain.Metrics      `json:"metrics"`
}

type EventPage struct {
	Items      []domain.RunEvent `json:"items"`
	NextCursor int64             `json:"next_cursor,omitempty"`
}

func stateResponse(sim *engine.Simulation, changed bool) StateResponse {
	m := sim.Metrics()
	return StateResponse{
		Changed:        changed,
		Running:        m.IsRunning,
		Paused:         m.IsPaused,
		Step:           m.Step,
		StepsPerSecond: sim.StepsPerSecond(),
	}
}

func validPercent(v *float64) bool {
	return v == nil || (*v >= 0 && *v <= 100)
}
