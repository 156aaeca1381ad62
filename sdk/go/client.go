package tdssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal client for the simulator HTTP API.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// State is the lifecycle state returned by control calls.
type State struct {
	Changed        bool    `json:"changed"`
	Running        bool    `json:"running"`
	Paused         bool    `json:"paused"`
	Step           int     `json:"step"`
	StepsPerSecond float64 `json:"steps_per_second"`
}

// Metrics represents the current metrics (partial).
type Metrics struct {
	Step      int  `json:"step"`
	IsRunning bool `json:"is_running"`
	IsPaused  bool `json:"is_paused"`
	Product   struct {
		Reputation float64 `json:"reputation"`
		UserCount  int64   `json:"user_count"`
		Revenue    int64   `json:"revenue"`
	} `json:"product"`
	Codebase struct {
		CodeQuality        float64 `json:"code_quality"`
		FailureProbability float64 `json:"failure_probability_percent"`
		MaintenanceCost    int64   `json:"maintenance_cost"`
	} `json:"codebase"`
	Team struct {
		DeveloperCount      int     `json:"developer_count"`
		AverageSatisfaction float64 `json:"average_satisfaction"`
		IdeaQueueLength     int     `json:"idea_queue_length"`
		TodoListLength      int     `json:"todo_list_length"`
		InProgressCount     int     `json:"in_progress_count"`
		CompletedCount      int     `json:"completed_projects_count"`
	} `json:"team"`
}

type Developer struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	BaseSkill         float64 `json:"base_skill"`
	TechDebtTolerance float64 `json:"tech_debt_tolerance"`
	Satisfaction      float64 `json:"satisfaction"`
	BurnoutLevel      float64 `json:"burnout_level"`
	CurrentProjectID  string  `json:"current_project_id,omitempty"`
}

type Project struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	ImpactValue float64 `json:"impact_value"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
}

type ProjectBoard struct {
	Ideas      []Project `json:"ideas"`
	Todo       []Project `json:"todo"`
	InProgress []Project `json:"in_progress"`
	Completed  []Project `json:"completed"`
}

type Lead struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StepResult carries one report per tick plus the metrics afterwards.
type StepResult struct {
	Reports []struct {
		Step              int            `json:"step"`
		CompletedProjects []Project      `json:"completed_projects"`
		LeavingDevelopers []Developer    `json:"leaving_developers"`
		ProductMetrics    map[string]any `json:"product_metrics"`
	} `json:"reports"`
	Metrics Metrics `json:"metrics"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Metrics(ctx context.Context) (Metrics, error) {
	var resp Metrics
	err := c.do(ctx, http.MethodGet, "metrics", nil, &resp)
	return resp, err
}

func (c *Client) State(ctx context.Context) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodGet, "simulation", nil, &resp)
	return resp, err
}

// Control runs a lifecycle action: start, pause, resume, stop or reset.
func (c *Client) Control(ctx context.Context, action string) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodPost, "simulation/"+url.PathEscape(action), nil, &resp)
	return resp, err
}

// Step advances the simulation by count ticks.
func (c *Client) Step(ctx context.Context, count int) (StepResult, error) {
	var resp StepResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("step?count=%d", count), nil, &resp)
	return resp, err
}

func (c *Client) SetSpeed(ctx context.Context, stepsPerSecond float64) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodPut, "simulation/speed", map[string]any{"steps_per_second": stepsPerSecond}, &resp)
	return resp, err
}

func (c *Client) Developers(ctx context.Context) ([]Developer, error) {
	var resp []Developer
	err := c.do(ctx, http.MethodGet, "developers", nil, &resp)
	return resp, err
}

// HireDeveloper adds a developer; empty fields are drawn by the server.
func (c *Client) HireDeveloper(ctx context.Context, name string) (Developer, error) {
	body := map[string]any{}
	if name != "" {
		body["name"] = name
	}
	var resp Developer
	err := c.do(ctx, http.MethodPost, "developers", body, &resp)
	return resp, err
}

func (c *Client) RemoveDeveloper(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "developers/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Projects(ctx context.Context) (ProjectBoard, error) {
	var resp ProjectBoard
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

// AddProject queues an idea of type feature or tech_debt.
func (c *Client) AddProject(ctx context.Context, projectType string, impact float64) (ProjectBoard, error) {
	var resp ProjectBoard
	err := c.do(ctx, http.MethodPost, "projects", map[string]any{"type": projectType, "impact": impact}, &resp)
	return resp, err
}

func (c *Client) ApproveProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(id)+"/approve", nil, nil)
}

func (c *Client) Leads(ctx context.Context) ([]Lead, error) {
	var resp []Lead
	err := c.do(ctx, http.MethodGet, "leads", nil, &resp)
	return resp, err
}

func (c *Client) AddLead(ctx context.Context, name string, experience, featureWeight, techDebtWeight float64) (Lead, error) {
	body := map[string]any{
		"name":             name,
		"experience_level": experience,
		"feature_weight":   featureWeight,
		"tech_debt_weight": techDebtWeight,
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, "leads", body, &resp)
	return resp, err
}

func (c *Client) Constants(ctx context.Context) (map[string]float64, error) {
	var resp map[string]float64
	err := c.do(ctx, http.MethodGet, "constants", nil, &resp)
	return resp, err
}

// ImportConstants merges values into the server's constants.
func (c *Client) ImportConstants(ctx context.Context, values map[string]float64) (map[string]float64, error) {
	var resp map[string]float64
	err := c.do(ctx, http.MethodPut, "constants", values, &resp)
	return resp, err
}

func (c *Client) SetConstant(ctx context.Context, key string, value float64) error {
	return c.do(ctx, http.MethodPut, "constants/"+url.PathEscape(key), map[string]any{"value": value}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
