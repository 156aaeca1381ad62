package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"techdebtsim/internal/domain"
	"techdebtsim/internal/engine"
	"techdebtsim/internal/repo"
	"techdebtsim/internal/team"
)

// Config for the HTTP API handler.
type Config struct {
	Sim *engine.Simulation
	// Runs enables the recorded history routes.
	Runs *repo.Repo
	// Hub enables the websocket event stream.
	Hub      *Hub
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"developer not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope shared by every route.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the simulation API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Sim == nil {
		return nil, errors.New("server: simulation required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(cfg.Auth))
	router.Use(requestLogger(logger))

	hcfg := huma.DefaultConfig("Tech Debt Simulator API", "1.0.0")
	hcfg.OpenAPIPath = path.Join(basePath, "openapi")
	hcfg.DocsPath = path.Join(basePath, "docs")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerSimulation(group, cfg.Sim)
	registerTeam(group, cfg.Sim)
	registerConstants(group, cfg.Sim)
	if cfg.Runs != nil {
		registerRuns(group, *cfg.Runs)
	}
	if cfg.Hub != nil {
		cfg.Sim.Subscribe(cfg.Hub.Publish)
		router.Get(path.Join(basePath, "stream"), cfg.Hub.ServeHTTP)
	}
	describeErrors(api.OpenAPI(), cfg.Auth.enabled())
	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			attrs := []any{"method", r.Method, "path", r.URL.Path, "status", ww.Status()}
			level := slog.LevelDebug
			if !readOnly(r.Method) {
				level = slog.LevelInfo
			}
			if p, ok := PrincipalFromContext(r.Context()); ok {
				attrs = append(attrs, "actor", p.Subject, "roles", p.Roles, "via", p.Source)
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid"), strings.Contains(lowered, "required"),
		strings.Contains(lowered, "must be"), strings.Contains(lowered, "ambiguous"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// describeErrors documents the shared error envelope and, when tokens are
// required, marks mutating operations with bearer security.
func describeErrors(oas *huma.OpenAPI, secured bool) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if secured {
		if oas.Components.SecuritySchemes == nil {
			oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
		}
		oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		}
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if secured {
				op.Security = []map[string][]string{{"bearerAuth": {}}}
			}
		}
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return &output[map[string]string]{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSimulation(api huma.API, sim *engine.Simulation) {
	huma.Register(api, huma.Operation{
		OperationID: "get-metrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Summary:     "Current metrics",
	}, func(ctx context.Context, _ *struct{}) (*output[domain.Metrics], error) {
		return &output[domain.Metrics]{Body: sim.Metrics()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-statistics",
		Method:      http.MethodGet,
		Path:        "/statistics",
		Summary:     "Metrics, retained history and recent summary",
	}, func(ctx context.Context, _ *struct{}) (*output[domain.Statistics], error) {
		return &output[domain.Statistics]{Body: sim.Statistics()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-simulation",
		Method:      http.MethodGet,
		Path:        "/simulation",
		Summary:     "Lifecycle state",
	}, func(ctx context.Context, _ *struct{}) (*output[StateResponse], error) {
		return &output[StateResponse]{Body: stateResponse(sim, false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "control-simulation",
		Method:      http.MethodPost,
		Path:        "/simulation/{action}",
		Summary:     "Start, pause, resume, stop or reset",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Action string `path:"action" enum:"start,pause,resume,stop,reset"`
	}) (*output[StateResponse], error) {
		changed := true
		switch input.Action {
		case "start":
			changed = sim.Start()
		case "pause":
			changed = sim.Pause()
		case "resume":
			changed = sim.Resume()
		case "stop":
			sim.Stop()
		case "reset":
			sim.Reset()
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown action %q", input.Action), nil)
		}
		return &output[StateResponse]{Body: stateResponse(sim, changed)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "step-simulation",
		Method:      http.MethodPost,
		Path:        "/step",
		Summary:     "Advance the simulation by count ticks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Count int `query:"count" default:"1" minimum:"1" maximum:"1000"`
	}) (*output[StepResponse], error) {
		count := input.Count
		if count <= 0 {
			count = 1
		}
		resp := StepResponse{Reports: make([]domain.StepReport, 0, count)}
		for i := 0; i < count; i++ {
			resp.Reports = append(resp.Reports, sim.RunStep(ctx))
		}
		resp.Metrics = sim.Metrics()
		return &output[StepResponse]{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-speed",
		Method:      http.MethodPut,
		Path:        "/simulation/speed",
		Summary:     "Set steps per second; values are clamped to the configured band",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body SpeedRequest `json:"body"`
	}) (*output[StateResponse], error) {
		if input.Body.StepsPerSecond <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "steps_per_second must be > 0", nil)
		}
		sim.SetStepsPerSecond(input.Body.StepsPerSecond)
		return &output[StateResponse]{Body: stateResponse(sim, true)}, nil
	})
}

func registerTeam(api huma.API, sim *engine.Simulation) {
	huma.Register(api, huma.Operation{
		OperationID: "list-developers",
		Method:      http.MethodGet,
		Path:        "/developers",
		Summary:     "List developers",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Developer], error) {
		devs := sim.Developers()
		if devs == nil {
			devs = []domain.Developer{}
		}
		return &output[[]domain.Developer]{Body: devs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "hire-developer",
		Method:        http.MethodPost,
		Path:          "/developers",
		Summary:       "Hire a developer; omitted attributes are drawn at random",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body DeveloperRequest `json:"body"`
	}) (*output[domain.Developer], error) {
		if !validPercent(input.Body.BaseSkill) || !validPercent(input.Body.TechDebtTolerance) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "base_skill and tech_debt_tolerance must be within [0,100]", nil)
		}
		dev := sim.AddDeveloper(team.DeveloperOptions{
			Name:              input.Body.Name,
			BaseSkill:         input.Body.BaseSkill,
			TechDebtTolerance: input.Body.TechDebtTolerance,
		})
		return &output[domain.Developer]{Body: dev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-developer",
		Method:        http.MethodDelete,
		Path:          "/developers/{id}",
		Summary:       "Remove a developer; their project returns to the todo list",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if !sim.RemoveDeveloper(input.ID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "developer not found", map[string]any{"id": input.ID})
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "Projects grouped by pipeline stage",
	}, func(ctx context.Context, _ *struct{}) (*output[domain.ProjectBoard], error) {
		return &output[domain.ProjectBoard]{Body: sim.Projects()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Queue a feature or tech debt idea",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ProjectRequest `json:"body"`
	}) (*output[domain.ProjectBoard], error) {
		if input.Body.Impact < 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "impact must be >= 0", nil)
		}
		var ok bool
		switch input.Body.Type {
		case domain.ProjectFeature:
			ok = sim.AddFeatureProject(input.Body.Impact)
		case domain.ProjectTechDebt:
			ok = sim.AddTechDebtProject(input.Body.Impact)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "type must be feature or tech_debt", nil)
		}
		if !ok {
			return nil, newAPIError(http.StatusConflict, "conflict", "project rejected", nil)
		}
		return &output[domain.ProjectBoard]{Body: sim.Projects()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "approve-project",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/approve",
		Summary:       "Approve an idea and move it to the todo list",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if !sim.ApproveProject(input.ID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "idea not found", map[string]any{"id": input.ID})
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/leads",
		Summary:     "List leads",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Lead], error) {
		leads := sim.Leads()
		if leads == nil {
			leads = []domain.Lead{}
		}
		return &output[[]domain.Lead]{Body: leads}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-lead",
		Method:        http.MethodPost,
		Path:          "/leads",
		Summary:       "Register a weighted lead that takes over approvals",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LeadRequest `json:"body"`
	}) (*output[domain.Lead], error) {
		b := input.Body
		if !validPercent(b.ExperienceLevel) || b.FeatureWeight < 0 || b.TechDebtWeight < 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "experience_level must be within [0,100] and weights >= 0", nil)
		}
		lead := sim.NewLead(team.LeadOptions{
			Name:            b.Name,
			ExperienceLevel: b.ExperienceLevel,
			FeatureWeight:   b.FeatureWeight,
			TechDebtWeight:  b.TechDebtWeight,
		})
		if !sim.AddLead(lead) {
			return nil, newAPIError(http.StatusConflict, "conflict", "lead rejected", nil)
		}
		return &output[domain.Lead]{Body: domain.Lead{ID: lead.ID(), Name: lead.Name()}}, nil
	})
}

func registerConstants(api huma.API, sim *engine.Simulation) {
	huma.Register(api, huma.Operation{
		OperationID: "get-constants",
		Method:      http.MethodGet,
		Path:        "/constants",
		Summary:     "Current tuning constants",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]float64], error) {
		return &output[map[string]float64]{Body: sim.Constants()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-constants",
		Method:      http.MethodPut,
		Path:        "/constants",
		Summary:     "Merge constants; unknown keys are kept",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body map[string]float64 `json:"body"`
	}) (*output[map[string]float64], error) {
		data, err := json.Marshal(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		if err := sim.ImportConstants(data); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &output[map[string]float64]{Body: sim.Constants()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-constant",
		Method:      http.MethodPut,
		Path:        "/constants/{key}",
		Summary:     "Set one constant",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Key  string          `path:"key"`
		Body ConstantRequest `json:"body"`
	}) (*output[map[string]float64], error) {
		if err := sim.SetConstant(input.Key, input.Body.Value); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &output[map[string]float64]{Body: map[string]float64{input.Key: input.Body.Value}}, nil
	})
}

func registerRuns(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "Recorded runs, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*output[[]domain.Run], error) {
		runs, err := r.ListRuns(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []domain.Run{}
		}
		return &output[[]domain.Run]{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "One run by id, id prefix or latest",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.Run], error) {
		run, err := r.ResolveRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[domain.Run]{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-run-snapshots",
		Method:      http.MethodGet,
		Path:        "/runs/{id}/snapshots",
		Summary:     "Persisted snapshots in step order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		From  int    `query:"from"`
		Limit int    `query:"limit" default:"50"`
	}) (*output[[]domain.Snapshot], error) {
		run, err := r.ResolveRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		snaps, err := r.ListSnapshots(ctx, run.ID, input.From, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if snaps == nil {
			snaps = []domain.Snapshot{}
		}
		return &output[[]domain.Snapshot]{Body: snaps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-run-events",
		Method:      http.MethodGet,
		Path:        "/runs/{id}/events",
		Summary:     "Persisted events after a cursor",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Kind   string `query:"kind"`
		Cursor int64  `query:"cursor"`
		Limit  int    `query:"limit" default:"50"`
	}) (*output[EventPage], error) {
		if input.Kind != "" && !engine.EventKind(input.Kind).Valid() {
			return nil, newAPIError(http.StatusBadRequest, "invalid_kind", "unknown event kind", map[string]any{"kinds": engine.EventKinds})
		}
		run, err := r.ResolveRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		items, err := r.EventsAfter(ctx, repo.EventFilter{RunID: run.ID, Kind: input.Kind, Cursor: input.Cursor, Limit: limit + 1})
		if err != nil {
			return nil, handleError(err)
		}
		page := EventPage{Items: []domain.RunEvent{}}
		if len(items) > limit {
			items = items[:limit]
			page.NextCursor = items[limit-1].ID
		}
		page.Items = append(page.Items, items...)
		return &output[EventPage]{Body: page}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
