package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techdebtsim/internal/db"
	"techdebtsim/internal/engine"
	"techdebtsim/internal/events"
	"techdebtsim/internal/migrate"
	"techdebtsim/internal/random"
	"techdebtsim/internal/repo"
	tdssdk "techdebtsim/sdk/go"
)

type testServer struct {
	URL string
	Sim *engine.Simulation
	SDK *tdssdk.Client
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	sim := engine.New(engine.Options{Rand: random.NewSeeded(11)})
	cfg := Config{Sim: sim}
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := New(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		sim.Stop()
		srv.Close()
	})
	return &testServer{URL: srv.URL, Sim: sim, SDK: tdssdk.New(srv.URL)}
}

func statusOf(err error) int {
	var apiErr *tdssdk.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func TestLifecycleRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	m, err := ts.SDK.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Team.DeveloperCount)
	assert.Equal(t, int64(1000), m.Product.UserCount)

	res, err := ts.SDK.Step(ctx, 5)
	require.NoError(t, err)
	require.Len(t, res.Reports, 5)
	assert.Equal(t, 5, res.Reports[4].Step)
	assert.Equal(t, 5, res.Metrics.Step)

	st, err := ts.SDK.Control(ctx, "start")
	require.NoError(t, err)
	assert.True(t, st.Changed)
	assert.True(t, st.Running)
	st, err = ts.SDK.Control(ctx, "start")
	require.NoError(t, err)
	assert.False(t, st.Changed)

	st, err = ts.SDK.Control(ctx, "pause")
	require.NoError(t, err)
	assert.True(t, st.Paused)
	st, err = ts.SDK.SetSpeed(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 10.0, st.StepsPerSecond)
	assert.True(t, st.Paused, "speed changes keep the paused state")

	st, err = ts.SDK.Control(ctx, "reset")
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, 0, st.Step)

	_, err = ts.SDK.Control(ctx, "explode")
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
	_, err = ts.SDK.Step(ctx, 0)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
	_, err = ts.SDK.SetSpeed(ctx, 0)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestTeamRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	dev, err := ts.SDK.HireDeveloper(ctx, "Dana")
	require.NoError(t, err)
	assert.Equal(t, "Dana", dev.Name)
	devs, err := ts.SDK.Developers(ctx)
	require.NoError(t, err)
	assert.Len(t, devs, 4)

	require.NoError(t, ts.SDK.RemoveDeveloper(ctx, dev.ID))
	assert.Equal(t, http.StatusNotFound, statusOf(ts.SDK.RemoveDeveloper(ctx, dev.ID)))

	board, err := ts.SDK.AddProject(ctx, "tech_debt", 6)
	require.NoError(t, err)
	require.Len(t, board.Ideas, 5)
	added := board.Ideas[4]
	assert.Equal(t, "tech_debt", added.Type)

	require.NoError(t, ts.SDK.ApproveProject(ctx, added.ID))
	board, err = ts.SDK.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, board.Todo, 1)
	assert.Equal(t, added.ID, board.Todo[0].ID)
	assert.Equal(t, http.StatusNotFound, statusOf(ts.SDK.ApproveProject(ctx, added.ID)))

	_, err = ts.SDK.AddProject(ctx, "chore", 1)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	lead, err := ts.SDK.AddLead(ctx, "Ops Lead", 70, 0.3, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "Ops Lead", lead.Name)
	leads, err := ts.SDK.Leads(ctx)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, lead.ID, leads[0].ID)
	_, err = ts.SDK.AddLead(ctx, "", 140, 0, 0)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
	_, err = ts.SDK.AddLead(ctx, "Intern Lead", 0, 1, 0)
	require.NoError(t, err)
}

func TestConstantsRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	all, err := ts.SDK.Constants(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "churnRate")

	require.NoError(t, ts.SDK.SetConstant(ctx, "churnRate", 0.01))
	merged, err := ts.SDK.ImportConstants(ctx, map[string]float64{"revenuePerUser": 12, "customKnob": 3})
	require.NoError(t, err)
	assert.Equal(t, 0.01, merged["churnRate"])
	assert.Equal(t, 12.0, merged["revenuePerUser"])
	assert.Equal(t, 3.0, merged["customKnob"])
	assert.Equal(t, 12.0, ts.Sim.Constants()["revenuePerUser"])
}

func TestMutationsRequireTokenWhenSecretSet(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.Auth.JWTSecret = "s3cret" })
	ctx := context.Background()

	_, err := ts.SDK.Metrics(ctx)
	require.NoError(t, err, "reads stay open")

	_, err = ts.SDK.Step(ctx, 1)
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	bad, err := IssueToken("other", "ops", time.Minute)
	require.NoError(t, err)
	ts.SDK.BearerToken = bad
	_, err = ts.SDK.Step(ctx, 1)
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	good, err := IssueToken("s3cret", "ops", time.Minute, "operator")
	require.NoError(t, err)
	ts.SDK.BearerToken = good
	res, err := ts.SDK.Step(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Metrics.Step)

	principal, err := authenticateJWT(good, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ops", principal.Subject)
	assert.Equal(t, []string{"operator"}, principal.Roles)

	_, err = IssueToken("", "ops", 0)
	assert.Error(t, err)
}

func TestRunRoutes(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "tds.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))
	r := repo.Repo{DB: conn}

	var rec *events.Recorder
	ts := newTestServer(t, func(c *Config) {
		c.Runs = &r
		rec = events.NewRecorder(conn, events.RecorderOptions{SnapshotEvery: 1, Constants: c.Sim.Constants})
		rec.Attach(c.Sim)
	})
	_, err = ts.SDK.Step(ctx, 3)
	require.NoError(t, err)

	var runs []map[string]any
	getJSON(t, ts.URL+"/v1/runs", &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, rec.RunID(), runs[0]["id"])

	var page EventPage
	getJSON(t, ts.URL+"/v1/runs/latest/events?limit=2", &page)
	require.Len(t, page.Items, 2)
	require.NotZero(t, page.NextCursor)
	var rest EventPage
	getJSON(t, ts.URL+"/v1/runs/latest/events?cursor="+strconv.FormatInt(page.NextCursor, 10), &rest)
	require.Len(t, rest.Items, 1)
	assert.Equal(t, 3, rest.Items[0].Step)
	assert.Zero(t, rest.NextCursor)

	var snaps []map[string]any
	getJSON(t, ts.URL+"/v1/runs/latest/snapshots?from=2", &snaps)
	assert.Len(t, snaps, 2)

	var steps EventPage
	getJSON(t, ts.URL+"/v1/runs/latest/events?kind=stepCompleted", &steps)
	assert.Len(t, steps.Items, 3)

	res, err := http.Get(ts.URL + "/v1/runs/latest/events?kind=stepFinished")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = http.Get(ts.URL + "/v1/runs/nope")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestStreamDeliversStepEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)
	ts := newTestServer(t, func(c *Config) { c.Hub = hub })

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = ts.SDK.Step(context.Background(), 1)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev engine.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, engine.EventStepCompleted, ev.Kind)
	assert.Equal(t, 1, ev.Step)
	require.NotNil(t, ev.Report)
	require.NotNil(t, ev.Snapshot)
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.NewDecoder(res.Body).Decode(out))
}

func TestRequestLogNamesAuthenticatedActor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	var seen Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := newAuthMiddleware(AuthConfig{JWTSecret: "s3cret"})(requestLogger(logger)(inner))

	token, err := IssueToken("s3cret", "ops", time.Minute, "operator")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/step", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, Principal{Subject: "ops", Roles: []string{"operator"}, Source: "jwt"}, seen)
	line := buf.String()
	assert.Contains(t, line, "level=INFO")
	assert.Contains(t, line, "actor=ops")
	assert.Contains(t, line, "via=jwt")

	buf.Reset()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.NotContains(t, buf.String(), "actor=")
}
