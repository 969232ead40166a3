package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/board-automation/internal/action"
	"github.com/p-blackswan/board-automation/internal/api"
	"github.com/p-blackswan/board-automation/internal/board"
	"github.com/p-blackswan/board-automation/internal/engine"
	"github.com/p-blackswan/board-automation/internal/event"
	"github.com/p-blackswan/board-automation/internal/health"
	"github.com/p-blackswan/board-automation/internal/rule"
	"github.com/p-blackswan/board-automation/internal/scheduler"
	"github.com/p-blackswan/board-automation/internal/store"
)

type testServer struct {
	server *api.Server
	rules  *store.MemStore
	board  *board.MemStore
	bus    *event.Bus
	eng    *engine.Engine
}

func newTestServer(t *testing.T, cfg api.ServerConfig) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	boardStore := board.NewMemStore()
	boardStore.AddSection(&board.Section{ID: "todo", ProjectID: "p1", Name: "To Do"})
	boardStore.AddSection(&board.Section{ID: "done", ProjectID: "p1", Name: "Done", Position: 1})
	boardStore.AddTask(&board.Task{ID: "t1", ProjectID: "p1", SectionID: "todo", Title: "write report"})

	rules := store.NewMemStore()
	undo := engine.NewUndoSlot(0)
	eng := engine.New(rules, boardStore, action.NewExecutor(boardStore), undo, nil,
		engine.Config{Tick: 30 * time.Second, HistoryLimit: 20}, logger)
	sched := scheduler.New(eng, rules, nil, 30*time.Second, logger)
	bus := event.NewBus(logger)

	handlers := api.NewHandlers(rules, boardStore, eng, sched, bus, health.NewChecker(logger), logger)
	server := api.NewServer(cfg, handlers, nil, logger)

	return &testServer{server: server, rules: rules, board: boardStore, bus: bus, eng: eng}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func ruleBody(name string) api.RuleRequest {
	return api.RuleRequest{
		Name: name,
		Trigger: rule.Trigger{
			Kind:     rule.TriggerInterval,
			Schedule: &rule.Schedule{IntervalMinutes: 60},
		},
		Action: action.Action{Kind: action.KindMoveToBottom, SectionID: "done"},
	}
}

func noAuth() api.ServerConfig {
	return api.ServerConfig{AuthConfig: api.AuthConfig{Mode: "none"}}
}

func TestCreateAndGetRule(t *testing.T) {
	ts := newTestServer(t, noAuth())

	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("sweeper"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[rule.AutomationRule](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Enabled)
	assert.Equal(t, "p1", created.ProjectID)

	resp = ts.request(t, http.MethodGet, "/api/v1/rules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[rule.AutomationRule](t, resp)
	assert.Equal(t, "sweeper", got.Name)
}

func TestCreateRule_Invalid(t *testing.T) {
	ts := newTestServer(t, noAuth())

	body := ruleBody("bad")
	body.Trigger.Schedule.IntervalMinutes = 1
	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	problem := decode[api.ProblemDetail](t, resp)
	assert.Equal(t, "invalid_rule", problem.Type)
}

func TestListRules(t *testing.T) {
	ts := newTestServer(t, noAuth())
	ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("a"))
	ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("b"))

	resp := ts.request(t, http.MethodGet, "/api/v1/projects/p1/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Rules []rule.AutomationRule `json:"rules"`
		Count int                   `json:"count"`
	}](t, resp)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "a", body.Rules[0].Name)
	assert.Equal(t, "b", body.Rules[1].Name)
}

func TestUpdateRule_ClearsBrokenReason(t *testing.T) {
	ts := newTestServer(t, noAuth())
	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("a"))
	created := decode[rule.AutomationRule](t, resp)

	_, err := ts.rules.Update(created.ID, func(st *rule.AutomationRule) error {
		st.BrokenReason = "section gone"
		st.Enabled = false
		return nil
	})
	require.NoError(t, err)

	resp = ts.request(t, http.MethodPut, "/api/v1/rules/"+created.ID, ruleBody("fixed"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[rule.AutomationRule](t, resp)
	assert.Equal(t, "fixed", updated.Name)
	assert.Empty(t, updated.BrokenReason)
}

func TestDeleteRule(t *testing.T) {
	ts := newTestServer(t, noAuth())
	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("a"))
	created := decode[rule.AutomationRule](t, resp)

	resp = ts.request(t, http.MethodDelete, "/api/v1/rules/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.request(t, http.MethodGet, "/api/v1/rules/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnableDisableRule(t *testing.T) {
	ts := newTestServer(t, noAuth())
	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("a"))
	created := decode[rule.AutomationRule](t, resp)

	resp = ts.request(t, http.MethodPost, "/api/v1/rules/"+created.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[rule.AutomationRule](t, resp).Enabled)

	resp = ts.request(t, http.MethodPost, "/api/v1/rules/"+created.ID+"/enable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[rule.AutomationRule](t, resp).Enabled)
}

func TestEnableRule_BrokenConflicts(t *testing.T) {
	ts := newTestServer(t, noAuth())
	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("a"))
	created := decode[rule.AutomationRule](t, resp)

	_, err := ts.rules.Update(created.ID, func(st *rule.AutomationRule) error {
		st.BrokenReason = "section gone"
		st.Enabled = false
		return nil
	})
	require.NoError(t, err)

	resp = ts.request(t, http.MethodPost, "/api/v1/rules/"+created.ID+"/enable", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRunRule(t *testing.T) {
	ts := newTestServer(t, noAuth())
	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("a"))
	created := decode[rule.AutomationRule](t, resp)

	resp = ts.request(t, http.MethodPost, "/api/v1/rules/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[engine.Outcome](t, resp)
	assert.True(t, out.Executed)
	assert.Equal(t, 1, out.MatchCount)

	// The board mutated: t1 moved to done.
	task, err := ts.board.TaskByID("t1")
	require.NoError(t, err)
	assert.Equal(t, "done", task.SectionID)
}

func TestRunRule_EventRuleRejected(t *testing.T) {
	ts := newTestServer(t, noAuth())
	body := api.RuleRequest{
		Name:    "on complete",
		Trigger: rule.Trigger{Kind: rule.TriggerCardMarkedComplete},
		Action:  action.Action{Kind: action.KindMoveToTop, SectionID: "done"},
	}
	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", body)
	created := decode[rule.AutomationRule](t, resp)

	resp = ts.request(t, http.MethodPost, "/api/v1/rules/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "not_scheduled", decode[api.ProblemDetail](t, resp).Type)
}

func TestDryRun_NoMutation(t *testing.T) {
	ts := newTestServer(t, noAuth())
	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("a"))
	created := decode[rule.AutomationRule](t, resp)

	resp = ts.request(t, http.MethodPost, "/api/v1/rules/"+created.ID+"/dry-run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[engine.DryRunResult](t, resp)
	assert.Equal(t, 1, res.TotalCount)
	require.Len(t, res.MatchingTasks, 1)
	assert.Equal(t, "t1", res.MatchingTasks[0].ID)
	assert.NotEmpty(t, res.ActionDescription)

	task, err := ts.board.TaskByID("t1")
	require.NoError(t, err)
	assert.Equal(t, "todo", task.SectionID)
}

func TestListExecutions(t *testing.T) {
	ts := newTestServer(t, noAuth())
	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("a"))
	created := decode[rule.AutomationRule](t, resp)
	ts.request(t, http.MethodPost, "/api/v1/rules/"+created.ID+"/run", nil)

	resp = ts.request(t, http.MethodGet, "/api/v1/rules/"+created.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.ExecutionsResponse](t, resp)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, rule.ExecutionScheduled, body.Executions[0].Type)
}

func TestBulkPauseResume(t *testing.T) {
	ts := newTestServer(t, noAuth())
	ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("a"))
	ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("b"))

	resp := ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules/pause-all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[api.BulkResponse](t, resp).Count)

	resp = ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules/resume-all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[api.BulkResponse](t, resp).Count)
}

func TestIngestEvent(t *testing.T) {
	ts := newTestServer(t, noAuth())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := ts.bus.Subscribe(ctx, 1)

	resp := ts.request(t, http.MethodPost, "/api/v1/events", api.EventRequest{
		Type:   string(event.TypeCardMarkedComplete),
		TaskID: "t1",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case ev := <-events:
		assert.Equal(t, event.TypeCardMarkedComplete, ev.Type)
		require.NotNil(t, ev.Task)
		assert.Equal(t, "t1", ev.Task.ID)
		assert.Equal(t, "todo", ev.SectionID)
	case <-time.After(time.Second):
		t.Fatal("expected event on the bus")
	}
}

func TestIngestEvent_Invalid(t *testing.T) {
	ts := newTestServer(t, noAuth())

	resp := ts.request(t, http.MethodPost, "/api/v1/events", api.EventRequest{Type: "card_levitated"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.request(t, http.MethodPost, "/api/v1/events", api.EventRequest{
		Type:   string(event.TypeCardMarkedComplete),
		TaskID: "ghost",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.request(t, http.MethodPost, "/api/v1/events", api.EventRequest{
		Type: string(event.TypeSectionCreated),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUndoEndpoint(t *testing.T) {
	ts := newTestServer(t, noAuth())

	resp := ts.request(t, http.MethodPost, "/api/v1/undo", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	created := decode[rule.AutomationRule](t,
		ts.request(t, http.MethodPost, "/api/v1/projects/p1/rules", ruleBody("a")))
	ts.request(t, http.MethodPost, "/api/v1/rules/"+created.ID+"/run", nil)

	resp = ts.request(t, http.MethodGet, "/api/v1/undo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	peek := decode[api.UndoResponse](t, resp)
	assert.Equal(t, "a", peek.RuleName)
	require.NotNil(t, peek.ExpiresAt)

	resp = ts.request(t, http.MethodPost, "/api/v1/undo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decode[api.UndoResponse](t, resp).Description)

	task, err := ts.board.TaskByID("t1")
	require.NoError(t, err)
	assert.Equal(t, "todo", task.SectionID)

	// Single slot: a second undo finds nothing.
	resp = ts.request(t, http.MethodPost, "/api/v1/undo", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, noAuth())
	resp := ts.request(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_APIKey(t *testing.T) {
	ts := newTestServer(t, api.ServerConfig{
		AuthConfig: api.AuthConfig{Mode: "api-key", APIKey: "secret"},
	})

	resp := ts.request(t, http.MethodGet, "/api/v1/projects/p1/rules", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Probes stay open.
	resp = ts.request(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/rules", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := ts.server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/rules", nil)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", "wrong"))
	resp, err = ts.server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_ReadOnlyKey(t *testing.T) {
	ts := newTestServer(t, api.ServerConfig{
		AuthConfig: api.AuthConfig{Mode: "api-key", APIKey: "secret", ReadOnlyKey: "viewer"},
	})

	do := func(method, path string) *http.Response {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer viewer")
		resp, err := ts.server.App().Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	resp := do(http.MethodGet, "/api/v1/projects/p1/rules")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Mutating routes need the operator credential.
	resp = do(http.MethodPost, "/api/v1/projects/p1/rules/pause-all")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "insufficient_role", decode[api.ProblemDetail](t, resp).Type)
}

func TestRateLimit_TooManyRequests(t *testing.T) {
	cfg := noAuth()
	cfg.RateLimit = api.RateLimitConfig{RPS: 1, Burst: 2}
	ts := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		resp := ts.request(t, http.MethodGet, "/api/v1/projects/p1/rules", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := ts.request(t, http.MethodGet, "/api/v1/projects/p1/rules", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode[api.ProblemDetail](t, resp).Type)

	// A different credential gets its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/rules", nil)
	req.Header.Set("Authorization", "Bearer other")
	fresh, err := ts.server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, fresh.StatusCode)

	// Probes bypass the limiter entirely.
	resp = ts.request(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, noAuth())

	// An inbound ID is echoed back.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := ts.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))

	// Without one, the server mints an ID.
	resp = ts.request(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
