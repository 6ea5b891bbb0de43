package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"magnus/internal/config"
	"magnus/internal/db"
	"magnus/internal/domain"
	"magnus/internal/engine"
	"magnus/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	if err := e.SeedDefaultTriggers(context.Background()); err != nil {
		t.Fatalf("seed triggers: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{AllowLegacyActorHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			handler.Close()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	req.Header.Set("X-Actor-Role", "ADMIN")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTestBudget(t *testing.T, srv *testServer) domain.Budget {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/budgets", map[string]any{
		"name":         "Harvest dinner",
		"client_name":  "Miller",
		"event_date":   "2026-10-10T18:00:00Z",
		"guest_count":  40,
		"meals_amount": 1800,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create budget status %d: %s", res.StatusCode, string(data))
	}
	var b domain.Budget
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("unmarshal budget: %v", err)
	}
	return b
}

func TestBudgetWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	b := createTestBudget(t, srv)
	if b.Status != domain.BudgetDraft {
		t.Fatalf("expected DRAFT, got %s", b.Status)
	}

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/workflow/budget-status/"+b.ID, map[string]any{
		"status": "PENDING",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("to PENDING status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflow/approve-budget/"+b.ID, map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var approved domain.Budget
	_ = json.Unmarshal(data, &approved)
	if approved.Status != domain.BudgetReserva {
		t.Fatalf("expected RESERVA, got %s", approved.Status)
	}
	if !approved.WorkflowTriggered {
		t.Fatalf("expected task generation on approve")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/budgets/"+b.ID+"/tasks", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status %d: %s", res.StatusCode, string(data))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) == 0 {
		t.Fatalf("expected generated tasks")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workflow/budget-status/"+b.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("workflow status %d: %s", res.StatusCode, string(data))
	}
	var ws engine.WorkflowStatus
	_ = json.Unmarshal(data, &ws)
	if !ws.WorkflowTriggered || ws.GeneratedTaskCount != len(tasks) {
		t.Fatalf("unexpected workflow status: %+v", ws)
	}
}

func TestTriggerTasksIsIdempotentOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	b := createTestBudget(t, srv)
	doJSON(t, client, http.MethodPatch, srv.URL+"/v1/workflow/budget-status/"+b.ID, map[string]any{"status": "PENDING"}, nil)
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflow/approve-budget/"+b.ID, map[string]any{}, nil)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflow/trigger-tasks/"+b.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trigger status %d: %s", res.StatusCode, string(data))
	}
	var result engine.GenerationResult
	_ = json.Unmarshal(data, &result)
	if !result.AlreadyTriggered {
		t.Fatalf("expected already-triggered result, got %s", string(data))
	}
}

func TestInvalidTransitionReturns400(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	b := createTestBudget(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/workflow/budget-status/"+b.ID, map[string]any{
		"status": "COMPLETED",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &apiErr)
	if apiErr.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition code, got %s", string(data))
	}
}

func TestVersionConflictReturns409(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	b := createTestBudget(t, srv)

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/budgets/"+b.ID, map[string]any{
		"version":      1,
		"total_amount": 2000,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first update status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/budgets/"+b.ID, map[string]any{
		"version":      1,
		"total_amount": 3000,
	}, map[string]string{"X-Actor-Id": "other"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Conflict domain.ConflictResolution `json:"conflict"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &apiErr); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if apiErr.Error.Code != "version_conflict" {
		t.Fatalf("expected version_conflict code, got %s", string(data))
	}
	if apiErr.Error.Details.Conflict.Status != domain.ConflictDetected {
		t.Fatalf("expected conflict record in details: %s", string(data))
	}
}

func TestDependencyCycleReturns400(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	b := createTestBudget(t, srv)

	makeTask := func(title string) domain.Task {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
			"budget_id":     b.ID,
			"title":         title,
			"assigned_role": "LOGISTICS",
			"due_date":      "2026-10-09T12:00:00Z",
		}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
		}
		var task domain.Task
		_ = json.Unmarshal(data, &task)
		return task
	}
	a := makeTask("a")
	c := makeTask("c")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+c.ID+"/dependencies", map[string]any{
		"prerequisite_id": a.ID,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first edge status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+a.ID+"/dependencies", map[string]any{
		"prerequisite_id": c.ID,
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &apiErr)
	if apiErr.Error.Code != "cycle_detected" {
		t.Fatalf("expected cycle_detected code, got %s", string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/budgets", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	// health stays open
	res, err = srv.Client().Get(srv.URL + "/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", res.StatusCode)
	}
}
