package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ventureboard/internal/config"
	"ventureboard/internal/db"
	"ventureboard/internal/domain"
	"ventureboard/internal/engine"
	"ventureboard/internal/migrate"
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
	return newTestServerWithAuth(t, AuthConfig{})
}

func newTestServerWithAuth(t *testing.T, auth AuthConfig) (*testServer, func()) {
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
	handler, err := New(Config{Engine: e, BasePath: "/api", Auth: auth})
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
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
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

func createVenture(t *testing.T, srv *testServer, name string) domain.Venture {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/ventures", map[string]any{
		"name":          name,
		"capitalBudget": 100,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create venture status %d: %s", res.StatusCode, string(data))
	}
	var v domain.Venture
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal venture: %v", err)
	}
	return v
}

func createTask(t *testing.T, srv *testServer, ventureID, title, priority string) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"ventureId": ventureID,
		"title":     title,
		"priority":  priority,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func TestClaimAndCompleteRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	v := createVenture(t, srv, "Venture One")
	createTask(t, srv, v.ID, "low work", "low")
	urgent := createTask(t, srv, v.ID, "urgent work", "urgent")

	claimRes, claimBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks/claim", map[string]any{
		"agentId":   "agent-1",
		"agentName": "Agent One",
	})
	if claimRes.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", claimRes.StatusCode, string(claimBody))
	}
	var claimed domain.Task
	if err := json.Unmarshal(claimBody, &claimed); err != nil {
		t.Fatalf("unmarshal claimed: %v", err)
	}
	if claimed.ID != urgent.ID {
		t.Fatalf("claimed %s, want urgent %s", claimed.ID, urgent.ID)
	}
	if claimed.Venture == nil || claimed.Venture.ID != v.ID {
		t.Fatalf("venture not embedded in claim response: %s", string(claimBody))
	}

	doneRes, doneBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks/complete", map[string]any{
		"taskId":     claimed.ID,
		"agentId":    "agent-1",
		"output":     "shipped",
		"actualCost": 7.5,
	})
	if doneRes.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", doneRes.StatusCode, string(doneBody))
	}
	var done domain.Task
	_ = json.Unmarshal(doneBody, &done)
	if done.Status != "completed" || done.ActualCost != 7.5 {
		t.Fatalf("completed task = %s", string(doneBody))
	}
	if done.Venture == nil || done.Venture.CapitalSpent != 7.5 {
		t.Fatalf("venture spend not reflected: %s", string(doneBody))
	}
}

func TestClaimEmptyQueueBody(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/tasks/claim", map[string]any{
		"agentId": "agent-1",
	})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404: %s", res.StatusCode, string(body))
	}
	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["message"] != "No available tasks" {
		t.Fatalf("body = %s", string(body))
	}
}

func TestCompleteWrongAgentIs500(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	v := createVenture(t, srv, "Venture")
	createTask(t, srv, v.ID, "guarded", "medium")
	_, claimBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks/claim", map[string]any{"agentId": "agent-1"})
	var claimed domain.Task
	_ = json.Unmarshal(claimBody, &claimed)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks/complete", map[string]any{
		"taskId":  claimed.ID,
		"agentId": "agent-2",
	})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500: %s", res.StatusCode, string(body))
	}
	var payload map[string]string
	_ = json.Unmarshal(body, &payload)
	if payload["error"] != "Task is not assigned to this agent" {
		t.Fatalf("body = %s", string(body))
	}
}

func TestFailureRequeuesOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	v := createVenture(t, srv, "Venture")
	createTask(t, srv, v.ID, "flaky", "medium")
	_, claimBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks/claim", map[string]any{"agentId": "agent-1"})
	var claimed domain.Task
	_ = json.Unmarshal(claimBody, &claimed)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks/complete", map[string]any{
		"taskId":  claimed.ID,
		"agentId": "agent-1",
		"error":   "boom",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(body))
	}
	var back domain.Task
	_ = json.Unmarshal(body, &back)
	if back.Status != "queue" || back.AssignedTo != nil {
		t.Fatalf("task not requeued: %s", string(body))
	}
}

func TestVentureDeleteConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	v := createVenture(t, srv, "Occupied")
	createTask(t, srv, v.ID, "anchor", "medium")

	res, body := doJSON(t, client, http.MethodDelete, srv.URL+"/api/ventures?id="+v.ID, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status %d, want 409: %s", res.StatusCode, string(body))
	}
	var payload map[string]string
	_ = json.Unmarshal(body, &payload)
	if payload["error"] == "" {
		t.Fatalf("missing error envelope: %s", string(body))
	}
}

func TestTaskValidationErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks", map[string]any{"title": "no venture"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks/claim", map[string]any{})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("claim without agent status %d, want 400: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPatch, srv.URL+"/api/tasks", map[string]any{"title": "no id"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("patch without id status %d, want 400: %s", res.StatusCode, string(body))
	}
}

func TestTaskPatchAndDeleteByID(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	v := createVenture(t, srv, "Editable")
	task := createTask(t, srv, v.ID, "draft", "low")

	res, body := doJSON(t, client, http.MethodPatch, srv.URL+"/api/tasks", map[string]any{
		"id":       task.ID,
		"priority": "urgent",
		"tags":     []string{"retry"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(body))
	}
	var updated domain.Task
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if updated.Priority != "urgent" {
		t.Fatalf("priority = %s, want urgent", updated.Priority)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "retry" {
		t.Fatalf("tags = %v, want [retry]", updated.Tags)
	}

	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/api/tasks?id="+task.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks/"+task.ID, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status %d, want 404: %s", res.StatusCode, string(body))
	}
}

func TestAgentRegisterUpsert(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/agents", map[string]any{
		"id":    "agent-1",
		"name":  "First Name",
		"model": "m1",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/api/agents", map[string]any{
		"id":   "agent-1",
		"name": "Second Name",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("re-register status %d: %s", res.StatusCode, string(body))
	}
	var a domain.Agent
	_ = json.Unmarshal(body, &a)
	if a.Name != "Second Name" {
		t.Fatalf("name = %s, want Second Name", a.Name)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/api/agents", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var agents []domain.Agent
	if err := json.Unmarshal(body, &agents); err != nil {
		t.Fatalf("unmarshal agents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("agents = %d, want 1", len(agents))
	}
}

func TestActivitiesFeed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	v := createVenture(t, srv, "Venture")
	for i := 0; i < 3; i++ {
		createTask(t, srv, v.ID, "work", "medium")
	}

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/api/activities?limit=2", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	var items []domain.Activity
	if err := json.Unmarshal(body, &items); err != nil {
		t.Fatalf("unmarshal activities: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("activities = %d, want 2", len(items))
	}
	for _, a := range items {
		if a.Type != "task_created" {
			t.Fatalf("type = %s, want task_created", a.Type)
		}
		if a.Venture == nil || a.Venture.ID != v.ID {
			t.Fatalf("venture ref not attached: %s", string(body))
		}
	}
}

func TestLogCustomActivity(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/activities", map[string]any{
		"type":        "capital_alert",
		"level":       "warning",
		"title":       "Budget threshold",
		"description": "80% of budget consumed",
		"metadata":    map[string]any{"threshold": 0.8},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/api/activities", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var items []domain.Activity
	_ = json.Unmarshal(body, &items)
	if len(items) != 1 || items[0].Type != "capital_alert" {
		t.Fatalf("feed = %s", string(body))
	}
	if items[0].Metadata == nil || items[0].Metadata["threshold"] != 0.8 {
		t.Fatalf("metadata = %v", items[0].Metadata)
	}
}

func TestDashboardStats(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	v := createVenture(t, srv, "Venture")
	createTask(t, srv, v.ID, "a", "medium")

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/api/dashboard/stats", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	var stats engine.DashboardStats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Ventures != 1 || stats.TasksByStatus["queue"] != 1 {
		t.Fatalf("stats = %s", string(body))
	}
	if stats.CapitalBudget != 100 {
		t.Fatalf("capitalBudget = %v, want 100", stats.CapitalBudget)
	}
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
}

func TestAuthRequiredForMutations(t *testing.T) {
	const secret = "test-secret"
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	payload, _ := json.Marshal(map[string]any{"name": "Guarded"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/ventures", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated post status %d, want 401", res.StatusCode)
	}

	// Reads stay open.
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/api/ventures", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("open read status %d: %s", res.StatusCode, string(body))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "agent-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/ventures", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signed)
	res, err = client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(res.Body)
		t.Fatalf("authenticated post status %d: %s", res.StatusCode, string(data))
	}
}
