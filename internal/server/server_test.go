package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL     string
	Project domain.Project
	client  *http.Client
	close   func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(""))
	p, err := e.CreateProject(context.Background(), "PRJ-001", "Test Site", "", "tester")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	e.Config.Project.ID = p.ID
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
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
		URL:     "http://" + ln.Addr().String(),
		Project: p,
		client:  &http.Client{},
		close: func() {
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

func login(t *testing.T, srv *testServer, email, role string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"email": email,
		"role":  role,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", envelope.Code)
	}
}

func TestEvidenceDrivesSubtaskCompletion(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@example.com", "admin")
	foreman := login(t, srv, "sofia@example.com", "foreman")
	engineer := login(t, srv, "elena@example.com", "engineer")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+srv.Project.ID+"/elements", map[string]any{
		"name": "Foundation",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create element: %d %s", res.StatusCode, string(data))
	}
	var el domain.Element
	_ = json.Unmarshal(data, &el)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/elements/"+el.ID+"/subtasks", map[string]any{
		"title": "Pour concrete",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create subtask: %d %s", res.StatusCode, string(data))
	}
	var st domain.Subtask
	_ = json.Unmarshal(data, &st)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/subtasks/"+st.ID+"/evidence", map[string]any{
		"file_name": "pour.jpg",
		"byte_size": 2048,
	}, foreman)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upload evidence: %d %s", res.StatusCode, string(data))
	}
	var ev domain.Evidence
	_ = json.Unmarshal(data, &ev)
	if ev.Status != domain.EvidencePending {
		t.Fatalf("expected pending evidence, got %s", ev.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/evidence/"+ev.ID+"/approve", nil, engineer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var approved domain.Subtask
	_ = json.Unmarshal(data, &approved)
	if !approved.Done {
		t.Fatalf("expected subtask done after approval")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/evidence/"+ev.ID+"/reject", nil, engineer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject: %d %s", res.StatusCode, string(data))
	}
	var rejected domain.Subtask
	_ = json.Unmarshal(data, &rejected)
	if rejected.Done {
		t.Fatalf("expected subtask reopened after losing last approval")
	}
}

func TestCapabilityDeniedEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@example.com", "admin")
	worker := login(t, srv, "jonas@example.com", "worker")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+srv.Project.ID+"/elements", map[string]any{
		"name": "Steel Frame",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create element: %d %s", res.StatusCode, string(data))
	}
	var el domain.Element
	_ = json.Unmarshal(data, &el)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/elements/"+el.ID+"/subtasks", map[string]any{
		"title": "Erect columns",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create subtask: %d %s", res.StatusCode, string(data))
	}
	var st domain.Subtask
	_ = json.Unmarshal(data, &st)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/subtasks/"+st.ID+"/evidence", map[string]any{
		"file_name": "columns.jpg",
	}, worker)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for worker upload, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Code != "capability_denied" {
		t.Fatalf("expected capability_denied, got %q", envelope.Code)
	}
	if envelope.Details["role"] != "worker" {
		t.Fatalf("expected role detail, got %v", envelope.Details)
	}
}

func TestSetDoneWithoutEvidenceFailsValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@example.com", "admin")
	foreman := login(t, srv, "sofia@example.com", "foreman")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+srv.Project.ID+"/elements", map[string]any{
		"name": "Roofing",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create element: %d %s", res.StatusCode, string(data))
	}
	var el domain.Element
	_ = json.Unmarshal(data, &el)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/elements/"+el.ID+"/subtasks", map[string]any{
		"title": "Roof deck",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create subtask: %d %s", res.StatusCode, string(data))
	}
	var st domain.Subtask
	_ = json.Unmarshal(data, &st)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/subtasks/"+st.ID, map[string]any{
		"done": true,
	}, foreman)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %q", envelope.Code)
	}
}

func TestSetDoneRequiresUploadCapability(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@example.com", "admin")
	foreman := login(t, srv, "sofia@example.com", "foreman")
	engineer := login(t, srv, "elena@example.com", "engineer")
	worker := login(t, srv, "jonas@example.com", "worker")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+srv.Project.ID+"/elements", map[string]any{
		"name": "Facade",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create element: %d %s", res.StatusCode, string(data))
	}
	var el domain.Element
	_ = json.Unmarshal(data, &el)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/elements/"+el.ID+"/subtasks", map[string]any{
		"title": "Mount panels",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create subtask: %d %s", res.StatusCode, string(data))
	}
	var st domain.Subtask
	_ = json.Unmarshal(data, &st)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/subtasks/"+st.ID+"/evidence", map[string]any{
		"file_name": "panels.jpg",
	}, foreman)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upload evidence: %d %s", res.StatusCode, string(data))
	}
	var ev domain.Evidence
	_ = json.Unmarshal(data, &ev)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/evidence/"+ev.ID+"/approve", nil, engineer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}

	// only the uploading role may toggle completion
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/subtasks/"+st.ID, map[string]any{
		"done": false,
	}, worker)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for worker toggle, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Code != "capability_denied" {
		t.Fatalf("expected capability_denied, got %q", envelope.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/subtasks/"+st.ID, nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get subtask: %d %s", res.StatusCode, string(data))
	}
	var out SubtaskResponse
	_ = json.Unmarshal(data, &out)
	if !out.Done {
		t.Fatalf("expected subtask to stay done")
	}
}

func TestUploadWithoutFileRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@example.com", "admin")
	foreman := login(t, srv, "sofia@example.com", "foreman")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+srv.Project.ID+"/elements", map[string]any{
		"name": "Drainage",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create element: %d %s", res.StatusCode, string(data))
	}
	var el domain.Element
	_ = json.Unmarshal(data, &el)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/elements/"+el.ID+"/subtasks", map[string]any{
		"title": "Lay pipes",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create subtask: %d %s", res.StatusCode, string(data))
	}
	var st domain.Subtask
	_ = json.Unmarshal(data, &st)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/subtasks/"+st.ID+"/evidence", map[string]any{
		"file_name": "",
	}, foreman)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty file name, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %q", envelope.Code)
	}
}

func TestAssignmentConfirmFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@example.com", "admin")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/roster", map[string]any{
		"name": "Priya Raman",
		"role": "worker",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add person: %d %s", res.StatusCode, string(data))
	}
	var person domain.Person
	_ = json.Unmarshal(data, &person)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/projects/"+srv.Project.ID+"/selection", map[string]any{
		"person_ids": []string{person.ID},
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("selection: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+srv.Project.ID+"/assignments/engineers", map[string]any{}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stage: %d %s", res.StatusCode, string(data))
	}
	var pending PendingResponse
	_ = json.Unmarshal(data, &pending)
	if pending.Pending.Bucket != domain.BucketEngineers || len(pending.Pending.PersonIDs) != 1 {
		t.Fatalf("unexpected pending: %+v", pending.Pending)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+srv.Project.ID+"/assignments/confirm", map[string]any{
		"permanent": true,
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm: %d %s", res.StatusCode, string(data))
	}
	var out AssignmentsResponse
	_ = json.Unmarshal(data, &out)
	if len(out.Buckets[domain.BucketEngineers]) != 1 {
		t.Fatalf("expected person in engineers bucket, got %v", out.Buckets)
	}

	// permanent confirmation changed the role
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/roster", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("roster: %d %s", res.StatusCode, string(data))
	}
	var roster []domain.Person
	_ = json.Unmarshal(data, &roster)
	found := false
	for _, p := range roster {
		if p.ID == person.ID {
			found = true
			if p.Role != domain.RoleEngineer {
				t.Fatalf("expected engineer role, got %s", p.Role)
			}
		}
	}
	if !found {
		t.Fatalf("person missing from roster")
	}
}

func TestStagingUnknownBucketRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := login(t, srv, "admin@example.com", "admin")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+srv.Project.ID+"/assignments/plumbers", map[string]any{}, admin)
	if res.StatusCode == http.StatusOK {
		t.Fatalf("expected rejection for unknown bucket, got 200: %s", string(data))
	}
}
