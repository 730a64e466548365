package sitelinesdk

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

// Client is a minimal Siteline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// Subtask represents a checklist item on an element.
type Subtask struct {
	ID        string     `json:"id"`
	ElementID string     `json:"element_id"`
	Title     string     `json:"title"`
	Done      bool       `json:"done"`
	Evidence  []Evidence `json:"evidence,omitempty"`
}

// Evidence represents a photo evidence entry.
type Evidence struct {
	ID         string `json:"id"`
	SubtaskID  string `json:"subtask_id"`
	PreviewURL string `json:"preview_url"`
	FileName   string `json:"file_name"`
	Status     string `json:"status"`
}

// Person represents a roster member.
type Person struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Role  string  `json:"role"`
	Score float64 `json:"score"`
}

// Assignments holds the project's role buckets.
type Assignments struct {
	ProjectID string              `json:"project_id"`
	Buckets   map[string][]string `json:"buckets"`
}

// Pending is an assignment awaiting the permanent/temporary decision.
type Pending struct {
	ProjectID string   `json:"project_id"`
	Bucket    string   `json:"bucket"`
	PersonIDs []string `json:"person_ids"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login obtains a bearer token via the demo login and stores it on the client.
func (c *Client) Login(ctx context.Context, email, role string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "v0/auth/login", map[string]any{"email": email, "role": role}, &resp)
	if err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// GetProject fetches the configured project.
func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/projects/%s", url.PathEscape(c.ProjectID)), nil, &resp)
	return resp, err
}

// ListSubtasks lists subtasks with evidence for an element.
func (c *Client) ListSubtasks(ctx context.Context, elementID string) ([]Subtask, error) {
	var resp []Subtask
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/elements/%s/subtasks", url.PathEscape(elementID)), nil, &resp)
	return resp, err
}

// UploadEvidence attaches pending evidence to a subtask.
func (c *Client) UploadEvidence(ctx context.Context, subtaskID, fileName string, byteSize int64) (Evidence, error) {
	var resp Evidence
	body := map[string]any{"file_name": fileName, "byte_size": byteSize}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/subtasks/%s/evidence", url.PathEscape(subtaskID)), body, &resp)
	return resp, err
}

// ApproveEvidence approves evidence and returns the updated subtask.
func (c *Client) ApproveEvidence(ctx context.Context, evidenceID string) (Subtask, error) {
	var resp Subtask
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/evidence/%s/approve", url.PathEscape(evidenceID)), nil, &resp)
	return resp, err
}

// RejectEvidence rejects evidence and returns the updated subtask.
func (c *Client) RejectEvidence(ctx context.Context, evidenceID string) (Subtask, error) {
	var resp Subtask
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/evidence/%s/reject", url.PathEscape(evidenceID)), nil, &resp)
	return resp, err
}

// SetSubtaskDone toggles a subtask.
func (c *Client) SetSubtaskDone(ctx context.Context, subtaskID string, done bool) (Subtask, error) {
	var resp Subtask
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/subtasks/%s", url.PathEscape(subtaskID)), map[string]any{"done": done}, &resp)
	return resp, err
}

// Assignments returns the project's bucket contents.
func (c *Client) Assignments(ctx context.Context) (Assignments, error) {
	var resp Assignments
	err := c.do(ctx, http.MethodGet, c.projectPath("assignments"), nil, &resp)
	return resp, err
}

// Select stores a candidate selection.
func (c *Client) Select(ctx context.Context, personIDs []string) error {
	return c.do(ctx, http.MethodPut, c.projectPath("selection"), map[string]any{"person_ids": personIDs}, nil)
}

// Assign stages the selection (or explicit ids) for the bucket.
func (c *Client) Assign(ctx context.Context, bucket string, personIDs []string) (Pending, error) {
	var resp struct {
		Pending Pending `json:"pending"`
	}
	body := map[string]any{}
	if len(personIDs) > 0 {
		body["person_ids"] = personIDs
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("assignments/"+url.PathEscape(bucket)), body, &resp)
	return resp.Pending, err
}

// Confirm applies the pending assignment permanently or temporarily.
func (c *Client) Confirm(ctx context.Context, permanent bool) (Assignments, error) {
	var resp Assignments
	err := c.do(ctx, http.MethodPost, c.projectPath("assignments/confirm"), map[string]any{"permanent": permanent}, &resp)
	return resp, err
}

// Dismiss abandons the pending assignment.
func (c *Client) Dismiss(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.projectPath("assignments/dismiss"), map[string]any{}, nil)
}

// Roster lists all persons.
func (c *Client) Roster(ctx context.Context) ([]Person, error) {
	var resp []Person
	err := c.do(ctx, http.MethodGet, "v0/roster", nil, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
