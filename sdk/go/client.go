package ventureboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal VentureBoard HTTP API client for agent workers.
type Client struct {
	BaseURL     string
	AgentID     string
	AgentName   string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, agentID string) *Client {
	return &Client{
		BaseURL: baseURL,
		AgentID: agentID,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID          string   `json:"id"`
	VentureID   string   `json:"ventureId"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	AssignedTo  *string  `json:"assignedTo,omitempty"`
	Output      *string  `json:"output,omitempty"`
	Error       *string  `json:"error,omitempty"`
	ActualCost  float64  `json:"actualCost,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Agent represents the API agent model (partial).
type Agent struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Model      string `json:"model,omitempty"`
	TokensUsed int64  `json:"tokensUsed"`
	MaxTokens  int64  `json:"maxTokens"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrNoTask reports an empty queue from Claim.
var ErrNoTask = fmt.Errorf("no available tasks")

// Register upserts this agent on the server.
func (c *Client) Register(ctx context.Context, model string, maxTokens int64) (Agent, error) {
	body := map[string]any{
		"id":     c.AgentID,
		"name":   c.AgentName,
		"status": "online",
	}
	if model != "" {
		body["model"] = model
	}
	if maxTokens > 0 {
		body["maxTokens"] = maxTokens
	}
	var resp Agent
	err := c.do(ctx, http.MethodPost, "agents", body, &resp)
	return resp, err
}

// Claim asks for the next queued task. Returns ErrNoTask when the
// queue is empty.
func (c *Client) Claim(ctx context.Context) (Task, error) {
	body := map[string]any{"agentId": c.AgentID}
	if c.AgentName != "" {
		body["agentName"] = c.AgentName
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/claim", body, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return Task{}, ErrNoTask
	}
	return resp, err
}

// Complete reports a successful outcome with its cost.
func (c *Client) Complete(ctx context.Context, taskID, output string, actualCost float64) (Task, error) {
	body := map[string]any{
		"taskId":     taskID,
		"agentId":    c.AgentID,
		"output":     output,
		"actualCost": actualCost,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/complete", body, &resp)
	return resp, err
}

// Fail reports a failed attempt; the server requeues the task.
func (c *Client) Fail(ctx context.Context, taskID, errMsg string) (Task, error) {
	body := map[string]any{
		"taskId":  taskID,
		"agentId": c.AgentID,
		"error":   errMsg,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/complete", body, &resp)
	return resp, err
}

// Tasks lists tasks, optionally filtered by status.
func (c *Client) Tasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := "tasks"
	if status != "" {
		endpoint = fmt.Sprintf("tasks?status=%s", url.QueryEscape(status))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/api/" + strings.TrimLeft(endpoint, "/")
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
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
