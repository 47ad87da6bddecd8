package taskdecksdk

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

// Client is a minimal Taskdeck HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Actor mirrors the API actor record.
type Actor struct {
	ID           string   `json:"_id"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	PendingTasks []string `json:"pendingTasks"`
	CreatedAt    string   `json:"createdAt"`
}

// Task mirrors the API task record.
type Task struct {
	ID                string `json:"_id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	Deadline          string `json:"deadline"`
	Completed         bool   `json:"completed"`
	AssignedActor     string `json:"assignedActor"`
	AssignedActorName string `json:"assignedActorName"`
	CreatedAt         string `json:"createdAt"`
}

// RepairReport summarizes a reconciliation pass.
type RepairReport struct {
	TasksReleased  int `json:"tasksReleased"`
	NamesRefreshed int `json:"namesRefreshed"`
	PendingAdded   int `json:"pendingAdded"`
	PendingRemoved int `json:"pendingRemoved"`
}

// ListOptions map to the list query parameters. Zero values are omitted.
type ListOptions struct {
	Where  string
	Sort   string
	Select string
	Skip   string
	Limit  string
}

func (o ListOptions) encode() string {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("where", o.Where)
	set("sort", o.Sort)
	set("select", o.Select)
	set("skip", o.Skip)
	set("limit", o.Limit)
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// APIError wraps non-2xx responses with the server's envelope message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d message=%s", e.StatusCode, e.Message)
}

func (c *Client) CreateActor(ctx context.Context, name, email string, pendingTasks []string) (Actor, error) {
	body := map[string]any{"name": name, "email": email}
	if pendingTasks != nil {
		body["pendingTasks"] = pendingTasks
	}
	var resp Actor
	err := c.do(ctx, http.MethodPost, "actors", body, &resp)
	return resp, err
}

func (c *Client) GetActor(ctx context.Context, id string) (Actor, error) {
	var resp Actor
	err := c.do(ctx, http.MethodGet, "actors/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ListActors(ctx context.Context, opts ListOptions) ([]Actor, error) {
	var resp []Actor
	err := c.do(ctx, http.MethodGet, "actors"+opts.encode(), nil, &resp)
	return resp, err
}

func (c *Client) CountActors(ctx context.Context, where string) (int64, error) {
	return c.count(ctx, "actors", where)
}

// ReplaceActor performs a full update. A nil pendingTasks keeps the stored
// pending set.
func (c *Client) ReplaceActor(ctx context.Context, id, name, email string, pendingTasks []string) (Actor, error) {
	body := map[string]any{"name": name, "email": email}
	if pendingTasks != nil {
		body["pendingTasks"] = pendingTasks
	}
	var resp Actor
	err := c.do(ctx, http.MethodPut, "actors/"+url.PathEscape(id), body, &resp)
	return resp, err
}

func (c *Client) DeleteActor(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "actors/"+url.PathEscape(id), nil, nil)
}

// TaskFields are the writable task fields for create and replace.
type TaskFields struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Deadline      string `json:"deadline,omitempty"`
	Completed     bool   `json:"completed,omitempty"`
	AssignedActor string `json:"assignedActor,omitempty"`
}

func (c *Client) CreateTask(ctx context.Context, fields TaskFields) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", fields, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "tasks"+opts.encode(), nil, &resp)
	return resp, err
}

func (c *Client) CountTasks(ctx context.Context, where string) (int64, error) {
	return c.count(ctx, "tasks", where)
}

func (c *Client) ReplaceTask(ctx context.Context, id string, fields TaskFields) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, "tasks/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, nil)
}

// Repair asks the server to reconcile actor/task cross-references.
func (c *Client) Repair(ctx context.Context) (RepairReport, error) {
	var resp RepairReport
	err := c.do(ctx, http.MethodPost, "repair", nil, &resp)
	return resp, err
}

func (c *Client) count(ctx context.Context, collection, where string) (int64, error) {
	q := url.Values{"count": {"true"}}
	if where != "" {
		q.Set("where", where)
	}
	var n int64
	err := c.do(ctx, http.MethodGet, collection+"?"+q.Encode(), nil, &n)
	return n, err
}

// do performs the request and unwraps the {message, data} envelope into out.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	reqURL := c.base() + "/api/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var env struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			env.Message = strings.TrimSpace(string(raw))
		}
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
