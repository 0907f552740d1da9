// Package tasks is a Go client for the tasks HTTP API.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Task mirrors a row of the tasks table. Priority is nil when unset.
type Task struct {
	TaskID   int32  `json:"task_id"`
	Name     string `json:"name"`
	Priority *int32 `json:"priority"`
}

// CreateTaskInput is the payload for CreateTask.
type CreateTaskInput struct {
	Name     string `json:"name"`
	Priority *int32 `json:"priority"`
}

// UpdateTaskInput is the payload for UpdateTask. Nil fields are left untouched;
// at least one field must be set.
type UpdateTaskInput struct {
	Name     *string `json:"name,omitempty"`
	Priority *int32  `json:"priority,omitempty"`
}

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("tasks api error (%d): %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Client wraps the HTTP interactions with the tasks API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// ListTasks returns every task ordered by id.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	tasks := make([]Task, 0)
	if err := c.call(ctx, http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id int32) (Task, error) {
	var task Task
	if err := c.call(ctx, http.MethodGet, taskPath(id), nil, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// CreateTask inserts a task and returns its id.
func (c *Client) CreateTask(ctx context.Context, input CreateTaskInput) (int64, error) {
	var created struct {
		TaskID int64 `json:"task_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/tasks", input, &created); err != nil {
		return 0, err
	}
	return created.TaskID, nil
}

// UpdateTask applies a partial update. The server reports success even when
// no task has the given id.
func (c *Client) UpdateTask(ctx context.Context, id int32, input UpdateTaskInput) error {
	return c.call(ctx, http.MethodPut, taskPath(id), input, nil)
}

// DeleteTask removes a task. Deleting a missing id is not an error.
func (c *Client) DeleteTask(ctx context.Context, id int32) error {
	return c.call(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

func taskPath(id int32) string {
	return "/tasks/" + strconv.FormatInt(int64(id), 10)
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: env.Message}
		if decodeErr != nil || apiErr.Message == "" {
			// net/http 自身产生的 404/405 等响应不是 JSON。
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
