package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "tasks-api/internal/errors"
	"tasks-api/internal/observability/metrics"
	"tasks-api/internal/storage/mysql"
	"tasks-api/internal/task"
)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestServer(t *testing.T, repo task.Repository, opts ...Option) *httptest.Server {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := task.NewService(repo, task.WithLogger(quiet))
	opts = append([]Option{WithLogger(quiet)}, opts...)
	srv := httptest.NewServer(NewServer("", svc, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded response
	require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	return resp.StatusCode, decoded
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository())

	resp, err := srv.Client().Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello world", string(body))
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestListEmpty(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository())

	status, body := do(t, srv, http.MethodGet, "/tasks", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
	assert.JSONEq(t, `[]`, string(body.Data))
}

func TestEndToEndScenario(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository())

	status, body := do(t, srv, http.MethodPost, "/tasks", `{"name":"write report","priority":2}`)
	require.Equal(t, http.StatusCreated, status)
	require.True(t, body.Success)
	var created struct {
		TaskID int64 `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	path := fmt.Sprintf("/tasks/%d", created.TaskID)

	status, body = do(t, srv, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, fmt.Sprintf(`{"task_id":%d,"name":"write report","priority":2}`, created.TaskID), string(body.Data))

	status, body = do(t, srv, http.MethodPut, path, `{"priority":5}`)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
	assert.Empty(t, body.Data)

	status, body = do(t, srv, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, fmt.Sprintf(`{"task_id":%d,"name":"write report","priority":5}`, created.TaskID), string(body.Data))

	status, body = do(t, srv, http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)

	status, body = do(t, srv, http.MethodGet, path, "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, body.Success)
	assert.Equal(t, "sql: no rows in result set", body.Message)
}

func TestListOrderedByID(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository())

	for _, name := range []string{"a", "b", "c"} {
		status, _ := do(t, srv, http.MethodPost, "/tasks", fmt.Sprintf(`{"name":%q}`, name))
		require.Equal(t, http.StatusCreated, status)
	}
	status, body := do(t, srv, http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, status)

	var tasks []task.Task
	require.NoError(t, json.Unmarshal(body.Data, &tasks))
	require.Len(t, tasks, 3)
	for i := 1; i < len(tasks); i++ {
		assert.Less(t, tasks[i-1].TaskID, tasks[i].TaskID)
	}
	assert.Nil(t, tasks[0].Priority)
	assert.Contains(t, string(body.Data), `"priority":null`)
}

func TestCreateAcceptsEmptyName(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository())

	status, body := do(t, srv, http.MethodPost, "/tasks", `{"name":"","priority":null}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.True(t, body.Success)
}

func TestUpdateValidation(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository())

	for _, path := range []string{"/tasks/1", "/tasks/999"} {
		status, body := do(t, srv, http.MethodPut, path, `{}`)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.False(t, body.Success)
		assert.Equal(t, "Nothing to update", body.Message)
	}

	// null 与缺省等价，同样视为没有可更新字段。
	status, body := do(t, srv, http.MethodPut, "/tasks/1", `{"name":null,"priority":null}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Nothing to update", body.Message)
}

func TestMutationsOnMissingRowSucceed(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository())

	status, body := do(t, srv, http.MethodPut, "/tasks/42", `{"name":"ghost"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)

	status, body = do(t, srv, http.MethodDelete, "/tasks/42", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
}

func TestRequestRejections(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository())

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "malformed json", method: http.MethodPost, path: "/tasks", body: `{"name":`, status: http.StatusBadRequest},
		{name: "trailing data", method: http.MethodPost, path: "/tasks", body: `{"name":"x"} {"name":"y"}`, status: http.StatusBadRequest},
		{name: "wrong type", method: http.MethodPost, path: "/tasks", body: `{"name":5}`, status: http.StatusUnprocessableEntity},
		{name: "priority overflow", method: http.MethodPost, path: "/tasks", body: `{"name":"x","priority":4294967296}`, status: http.StatusUnprocessableEntity},
		{name: "missing name", method: http.MethodPost, path: "/tasks", body: `{"priority":1}`, status: http.StatusUnprocessableEntity},
		{name: "null create body", method: http.MethodPost, path: "/tasks", body: `null`, status: http.StatusUnprocessableEntity},
		{name: "array body", method: http.MethodPost, path: "/tasks", body: `[]`, status: http.StatusUnprocessableEntity},
		{name: "non-integer id", method: http.MethodGet, path: "/tasks/abc", status: http.StatusBadRequest},
		{name: "id out of range", method: http.MethodDelete, path: "/tasks/2147483648", status: http.StatusBadRequest},
		{name: "update wrong type", method: http.MethodPut, path: "/tasks/1", body: `{"priority":"high"}`, status: http.StatusUnprocessableEntity},
		{name: "null update body", method: http.MethodPut, path: "/tasks/1", body: `null`, status: http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, srv, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, status)
			assert.False(t, body.Success)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestDecodeBodyLimit(t *testing.T) {
	body := `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()

	var payload createTaskPayload
	err := decodeBody(rec, req, &payload)
	assert.Equal(t, CodeBodyTooLarge, xerrors.CodeOf(err))
	assert.Equal(t, http.StatusRequestEntityTooLarge, NewServer("", nil).statusFor(err))
}

func TestUnsupportedMethod(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository())

	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/tasks/1", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStrictNotFound(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository(), WithStrictNotFound(true))

	status, body := do(t, srv, http.MethodGet, "/tasks/7", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, body.Success)
}

type brokenRepository struct{ err error }

func (b brokenRepository) List(context.Context) ([]task.Task, error)                { return nil, b.err }
func (b brokenRepository) Get(context.Context, int32) (*task.Task, error)           { return nil, b.err }
func (b brokenRepository) Create(context.Context, task.CreateRequest) (int64, error) { return 0, b.err }
func (b brokenRepository) Update(context.Context, int32, task.UpdateRequest) (int64, error) {
	return 0, b.err
}
func (b brokenRepository) Delete(context.Context, int32) (int64, error) { return 0, b.err }

func TestStorageFailureCarriesRawText(t *testing.T) {
	raw := "Error 1146 (42S02): Table 'app.tasks' doesn't exist"
	repo := brokenRepository{err: xerrors.Wrap(xerrors.CodeStorageFailure, errors.New(raw), "查询任务失败")}
	srv := newTestServer(t, repo)

	requests := []struct{ method, path, body string }{
		{http.MethodGet, "/tasks", ""},
		{http.MethodGet, "/tasks/1", ""},
		{http.MethodPost, "/tasks", `{"name":"x"}`},
		{http.MethodPut, "/tasks/1", `{"name":"x"}`},
		{http.MethodDelete, "/tasks/1", ""},
	}
	for _, r := range requests {
		status, body := do(t, srv, r.method, r.path, r.body)
		assert.Equal(t, http.StatusInternalServerError, status, "%s %s", r.method, r.path)
		assert.False(t, body.Success)
		assert.Equal(t, raw, body.Message)
	}
}

func TestPoolTimeoutSurfacesAsServerError(t *testing.T) {
	raw := "pool timed out while waiting for an open connection"
	repo := brokenRepository{err: xerrors.Wrap(xerrors.CodeTimeout, errors.New(raw), "获取数据库连接超时")}
	srv := newTestServer(t, repo)

	for _, path := range []string{"/tasks", "/tasks/1"} {
		status, body := do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusInternalServerError, status, path)
		assert.False(t, body.Success)
		assert.Equal(t, raw, body.Message)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository())

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/tasks", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, mysql.NewMemoryTaskRepository(), WithMetrics(metrics.NewCollector("tasks")))

	do(t, srv, http.MethodGet, "/tasks", "")
	do(t, srv, http.MethodGet, "/tasks/abc", "")

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)

	assert.Contains(t, string(out), `tasks_http_requests_total{route="GET /tasks",method="GET",code="200"} 1`)
	assert.Contains(t, string(out), `tasks_http_requests_total{route="GET /tasks/{id}",method="GET",code="400"} 1`)
}

func TestServeGracefulShutdown(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := task.NewService(mysql.NewMemoryTaskRepository(), task.WithLogger(quiet))
	server := NewServer("", svc, WithLogger(quiet), WithShutdownTimeout(time.Second))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestWithContextRejectsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handler := withContext(ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
