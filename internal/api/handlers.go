package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	xerrors "tasks-api/internal/errors"
	"tasks-api/internal/task"
)

// createTaskPayload 用指针区分缺失的 name 与空字符串。
type createTaskPayload struct {
	Name     *string `json:"name"`
	Priority *int32  `json:"priority"`
}

const (
	// CodeInvalidBody 表示请求体是合法 JSON，但与目标类型不匹配。
	CodeInvalidBody xerrors.Code = "INVALID_BODY"
	// CodeBodyTooLarge 表示请求体超过 maxBodyBytes。
	CodeBodyTooLarge xerrors.Code = "BODY_TOO_LARGE"
)

func init() {
	xerrors.Register(CodeInvalidBody, xerrors.Attributes{
		Message:  "Failed to deserialize the JSON body into the target type",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeBodyTooLarge, xerrors.Attributes{
		Message:  "request body too large",
		Severity: xerrors.SeverityInfo,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Hello world")
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	record, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, record)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var payload createTaskPayload
	if err := decodeBody(w, r, &payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	if payload.Name == nil {
		s.writeError(w, r, xerrors.New(CodeInvalidBody, "Failed to deserialize the JSON body into the target type: missing field `name`"))
		return
	}

	id, err := s.tasks.Create(r.Context(), task.CreateRequest{Name: *payload.Name, Priority: payload.Priority})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, createdPayload{TaskID: id})
}

// handleUpdateTask 即使目标行不存在也返回成功，受影响行数只写入日志。
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req task.UpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	affected, err := s.tasks.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if affected == 0 {
		s.log.Debug("更新未命中任何任务", slog.Int("task_id", int(id)), slog.String("request_id", RequestID(r.Context())))
	}
	writeOK(w)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	affected, err := s.tasks.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if affected == 0 {
		s.log.Debug("删除未命中任何任务", slog.Int("task_id", int(id)), slog.String("request_id", RequestID(r.Context())))
	}
	writeOK(w)
}

// pathID 解析路径中的 32 位任务 ID，失败时直接写出 400。
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int32, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("Invalid URL: Cannot parse %q to a 32-bit integer", raw)))
		return 0, false
	}
	return int32(id), true
}

// decodeBody 解析单个 JSON 值。语法错误返回 INVALID_ARGUMENT，
// 值与目标类型不匹配（含 null、越界整数）返回 INVALID_BODY，超出大小限制返回 BODY_TOO_LARGE。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return xerrors.New(CodeBodyTooLarge, "")
		}
		return xerrors.New(xerrors.CodeInvalidArgument, "Failed to parse the request body as JSON: "+err.Error())
	}
	if dec.More() {
		return xerrors.New(xerrors.CodeInvalidArgument, "Failed to parse the request body as JSON: trailing data after value")
	}
	if bytes.Equal(raw, []byte("null")) {
		return xerrors.New(CodeInvalidBody, "Failed to deserialize the JSON body into the target type: invalid type: null, expected an object")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return xerrors.New(CodeInvalidBody, "Failed to deserialize the JSON body into the target type: "+err.Error())
	}
	return nil
}

// writeError 按错误码选择状态码，消息取最内层的原始错误文本。
// 5xx 按错误码的严重程度选择日志级别。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := s.statusFor(err)
	if status >= http.StatusInternalServerError {
		level := slog.LevelError
		if xerrors.SeverityOf(err) != xerrors.SeverityCritical {
			level = slog.LevelWarn
		}
		s.log.Log(r.Context(), level, "请求处理失败",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("route", r.Pattern),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
	}
	writeFailure(w, status, xerrors.Describe(err))
}

func (s *Server) statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case task.CodeNothingToUpdate, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeInvalidBody:
		return http.StatusUnprocessableEntity
	case CodeBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case task.CodeTaskNotFound:
		if s.strictNotFound {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
