package api

import (
	"encoding/json"
	"net/http"
)

// envelope 是所有 JSON 响应的统一外层结构。
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// createdPayload 是创建任务成功后返回的数据。
type createdPayload struct {
	TaskID int64 `json:"task_id"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}
