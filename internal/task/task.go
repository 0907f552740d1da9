package task

import (
	xerrors "tasks-api/internal/errors"
)

// Task 对应 tasks 表中的一行。
type Task struct {
	TaskID   int32  `json:"task_id" db:"task_id"`
	Name     string `json:"name" db:"name"`
	Priority *int32 `json:"priority" db:"priority"`
}

// CreateRequest 是创建任务时的输入，name 必填，priority 可为空。
type CreateRequest struct {
	Name     string `json:"name"`
	Priority *int32 `json:"priority"`
}

// UpdateRequest 是部分更新的输入，只有非 nil 字段会被写入。
// JSON 中显式的 null 与缺省等价，priority 无法通过更新清空。
type UpdateRequest struct {
	Name     *string `json:"name"`
	Priority *int32  `json:"priority"`
}

// Field 是一次更新中的列名与待绑定的值。
type Field struct {
	Column string
	Value  any
}

// Fields 按 name、priority 的固定顺序返回本次需要更新的列。
func (r UpdateRequest) Fields() []Field {
	fields := make([]Field, 0, 2)
	if r.Name != nil {
		fields = append(fields, Field{Column: "name", Value: *r.Name})
	}
	if r.Priority != nil {
		fields = append(fields, Field{Column: "priority", Value: *r.Priority})
	}
	return fields
}

// Empty 判断请求是否未携带任何可更新字段。
func (r UpdateRequest) Empty() bool {
	return r.Name == nil && r.Priority == nil
}

const (
	CodeTaskNotFound    xerrors.Code = "TASK_NOT_FOUND"
	CodeNothingToUpdate xerrors.Code = "TASK_NOTHING_TO_UPDATE"
)

var (
	// ErrTaskNotFound 表示指定 ID 的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrNothingToUpdate 表示更新请求既没有 name 也没有 priority。
	ErrNothingToUpdate = xerrors.New(CodeNothingToUpdate, "Nothing to update")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNothingToUpdate, xerrors.Attributes{
		Message:  "Nothing to update",
		Severity: xerrors.SeverityInfo,
	})
}

// Int32 返回指向 v 的指针，便于构造可选字段。
func Int32(v int32) *int32 { return &v }

// String 返回指向 v 的指针。
func String(v string) *string { return &v }
