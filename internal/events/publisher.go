package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type 标识事件类型。
type Type string

const (
	TypeTaskCreated Type = "task.created"
	TypeTaskUpdated Type = "task.updated"
	TypeTaskDeleted Type = "task.deleted"
)

// Event 描述一次任务变更。
type Event struct {
	ID         string `json:"id"`
	Type       Type   `json:"type"`
	TaskID     int64  `json:"task_id"`
	Affected   int64  `json:"affected"`
	OccurredAt int64  `json:"occurred_at"`
}

// NewEvent 构造带唯一 ID 与时间戳的事件。
func NewEvent(typ Type, taskID, affected int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		TaskID:     taskID,
		Affected:   affected,
		OccurredAt: time.Now().Unix(),
	}
}

// Publisher 负责投递任务变更事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop 丢弃所有事件，是未配置事件驱动时的默认实现。
type Noop struct{}

// Publish 实现 Publisher。
func (Noop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Noop) Close() error { return nil }
