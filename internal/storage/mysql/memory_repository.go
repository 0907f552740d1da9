package mysql

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	xerrors "tasks-api/internal/errors"
	"tasks-api/internal/task"
)

// MemoryTaskRepository 在进程内模拟 tasks 表，语义与 SQLTaskRepository 一致，
// 适合本地开发与测试。
type MemoryTaskRepository struct {
	mu     sync.RWMutex
	nextID int32
	tasks  map[int32]task.Task
}

var _ task.Repository = (*MemoryTaskRepository)(nil)

// NewMemoryTaskRepository 创建一个空的内存任务仓库。
func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{tasks: make(map[int32]task.Task)}
}

// List 实现 task.Repository。
func (m *MemoryTaskRepository) List(_ context.Context) ([]task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, cloneTask(t))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })
	return tasks, nil
}

// Get 实现 task.Repository。
func (m *MemoryTaskRepository) Get(_ context.Context, id int32) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, xerrors.Wrap(task.CodeTaskNotFound, sql.ErrNoRows, "任务不存在")
	}
	cloned := cloneTask(t)
	return &cloned, nil
}

// Create 实现 task.Repository。
func (m *MemoryTaskRepository) Create(_ context.Context, req task.CreateRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.tasks[m.nextID] = cloneTask(task.Task{TaskID: m.nextID, Name: req.Name, Priority: req.Priority})
	return int64(m.nextID), nil
}

// Update 实现 task.Repository。
func (m *MemoryTaskRepository) Update(_ context.Context, id int32, req task.UpdateRequest) (int64, error) {
	if req.Empty() {
		return 0, task.ErrNothingToUpdate
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return 0, nil
	}
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.Priority != nil {
		t.Priority = task.Int32(*req.Priority)
	}
	m.tasks[id] = t
	return 1, nil
}

// Delete 实现 task.Repository。
func (m *MemoryTaskRepository) Delete(_ context.Context, id int32) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return 0, nil
	}
	delete(m.tasks, id)
	return 1, nil
}

// Close 实现 io.Closer，便于与 SQLTaskRepository 统一释放。
func (m *MemoryTaskRepository) Close() error { return nil }

func cloneTask(t task.Task) task.Task {
	if t.Priority != nil {
		t.Priority = task.Int32(*t.Priority)
	}
	return t
}
