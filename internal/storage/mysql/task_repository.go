package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	xerrors "tasks-api/internal/errors"
	"tasks-api/internal/task"
)

const (
	listTasksSQL  = `SELECT task_id, name, priority FROM tasks ORDER BY task_id`
	getTaskSQL    = `SELECT task_id, name, priority FROM tasks WHERE task_id = ?`
	insertTaskSQL = `INSERT INTO tasks (name, priority) VALUES (?, ?)`
	deleteTaskSQL = `DELETE FROM tasks WHERE task_id = ?`
)

// SQLTaskRepository 使用 MySQL 连接池实现 task.Repository。
type SQLTaskRepository struct {
	db             *sqlx.DB
	acquireTimeout time.Duration
}

var _ task.Repository = (*SQLTaskRepository)(nil)

// NewSQLTaskRepository 创建连接池并确认数据库可达。
func NewSQLTaskRepository(ctx context.Context, cfg Config) (*SQLTaskRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newSQLTaskRepository(db, cfg.AcquireTimeout), nil
}

func newSQLTaskRepository(db *sql.DB, acquireTimeout time.Duration) *SQLTaskRepository {
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &SQLTaskRepository{db: sqlx.NewDb(db, "mysql"), acquireTimeout: acquireTimeout}
}

// conn 在 acquireTimeout 内从连接池取出一条连接，调用方负责 Close。
func (s *SQLTaskRepository) conn(ctx context.Context) (*sqlx.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()

	conn, err := s.db.Connx(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, fmt.Errorf("pool timed out while waiting for an open connection"), "获取数据库连接超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取数据库连接失败")
	}
	return conn, nil
}

// List 返回按 task_id 升序排列的全部任务。
func (s *SQLTaskRepository) List(ctx context.Context) ([]task.Task, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tasks := make([]task.Task, 0)
	if err := conn.SelectContext(ctx, &tasks, listTasksSQL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	return tasks, nil
}

// Get 按 ID 查询单个任务。
func (s *SQLTaskRepository) Get(ctx context.Context, id int32) (*task.Task, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var record task.Task
	if err := conn.GetContext(ctx, &record, getTaskSQL, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.Wrap(task.CodeTaskNotFound, err, "任务不存在")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return &record, nil
}

// Create 插入任务并返回自增 ID。
func (s *SQLTaskRepository) Create(ctx context.Context, req task.CreateRequest) (int64, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, insertTaskSQL, req.Name, req.Priority)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取任务ID失败")
	}
	return id, nil
}

// Update 只更新请求中出现的列。
func (s *SQLTaskRepository) Update(ctx context.Context, id int32, req task.UpdateRequest) (int64, error) {
	query, args, err := buildUpdateQuery(id, req.Fields())
	if err != nil {
		return 0, err
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	return rowsAffected(res)
}

// Delete 按 ID 删除任务，不存在时受影响行数为 0。
func (s *SQLTaskRepository) Delete(ctx context.Context, id int32) (int64, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, deleteTaskSQL, id)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除任务失败")
	}
	return rowsAffected(res)
}

// Close 关闭底层数据库连接池。
func (s *SQLTaskRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// buildUpdateQuery 根据字段列表渲染 UPDATE 语句，所有值都通过占位符绑定。
func buildUpdateQuery(id int32, fields []task.Field) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, task.ErrNothingToUpdate
	}
	assignments := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, field := range fields {
		assignments = append(assignments, field.Column+" = ?")
		args = append(args, field.Value)
	}
	args = append(args, id)
	query := "UPDATE tasks SET " + strings.Join(assignments, ", ") + " WHERE task_id = ?"
	return query, args, nil
}

func rowsAffected(res sql.Result) (int64, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return affected, nil
}
