package task

import (
	"context"
	"log/slog"

	"tasks-api/internal/events"
	xerrors "tasks-api/internal/errors"
	"tasks-api/pkg/logger"
)

// Repository 抽象 tasks 表的五种操作，每个方法只执行一条 SQL。
type Repository interface {
	List(ctx context.Context) ([]Task, error)
	Get(ctx context.Context, id int32) (*Task, error)
	Create(ctx context.Context, req CreateRequest) (int64, error)
	// Update 与 Delete 返回受影响的行数，是否把 0 视为错误由调用方决定。
	Update(ctx context.Context, id int32, req UpdateRequest) (int64, error)
	Delete(ctx context.Context, id int32) (int64, error)
}

// Service 负责任务的增删改查，并在变更成功后发布事件。
type Service struct {
	repo      Repository
	publisher events.Publisher
	log       *slog.Logger
}

// Option 配置 Service。
type Option func(*Service)

// WithPublisher 设置变更事件的发布器。
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger 设置服务使用的日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService 构造任务服务。
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, publisher: events.Noop{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("task")
	}
	return s
}

// List 返回按 task_id 升序排列的全部任务，没有任务时返回空切片。
func (s *Service) List(ctx context.Context) ([]Task, error) {
	if s.repo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	tasks, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []Task{}
	}
	return tasks, nil
}

// Get 返回指定任务，不存在时返回 ErrTaskNotFound。
func (s *Service) Get(ctx context.Context, id int32) (*Task, error) {
	if s.repo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.repo.Get(ctx, id)
}

// Create 插入新任务并返回存储分配的 ID。
func (s *Service) Create(ctx context.Context, req CreateRequest) (int64, error) {
	if s.repo == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	id, err := s.repo.Create(ctx, req)
	if err != nil {
		return 0, err
	}
	logger.Audit().Info("任务已创建",
		slog.Int64("task_id", id),
		slog.String("name", req.Name),
	)
	s.publish(ctx, events.NewEvent(events.TypeTaskCreated, id, 1))
	return id, nil
}

// Update 只写入请求中出现的字段。空请求在访问存储前即返回 ErrNothingToUpdate。
// 目标行不存在时不视为错误，返回的行数为 0。
func (s *Service) Update(ctx context.Context, id int32, req UpdateRequest) (int64, error) {
	if req.Empty() {
		return 0, ErrNothingToUpdate
	}
	if s.repo == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	affected, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return 0, err
	}
	logger.Audit().Info("任务已更新",
		slog.Int64("task_id", int64(id)),
		slog.Int64("affected", affected),
	)
	s.publish(ctx, events.NewEvent(events.TypeTaskUpdated, int64(id), affected))
	return affected, nil
}

// Delete 无条件删除指定任务，返回受影响的行数。
func (s *Service) Delete(ctx context.Context, id int32) (int64, error) {
	if s.repo == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	affected, err := s.repo.Delete(ctx, id)
	if err != nil {
		return 0, err
	}
	logger.Audit().Info("任务已删除",
		slog.Int64("task_id", int64(id)),
		slog.Int64("affected", affected),
	)
	s.publish(ctx, events.NewEvent(events.TypeTaskDeleted, int64(id), affected))
	return affected, nil
}

// publish 投递事件，失败只记录日志，不影响调用结果。
func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodePublishFailure, err, "发布任务事件失败")
		s.log.Warn("任务事件发布失败",
			slog.Any("error", wrapped),
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)),
			slog.Int64("task_id", event.TaskID),
		)
	}
}
