package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tasks-api/internal/api"
	"tasks-api/internal/config"
	"tasks-api/internal/events"
	"tasks-api/internal/observability/metrics"
	"tasks-api/internal/storage/mysql"
	"tasks-api/internal/task"
	"tasks-api/pkg/logger"
)

// main 是 tasksd 的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		addr       string
	)
	cmd := &cobra.Command{
		Use:           "tasksd",
		Short:         "HTTP CRUD service for the tasks table",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := run(cmd.Context(), configPath, addr)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "tasksd 运行失败: %v\n", err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("TASKS_CONFIG"), "path to a YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.address")
	return cmd
}

func run(ctx context.Context, configPath, addr string) error {
	// .env 不存在时直接使用进程环境变量。
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Address = addr
	}

	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("tasksd")

	repo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer repo.Close()

	publisher, err := openPublisher(ctx, cfg.Events, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	svc := task.NewService(repo, task.WithPublisher(publisher))
	server := api.NewServer(cfg.Server.Address, svc,
		api.WithStrictNotFound(cfg.API.NotFoundStatus == config.NotFoundStrict),
		api.WithMetrics(metrics.NewCollector("tasks")),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)

	log.Info("tasksd 启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("events", cfg.Events.Driver),
	)
	return server.Start(ctx)
}

type repository interface {
	task.Repository
	io.Closer
}

func openRepository(ctx context.Context, cfg config.StorageConfig) (repository, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return mysql.NewMemoryTaskRepository(), nil
	case config.DriverMySQL:
		return mysql.NewSQLTaskRepository(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			AcquireTimeout:  cfg.AcquireTimeout,
		})
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
}

func openPublisher(ctx context.Context, cfg config.EventsConfig, log *slog.Logger) (events.Publisher, error) {
	switch cfg.Driver {
	case config.EventsNone:
		return events.Noop{}, nil
	case config.EventsMemory:
		pub := events.NewMemoryPublisher(cfg.Buffer)
		go drain(pub, log)
		return pub, nil
	case config.EventsRedis:
		return events.NewRedisPublisher(ctx, events.RedisConfig{
			URL:      cfg.Redis.URL,
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	case config.EventsRabbitMQ:
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("不支持的事件驱动: %s", cfg.Driver)
	}
}

// drain 把内存事件写入日志，直到发布器关闭。关闭前仍在处理的请求
// 可能继续发布，因此不随根上下文提前退出。
func drain(pub *events.MemoryPublisher, log *slog.Logger) {
	for event := range pub.Events() {
		log.Debug("任务事件",
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)),
			slog.Int64("task_id", event.TaskID),
			slog.Int64("affected", event.Affected),
		)
	}
}
