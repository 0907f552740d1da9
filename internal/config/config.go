package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tasks-api/pkg/logger"
)

// Config 描述了服务在启动阶段需要加载的全部配置。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
	API     APIConfig     `yaml:"api"`
	Log     logger.Config `yaml:"log"`
}

// ServerConfig 控制 HTTP 服务的监听地址。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig 描述任务存储与连接池参数。
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// EventsConfig 选择任务变更事件的投递方式。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Buffer   int            `yaml:"buffer"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 事件发布器。
type RedisConfig struct {
	URL      string `yaml:"url"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 事件发布器。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// APIConfig 控制 HTTP 层的行为。
type APIConfig struct {
	// NotFoundStatus 为 legacy 时查询不存在的任务返回 500，strict 时返回 404。
	NotFoundStatus string `yaml:"not_found_status"`
}

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"

	EventsNone     = "none"
	EventsMemory   = "memory"
	EventsRedis    = "redis"
	EventsRabbitMQ = "rabbitmq"

	NotFoundLegacy = "legacy"
	NotFoundStrict = "strict"
)

// Load 读取可选的 YAML 配置文件，补齐默认值并应用环境变量覆盖。
// path 为空时完全依赖默认值与环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 使用环境变量覆盖文件中的配置。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("SERVER_ADDRESS"); ok && v != "" {
		c.Server.Address = v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Storage.DSN = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
}

// applyDefaults 在用户未填写部分字段时设置默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "127.0.0.1:3000"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMySQL
	}
	if c.Storage.MaxOpenConns <= 0 {
		c.Storage.MaxOpenConns = 64
	}
	if c.Storage.AcquireTimeout <= 0 {
		c.Storage.AcquireTimeout = 5 * time.Second
	}

	if c.Events.Driver == "" {
		c.Events.Driver = EventsNone
	}
	if c.API.NotFoundStatus == "" {
		c.API.NotFoundStatus = NotFoundLegacy
	}
}

// Validate 检查配置是否自洽。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMySQL:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("DATABASE_URL not found in environment or config")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case EventsNone, EventsMemory:
	case EventsRedis:
		if c.Events.Redis.URL == "" && c.Events.Redis.Address == "" {
			return errors.New("events.redis 需要配置 url 或 address")
		}
	case EventsRabbitMQ:
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}

	switch c.API.NotFoundStatus {
	case NotFoundLegacy, NotFoundStrict:
	default:
		return fmt.Errorf("未知的 not_found_status: %s", c.API.NotFoundStatus)
	}
	return nil
}
