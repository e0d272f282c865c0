package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了 FinCopilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Mail      MailConfig      `yaml:"mail"`
	Storage   StorageConfig   `yaml:"storage"`
	TaskQueue TaskQueueConfig `yaml:"task_queue"`
	Logging   LoggingConfig   `yaml:"logging"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与访问令牌。
type ServerConfig struct {
	Address   string `yaml:"address"`
	AuthToken string `yaml:"auth_token"`
}

// EngineConfig 控制规划执行引擎的边界参数。
type EngineConfig struct {
	MaxSteps           int `yaml:"max_steps"`
	MaxRetries         int `yaml:"max_retries"`
	StepTimeoutSeconds int `yaml:"step_timeout_seconds"`
}

// StepTimeout 返回单步执行的超时时间。
func (c EngineConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `yaml:"provider"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的连接信息。通义等模型
// 通过兼容模式的 base_url 接入。
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回调用大模型的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetrievalConfig 配置知识库检索协作方。
type RetrievalConfig struct {
	Source   string  `yaml:"source"`
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// MailConfig 描述 SMTP 发信所需的信息。
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// StorageConfig 统一描述财务数据与任务状态的存储后端。
type StorageConfig struct {
	Finance   FinanceStoreConfig `yaml:"finance"`
	TaskStore TaskStoreConfig    `yaml:"task_store"`
}

// FinanceStoreConfig 描述员工、报销、工单数据的来源。
type FinanceStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	Seed                   string `yaml:"seed"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
}

// TaskStoreConfig 描述异步问答任务的状态存储。
type TaskStoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Retries int    `yaml:"retries"`
}

// TaskQueueConfig 描述任务队列驱动及其参数。
type TaskQueueConfig struct {
	Driver   string         `yaml:"driver"`
	Worker   int            `yaml:"worker"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `yaml:"address"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	Queue            string `yaml:"queue"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// LoggingConfig 控制进程日志与审计日志。
type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Format  string      `yaml:"format"`
	Outputs []string    `yaml:"outputs"`
	Audit   AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Engine.MaxSteps <= 0 {
		c.Engine.MaxSteps = 8
	}
	if c.Engine.MaxRetries <= 0 {
		c.Engine.MaxRetries = 2
	}
	if c.Engine.StepTimeoutSeconds <= 0 {
		c.Engine.StepTimeoutSeconds = 30
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}

	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 3
	}
	if c.Retrieval.Source != "" && !filepath.IsAbs(c.Retrieval.Source) {
		c.Retrieval.Source = filepath.Join(baseDir, c.Retrieval.Source)
	}

	if c.Mail.Port <= 0 {
		c.Mail.Port = 25
	}

	if c.Storage.Finance.Driver == "" {
		c.Storage.Finance.Driver = "memory"
	}
	if c.Storage.Finance.Seed != "" && !filepath.IsAbs(c.Storage.Finance.Seed) {
		c.Storage.Finance.Seed = filepath.Join(baseDir, c.Storage.Finance.Seed)
	}
	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 4
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
