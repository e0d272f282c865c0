package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FinCopilot/internal/api"
	"FinCopilot/internal/config"
	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/intent"
	"FinCopilot/internal/llm"
	"FinCopilot/internal/llm/openai"
	"FinCopilot/internal/observability/alerting"
	"FinCopilot/internal/orchestrator"
	"FinCopilot/internal/retrieval"
	"FinCopilot/internal/storage/mysql"
	"FinCopilot/internal/task"
	"FinCopilot/internal/tool"
	"FinCopilot/internal/tool/finance"
	"FinCopilot/internal/tool/mail"
	"FinCopilot/internal/tool/rag"
	"FinCopilot/pkg/logger"
)

const (
	configEnvVar      = "FINCOPILOT_CONFIG"
	defaultConfigPath = "configs/fincopilot.yaml"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.L().Error("服务退出", slog.String("error", err.Error()))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(ctx context.Context) error {
	configPath := os.Getenv(configEnvVar)
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	log := logger.L()
	log.Info("配置加载完成", slog.String("path", configPath))

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}
	if llmClient == nil {
		log.Warn("未配置 LLM, 将使用规则分类与确定性聚合")
	}

	financeStore, err := createFinanceStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer financeStore.Close()

	registry, err := createRegistry(cfg, financeStore, log)
	if err != nil {
		return err
	}

	classifier := intent.NewClassifier(llmClient, intent.NewExtractor())
	orch, err := orchestrator.New(orchestrator.Config{
		Registry:        registry,
		Classifier:      classifier,
		SynthesisClient: llmClient,
		MaxSteps:        cfg.Engine.MaxSteps,
		MaxRetries:      cfg.Engine.MaxRetries,
		StepTimeout:     cfg.Engine.StepTimeout(),
	})
	if err != nil {
		return fmt.Errorf("初始化编排器失败: %w", err)
	}

	taskStore, err := createTaskStore(cfg)
	if err != nil {
		return err
	}

	queue, err := createTaskQueue(cfg)
	if err != nil {
		taskStore.Close()
		return err
	}

	taskService := task.NewService(taskStore, queue, cfg.Storage.TaskStore.Retries)
	defer taskService.Close()

	processor := task.NewProcessor(orch, taskStore, queue, queue,
		task.WithProcessorLogger(log),
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithRecoveryHandler(task.AnswerRecovery{}),
		task.WithAlertDispatcher(alerting.LogDispatcher{}),
	)
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("任务处理器退出", slog.String("error", err.Error()))
		}
	}()

	server := api.NewServer(cfg.Server.Address, orch, taskService,
		api.WithAuthToken(cfg.Server.AuthToken))
	log.Info("FinCopilot 服务启动",
		slog.String("address", cfg.Server.Address),
		slog.String("finance_store", cfg.Storage.Finance.Driver),
		slog.String("task_queue", cfg.TaskQueue.Driver))
	return server.Start(ctx)
}

// createLLMClient 按配置构建 LLM 客户端。未配置密钥时返回 nil,
// 此时意图分类退化为规则匹配, 回答聚合使用确定性拼接。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := cfg.LLM.OpenAI.APIKey
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.LLM.OpenAI.APIKeyEnv)
		}
		if apiKey == "" {
			return nil, nil
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 OpenAI 客户端失败: %w", err)
		}
		return client, nil
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("不支持的 LLM 提供方: %s", cfg.LLM.Provider))
	}
}

func createFinanceStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (mysql.FinanceStore, error) {
	switch cfg.Storage.Finance.Driver {
	case "", "memory":
		if cfg.Storage.Finance.Seed == "" {
			return mysql.NewMemoryFinanceStoreWithDemoData(), nil
		}
		store, err := mysql.LoadMemoryFinanceStore(cfg.Storage.Finance.Seed)
		if errors.Is(err, mysql.ErrSeedNotFound) {
			log.Warn("财务数据种子文件不存在, 使用内置演示数据",
				slog.String("seed", cfg.Storage.Finance.Seed))
			return mysql.NewMemoryFinanceStoreWithDemoData(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("加载财务数据种子失败: %w", err)
		}
		return store, nil
	case "mysql":
		store, err := mysql.NewSQLFinanceStore(ctx, mysql.Config{
			DSN:             cfg.Storage.Finance.DSN,
			MaxOpenConns:    cfg.Storage.Finance.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Finance.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.Finance.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.Finance.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化财务 MySQL 存储失败: %w", err)
		}
		return store, nil
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("不支持的财务存储驱动: %s", cfg.Storage.Finance.Driver))
	}
}

func createRegistry(cfg *config.Config, store mysql.FinanceStore, log *slog.Logger) (*tool.Registry, error) {
	retriever, err := createRetriever(cfg, log)
	if err != nil {
		return nil, err
	}

	tools := []tool.Tool{
		finance.NewEmployeeTool(store),
		rag.NewSearchTool(retriever, cfg.Retrieval.TopK, cfg.Retrieval.MinScore),
		finance.NewRecordsTool(store),
		finance.NewSummaryTool(store),
		finance.NewStatusTool(store),
		finance.NewWorkOrderTool(store),
	}

	if cfg.Mail.Host != "" {
		sender, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 SMTP 发送器失败: %w", err)
		}
		tools = append(tools, mail.NewEmailTool(sender))
	} else {
		log.Info("未配置 SMTP, 跳过邮件工具注册")
	}

	registry, err := tool.NewRegistry(tools...)
	if err != nil {
		return nil, fmt.Errorf("构建工具注册表失败: %w", err)
	}
	return registry, nil
}

func createRetriever(cfg *config.Config, log *slog.Logger) (retrieval.Retriever, error) {
	if cfg.Retrieval.Source == "" {
		log.Warn("未配置知识库文件, 知识检索将返回空结果")
		return retrieval.NewStaticRetriever(nil), nil
	}
	retriever, err := retrieval.LoadStaticRetriever(cfg.Retrieval.Source)
	if err != nil {
		return nil, fmt.Errorf("加载知识库失败: %w", err)
	}
	return retriever, nil
}

func createTaskStore(cfg *config.Config) (task.Store, error) {
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		store, err := task.NewMySQLStore(cfg.Storage.TaskStore.DSN)
		if err != nil {
			return nil, fmt.Errorf("初始化任务 MySQL 存储失败: %w", err)
		}
		return store, nil
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("不支持的任务存储驱动: %s", cfg.Storage.TaskStore.Driver))
	}
}

func createTaskQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(1024), nil
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Redis 队列失败: %w", err)
		}
		return queue, nil
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 RabbitMQ 队列失败: %w", err)
		}
		return queue, nil
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("不支持的任务队列驱动: %s", cfg.TaskQueue.Driver))
	}
}
