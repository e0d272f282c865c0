package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"FinCopilot/internal/aggregate"
	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/executor"
	"FinCopilot/internal/intent"
	"FinCopilot/internal/llm"
	"FinCopilot/internal/plan"
	"FinCopilot/internal/tool"
	"FinCopilot/pkg/logger"
)

// State 是请求处理的状态机状态。
type State string

const (
	StateReceived   State = "received"
	StateClassified State = "classified"
	StatePlanned    State = "planned"
	StateResolved   State = "resolved"
	StateExecuting  State = "executing"
	StateAggregated State = "aggregated"
	StateDone       State = "done"
	StateRejected   State = "rejected"
	StateFaulted    State = "faulted"
)

const (
	// DefaultMaxSteps 是单次请求执行步数上限的默认值。
	DefaultMaxSteps = 8
	// DefaultMaxRetries 是单步重试次数上限的默认值。
	DefaultMaxRetries = 2
	// DefaultStepTimeout 是单步调用超时的默认值。
	DefaultStepTimeout = 30 * time.Second
)

// Config 是编排器的全部依赖与参数, 不依赖任何进程级可变状态。
type Config struct {
	// Registry 是工具注册表, 必填。
	Registry *tool.Registry
	// Classifier 是意图分类器, 必填。
	Classifier *intent.Classifier
	// SynthesisClient 供聚合阶段生成最终回答, 可为 nil。
	SynthesisClient llm.Client
	// MaxSteps 是执行步数硬上限, 非正时取 DefaultMaxSteps。
	MaxSteps int
	// MaxRetries 是单步重试上限, 非正时取 DefaultMaxRetries。
	MaxRetries int
	// StepTimeout 是单步超时, 非正时取 DefaultStepTimeout。
	StepTimeout time.Duration
}

// Orchestrator 把分类、规划、解析、执行与聚合串成一次请求循环。
type Orchestrator struct {
	registry    *tool.Registry
	classifier  *intent.Classifier
	synthesizer *plan.Synthesizer
	resolver    *plan.Resolver
	executor    *executor.Executor
	aggregator  *aggregate.Aggregator
	maxSteps    int
}

// New 依据配置构建编排器。
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工具注册表不能为空")
	}
	if cfg.Classifier == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图分类器不能为空")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}

	return &Orchestrator{
		registry:    cfg.Registry,
		classifier:  cfg.Classifier,
		synthesizer: plan.NewSynthesizer(cfg.Registry),
		resolver:    plan.NewResolver(cfg.Registry),
		executor:    executor.New(cfg.Registry, cfg.MaxRetries, cfg.StepTimeout),
		aggregator:  aggregate.New(cfg.SynthesisClient, cfg.Registry),
		maxSteps:    cfg.MaxSteps,
	}, nil
}

// Run 处理一条自然语言请求并返回聚合后的回答。
// 仅两类错误会中止请求: 计划级拒绝（依赖不可满足）与内部故障;
// 其余失败都被吸收进回答的失败说明。
func (o *Orchestrator) Run(ctx context.Context, requestText string) (*aggregate.Answer, error) {
	requestID := uuid.NewString()
	audit := logger.Audit().With("request_id", requestID)
	o.transition(audit, StateReceived)

	classified := o.classifier.Classify(ctx, requestText)
	o.transition(audit, StateClassified, "intent", string(classified.Intent))

	draft := o.synthesizer.Synthesize(classified)
	o.transition(audit, StatePlanned, "steps", len(draft.Steps))

	resolved, err := o.resolver.Resolve(draft)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeDependencyUnsatisfiable {
			o.transition(audit, StateRejected, "error", err.Error())
			return nil, err
		}
		o.transition(audit, StateFaulted, "error", err.Error())
		return nil, err
	}
	o.transition(audit, StateResolved, "steps", len(resolved.Steps))

	o.transition(audit, StateExecuting)
	results, execErr := o.executeAll(ctx, audit, resolved, classified.Entities)
	if execErr != nil {
		o.transition(audit, StateFaulted, "error", execErr.Error())
		return nil, execErr
	}

	answer := o.aggregator.Aggregate(ctx, requestText, classified.Intent, results)
	o.transition(audit, StateAggregated)
	o.transition(audit, StateDone)
	return answer, nil
}

// executeAll 顺序执行计划: 后续步骤可能引用前序导出, 绝不并行。
// 步数到达上限或请求被取消时提前中止, 带着已有结果进入聚合。
func (o *Orchestrator) executeAll(ctx context.Context, audit *slog.Logger, p *plan.Plan, bag intent.Bag) ([]*plan.StepResult, error) {
	var results []*plan.StepResult
	prior := make(map[string]*plan.StepResult, len(p.Steps))
	executed := 0

	for _, step := range p.Steps {
		if executed >= o.maxSteps {
			audit.Warn("达到步数上限, 提前进入聚合", "max_steps", o.maxSteps)
			break
		}
		if ctx.Err() != nil {
			audit.Warn("请求被取消, 带着部分结果进入聚合", "error", ctx.Err().Error())
			break
		}

		result := o.executor.Execute(ctx, step, bag, prior)
		results = append(results, result)
		prior[step.ToolName] = result
		if result.Attempts > 0 {
			executed++
		}

		if result.Err != nil && xerrors.CodeOf(result.Err) == xerrors.CodeInternalFault {
			return nil, result.Err
		}
	}
	return results, nil
}

func (o *Orchestrator) transition(audit *slog.Logger, state State, extra ...any) {
	args := append([]any{"state", string(state)}, extra...)
	switch state {
	case StateRejected, StateFaulted:
		audit.Warn("请求状态变更", args...)
	default:
		audit.Info("请求状态变更", args...)
	}
}
