package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/intent"
	"FinCopilot/internal/plan"
	"FinCopilot/internal/tool"
	"FinCopilot/pkg/logger"
)

// Executor 逐步执行计划。每个实例无共享可变状态, 可被多个请求并用。
type Executor struct {
	registry    *tool.Registry
	maxRetries  int
	stepTimeout time.Duration
}

// New 创建步骤执行器。maxRetries 为负时取 0, stepTimeout 非正时取 30s。
func New(registry *tool.Registry, maxRetries int, stepTimeout time.Duration) *Executor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	return &Executor{registry: registry, maxRetries: maxRetries, stepTimeout: stepTimeout}
}

// Execute 执行一个步骤并返回结果。步骤内的错误被吸收和分类,
// 不会跨步骤抛出; 调用方通过结果中的错误码决定后续处理。
func (e *Executor) Execute(ctx context.Context, step *plan.Step, bag intent.Bag, prior map[string]*plan.StepResult) *plan.StepResult {
	result := &plan.StepResult{Position: step.Position, ToolName: step.ToolName}

	if step.Status == plan.StatusFailedTerminal {
		// 解析阶段已判定失败的步骤不再调用。
		result.Err = xerrors.New(xerrors.CodeDependencyUnsatisfiable, step.FailureReason)
		return result
	}

	t, ok := e.registry.Lookup(step.ToolName)
	if !ok {
		step.Status = plan.StatusFailedTerminal
		result.Err = xerrors.New(xerrors.CodeInternalFault,
			fmt.Sprintf("计划引用了未注册的工具 %s", step.ToolName))
		return result
	}

	args, err := resolveArgs(step, prior)
	if err != nil {
		// 前置结果缺失是前提条件失败, 不发起调用。
		step.Status = plan.StatusFailedTerminal
		result.Err = err
		e.audit(step, result)
		return result
	}
	args = t.Spec().ApplyDefaults(args)

	step.Status = plan.StatusRunning
	maxAttempts := 1 + e.maxRetries

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		output, invokeErr := e.invokeOnce(ctx, t, args)
		if invokeErr == nil {
			step.Status = plan.StatusSucceeded
			result.Success = true
			result.Output = output
			result.Exports = output.Exports
			result.Err = nil
			e.audit(step, result)
			return result
		}
		result.Err = invokeErr

		code := xerrors.CodeOf(invokeErr)
		switch {
		case code == xerrors.CodeMutationUncertain:
			// 外部写入结果不确定, 绝不再次调用同一步骤。
			step.Status = plan.StatusFailedTerminal
		case !xerrors.RetryableError(invokeErr):
			step.Status = plan.StatusFailedTerminal
		case attempt >= maxAttempts:
			step.Status = plan.StatusFailedTerminal
		case ctx.Err() != nil:
			// 请求级取消, 不再消耗重试。
			step.Status = plan.StatusFailedTerminal
		default:
			step.Status = plan.StatusFailedRetry
			step.Retries++
			args = repairArgs(args, bag, invokeErr)
			continue
		}
		break
	}

	e.audit(step, result)
	return result
}

// invokeOnce 在步骤级超时内调用一次工具。超时归类为瞬时失败,
// 消耗一次重试机会。
func (e *Executor) invokeOnce(ctx context.Context, t tool.Tool, args map[string]string) (*tool.Output, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	output, err := t.Invoke(attemptCtx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTransient, err,
				fmt.Sprintf("工具 %s 调用超时（%s）", t.Spec().Name, e.stepTimeout))
		}
		return nil, err
	}
	if output == nil {
		return nil, xerrors.New(xerrors.CodeInternalFault,
			fmt.Sprintf("工具 %s 返回了空结果", t.Spec().Name))
	}
	return output, nil
}

// resolveArgs 将步骤参数解析为字面值。回引用的前置步骤缺失、
// 失败或未导出目标值都是前提条件失败。
func resolveArgs(step *plan.Step, prior map[string]*plan.StepResult) (map[string]string, error) {
	args := make(map[string]string, len(step.Args))
	for param, arg := range step.Args {
		switch arg.Kind {
		case plan.ArgLiteral:
			args[param] = arg.Literal
		case plan.ArgBackRef:
			pr, ok := prior[arg.RefTool]
			if !ok || !pr.Success {
				return nil, xerrors.New(xerrors.CodeDependencyUnsatisfiable,
					fmt.Sprintf("前置步骤 %s 未成功, 无法提供参数 %s", arg.RefTool, param),
					xerrors.WithMetadata("param", param),
					xerrors.WithMetadata("producer", arg.RefTool))
			}
			value, ok := pr.Exports[arg.RefExport]
			if !ok || value == "" {
				return nil, xerrors.New(xerrors.CodeDependencyUnsatisfiable,
					fmt.Sprintf("前置步骤 %s 未导出 %s", arg.RefTool, arg.RefExport),
					xerrors.WithMetadata("param", param))
			}
			args[param] = value
		}
	}
	return args, nil
}

func (e *Executor) audit(step *plan.Step, result *plan.StepResult) {
	record := logger.Audit().With(
		"tool", step.ToolName,
		"position", step.Position,
		"status", string(step.Status),
		"attempts", result.Attempts,
	)
	if result.Err != nil {
		record.Warn("步骤结束", "code", string(xerrors.CodeOf(result.Err)), "error", result.Err.Error())
		return
	}
	record.Info("步骤结束")
}
