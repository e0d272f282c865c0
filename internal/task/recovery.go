package task

import (
	"context"
	"fmt"

	xerrors "FinCopilot/internal/errors"
)

// RecoveryHandler 定义了在任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿或降级。
	// 返回的 ExecutionResult 将作为降级结果写入任务；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}

// AnswerRecovery 为部分不可重试的失败生成兜底回答, 避免任务以裸错误终结。
// 写操作结果不确定或内部故障不做降级, 交由失败流程触发告警。
type AnswerRecovery struct{}

// Recover 实现 RecoveryHandler。
func (AnswerRecovery) Recover(_ context.Context, _ *Task, cause error) (*ExecutionResult, error) {
	e, ok := xerrors.From(cause)
	if !ok {
		return nil, nil
	}
	switch e.Code() {
	case xerrors.CodeEntityNotFound:
		return &ExecutionResult{
			Answer: fmt.Sprintf("抱歉, 没有找到与您的问题相关的记录: %s。请确认信息后再试一次。", e.Message()),
		}, nil
	case xerrors.CodeDependencyUnsatisfiable:
		return &ExecutionResult{
			Answer: "抱歉, 这个问题超出了我目前能够处理的范围, 无法为您完成。您可以换一种问法, 或联系财务部门人工处理。",
		}, nil
	default:
		return nil, nil
	}
}
