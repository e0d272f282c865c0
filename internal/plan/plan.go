package plan

import (
	"fmt"

	"FinCopilot/internal/tool"
)

// Status 是步骤的生命周期状态。
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusSucceeded      Status = "succeeded"
	StatusFailedRetry    Status = "failed-retryable"
	StatusFailedTerminal Status = "failed-terminal"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedTerminal
}

// ArgKind 区分参数绑定方式。
type ArgKind int

const (
	// ArgLiteral 表示参数绑定了字面值。
	ArgLiteral ArgKind = iota
	// ArgBackRef 表示参数引用前序步骤的导出值。
	ArgBackRef
)

// Arg 是一个步骤参数的绑定。回引用以生产者工具名定位前序结果,
// 同一工具在计划中至多出现一次, 因此定位是唯一的。
type Arg struct {
	Kind    ArgKind
	Literal string
	// RefTool 与 RefExport 仅在 Kind 为 ArgBackRef 时有效。
	RefTool   string
	RefExport string
}

// LiteralArg 构造字面值绑定。
func LiteralArg(value string) Arg {
	return Arg{Kind: ArgLiteral, Literal: value}
}

// BackRefArg 构造回引用绑定。
func BackRefArg(refTool, export string) Arg {
	return Arg{Kind: ArgBackRef, RefTool: refTool, RefExport: export}
}

// Step 是计划中的一个工具调用。
type Step struct {
	// Position 是步骤在计划中的序号, 从 0 开始, 解析后保持稳定。
	Position int
	// ToolName 是要调用的工具。
	ToolName string
	// Args 是参数绑定。未出现在 Args 中的必填参数视为未绑定,
	// 由依赖解析阶段补齐或判定为不可满足。
	Args map[string]Arg
	// Retries 记录已执行的重试次数。
	Retries int
	// Status 是当前生命周期状态。
	Status Status
	// FailureReason 在执行前即判定失败时记录原因。
	FailureReason string
}

// BoundParams 返回已绑定的参数名集合。
func (s *Step) BoundParams() map[string]bool {
	bound := make(map[string]bool, len(s.Args))
	for name := range s.Args {
		bound[name] = true
	}
	return bound
}

// Plan 是有序的步骤序列。
type Plan struct {
	Steps []*Step
}

// IndexOfTool 返回指定工具所在步骤的下标, 不存在时返回 -1。
func (p *Plan) IndexOfTool(name string) int {
	for i, step := range p.Steps {
		if step.ToolName == name {
			return i
		}
	}
	return -1
}

// Renumber 在插入或移动步骤后重排序号。
func (p *Plan) Renumber() {
	for i, step := range p.Steps {
		step.Position = i
	}
}

// ValidateOrdering 检查每个回引用的生产者都位于消费者之前。
func (p *Plan) ValidateOrdering() error {
	for i, step := range p.Steps {
		for param, arg := range step.Args {
			if arg.Kind != ArgBackRef {
				continue
			}
			producer := p.IndexOfTool(arg.RefTool)
			if producer < 0 {
				return fmt.Errorf("步骤 %d 的参数 %s 引用了不在计划中的工具 %s", i, param, arg.RefTool)
			}
			if producer >= i {
				return fmt.Errorf("步骤 %d 的参数 %s 引用了未在其之前的工具 %s", i, param, arg.RefTool)
			}
		}
	}
	return nil
}

// StepResult 是一个步骤的执行结果。
type StepResult struct {
	// Position 与 ToolName 标识所属步骤。
	Position int
	ToolName string
	// Success 标记是否成功。
	Success bool
	// Output 在成功时携带工具输出。
	Output *tool.Output
	// Err 在失败时携带分类后的错误。
	Err error
	// Attempts 是实际调用次数, 含首次调用。
	Attempts int
	// Exports 是成功时导出的参数值。
	Exports map[string]string
}
