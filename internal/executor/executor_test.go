package executor

import (
	"context"
	"testing"
	"time"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/intent"
	"FinCopilot/internal/plan"
	"FinCopilot/internal/storage/mysql"
	"FinCopilot/internal/tool"
	"FinCopilot/internal/tool/finance"
)

// scriptedTool 按预设脚本依次返回结果, 并记录每次收到的参数。
type scriptedTool struct {
	spec     tool.Spec
	script   []error
	calls    int
	seenArgs []map[string]string
}

func (s *scriptedTool) Spec() tool.Spec { return s.spec }

func (s *scriptedTool) Invoke(_ context.Context, args map[string]string) (*tool.Output, error) {
	s.calls++
	copied := make(map[string]string, len(args))
	for k, v := range args {
		copied[k] = v
	}
	s.seenArgs = append(s.seenArgs, copied)

	if s.calls <= len(s.script) && s.script[s.calls-1] != nil {
		return nil, s.script[s.calls-1]
	}
	return &tool.Output{
		Text:    "ok",
		Exports: map[string]string{"employee_id": "E001"},
	}, nil
}

// sleepyTool 一直等到上下文取消。
type sleepyTool struct {
	spec  tool.Spec
	calls int
}

func (s *sleepyTool) Spec() tool.Spec { return s.spec }

func (s *sleepyTool) Invoke(ctx context.Context, _ map[string]string) (*tool.Output, error) {
	s.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func newExecutor(t *testing.T, maxRetries int, timeout time.Duration, tools ...tool.Tool) (*Executor, *tool.Registry) {
	t.Helper()
	registry, err := tool.NewRegistry(tools...)
	if err != nil {
		t.Fatalf("构造注册表失败: %v", err)
	}
	return New(registry, maxRetries, timeout), registry
}

func pendingStep(name string, args map[string]plan.Arg) *plan.Step {
	if args == nil {
		args = map[string]plan.Arg{}
	}
	return &plan.Step{ToolName: name, Args: args, Status: plan.StatusPending}
}

func TestExecuteSuccessRecordsExports(t *testing.T) {
	st := &scriptedTool{spec: tool.Spec{Name: "lookup", Exports: []string{"employee_id"}}}
	e, _ := newExecutor(t, 2, time.Second, st)

	step := pendingStep("lookup", map[string]plan.Arg{"name": plan.LiteralArg("张三")})
	result := e.Execute(context.Background(), step, intent.Bag{}, nil)

	if !result.Success || step.Status != plan.StatusSucceeded {
		t.Fatalf("执行应成功: %+v", result)
	}
	if result.Exports["employee_id"] != "E001" || result.Attempts != 1 {
		t.Fatalf("导出或次数不符: %+v", result)
	}
}

func TestExecuteTransientRetrySucceeds(t *testing.T) {
	st := &scriptedTool{
		spec:   tool.Spec{Name: "lookup"},
		script: []error{xerrors.New(xerrors.CodeTransient, "连接失败")},
	}
	e, _ := newExecutor(t, 2, time.Second, st)

	step := pendingStep("lookup", nil)
	result := e.Execute(context.Background(), step, intent.Bag{}, nil)

	if !result.Success || result.Attempts != 2 || step.Retries != 1 {
		t.Fatalf("瞬时失败应重试后成功: result=%+v retries=%d", result, step.Retries)
	}
}

func TestExecuteNeverExceedsRetryBound(t *testing.T) {
	failAlways := []error{
		xerrors.New(xerrors.CodeTransient, "x"),
		xerrors.New(xerrors.CodeTransient, "x"),
		xerrors.New(xerrors.CodeTransient, "x"),
		xerrors.New(xerrors.CodeTransient, "x"),
	}
	st := &scriptedTool{spec: tool.Spec{Name: "lookup"}, script: failAlways}
	e, _ := newExecutor(t, 2, time.Second, st)

	step := pendingStep("lookup", nil)
	result := e.Execute(context.Background(), step, intent.Bag{}, nil)

	if result.Success || step.Status != plan.StatusFailedTerminal {
		t.Fatalf("重试耗尽应为终态失败: %+v", result)
	}
	if st.calls != 3 {
		t.Fatalf("最多调用 1+max_retries 次, 实际 %d", st.calls)
	}
}

func TestExecuteRepairPreservesTargetEntity(t *testing.T) {
	st := &scriptedTool{
		spec: tool.Spec{Name: "records", Required: []string{"employee_id"}},
		script: []error{xerrors.New(xerrors.CodeParameterInvalid,
			"start_date 格式错误", xerrors.WithMetadata("param", "start_date"))},
	}
	e, _ := newExecutor(t, 2, time.Second, st)

	step := pendingStep("records", map[string]plan.Arg{
		"employee_id": plan.LiteralArg("E001"),
		"start_date":  plan.LiteralArg("2024/03/01"),
	})
	result := e.Execute(context.Background(), step, intent.Bag{}, nil)

	if !result.Success {
		t.Fatalf("修复后应成功: %+v", result)
	}
	if st.seenArgs[1]["start_date"] != "2024-03-01" {
		t.Fatalf("日期应被规范化: %v", st.seenArgs[1])
	}
	for _, args := range st.seenArgs {
		if args["employee_id"] != "E001" {
			t.Fatalf("目标实体在重试中被改写: %v", args)
		}
	}
}

func TestExecuteMutationUncertainNeverRetried(t *testing.T) {
	st := &scriptedTool{
		spec:   tool.Spec{Name: "create_order", Mutating: true},
		script: []error{xerrors.New(xerrors.CodeMutationUncertain, "写入结果未知")},
	}
	e, _ := newExecutor(t, 2, time.Second, st)

	step := pendingStep("create_order", nil)
	result := e.Execute(context.Background(), step, intent.Bag{}, nil)

	if result.Success || step.Status != plan.StatusFailedTerminal {
		t.Fatalf("写入不确定应为终态失败: %+v", result)
	}
	if st.calls != 1 {
		t.Fatalf("写入不确定后绝不允许再次调用, 实际 %d 次", st.calls)
	}
}

func TestExecuteEntityNotFoundIsTerminal(t *testing.T) {
	st := &scriptedTool{
		spec:   tool.Spec{Name: "lookup"},
		script: []error{xerrors.New(xerrors.CodeEntityNotFound, "员工不存在")},
	}
	e, _ := newExecutor(t, 2, time.Second, st)

	step := pendingStep("lookup", nil)
	result := e.Execute(context.Background(), step, intent.Bag{}, nil)

	if result.Success || st.calls != 1 {
		t.Fatalf("实体不存在不应重试: calls=%d", st.calls)
	}
	if xerrors.CodeOf(result.Err) != xerrors.CodeEntityNotFound {
		t.Fatalf("应保留原始错误分类: %v", result.Err)
	}
}

func TestExecuteMissingPriorResultSkipsInvocation(t *testing.T) {
	st := &scriptedTool{spec: tool.Spec{Name: "summary", Required: []string{"employee_id"}}}
	e, _ := newExecutor(t, 2, time.Second, st)

	step := pendingStep("summary", map[string]plan.Arg{
		"employee_id": plan.BackRefArg("lookup", "employee_id"),
	})
	prior := map[string]*plan.StepResult{
		"lookup": {ToolName: "lookup", Success: false},
	}
	result := e.Execute(context.Background(), step, intent.Bag{}, prior)

	if result.Success || step.Status != plan.StatusFailedTerminal {
		t.Fatalf("前置失败应直接终态: %+v", result)
	}
	if st.calls != 0 {
		t.Fatalf("前提条件失败不应发起调用, 实际 %d 次", st.calls)
	}
	if result.Attempts != 0 {
		t.Fatalf("未调用时次数应为 0: %d", result.Attempts)
	}
}

func TestExecuteTimeoutIsTransientAndConsumesRetry(t *testing.T) {
	st := &sleepyTool{spec: tool.Spec{Name: "slow"}}
	e, _ := newExecutor(t, 1, 20*time.Millisecond, st)

	step := pendingStep("slow", nil)
	result := e.Execute(context.Background(), step, intent.Bag{}, nil)

	if result.Success || step.Status != plan.StatusFailedTerminal {
		t.Fatalf("超时耗尽重试应为终态失败: %+v", result)
	}
	if st.calls != 2 {
		t.Fatalf("超时应消耗重试机会: 调用 %d 次", st.calls)
	}
	if xerrors.CodeOf(result.Err) != xerrors.CodeTransient {
		t.Fatalf("超时应归类为瞬时失败: %v", result.Err)
	}
}

func TestExecuteRepairRefillsEmployeeLookup(t *testing.T) {
	store := mysql.NewMemoryFinanceStoreWithDemoData()
	e, _ := newExecutor(t, 2, time.Second, finance.NewEmployeeTool(store))

	// 首次调用缺少全部查询条件, 修复规则应依据错误的 missing
	// 元信息从实体包补齐姓名后重试成功。
	step := pendingStep("query_employee_info", nil)
	result := e.Execute(context.Background(), step, intent.Bag{"name": "张三"}, nil)

	if !result.Success {
		t.Fatalf("补齐查询条件后应成功: %v", result.Err)
	}
	if result.Attempts != 2 {
		t.Fatalf("应在一次修复重试后成功, 实际 %d 次", result.Attempts)
	}
	if result.Exports["employee_id"] != "E001" {
		t.Fatalf("导出不符: %+v", result.Exports)
	}
}

func TestRepairArgsRules(t *testing.T) {
	bag := intent.Bag{"end_date": "2024-03-31"}
	cause := xerrors.New(xerrors.CodeParameterInvalid, "缺少必填参数",
		xerrors.WithMetadata("missing", "end_date"))

	repaired := repairArgs(map[string]string{
		"employee_id": "E001",
		"start_date":  "2024年3月5日",
		"status":      "PENDING",
		"limit":       "abc",
		"priority":    "ASAP",
	}, bag, cause)

	if repaired["start_date"] != "2024-03-05" {
		t.Fatalf("日期未规范化: %v", repaired)
	}
	if repaired["status"] != "pending" || repaired["priority"] != "medium" {
		t.Fatalf("状态或优先级修复不符: %v", repaired)
	}
	if _, ok := repaired["limit"]; ok {
		t.Fatal("非法 limit 应被移除")
	}
	if repaired["end_date"] != "2024-03-31" {
		t.Fatalf("缺失参数应从实体包补齐: %v", repaired)
	}
	if repaired["employee_id"] != "E001" {
		t.Fatal("目标实体不得被修复规则改写")
	}

	swapped := repairArgs(map[string]string{
		"start_date": "2024-03-31", "end_date": "2024-03-01",
	}, intent.Bag{}, cause)
	if swapped["start_date"] != "2024-03-01" || swapped["end_date"] != "2024-03-31" {
		t.Fatalf("颠倒的日期范围应被交换: %v", swapped)
	}
}
