package plan

import (
	"testing"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/intent"
	"FinCopilot/internal/tool"
)

func TestResolveInsertsProducer(t *testing.T) {
	registry := financeRegistry(t)
	s := NewSynthesizer(registry)
	r := NewResolver(registry)

	draft := s.Synthesize(intent.Result{
		Intent: intent.IntentDataQuery,
		Entities: intent.Bag{
			"name":       "张三",
			"start_date": "2024-03-01",
			"end_date":   "2024-03-31",
			"query":      "张三三月份报销了多少",
		},
	})

	resolved, err := r.Resolve(draft)
	if err != nil {
		t.Fatalf("Resolve 失败: %v", err)
	}

	lookup := resolved.IndexOfTool("query_employee_info")
	summary := resolved.IndexOfTool("query_reimbursement_summary")
	if lookup < 0 || summary < 0 || lookup > summary {
		t.Fatalf("员工查询应位于汇总之前: %+v", resolved.Steps)
	}

	arg := resolved.Steps[summary].Args["employee_id"]
	if arg.Kind != ArgBackRef || arg.RefTool != "query_employee_info" || arg.RefExport != "employee_id" {
		t.Fatalf("employee_id 应改写为回引用: %+v", arg)
	}
	if err := resolved.ValidateOrdering(); err != nil {
		t.Fatalf("顺序不变式被破坏: %v", err)
	}
}

func TestResolvePrefersPlannedProducer(t *testing.T) {
	registry := financeRegistry(t)
	r := NewResolver(registry)

	// 草案里员工查询在汇总之后, 解析应前移而不是再插入一个。
	draft := &Plan{Steps: []*Step{
		{ToolName: "query_reimbursement_summary", Status: StatusPending, Args: map[string]Arg{
			"start_date": LiteralArg("2024-03-01"),
			"end_date":   LiteralArg("2024-03-31"),
		}},
		{ToolName: "query_employee_info", Status: StatusPending, Args: map[string]Arg{
			"name": LiteralArg("张三"),
		}},
	}}
	draft.Renumber()

	resolved, err := r.Resolve(draft)
	if err != nil {
		t.Fatalf("Resolve 失败: %v", err)
	}
	if got := len(resolved.Steps); got != 2 {
		t.Fatalf("不应插入重复的生产者, 步骤数 %d", got)
	}
	if resolved.Steps[0].ToolName != "query_employee_info" {
		t.Fatalf("生产者应被前移: %+v", resolved.Steps)
	}
}

func TestResolveIdempotent(t *testing.T) {
	registry := financeRegistry(t)
	s := NewSynthesizer(registry)
	r := NewResolver(registry)

	draft := s.Synthesize(intent.Result{
		Intent:   intent.IntentCompositeTask,
		Entities: intent.Bag{"name": "张三", "title": "建工单", "query": "查张三并建工单"},
	})
	first, err := r.Resolve(draft)
	if err != nil {
		t.Fatalf("Resolve 失败: %v", err)
	}

	snapshot := make([]string, len(first.Steps))
	for i, step := range first.Steps {
		snapshot[i] = step.ToolName
	}

	second, err := r.Resolve(first)
	if err != nil {
		t.Fatalf("再次 Resolve 失败: %v", err)
	}
	if len(second.Steps) != len(snapshot) {
		t.Fatalf("重复解析改变了步骤数: %d vs %d", len(second.Steps), len(snapshot))
	}
	for i, step := range second.Steps {
		if step.ToolName != snapshot[i] {
			t.Fatalf("重复解析改变了顺序: %v", second.Steps)
		}
	}
}

func TestResolveUnsatisfiableParam(t *testing.T) {
	registry := financeRegistry(t)
	r := NewResolver(registry)

	// send_email 的 subject 没有任何工具能导出。
	draft := &Plan{Steps: []*Step{
		{ToolName: "send_email", Status: StatusPending, Args: map[string]Arg{
			"body": LiteralArg("内容"),
		}},
	}}
	draft.Renumber()

	_, err := r.Resolve(draft)
	if xerrors.CodeOf(err) != xerrors.CodeDependencyUnsatisfiable {
		t.Fatalf("全部步骤不可满足时应拒绝计划, 实际: %v", err)
	}
	if draft.Steps[len(draft.Steps)-1].Status != StatusFailedTerminal {
		t.Fatalf("不可满足的步骤应预先标记为终态失败: %+v", draft.Steps)
	}
}

func TestResolveMixedSatisfiability(t *testing.T) {
	registry := financeRegistry(t)
	r := NewResolver(registry)

	draft := &Plan{Steps: []*Step{
		{ToolName: "rag_search", Status: StatusPending, Args: map[string]Arg{
			"query": LiteralArg("报销制度"),
		}},
		{ToolName: "send_email", Status: StatusPending, Args: map[string]Arg{
			"body": LiteralArg("内容"),
		}},
	}}
	draft.Renumber()

	resolved, err := r.Resolve(draft)
	if err != nil {
		t.Fatalf("仍有可执行步骤时不应拒绝计划: %v", err)
	}
	if resolved.Steps[resolved.IndexOfTool("send_email")].Status != StatusFailedTerminal {
		t.Fatal("不可满足的步骤应标记为终态失败")
	}
	if resolved.Steps[resolved.IndexOfTool("rag_search")].Status != StatusPending {
		t.Fatal("可满足的步骤应保持待执行")
	}
}

func TestResolveReordersSatisfiableChain(t *testing.T) {
	// alpha 导出 p1; beta 消费 p1 导出 p2; gamma 消费 p2 导出 p3;
	// delta 消费 p3。草案顺序刻意把消费者放在生产者之前,
	// 存在合法顺序 alpha, beta, gamma, delta, 不应被当作环拒绝。
	registry, err := tool.NewRegistry(
		&specTool{spec: tool.Spec{Name: "alpha", Exports: []string{"p1"}}},
		&specTool{spec: tool.Spec{Name: "beta", Required: []string{"p1"}, Exports: []string{"p2"}}},
		&specTool{spec: tool.Spec{Name: "gamma", Required: []string{"p2"}, Exports: []string{"p3"}}},
		&specTool{spec: tool.Spec{Name: "delta", Required: []string{"p3"}}},
	)
	if err != nil {
		t.Fatalf("构造注册表失败: %v", err)
	}
	r := NewResolver(registry)

	draft := &Plan{Steps: []*Step{
		{ToolName: "delta", Status: StatusPending, Args: map[string]Arg{}},
		{ToolName: "alpha", Status: StatusPending, Args: map[string]Arg{}},
		{ToolName: "beta", Status: StatusPending, Args: map[string]Arg{}},
	}}
	draft.Renumber()

	resolved, err := r.Resolve(draft)
	if err != nil {
		t.Fatalf("可满足的依赖链不应被拒绝: %v", err)
	}
	if got := len(resolved.Steps); got != 4 {
		t.Fatalf("应补齐缺失的生产者 gamma, 步骤数 %d", got)
	}
	order := map[string]int{}
	for i, step := range resolved.Steps {
		order[step.ToolName] = i
	}
	if !(order["alpha"] < order["beta"] && order["beta"] < order["gamma"] && order["gamma"] < order["delta"]) {
		t.Fatalf("生产者应位于消费者之前: %+v", resolved.Steps)
	}
	if err := resolved.ValidateOrdering(); err != nil {
		t.Fatalf("顺序不变式被破坏: %v", err)
	}
}

func TestResolveRejectsCycle(t *testing.T) {
	registry, err := tool.NewRegistry(
		&specTool{spec: tool.Spec{Name: "alpha", Required: []string{"p1"}, Exports: []string{"p2"}}},
		&specTool{spec: tool.Spec{Name: "beta", Required: []string{"p2"}, Exports: []string{"p1"}}},
	)
	if err != nil {
		t.Fatalf("构造注册表失败: %v", err)
	}
	r := NewResolver(registry)

	draft := &Plan{Steps: []*Step{
		{ToolName: "alpha", Status: StatusPending, Args: map[string]Arg{}},
	}}
	draft.Renumber()

	_, err = r.Resolve(draft)
	if xerrors.CodeOf(err) != xerrors.CodeDependencyUnsatisfiable {
		t.Fatalf("循环依赖应拒绝整个计划, 实际: %v", err)
	}
}
