package plan

import (
	"FinCopilot/internal/intent"
	"FinCopilot/internal/tool"
)

// 静态的意图到工具族映射。工具名按计划内的期望顺序排列,
// 每个工具附带的条件函数决定它是否进入本次草案。
var intentFamilies = map[intent.Intent][]familyEntry{
	intent.IntentSimpleLookup: {
		{toolName: "rag_search", when: always},
	},
	intent.IntentDataQuery: {
		{toolName: "query_reimbursement_status", when: hasAny("reimbursement_id")},
		{toolName: "query_reimbursement_summary", when: hasAll("start_date", "end_date")},
		{toolName: "query_reimbursement_records", when: hasAny("status")},
		{toolName: "query_employee_info", when: hasAny("employee_id", "name", "department")},
	},
	intent.IntentContentGeneration: {
		{toolName: "send_email", when: always},
	},
	intent.IntentCompositeTask: {
		{toolName: "rag_search", when: hasAny("query")},
		{toolName: "query_reimbursement_status", when: hasAny("reimbursement_id")},
		{toolName: "query_reimbursement_summary", when: hasAll("start_date", "end_date")},
		{toolName: "query_reimbursement_records", when: hasAny("status")},
		{toolName: "query_employee_info", when: hasAny("employee_id", "name", "department")},
		{toolName: "create_work_order", when: hasAny("title")},
		{toolName: "send_email", when: hasAny("to_email", "subject")},
	},
}

type familyEntry struct {
	toolName string
	when     func(bag intent.Bag) bool
}

func always(intent.Bag) bool { return true }

func hasAny(keys ...string) func(intent.Bag) bool {
	return func(bag intent.Bag) bool {
		for _, key := range keys {
			if bag.Has(key) {
				return true
			}
		}
		return false
	}
}

func hasAll(keys ...string) func(intent.Bag) bool {
	return func(bag intent.Bag) bool {
		for _, key := range keys {
			if !bag.Has(key) {
				return false
			}
		}
		return true
	}
}

// Synthesizer 依据静态意图表起草计划, 并从实体包按名急切绑定参数。
type Synthesizer struct {
	registry *tool.Registry
}

// NewSynthesizer 创建计划起草器。
func NewSynthesizer(registry *tool.Registry) *Synthesizer {
	return &Synthesizer{registry: registry}
}

// Synthesize 返回草案计划。未绑定的必填参数留待依赖解析阶段补齐;
// 起草器绝不发明实体包中不存在的值。
func (s *Synthesizer) Synthesize(result intent.Result) *Plan {
	plan := &Plan{}
	for _, entry := range intentFamilies[result.Intent] {
		if !entry.when(result.Entities) {
			continue
		}
		t, ok := s.registry.Lookup(entry.toolName)
		if !ok {
			continue
		}
		if plan.IndexOfTool(entry.toolName) >= 0 {
			continue
		}
		plan.Steps = append(plan.Steps, draftStep(t.Spec(), result.Entities))
	}

	// 任何条件都未命中时退回知识库检索, 保证计划非空。
	if len(plan.Steps) == 0 {
		if t, ok := s.registry.Lookup("rag_search"); ok {
			plan.Steps = append(plan.Steps, draftStep(t.Spec(), result.Entities))
		}
	}

	plan.Renumber()
	return plan
}

// draftStep 按名从实体包绑定工具参数。
func draftStep(spec tool.Spec, bag intent.Bag) *Step {
	args := make(map[string]Arg)
	for _, param := range spec.Required {
		if bag.Has(param) {
			args[param] = LiteralArg(bag.Get(param))
		}
	}
	for param := range spec.Optional {
		if bag.Has(param) {
			args[param] = LiteralArg(bag.Get(param))
		}
	}

	// 邮件正文缺失时以请求原文为内容, 主题缺失时借用工单标题。
	if spec.Name == "send_email" {
		if _, ok := args["body"]; !ok && bag.Has("query") {
			args["body"] = LiteralArg(bag.Get("query"))
		}
		if _, ok := args["subject"]; !ok && bag.Has("title") {
			args["subject"] = LiteralArg(bag.Get("title"))
		}
	}

	return &Step{
		ToolName: spec.Name,
		Args:     args,
		Status:   StatusPending,
	}
}
