package aggregate

import (
	"context"
	"fmt"
	"strings"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/intent"
	"FinCopilot/internal/llm"
	"FinCopilot/internal/plan"
	"FinCopilot/internal/tool"
	"FinCopilot/pkg/logger"
)

// Attribution 是答案的一条来源标注。
type Attribution struct {
	Origin  string  `json:"origin"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score,omitempty"`
}

// Answer 是一次请求的最终聚合结果, 创建后不可变。
type Answer struct {
	// Text 是面向用户的最终回答。
	Text string `json:"text"`
	// Sources 按步骤顺序列出成功步骤声明的来源。
	Sources []Attribution `json:"sources,omitempty"`
	// Steps 保留全部步骤结果供审计。
	Steps []*plan.StepResult `json:"steps"`
	// Intent 是本次请求的意图, 用于追溯。
	Intent intent.Intent `json:"intent"`
}

// categoryTitles 按固定顺序渲染各结果类别。
var categoryOrder = []tool.Category{tool.CategoryPolicy, tool.CategoryData, tool.CategoryAction}

var categoryTitles = map[tool.Category]string{
	tool.CategoryPolicy: "制度信息",
	tool.CategoryData:   "数据信息",
	tool.CategoryAction: "已执行的操作",
}

// Aggregator 汇总步骤结果并生成最终回答。
type Aggregator struct {
	client   llm.Client
	registry *tool.Registry
}

// New 创建聚合器。client 为 nil 时始终使用确定性合并。
func New(client llm.Client, registry *tool.Registry) *Aggregator {
	return &Aggregator{client: client, registry: registry}
}

const synthesisSystemPrompt = `你是企业财务助手。请根据以下已完成子任务的结果, 用中文给出一段
连贯、简洁的最终回答。只使用给出的结果内容, 不要编造任何事实;
对未能完成的子任务, 如实说明原因。`

// Aggregate 合并步骤结果。requestText 仅用于提示词上下文。
func (a *Aggregator) Aggregate(ctx context.Context, requestText string, it intent.Intent, results []*plan.StepResult) *Answer {
	answer := &Answer{Steps: results, Intent: it}

	succeeded, failed := split(results)
	answer.Sources = collectSources(succeeded)

	if len(succeeded) == 0 {
		answer.Text = apology(failed)
		return answer
	}

	body := a.renderSections(succeeded)
	failures := failureSummaries(failed)

	text, err := a.synthesize(ctx, requestText, body, failures)
	if err != nil {
		logger.L().Warn("答案合成退回确定性合并", "error", err)
		text = deterministicMerge(body, failures)
	}
	answer.Text = text
	return answer
}

// synthesize 调用 LLM 生成回答, 失败时重试一次。
func (a *Aggregator) synthesize(ctx context.Context, requestText, body string, failures []string) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("未配置语言生成服务")
	}

	var prompt strings.Builder
	prompt.WriteString("用户请求: " + requestText + "\n\n子任务结果:\n" + body)
	if len(failures) > 0 {
		prompt.WriteString("\n\n未完成的子任务:\n- " + strings.Join(failures, "\n- "))
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := a.client.Complete(ctx, llm.Request{
			System: synthesisSystemPrompt,
			Prompt: prompt.String(),
		})
		if err != nil {
			lastErr = err
			continue
		}
		if text := strings.TrimSpace(resp.Text); text != "" {
			return text, nil
		}
		lastErr = fmt.Errorf("语言生成服务返回了空内容")
	}
	return "", lastErr
}

// renderSections 把成功步骤按类别分组, 组内保持步骤顺序。
func (a *Aggregator) renderSections(succeeded []*plan.StepResult) string {
	grouped := make(map[tool.Category][]*plan.StepResult)
	for _, r := range succeeded {
		grouped[a.categoryOf(r.ToolName)] = append(grouped[a.categoryOf(r.ToolName)], r)
	}

	var sb strings.Builder
	for _, cat := range categoryOrder {
		results := grouped[cat]
		if len(results) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("【" + categoryTitles[cat] + "】")
		for _, r := range results {
			sb.WriteString("\n" + r.Output.Text)
		}
	}
	return sb.String()
}

func (a *Aggregator) categoryOf(toolName string) tool.Category {
	if t, ok := a.registry.Lookup(toolName); ok {
		if cat := t.Spec().Category; cat != "" {
			return cat
		}
	}
	return tool.CategoryData
}

// deterministicMerge 在 LLM 不可用时直接拼接结果。
func deterministicMerge(body string, failures []string) string {
	var sb strings.Builder
	sb.WriteString(body)
	if len(failures) > 0 {
		sb.WriteString("\n\n以下子任务未能完成:\n- " + strings.Join(failures, "\n- "))
	}
	return sb.String()
}

// apology 是全部步骤失败时的固定模板, 绝不编造内容。
func apology(failed []*plan.StepResult) string {
	var sb strings.Builder
	sb.WriteString("抱歉, 本次请求的各项子任务均未能完成:")
	for _, reason := range failureSummaries(failed) {
		sb.WriteString("\n- " + reason)
	}
	sb.WriteString("\n请调整提问内容或稍后重试。")
	return sb.String()
}

// failureSummaries 把失败分类转换为面向用户的原因描述,
// 绝不透出内部原始错误。
func failureSummaries(failed []*plan.StepResult) []string {
	summaries := make([]string, 0, len(failed))
	for _, r := range failed {
		summaries = append(summaries, fmt.Sprintf("%s: %s", toolLabel(r.ToolName), reasonFor(r.Err)))
	}
	return summaries
}

func reasonFor(err error) string {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeParameterInvalid:
		return "提供的参数不完整或格式有误"
	case xerrors.CodeEntityNotFound:
		if e, ok := xerrors.From(err); ok && e.Message() != "" {
			return e.Message()
		}
		return "查询的对象不存在"
	case xerrors.CodeDependencyUnsatisfiable:
		return "缺少完成该操作所需的前置信息"
	case xerrors.CodeTransient:
		return "服务暂时不可用, 已重试仍未成功"
	case xerrors.CodeMutationUncertain:
		return "操作结果不确定, 需要人工确认后再处理"
	default:
		return "内部处理异常"
	}
}

var toolLabels = map[string]string{
	"rag_search":                  "制度检索",
	"query_employee_info":         "员工信息查询",
	"query_reimbursement_records": "报销记录查询",
	"query_reimbursement_summary": "报销金额汇总",
	"query_reimbursement_status":  "报销状态查询",
	"create_work_order":           "创建工单",
	"send_email":                  "发送邮件",
}

func toolLabel(name string) string {
	if label, ok := toolLabels[name]; ok {
		return label
	}
	return name
}

func split(results []*plan.StepResult) (succeeded, failed []*plan.StepResult) {
	for _, r := range results {
		if r.Success {
			succeeded = append(succeeded, r)
		} else {
			failed = append(failed, r)
		}
	}
	return succeeded, failed
}

func collectSources(succeeded []*plan.StepResult) []Attribution {
	var sources []Attribution
	for _, r := range succeeded {
		if r.Output == nil {
			continue
		}
		for _, origin := range r.Output.Origins {
			sources = append(sources, Attribution{
				Origin:  origin,
				Excerpt: excerpt(r.Output.Text),
			})
		}
	}
	return sources
}

// excerpt 截取结果文本的前 80 个字符作为来源摘录。
func excerpt(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= 80 {
		return string(runes)
	}
	return string(runes[:80]) + "…"
}
