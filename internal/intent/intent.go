package intent

import (
	"context"
	"encoding/json"
	"strings"

	"FinCopilot/internal/llm"
	"FinCopilot/pkg/logger"
)

// Intent 是请求意图，取值为固定闭集。
type Intent string

const (
	// IntentSimpleLookup 表示制度、政策类咨询。
	IntentSimpleLookup Intent = "simple-lookup"
	// IntentDataQuery 表示结构化数据查询。
	IntentDataQuery Intent = "data-query"
	// IntentCompositeTask 表示需要多个工具配合的复合任务，
	// 也是所有分类不明确时的保守默认值。
	IntentCompositeTask Intent = "composite-task"
	// IntentContentGeneration 表示邮件、通知等内容生成任务。
	IntentContentGeneration Intent = "content-generation"
)

var validIntents = map[Intent]bool{
	IntentSimpleLookup:      true,
	IntentDataQuery:         true,
	IntentCompositeTask:     true,
	IntentContentGeneration: true,
}

// Result 是一次分类的输出。
type Result struct {
	Intent   Intent
	Entities Bag
}

// Classifier 结合 LLM 与规则抽取完成意图分类。
type Classifier struct {
	client    llm.Client
	extractor *Extractor
}

// NewClassifier 创建分类器。client 可为 nil, 此时仅使用规则分类。
func NewClassifier(client llm.Client, extractor *Extractor) *Classifier {
	if extractor == nil {
		extractor = NewExtractor()
	}
	return &Classifier{client: client, extractor: extractor}
}

const classifySystemPrompt = `你是企业财务助手的意图分类器。请阅读用户请求, 输出 JSON:
{"intent": "<simple-lookup|data-query|composite-task|content-generation>", "entities": {"参数名": "值"}}
意图定义:
- simple-lookup: 咨询公司制度、政策条文
- data-query: 查询员工信息、报销记录、报销金额或审批状态
- composite-task: 需要查询后再创建工单或发送邮件等多步操作
- content-generation: 仅需撰写邮件或通知内容
entities 的参数名限定为: employee_id, name, department, start_date, end_date,
reimbursement_id, status, title, subject, to_email, priority, category, query。
只输出 JSON, 不要附加解释。`

// llmClassification 是 LLM 返回的 JSON 结构。
type llmClassification struct {
	Intent   string            `json:"intent"`
	Entities map[string]string `json:"entities"`
}

// Classify 返回请求的意图与实体包。分类永不失败:
// LLM 不可用或输出不合法时退回规则分类, 规则也无法判定时
// 归入 composite-task。规则抽取的实体覆盖 LLM 抽取的同名实体。
func (c *Classifier) Classify(ctx context.Context, requestText string) Result {
	ruleBag := c.extractor.Extract(requestText)

	merged := Bag{}
	classified := Intent("")

	if c.client != nil {
		resp, err := c.client.Complete(ctx, llm.Request{
			System: classifySystemPrompt,
			Prompt: requestText,
		})
		if err != nil {
			logger.L().Warn("意图分类 LLM 调用失败, 退回规则分类", "error", err)
		} else if parsed, ok := parseClassification(resp.Text); ok {
			classified = Intent(parsed.Intent)
			for k, v := range parsed.Entities {
				if strings.TrimSpace(v) != "" {
					merged[k] = strings.TrimSpace(v)
				}
			}
		} else {
			logger.L().Warn("意图分类输出不是合法 JSON, 退回规则分类", "output", resp.Text)
		}
	}

	for k, v := range ruleBag {
		merged[k] = v
	}
	// 请求原文始终作为检索词兜底。
	if !merged.Has("query") {
		merged["query"] = strings.TrimSpace(requestText)
	}

	if !validIntents[classified] {
		classified = ruleClassify(requestText)
	}
	return Result{Intent: classified, Entities: merged}
}

// parseClassification 解析 LLM 输出, 容忍 Markdown 代码块包裹。
func parseClassification(text string) (*llmClassification, bool) {
	trimmed := strings.TrimSpace(text)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}

	var parsed llmClassification
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, false
	}
	if parsed.Intent == "" {
		return nil, false
	}
	return &parsed, true
}

// ruleClassify 基于关键词给出保守的意图判定。
func ruleClassify(text string) Intent {
	hasAction := containsAny(text, "工单", "发邮件", "发送邮件", "通知", "提醒")
	hasQuery := containsAny(text, "查询", "查一下", "多少", "金额", "记录", "状态", "信息", "汇总", "统计")
	hasPolicy := containsAny(text, "制度", "政策", "规定", "标准", "流程", "怎么报销", "如何报销")

	switch {
	case hasAction && (hasQuery || hasPolicy):
		return IntentCompositeTask
	case hasAction:
		return IntentContentGeneration
	case hasPolicy && !hasQuery:
		return IntentSimpleLookup
	case hasQuery:
		return IntentDataQuery
	default:
		return IntentCompositeTask
	}
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
