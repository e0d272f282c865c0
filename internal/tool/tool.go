package tool

import (
	"context"
	"strings"
)

// Category 标识工具产出的结果类别，聚合阶段按类别组织答案。
type Category string

const (
	// CategoryPolicy 表示制度、政策类结果。
	CategoryPolicy Category = "policy"
	// CategoryData 表示结构化数据查询结果。
	CategoryData Category = "data"
	// CategoryAction 表示对外部系统产生影响的动作结果。
	CategoryAction Category = "action"
)

// Spec 描述一个工具的静态契约。
type Spec struct {
	// Name 是工具的唯一标识。
	Name string
	// Description 是面向规划阶段的工具说明。
	Description string
	// Category 是结果类别。
	Category Category
	// Required 列出必填参数名。
	Required []string
	// Optional 列出选填参数及其默认值，默认值为空表示无默认。
	Optional map[string]string
	// Exports 列出执行成功后可供后续步骤引用的参数名。
	Exports []string
	// Upstream 声明参数可由哪个导出名满足, 缺省为同名导出。
	// 例如 send_email 的 to_email 可由 employee_email 满足。
	Upstream map[string]string
	// Mutating 标记该工具是否改变外部状态。改变外部状态的
	// 工具在结果不确定时绝不重试。
	Mutating bool
}

// ProducesParam 判断工具是否导出指定参数。
func (s Spec) ProducesParam(name string) bool {
	for _, p := range s.Exports {
		if p == name {
			return true
		}
	}
	return false
}

// ExportFor 返回能满足参数的导出名, 优先取 Upstream 声明的别名。
func (s Spec) ExportFor(param string) string {
	if alias, ok := s.Upstream[param]; ok && alias != "" {
		return alias
	}
	return param
}

// MissingRequired 返回 args 中缺失或为空的必填参数。
func (s Spec) MissingRequired(args map[string]string) []string {
	var missing []string
	for _, name := range s.Required {
		if strings.TrimSpace(args[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// ApplyDefaults 为未提供的选填参数填充默认值，返回补全后的副本。
func (s Spec) ApplyDefaults(args map[string]string) map[string]string {
	merged := make(map[string]string, len(args)+len(s.Optional))
	for k, v := range args {
		merged[k] = v
	}
	for name, def := range s.Optional {
		if def == "" {
			continue
		}
		if strings.TrimSpace(merged[name]) == "" {
			merged[name] = def
		}
	}
	return merged
}

// Output 是一次工具调用的结果。
type Output struct {
	// Text 是面向聚合阶段的可读结果文本。
	Text string
	// Exports 携带导出的参数值，供后续步骤引用。
	Exports map[string]string
	// Origins 标注结果的数据来源，用于最终答案的出处说明。
	Origins []string
}

// Tool 是所有可执行工具实现的接口。
type Tool interface {
	// Spec 返回工具的静态契约。
	Spec() Spec
	// Invoke 以字符串参数执行工具。参数校验失败、实体不存在等
	// 情况通过 internal/errors 的错误码区分。
	Invoke(ctx context.Context, args map[string]string) (*Output, error)
}
