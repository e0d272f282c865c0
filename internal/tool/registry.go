package tool

import (
	"fmt"
	"sort"
)

// Registry 按注册顺序保存工具，构建完成后只读。
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry 依次注册给定工具并返回注册表。工具名重复时返回错误。
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		spec := t.Spec()
		if spec.Name == "" {
			return nil, fmt.Errorf("工具名称不能为空")
		}
		if _, exists := r.tools[spec.Name]; exists {
			return nil, fmt.Errorf("工具 %s 重复注册", spec.Name)
		}
		r.tools[spec.Name] = t
		r.order = append(r.order, spec.Name)
	}
	return r, nil
}

// Lookup 按名称查找工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names 返回按注册顺序排列的工具名。
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len 返回已注册工具数量。
func (r *Registry) Len() int {
	return len(r.order)
}

// Exporters 返回能够导出指定参数的工具，按注册顺序排列。
func (r *Registry) Exporters(param string) []Tool {
	var result []Tool
	for _, name := range r.order {
		t := r.tools[name]
		if t.Spec().ProducesParam(param) {
			result = append(result, t)
		}
	}
	return result
}

// DefaultProducer 返回最早注册的、能导出指定参数的工具。
// 不存在时返回 nil。
func (r *Registry) DefaultProducer(param string) Tool {
	producers := r.Exporters(param)
	if len(producers) == 0 {
		return nil
	}
	return producers[0]
}

// Descriptions 返回按工具名排序的“名称: 说明”列表，供规划提示词使用。
func (r *Registry) Descriptions() []string {
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		lines = append(lines, fmt.Sprintf("%s: %s", name, r.tools[name].Spec().Description))
	}
	sort.Strings(lines)
	return lines
}
