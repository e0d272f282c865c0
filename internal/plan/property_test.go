package plan

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"FinCopilot/internal/tool"
)

// randomRegistry 依据种子构造随机注册表与草案计划。
func randomWorld(seed int64) (*tool.Registry, *Plan) {
	rng := rand.New(rand.NewSource(seed))

	paramPool := []string{"p0", "p1", "p2", "p3", "p4", "p5"}
	toolCount := 2 + rng.Intn(6)

	tools := make([]tool.Tool, 0, toolCount)
	for i := 0; i < toolCount; i++ {
		spec := tool.Spec{Name: fmt.Sprintf("tool_%d", i)}
		for _, p := range paramPool {
			switch rng.Intn(4) {
			case 0:
				spec.Required = append(spec.Required, p)
			case 1:
				spec.Exports = append(spec.Exports, p)
			}
		}
		tools = append(tools, &specTool{spec: spec})
	}
	registry, err := tool.NewRegistry(tools...)
	if err != nil {
		panic(err)
	}

	draft := &Plan{}
	for _, name := range registry.Names() {
		if rng.Intn(2) == 0 {
			continue
		}
		t, _ := registry.Lookup(name)
		args := make(map[string]Arg)
		for _, p := range t.Spec().Required {
			if rng.Intn(2) == 0 {
				args[p] = LiteralArg("v")
			}
		}
		draft.Steps = append(draft.Steps, &Step{ToolName: name, Args: args, Status: StatusPending})
	}
	draft.Renumber()
	return registry, draft
}

func TestResolverProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("解析成功的计划满足回引用顺序不变式", prop.ForAll(
		func(seed int64) bool {
			registry, draft := randomWorld(seed)
			resolved, err := NewResolver(registry).Resolve(draft)
			if err != nil {
				// 计划级拒绝是合法结果, 不属于不变式违反。
				return true
			}
			return resolved.ValidateOrdering() == nil
		},
		gen.Int64(),
	))

	properties.Property("解析是幂等的", prop.ForAll(
		func(seed int64) bool {
			registry, draft := randomWorld(seed)
			resolver := NewResolver(registry)
			first, err := resolver.Resolve(draft)
			if err != nil {
				return true
			}
			before := planFingerprint(first)
			second, err := resolver.Resolve(first)
			if err != nil {
				return false
			}
			return planFingerprint(second) == before
		},
		gen.Int64(),
	))

	properties.Property("可满足且无环的世界必须解析成功", prop.ForAll(
		func(seed int64) bool {
			registry, draft := randomWorld(seed)
			if len(draft.Steps) == 0 || !worldSatisfiable(registry) {
				return true
			}
			_, err := NewResolver(registry).Resolve(draft)
			return err == nil
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// worldSatisfiable 判断注册表是否构成可满足的无环世界: 每个必填
// 参数都有非自身的导出者, 且潜在的生产者关系图无环。满足这两个
// 条件的任何非空草案都必须解析成功。
func worldSatisfiable(registry *tool.Registry) bool {
	producers := make(map[string][]string)
	for _, name := range registry.Names() {
		t, _ := registry.Lookup(name)
		for _, required := range t.Spec().Required {
			exporters := registry.Exporters(t.Spec().ExportFor(required))
			hasOther := false
			for _, exporter := range exporters {
				other := exporter.Spec().Name
				if other == name {
					continue
				}
				hasOther = true
				producers[name] = append(producers[name], other)
			}
			if !hasOther {
				return false
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			return false
		case done:
			return true
		}
		state[name] = visiting
		for _, producer := range producers[name] {
			if !visit(producer) {
				return false
			}
		}
		state[name] = done
		return true
	}
	for _, name := range registry.Names() {
		if !visit(name) {
			return false
		}
	}
	return true
}

// planFingerprint 生成计划的稳定指纹用于比较。
func planFingerprint(p *Plan) string {
	out := ""
	for _, step := range p.Steps {
		out += fmt.Sprintf("%d:%s:%s;", step.Position, step.ToolName, step.Status)
	}
	return out
}
