package plan

import (
	"fmt"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/tool"
	"FinCopilot/pkg/logger"
)

// Resolver 补齐草案计划中未绑定的必填参数: 为其插入生产者步骤并
// 把参数改写为回引用。解析在至多 |注册表| 轮内收敛, 否则整个计划
// 因循环依赖被拒绝。
type Resolver struct {
	registry *tool.Registry
}

// NewResolver 创建依赖解析器。
func NewResolver(registry *tool.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve 原地解析计划并返回它。对已解析的计划再次调用不产生变化。
// 返回错误仅在计划级拒绝时发生: 循环依赖不收敛, 或解析后没有任何
// 可执行步骤。
func (r *Resolver) Resolve(p *Plan) (*Plan, error) {
	maxPasses := r.registry.Len()
	if maxPasses < 1 {
		maxPasses = 1
	}

	converged := false
	for pass := 0; pass < maxPasses; pass++ {
		changed, err := r.resolvePass(p)
		if err != nil {
			return nil, err
		}
		if !changed {
			converged = true
			break
		}
	}
	if !converged {
		// 超过轮数上限仍在变化, 视为生产者之间存在循环依赖。
		if changed, err := r.resolvePass(p); err != nil {
			return nil, err
		} else if changed {
			return nil, xerrors.New(xerrors.CodeDependencyUnsatisfiable,
				fmt.Sprintf("依赖解析在 %d 轮内未收敛, 计划被拒绝", maxPasses))
		}
	}

	// 绑定完成后统一按回引用关系排序, 排序无法完成说明工具导出
	// 之间存在环。
	if err := p.sortByBackRefs(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDependencyUnsatisfiable, err, "工具依赖存在环, 计划被拒绝")
	}
	p.Renumber()
	if err := p.ValidateOrdering(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInternalFault, err, "解析后的计划顺序不一致")
	}

	executable := 0
	for _, step := range p.Steps {
		if step.Status == StatusPending {
			executable++
		}
	}
	if executable == 0 {
		return nil, xerrors.New(xerrors.CodeDependencyUnsatisfiable,
			"计划中没有任何可执行步骤: 所需参数无法由任何工具提供")
	}
	return p, nil
}

// resolvePass 做一轮解析, 返回计划是否发生变化。
func (r *Resolver) resolvePass(p *Plan) (bool, error) {
	changed := false
	for i := 0; i < len(p.Steps); i++ {
		step := p.Steps[i]
		if step.Status != StatusPending {
			continue
		}

		t, ok := r.registry.Lookup(step.ToolName)
		if !ok {
			return false, xerrors.New(xerrors.CodeInternalFault,
				fmt.Sprintf("计划引用了未注册的工具 %s", step.ToolName))
		}

		spec := t.Spec()
		var unbound []string
		for _, param := range spec.Required {
			if _, bound := step.Args[param]; !bound {
				unbound = append(unbound, param)
			}
		}
		if len(unbound) == 0 {
			continue
		}

		// 先整体判定可满足性, 避免为注定失败的步骤插入无用的生产者。
		unsatisfiable := ""
		for _, param := range unbound {
			if _, found := r.pickProducer(p, step.ToolName, spec.ExportFor(param)); !found {
				unsatisfiable = param
				break
			}
		}
		if unsatisfiable != "" {
			step.Status = StatusFailedTerminal
			step.FailureReason = fmt.Sprintf("没有任何工具能够提供参数 %s", unsatisfiable)
			logger.L().Warn("步骤在解析阶段被判定为不可满足",
				"tool", step.ToolName, "param", unsatisfiable)
			changed = true
			continue
		}

		for _, param := range unbound {
			export := spec.ExportFor(param)
			producerName, _ := r.pickProducer(p, step.ToolName, export)

			// 生产者已在计划中但位于消费者之后的情况留给最终排序处理,
			// 这里只负责绑定与插入。
			if p.IndexOfTool(producerName) < 0 {
				p.insertBefore(i, &Step{
					ToolName: producerName,
					Args:     make(map[string]Arg),
					Status:   StatusPending,
				})
				i++ // step 现在位于 i+1
			}
			if step.Args == nil {
				step.Args = make(map[string]Arg)
			}
			step.Args[param] = BackRefArg(producerName, export)
			changed = true
		}
	}
	if changed {
		p.Renumber()
	}
	return changed, nil
}

// pickProducer 为参数挑选生产者: 优先采用计划中已有的生产者,
// 否则取注册表中最早注册的默认生产者。消费者自身不作候选。
func (r *Resolver) pickProducer(p *Plan, consumer, param string) (string, bool) {
	for _, step := range p.Steps {
		if step.ToolName == consumer || step.Status == StatusFailedTerminal {
			continue
		}
		if t, ok := r.registry.Lookup(step.ToolName); ok && t.Spec().ProducesParam(param) {
			return step.ToolName, true
		}
	}
	for _, t := range r.registry.Exporters(param) {
		if t.Spec().Name != consumer {
			return t.Spec().Name, true
		}
	}
	return "", false
}

// insertBefore 在下标 idx 前插入步骤。
func (p *Plan) insertBefore(idx int, step *Step) {
	p.Steps = append(p.Steps, nil)
	copy(p.Steps[idx+1:], p.Steps[idx:])
	p.Steps[idx] = step
}

// sortByBackRefs 按回引用关系对步骤做稳定拓扑排序, 使每个生产者
// 位于其消费者之前; 无依赖关系的步骤保持原有相对顺序。存在循环
// 引用时返回错误。
func (p *Plan) sortByBackRefs() error {
	n := len(p.Steps)
	indexOf := make(map[string]int, n)
	for i, step := range p.Steps {
		indexOf[step.ToolName] = i
	}

	deps := make([][]int, n)
	for i, step := range p.Steps {
		for _, arg := range step.Args {
			if arg.Kind != ArgBackRef {
				continue
			}
			if j, ok := indexOf[arg.RefTool]; ok && j != i {
				deps[i] = append(deps[i], j)
			}
		}
	}

	emitted := make([]bool, n)
	ordered := make([]*Step, 0, n)
	for len(ordered) < n {
		picked := -1
		for i := 0; i < n; i++ {
			if emitted[i] {
				continue
			}
			ready := true
			for _, j := range deps[i] {
				if !emitted[j] {
					ready = false
					break
				}
			}
			if ready {
				picked = i
				break
			}
		}
		if picked < 0 {
			first := 0
			for emitted[first] {
				first++
			}
			return fmt.Errorf("步骤 %s 与其生产者之间存在循环引用", p.Steps[first].ToolName)
		}
		emitted[picked] = true
		ordered = append(ordered, p.Steps[picked])
	}
	p.Steps = ordered
	return nil
}
