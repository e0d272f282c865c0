package finance

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/storage/mysql"
	"FinCopilot/internal/tool"
)

var validPriorities = map[string]bool{"low": true, "medium": true, "high": true, "urgent": true}

// WorkOrderTool 创建工单。相同负责人下同标题的未关闭工单不会重复创建。
type WorkOrderTool struct {
	store mysql.FinanceStore
}

// NewWorkOrderTool 创建工单工具。
func NewWorkOrderTool(store mysql.FinanceStore) *WorkOrderTool {
	return &WorkOrderTool{store: store}
}

// Spec 实现 tool.Tool 接口。
func (t *WorkOrderTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "create_work_order",
		Description: "创建一条工单并指派负责人, 用于跟踪需要人工处理的事项",
		Category:    tool.CategoryAction,
		Required:    []string{"title", "assignee_id"},
		Optional: map[string]string{
			"priority":    "medium",
			"category":    "",
			"description": "",
		},
		Upstream: map[string]string{
			"assignee_id": "employee_id",
		},
		Exports:  []string{"work_order_id"},
		Mutating: true,
	}
}

// Invoke 实现 tool.Tool 接口。
func (t *WorkOrderTool) Invoke(ctx context.Context, args map[string]string) (*tool.Output, error) {
	spec := t.Spec()
	if missing := spec.MissingRequired(args); len(missing) > 0 {
		return nil, xerrors.New(xerrors.CodeParameterInvalid,
			fmt.Sprintf("缺少必填参数: %s", strings.Join(missing, ", ")),
			xerrors.WithMetadata("missing", strings.Join(missing, ",")))
	}
	args = spec.ApplyDefaults(args)

	title := strings.TrimSpace(args["title"])
	assigneeID := strings.TrimSpace(args["assignee_id"])
	priority := strings.ToLower(strings.TrimSpace(args["priority"]))
	if !validPriorities[priority] {
		return nil, xerrors.New(xerrors.CodeParameterInvalid,
			fmt.Sprintf("未知的工单优先级 %q, 允许值: low/medium/high/urgent", args["priority"]),
			xerrors.WithMetadata("param", "priority"))
	}

	// 负责人必须真实存在，否则终止本步。
	assignees, err := t.store.FindEmployees(ctx, mysql.EmployeeQuery{EmployeeID: assigneeID})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransient, err, "校验工单负责人失败")
	}
	if len(assignees) == 0 {
		return nil, xerrors.New(xerrors.CodeEntityNotFound,
			fmt.Sprintf("工单负责人 %s 不存在", assigneeID))
	}

	// 去重检查：同负责人同标题的未关闭工单直接复用。
	existing, err := t.store.FindOpenWorkOrder(ctx, assigneeID, title)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransient, err, "检查重复工单失败")
	}
	if existing != nil {
		return &tool.Output{
			Text: fmt.Sprintf("负责人 %s 名下已有同标题的未关闭工单 %s, 不再重复创建",
				assignees[0].Name, existing.WorkOrderID),
			Exports: map[string]string{"work_order_id": existing.WorkOrderID},
			Origins: []string{"工单系统"},
		}, nil
	}

	order := &mysql.WorkOrder{
		WorkOrderID: "WO-" + uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(args["description"]),
		AssigneeID:  assigneeID,
		Priority:    priority,
		Category:    strings.TrimSpace(args["category"]),
	}
	if err := t.store.CreateWorkOrder(ctx, order); err != nil {
		// 写入请求已发出但结果未知，不允许重试以免重复建单。
		return nil, xerrors.Wrap(xerrors.CodeMutationUncertain, err,
			fmt.Sprintf("创建工单 %s 的结果不确定", order.WorkOrderID),
			xerrors.WithMetadata("work_order_id", order.WorkOrderID))
	}

	return &tool.Output{
		Text: fmt.Sprintf("已创建工单 %s: %s, 负责人 %s（%s）, 优先级 %s",
			order.WorkOrderID, order.Title, assignees[0].Name, assigneeID, priority),
		Exports: map[string]string{"work_order_id": order.WorkOrderID},
		Origins: []string{"工单系统"},
	}, nil
}
