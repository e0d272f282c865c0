package finance

import (
	"context"
	"strings"
	"testing"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/storage/mysql"
)

func demoStore() mysql.FinanceStore {
	return mysql.NewMemoryFinanceStoreWithDemoData()
}

func TestEmployeeToolInvoke(t *testing.T) {
	tl := NewEmployeeTool(demoStore())
	ctx := context.Background()

	out, err := tl.Invoke(ctx, map[string]string{"employee_id": "E001"})
	if err != nil {
		t.Fatalf("Invoke 失败: %v", err)
	}
	if out.Exports["employee_name"] != "张三" || out.Exports["employee_email"] != "zhangsan@example.com" {
		t.Fatalf("导出参数不符: %v", out.Exports)
	}
	if !strings.Contains(out.Text, "财务部") {
		t.Fatalf("结果文本缺少部门信息: %s", out.Text)
	}

	if _, err := tl.Invoke(ctx, map[string]string{}); xerrors.CodeOf(err) != xerrors.CodeParameterInvalid {
		t.Fatalf("无查询条件应返回参数错误, 实际: %v", err)
	}
	if _, err := tl.Invoke(ctx, map[string]string{"employee_id": "E999"}); xerrors.CodeOf(err) != xerrors.CodeEntityNotFound {
		t.Fatalf("查询不存在的员工应返回实体不存在, 实际: %v", err)
	}
}

func TestRecordsToolValidation(t *testing.T) {
	tl := NewRecordsTool(demoStore())
	ctx := context.Background()

	cases := []struct {
		name string
		args map[string]string
	}{
		{"缺少工号", map[string]string{}},
		{"日期格式错误", map[string]string{"employee_id": "E001", "start_date": "2024/03/01"}},
		{"日期范围颠倒", map[string]string{"employee_id": "E001", "start_date": "2024-03-31", "end_date": "2024-03-01"}},
		{"状态非法", map[string]string{"employee_id": "E001", "status": "done"}},
		{"limit非法", map[string]string{"employee_id": "E001", "limit": "abc"}},
	}
	for _, tc := range cases {
		if _, err := tl.Invoke(ctx, tc.args); xerrors.CodeOf(err) != xerrors.CodeParameterInvalid {
			t.Errorf("%s: 应返回参数错误, 实际: %v", tc.name, err)
		}
	}

	out, err := tl.Invoke(ctx, map[string]string{"employee_id": "E002", "status": "APPROVED"})
	if err != nil {
		t.Fatalf("Invoke 失败: %v", err)
	}
	if !strings.Contains(out.Text, "R20240310003") || strings.Contains(out.Text, "R20240325004") {
		t.Fatalf("状态过滤结果不符: %s", out.Text)
	}
}

func TestSummaryToolTotals(t *testing.T) {
	tl := NewSummaryTool(demoStore())
	ctx := context.Background()

	out, err := tl.Invoke(ctx, map[string]string{
		"employee_id": "E001",
		"start_date":  "2024-03-01",
		"end_date":    "2024-03-31",
	})
	if err != nil {
		t.Fatalf("Invoke 失败: %v", err)
	}
	if out.Exports["total_amount"] != "2300.00" {
		t.Fatalf("报销总额不符: %v", out.Exports)
	}
	if !strings.Contains(out.Text, "差旅费") || !strings.Contains(out.Text, "餐费") {
		t.Fatalf("分类汇总缺失: %s", out.Text)
	}

	_, err = tl.Invoke(ctx, map[string]string{
		"employee_id": "E001",
		"start_date":  "2023-01-01",
		"end_date":    "2023-12-31",
	})
	if xerrors.CodeOf(err) != xerrors.CodeEntityNotFound {
		t.Fatalf("空范围应返回实体不存在, 实际: %v", err)
	}
}

func TestStatusToolByID(t *testing.T) {
	tl := NewStatusTool(demoStore())
	ctx := context.Background()

	out, err := tl.Invoke(ctx, map[string]string{
		"employee_id":      "E001",
		"reimbursement_id": "R20240320002",
	})
	if err != nil {
		t.Fatalf("Invoke 失败: %v", err)
	}
	if !strings.Contains(out.Text, "待审批") {
		t.Fatalf("状态文本不符: %s", out.Text)
	}

	_, err = tl.Invoke(ctx, map[string]string{
		"employee_id":      "E001",
		"reimbursement_id": "R99999999999",
	})
	if xerrors.CodeOf(err) != xerrors.CodeEntityNotFound {
		t.Fatalf("不存在的报销单应返回实体不存在, 实际: %v", err)
	}
}

func TestWorkOrderToolDuplicateGuard(t *testing.T) {
	store := demoStore()
	tl := NewWorkOrderTool(store)
	ctx := context.Background()

	args := map[string]string{
		"title":       "核对3月差旅报销",
		"assignee_id": "E004",
		"priority":    "HIGH",
	}
	first, err := tl.Invoke(ctx, args)
	if err != nil {
		t.Fatalf("Invoke 失败: %v", err)
	}
	id := first.Exports["work_order_id"]
	if id == "" || !strings.HasPrefix(id, "WO-") {
		t.Fatalf("工单编号不符: %q", id)
	}

	second, err := tl.Invoke(ctx, args)
	if err != nil {
		t.Fatalf("重复创建不应报错: %v", err)
	}
	if second.Exports["work_order_id"] != id {
		t.Fatalf("重复创建应复用已有工单: %q vs %q", second.Exports["work_order_id"], id)
	}
	if !strings.Contains(second.Text, "不再重复创建") {
		t.Fatalf("重复创建的提示不符: %s", second.Text)
	}
}

func TestWorkOrderToolValidation(t *testing.T) {
	tl := NewWorkOrderTool(demoStore())
	ctx := context.Background()

	if _, err := tl.Invoke(ctx, map[string]string{"title": "x"}); xerrors.CodeOf(err) != xerrors.CodeParameterInvalid {
		t.Fatalf("缺少负责人应返回参数错误, 实际: %v", err)
	}
	if _, err := tl.Invoke(ctx, map[string]string{
		"title": "x", "assignee_id": "E001", "priority": "asap",
	}); xerrors.CodeOf(err) != xerrors.CodeParameterInvalid {
		t.Fatal("非法优先级应返回参数错误")
	}
	if _, err := tl.Invoke(ctx, map[string]string{
		"title": "x", "assignee_id": "E999",
	}); xerrors.CodeOf(err) != xerrors.CodeEntityNotFound {
		t.Fatal("不存在的负责人应返回实体不存在")
	}
}
