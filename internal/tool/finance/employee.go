package finance

import (
	"context"
	"fmt"
	"strings"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/storage/mysql"
	"FinCopilot/internal/tool"
)

// EmployeeTool 按工号、姓名或部门查询员工信息。
type EmployeeTool struct {
	store mysql.FinanceStore
}

// NewEmployeeTool 创建员工查询工具。
func NewEmployeeTool(store mysql.FinanceStore) *EmployeeTool {
	return &EmployeeTool{store: store}
}

// Spec 实现 tool.Tool 接口。
func (t *EmployeeTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "query_employee_info",
		Description: "按工号、姓名或部门查询员工的基本信息（姓名、部门、职位、邮箱、电话）",
		Category:    tool.CategoryData,
		Optional: map[string]string{
			"employee_id": "",
			"name":        "",
			"department":  "",
		},
		Exports: []string{"employee_id", "employee_name", "employee_email", "employee_department"},
	}
}

// Invoke 实现 tool.Tool 接口。三个查询条件至少填写一个。
func (t *EmployeeTool) Invoke(ctx context.Context, args map[string]string) (*tool.Output, error) {
	query := mysql.EmployeeQuery{
		EmployeeID: strings.TrimSpace(args["employee_id"]),
		Name:       strings.TrimSpace(args["name"]),
		Department: strings.TrimSpace(args["department"]),
	}
	if query.EmployeeID == "" && query.Name == "" && query.Department == "" {
		return nil, xerrors.New(xerrors.CodeParameterInvalid,
			"查询员工信息需要提供工号、姓名或部门之一",
			xerrors.WithMetadata("missing", "employee_id,name,department"))
	}

	employees, err := t.store.FindEmployees(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransient, err, "查询员工信息失败")
	}
	if len(employees) == 0 {
		return nil, xerrors.New(xerrors.CodeEntityNotFound,
			fmt.Sprintf("未找到符合条件的员工: %s", describeQuery(query)))
	}

	var sb strings.Builder
	for i, emp := range employees {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%s（%s）: %s %s, 邮箱 %s, 电话 %s",
			emp.Name, emp.EmployeeID, emp.Department, emp.Position, emp.Email, emp.Phone))
	}

	// 多条命中时以第一条作为后续步骤的引用对象。
	first := employees[0]
	return &tool.Output{
		Text: sb.String(),
		Exports: map[string]string{
			"employee_id":         first.EmployeeID,
			"employee_name":       first.Name,
			"employee_email":      first.Email,
			"employee_department": first.Department,
		},
		Origins: []string{"员工信息库"},
	}, nil
}

func describeQuery(q mysql.EmployeeQuery) string {
	var parts []string
	if q.EmployeeID != "" {
		parts = append(parts, "工号="+q.EmployeeID)
	}
	if q.Name != "" {
		parts = append(parts, "姓名="+q.Name)
	}
	if q.Department != "" {
		parts = append(parts, "部门="+q.Department)
	}
	return strings.Join(parts, ", ")
}
