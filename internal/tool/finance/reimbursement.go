package finance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/storage/mysql"
	"FinCopilot/internal/tool"
)

var validStatuses = map[string]string{
	"pending":  "待审批",
	"approved": "已批准",
	"rejected": "已拒绝",
	"paid":     "已支付",
}

// RecordsTool 查询员工的报销记录明细。
type RecordsTool struct {
	store mysql.FinanceStore
}

// NewRecordsTool 创建报销记录查询工具。
func NewRecordsTool(store mysql.FinanceStore) *RecordsTool {
	return &RecordsTool{store: store}
}

// Spec 实现 tool.Tool 接口。
func (t *RecordsTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "query_reimbursement_records",
		Description: "查询指定员工的报销记录明细，可按日期范围和状态过滤",
		Category:    tool.CategoryData,
		Required:    []string{"employee_id"},
		Optional: map[string]string{
			"start_date": "",
			"end_date":   "",
			"status":     "",
			"limit":      "20",
		},
	}
}

// Invoke 实现 tool.Tool 接口。
func (t *RecordsTool) Invoke(ctx context.Context, args map[string]string) (*tool.Output, error) {
	query, err := buildReimbursementQuery(t.Spec(), args)
	if err != nil {
		return nil, err
	}

	records, err := t.store.ListReimbursements(ctx, *query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransient, err, "查询报销记录失败")
	}
	if len(records) == 0 {
		return nil, xerrors.New(xerrors.CodeEntityNotFound,
			fmt.Sprintf("员工 %s 在指定条件下没有报销记录", query.EmployeeID))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("员工 %s 共 %d 条报销记录:", query.EmployeeID, len(records)))
	for _, rec := range records {
		sb.WriteString(fmt.Sprintf("\n- %s %s %.2f元 [%s] %s（申请日 %s）",
			rec.ReimbursementID, rec.Category, rec.Amount, statusLabel(rec.Status), rec.Description, rec.ApplyDate))
	}
	return &tool.Output{Text: sb.String(), Origins: []string{"报销记录库"}}, nil
}

// SummaryTool 统计员工在日期范围内的报销总额。
type SummaryTool struct {
	store mysql.FinanceStore
}

// NewSummaryTool 创建报销汇总工具。
func NewSummaryTool(store mysql.FinanceStore) *SummaryTool {
	return &SummaryTool{store: store}
}

// Spec 实现 tool.Tool 接口。
func (t *SummaryTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "query_reimbursement_summary",
		Description: "统计指定员工在日期范围内的报销总额与分类金额",
		Category:    tool.CategoryData,
		Required:    []string{"employee_id", "start_date", "end_date"},
		Optional: map[string]string{
			"category": "",
		},
		Exports: []string{"total_amount"},
	}
}

// Invoke 实现 tool.Tool 接口。
func (t *SummaryTool) Invoke(ctx context.Context, args map[string]string) (*tool.Output, error) {
	query, err := buildReimbursementQuery(t.Spec(), args)
	if err != nil {
		return nil, err
	}
	query.Category = strings.TrimSpace(args["category"])

	records, err := t.store.ListReimbursements(ctx, *query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransient, err, "统计报销金额失败")
	}
	if len(records) == 0 {
		return nil, xerrors.New(xerrors.CodeEntityNotFound,
			fmt.Sprintf("员工 %s 在 %s 至 %s 期间没有报销记录", query.EmployeeID, query.StartDate, query.EndDate))
	}

	var total float64
	byCategory := make(map[string]float64)
	var categories []string
	for _, rec := range records {
		total += rec.Amount
		if _, seen := byCategory[rec.Category]; !seen {
			categories = append(categories, rec.Category)
		}
		byCategory[rec.Category] += rec.Amount
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("员工 %s 在 %s 至 %s 期间共报销 %d 笔, 合计 %.2f元。",
		query.EmployeeID, query.StartDate, query.EndDate, len(records), total))
	for _, cat := range categories {
		sb.WriteString(fmt.Sprintf("\n- %s: %.2f元", cat, byCategory[cat]))
	}
	return &tool.Output{
		Text:    sb.String(),
		Exports: map[string]string{"total_amount": strconv.FormatFloat(total, 'f', 2, 64)},
		Origins: []string{"报销记录库"},
	}, nil
}

// StatusTool 查询报销单的审批状态。
type StatusTool struct {
	store mysql.FinanceStore
}

// NewStatusTool 创建报销状态查询工具。
func NewStatusTool(store mysql.FinanceStore) *StatusTool {
	return &StatusTool{store: store}
}

// Spec 实现 tool.Tool 接口。
func (t *StatusTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "query_reimbursement_status",
		Description: "查询员工报销单的当前审批状态",
		Category:    tool.CategoryData,
		Required:    []string{"employee_id"},
		Optional: map[string]string{
			"reimbursement_id": "",
			"start_date":       "",
			"end_date":         "",
			"status":           "",
		},
	}
}

// Invoke 实现 tool.Tool 接口。
func (t *StatusTool) Invoke(ctx context.Context, args map[string]string) (*tool.Output, error) {
	query, err := buildReimbursementQuery(t.Spec(), args)
	if err != nil {
		return nil, err
	}
	query.ReimbursementID = strings.TrimSpace(args["reimbursement_id"])

	records, err := t.store.ListReimbursements(ctx, *query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransient, err, "查询报销状态失败")
	}
	if len(records) == 0 {
		if query.ReimbursementID != "" {
			return nil, xerrors.New(xerrors.CodeEntityNotFound,
				fmt.Sprintf("未找到员工 %s 的报销单 %s", query.EmployeeID, query.ReimbursementID))
		}
		return nil, xerrors.New(xerrors.CodeEntityNotFound,
			fmt.Sprintf("员工 %s 没有符合条件的报销单", query.EmployeeID))
	}

	var sb strings.Builder
	for i, rec := range records {
		if i > 0 {
			sb.WriteString("\n")
		}
		line := fmt.Sprintf("报销单 %s（%s %.2f元）当前状态: %s", rec.ReimbursementID, rec.Category, rec.Amount, statusLabel(rec.Status))
		if rec.ApproveDate != "" {
			line += fmt.Sprintf("（审批日 %s）", rec.ApproveDate)
		}
		sb.WriteString(line)
	}
	return &tool.Output{Text: sb.String(), Origins: []string{"报销记录库"}}, nil
}

// buildReimbursementQuery 做三类报销工具共同的参数校验。
func buildReimbursementQuery(spec tool.Spec, args map[string]string) (*mysql.ReimbursementQuery, error) {
	if missing := spec.MissingRequired(args); len(missing) > 0 {
		return nil, xerrors.New(xerrors.CodeParameterInvalid,
			fmt.Sprintf("缺少必填参数: %s", strings.Join(missing, ", ")),
			xerrors.WithMetadata("missing", strings.Join(missing, ",")))
	}
	args = spec.ApplyDefaults(args)

	query := &mysql.ReimbursementQuery{
		EmployeeID: strings.TrimSpace(args["employee_id"]),
		StartDate:  strings.TrimSpace(args["start_date"]),
		EndDate:    strings.TrimSpace(args["end_date"]),
	}

	for _, field := range []struct{ name, value string }{
		{"start_date", query.StartDate},
		{"end_date", query.EndDate},
	} {
		if field.value == "" {
			continue
		}
		if !isISODate(field.value) {
			return nil, xerrors.New(xerrors.CodeParameterInvalid,
				fmt.Sprintf("参数 %s 必须是 YYYY-MM-DD 格式, 当前值 %q", field.name, field.value),
				xerrors.WithMetadata("param", field.name))
		}
	}
	if query.StartDate != "" && query.EndDate != "" && query.StartDate > query.EndDate {
		return nil, xerrors.New(xerrors.CodeParameterInvalid,
			fmt.Sprintf("start_date %s 不能晚于 end_date %s", query.StartDate, query.EndDate))
	}

	if status := strings.ToLower(strings.TrimSpace(args["status"])); status != "" {
		if _, ok := validStatuses[status]; !ok {
			return nil, xerrors.New(xerrors.CodeParameterInvalid,
				fmt.Sprintf("未知的报销状态 %q, 允许值: pending/approved/rejected/paid", args["status"]),
				xerrors.WithMetadata("param", "status"))
		}
		query.Status = status
	}

	if raw := strings.TrimSpace(args["limit"]); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.New(xerrors.CodeParameterInvalid,
				fmt.Sprintf("limit 必须是正整数, 当前值 %q", raw),
				xerrors.WithMetadata("param", "limit"))
		}
		query.Limit = limit
	}
	return query, nil
}

func isISODate(value string) bool {
	if len(value) != 10 || value[4] != '-' || value[7] != '-' {
		return false
	}
	for i, ch := range value {
		if i == 4 || i == 7 {
			continue
		}
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

func statusLabel(status string) string {
	if label, ok := validStatuses[status]; ok {
		return label
	}
	return status
}
