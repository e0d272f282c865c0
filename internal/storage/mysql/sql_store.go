package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLFinanceStore 基于 MySQL 的财务数据实现。
type SQLFinanceStore struct {
	db *sql.DB
}

// NewSQLFinanceStore 连接 MySQL 并执行迁移。
func NewSQLFinanceStore(ctx context.Context, cfg Config) (*SQLFinanceStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &SQLFinanceStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// FindEmployees 按条件查询员工，姓名为模糊匹配。
func (s *SQLFinanceStore) FindEmployees(ctx context.Context, q EmployeeQuery) ([]Employee, error) {
	query := `SELECT employee_id, name, department, position, email, phone FROM employees WHERE 1=1`
	args := make([]any, 0, 3)

	if id := strings.TrimSpace(q.EmployeeID); id != "" {
		query += " AND employee_id = ?"
		args = append(args, id)
	}
	if name := strings.TrimSpace(q.Name); name != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+name+"%")
	}
	if dept := strings.TrimSpace(q.Department); dept != "" {
		query += " AND department = ?"
		args = append(args, dept)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询员工失败: %w", err)
	}
	defer rows.Close()

	var result []Employee
	for rows.Next() {
		var emp Employee
		if err := rows.Scan(&emp.EmployeeID, &emp.Name, &emp.Department, &emp.Position, &emp.Email, &emp.Phone); err != nil {
			return nil, fmt.Errorf("解析员工记录失败: %w", err)
		}
		result = append(result, emp)
	}
	return result, rows.Err()
}

// ListReimbursements 按条件查询报销记录，按申请日期倒序。
func (s *SQLFinanceStore) ListReimbursements(ctx context.Context, q ReimbursementQuery) ([]Reimbursement, error) {
	if strings.TrimSpace(q.EmployeeID) == "" {
		return nil, fmt.Errorf("查询报销记录需要 employee_id")
	}

	query := `SELECT reimbursement_id, employee_id, amount, category, description, status,
        COALESCE(apply_date, ''), COALESCE(approve_date, '')
        FROM reimbursements WHERE employee_id = ?`
	args := []any{q.EmployeeID}

	if id := strings.TrimSpace(q.ReimbursementID); id != "" {
		query += " AND reimbursement_id = ?"
		args = append(args, id)
	}
	if q.StartDate != "" {
		query += " AND apply_date >= ?"
		args = append(args, q.StartDate)
	}
	if q.EndDate != "" {
		query += " AND apply_date <= ?"
		args = append(args, q.EndDate)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, strings.ToLower(q.Status))
	}
	if q.Category != "" {
		query += " AND category = ?"
		args = append(args, q.Category)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY apply_date DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询报销记录失败: %w", err)
	}
	defer rows.Close()

	var result []Reimbursement
	for rows.Next() {
		var rec Reimbursement
		if err := rows.Scan(&rec.ReimbursementID, &rec.EmployeeID, &rec.Amount, &rec.Category,
			&rec.Description, &rec.Status, &rec.ApplyDate, &rec.ApproveDate); err != nil {
			return nil, fmt.Errorf("解析报销记录失败: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// FindOpenWorkOrder 返回同负责人同标题的未关闭工单。
func (s *SQLFinanceStore) FindOpenWorkOrder(ctx context.Context, assigneeID, title string) (*WorkOrder, error) {
	const query = `SELECT work_order_id, title, COALESCE(description, ''), assignee_id, priority,
        COALESCE(category, ''), status, created_at
        FROM work_orders
        WHERE assignee_id = ? AND title = ? AND status IN ('open', 'in_progress')
        ORDER BY created_at DESC LIMIT 1`

	var order WorkOrder
	err := s.db.QueryRowContext(ctx, query, assigneeID, title).Scan(
		&order.WorkOrderID, &order.Title, &order.Description, &order.AssigneeID,
		&order.Priority, &order.Category, &order.Status, &order.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询工单失败: %w", err)
	}
	return &order, nil
}

// CreateWorkOrder 插入新工单。
func (s *SQLFinanceStore) CreateWorkOrder(ctx context.Context, order *WorkOrder) error {
	if order == nil {
		return fmt.Errorf("工单不能为空")
	}
	if order.CreatedAt == 0 {
		order.CreatedAt = time.Now().Unix()
	}
	if order.Status == "" {
		order.Status = "open"
	}
	if order.Priority == "" {
		order.Priority = "medium"
	}

	const stmt = `INSERT INTO work_orders
        (work_order_id, title, description, assignee_id, priority, category, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		order.WorkOrderID, order.Title, order.Description, order.AssigneeID,
		order.Priority, order.Category, order.Status, order.CreatedAt); err != nil {
		return fmt.Errorf("创建工单失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接。
func (s *SQLFinanceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ FinanceStore = (*SQLFinanceStore)(nil)
