package mysql

import (
	"context"
	"errors"
	"time"
)

// Employee 表示员工表中的一行。
type Employee struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Position   string `json:"position"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

// Reimbursement 表示一条报销记录。日期均为 YYYY-MM-DD 字符串。
type Reimbursement struct {
	ReimbursementID string  `json:"reimbursement_id"`
	EmployeeID      string  `json:"employee_id"`
	Amount          float64 `json:"amount"`
	Category        string  `json:"category"`
	Description     string  `json:"description"`
	Status          string  `json:"status"`
	ApplyDate       string  `json:"apply_date"`
	ApproveDate     string  `json:"approve_date,omitempty"`
}

// WorkOrder 表示一条工单记录。
type WorkOrder struct {
	WorkOrderID string `json:"work_order_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	AssigneeID  string `json:"assignee_id"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
}

// EmployeeQuery 描述员工查询条件，至少填写一个字段。
type EmployeeQuery struct {
	EmployeeID string
	Name       string
	Department string
}

// ReimbursementQuery 描述报销记录查询条件。
type ReimbursementQuery struct {
	EmployeeID      string
	ReimbursementID string
	StartDate       string
	EndDate         string
	Status          string
	Category        string
	Limit           int
}

// ErrSeedNotFound 表示内存财务库的种子文件不存在。
var ErrSeedNotFound = errors.New("财务数据种子文件不存在")

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// FinanceStore 抽象员工、报销与工单数据的访问接口。
type FinanceStore interface {
	FindEmployees(ctx context.Context, q EmployeeQuery) ([]Employee, error)
	ListReimbursements(ctx context.Context, q ReimbursementQuery) ([]Reimbursement, error)
	// FindOpenWorkOrder 返回同负责人同标题且未关闭的工单，不存在时返回 nil。
	FindOpenWorkOrder(ctx context.Context, assigneeID, title string) (*WorkOrder, error)
	CreateWorkOrder(ctx context.Context, order *WorkOrder) error
	Close() error
}

// Config 描述 MySQL 连接参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}
