package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryFinanceStore 以内存方式保存财务数据，便于本地运行与测试。
type MemoryFinanceStore struct {
	mu             sync.RWMutex
	employees      []Employee
	reimbursements []Reimbursement
	workOrders     []WorkOrder
}

// seedFile 是 JSON 种子文件的结构。
type seedFile struct {
	Employees      []Employee      `json:"employees"`
	Reimbursements []Reimbursement `json:"reimbursements"`
}

// NewMemoryFinanceStore 创建空的内存财务库。
func NewMemoryFinanceStore() *MemoryFinanceStore {
	return &MemoryFinanceStore{}
}

// NewMemoryFinanceStoreWithDemoData 创建带演示数据的内存财务库。
func NewMemoryFinanceStoreWithDemoData() *MemoryFinanceStore {
	store := NewMemoryFinanceStore()
	store.employees = []Employee{
		{EmployeeID: "E001", Name: "张三", Department: "财务部", Position: "财务经理", Email: "zhangsan@example.com", Phone: "13800138001"},
		{EmployeeID: "E002", Name: "李四", Department: "技术部", Position: "高级工程师", Email: "lisi@example.com", Phone: "13800138002"},
		{EmployeeID: "E003", Name: "王五", Department: "人事部", Position: "人事专员", Email: "wangwu@example.com", Phone: "13800138003"},
		{EmployeeID: "E004", Name: "赵六", Department: "财务部", Position: "会计", Email: "zhaoliu@example.com", Phone: "13800138004"},
		{EmployeeID: "E005", Name: "钱七", Department: "市场部", Position: "市场经理", Email: "qianqi@example.com", Phone: "13800138005"},
	}
	store.reimbursements = []Reimbursement{
		{ReimbursementID: "R20240315001", EmployeeID: "E001", Amount: 1500, Category: "差旅费", Description: "3月出差北京交通住宿费", Status: "approved", ApplyDate: "2024-03-15", ApproveDate: "2024-03-16"},
		{ReimbursementID: "R20240320002", EmployeeID: "E001", Amount: 800, Category: "餐费", Description: "3月客户招待餐费", Status: "pending", ApplyDate: "2024-03-20"},
		{ReimbursementID: "R20240310003", EmployeeID: "E002", Amount: 2000, Category: "差旅费", Description: "3月出差上海差旅费", Status: "approved", ApplyDate: "2024-03-10", ApproveDate: "2024-03-12"},
		{ReimbursementID: "R20240325004", EmployeeID: "E002", Amount: 500, Category: "办公用品", Description: "购买办公用品", Status: "rejected", ApplyDate: "2024-03-25", ApproveDate: "2024-03-26"},
		{ReimbursementID: "R20240305005", EmployeeID: "E003", Amount: 1200, Category: "差旅费", Description: "3月出差广州差旅费", Status: "paid", ApplyDate: "2024-03-05", ApproveDate: "2024-03-07"},
		{ReimbursementID: "R20240318006", EmployeeID: "E004", Amount: 600, Category: "餐费", Description: "部门聚餐费用", Status: "approved", ApplyDate: "2024-03-18", ApproveDate: "2024-03-19"},
		{ReimbursementID: "R20240322007", EmployeeID: "E005", Amount: 3000, Category: "差旅费", Description: "3月出差深圳差旅费", Status: "pending", ApplyDate: "2024-03-22"},
	}
	return store
}

// LoadMemoryFinanceStore 从 JSON 种子文件加载内存财务库。
func LoadMemoryFinanceStore(path string) (*MemoryFinanceStore, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSeedNotFound
		}
		return nil, fmt.Errorf("读取财务种子文件失败: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(content, &seed); err != nil {
		return nil, fmt.Errorf("解析财务种子文件失败: %w", err)
	}

	store := NewMemoryFinanceStore()
	store.employees = seed.Employees
	store.reimbursements = seed.Reimbursements
	return store, nil
}

// FindEmployees 实现 FinanceStore 接口。
func (m *MemoryFinanceStore) FindEmployees(_ context.Context, q EmployeeQuery) ([]Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id := strings.TrimSpace(q.EmployeeID)
	name := strings.TrimSpace(q.Name)
	dept := strings.TrimSpace(q.Department)

	var result []Employee
	for _, emp := range m.employees {
		if id != "" && emp.EmployeeID != id {
			continue
		}
		if name != "" && !strings.Contains(emp.Name, name) {
			continue
		}
		if dept != "" && emp.Department != dept {
			continue
		}
		result = append(result, emp)
	}
	return result, nil
}

// ListReimbursements 实现 FinanceStore 接口。
func (m *MemoryFinanceStore) ListReimbursements(_ context.Context, q ReimbursementQuery) ([]Reimbursement, error) {
	if strings.TrimSpace(q.EmployeeID) == "" {
		return nil, fmt.Errorf("查询报销记录需要 employee_id")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Reimbursement
	for _, rec := range m.reimbursements {
		if rec.EmployeeID != q.EmployeeID {
			continue
		}
		if q.ReimbursementID != "" && rec.ReimbursementID != q.ReimbursementID {
			continue
		}
		if q.StartDate != "" && rec.ApplyDate < q.StartDate {
			continue
		}
		if q.EndDate != "" && rec.ApplyDate > q.EndDate {
			continue
		}
		if q.Status != "" && rec.Status != strings.ToLower(q.Status) {
			continue
		}
		if q.Category != "" && rec.Category != q.Category {
			continue
		}
		result = append(result, rec)
	}

	sort.SliceStable(result, func(i, j int) bool { return result[i].ApplyDate > result[j].ApplyDate })
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// FindOpenWorkOrder 实现 FinanceStore 接口。
func (m *MemoryFinanceStore) FindOpenWorkOrder(_ context.Context, assigneeID, title string) (*WorkOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.workOrders) - 1; i >= 0; i-- {
		order := m.workOrders[i]
		if order.AssigneeID != assigneeID || order.Title != title {
			continue
		}
		if order.Status == "open" || order.Status == "in_progress" {
			clone := order
			return &clone, nil
		}
	}
	return nil, nil
}

// CreateWorkOrder 实现 FinanceStore 接口。
func (m *MemoryFinanceStore) CreateWorkOrder(_ context.Context, order *WorkOrder) error {
	if order == nil {
		return fmt.Errorf("工单不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.CreatedAt == 0 {
		order.CreatedAt = time.Now().Unix()
	}
	if order.Status == "" {
		order.Status = "open"
	}
	if order.Priority == "" {
		order.Priority = "medium"
	}
	m.workOrders = append(m.workOrders, *order)
	return nil
}

// Close 实现 FinanceStore 接口。
func (m *MemoryFinanceStore) Close() error {
	return nil
}

var _ FinanceStore = (*MemoryFinanceStore)(nil)
