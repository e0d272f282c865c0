package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/intent"
)

// 目标实体参数: 修复规则绝不改写, 否则重试会悄悄换掉调用对象。
var targetEntityParams = map[string]bool{
	"employee_id":      true,
	"assignee_id":      true,
	"reimbursement_id": true,
	"to_email":         true,
}

var looseDatePattern = regexp.MustCompile(`^(\d{4})[-/年.](\d{1,2})[-/月.](\d{1,2})日?$`)

// repairArgs 对参数做确定性修复后返回新的参数表。规则只处理
// 格式类问题: 日期规范化、状态小写、数字参数纠偏、去除空白。
// 依据错误附带的 param/missing 元信息尝试从实体包补齐缺失参数。
func repairArgs(args map[string]string, bag intent.Bag, cause error) map[string]string {
	repaired := make(map[string]string, len(args))
	for k, v := range args {
		repaired[k] = strings.TrimSpace(v)
	}

	for param, value := range repaired {
		if targetEntityParams[param] {
			continue
		}
		switch param {
		case "start_date", "end_date", "apply_date":
			if normalized, ok := normalizeDate(value); ok {
				repaired[param] = normalized
			}
		case "status":
			repaired[param] = strings.ToLower(value)
		case "limit":
			if _, err := strconv.Atoi(value); err != nil {
				delete(repaired, param)
			}
		case "priority":
			lowered := strings.ToLower(value)
			switch lowered {
			case "low", "medium", "high", "urgent":
				repaired[param] = lowered
			default:
				repaired[param] = "medium"
			}
		}
	}

	// 日期范围颠倒时交换, 范围本身不是目标实体。
	start, end := repaired["start_date"], repaired["end_date"]
	if start != "" && end != "" && start > end {
		repaired["start_date"], repaired["end_date"] = end, start
	}

	// 缺失的必填参数再从实体包找一次。
	if e, ok := xerrors.From(cause); ok {
		if missing := e.Metadata()["missing"]; missing != "" {
			for _, param := range strings.Split(missing, ",") {
				param = strings.TrimSpace(param)
				if repaired[param] == "" && bag.Has(param) {
					repaired[param] = bag.Get(param)
				}
			}
		}
	}

	return repaired
}

// normalizeDate 把常见日期写法转换为 YYYY-MM-DD。
func normalizeDate(value string) (string, bool) {
	m := looseDatePattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return "", false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}
