package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Bag 保存从请求文本中抽取的结构化事实。键与工具参数名对齐，
// 便于规划阶段直接按名绑定。构建完成后只读。
type Bag map[string]string

// Get 返回指定实体的值，不存在时返回空串。
func (b Bag) Get(key string) string {
	if b == nil {
		return ""
	}
	return b[key]
}

// Has 判断实体是否存在且非空。
func (b Bag) Has(key string) bool {
	return strings.TrimSpace(b.Get(key)) != ""
}

// Clone 返回实体包的副本。
func (b Bag) Clone() Bag {
	if b == nil {
		return Bag{}
	}
	clone := make(Bag, len(b))
	for k, v := range b {
		clone[k] = v
	}
	return clone
}

var (
	employeeIDPattern      = regexp.MustCompile(`[Ee]\d{3,}`)
	reimbursementIDPattern = regexp.MustCompile(`[Rr]\d{8,}`)
	departmentPattern      = regexp.MustCompile(`[\p{Han}]{2,4}部`)
	emailPattern           = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	monthOfYearPattern     = regexp.MustCompile(`(\d{1,2})月份?`)
	isoDatePattern         = regexp.MustCompile(`(\d{4})[-/年](\d{1,2})[-/月](\d{1,2})日?`)

	// 常见姓氏 + 1~2 个汉字的人名。
	surnames    = "赵钱孙李周吴郑王冯陈褚卫蒋沈韩杨朱秦尤许何吕施张孔曹严华金魏陶姜谢邹喻柏水窦章云苏潘葛奚范彭郎鲁韦昌马苗凤花方俞任袁柳唐罗薛伍余米贝姚孟顾尹江钟"
	namePattern = regexp.MustCompile(`[` + surnames + `][\p{Han}]{1,2}`)
)

// Extractor 通过确定性规则从请求文本抽取实体。
type Extractor struct {
	// now 注入当前时间，便于测试固定相对日期的解析结果。
	now func() time.Time
}

// NewExtractor 创建规则抽取器。
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// NewExtractorAt 创建以固定时间为“现在”的抽取器，测试专用。
func NewExtractorAt(now time.Time) *Extractor {
	return &Extractor{now: func() time.Time { return now }}
}

// Extract 对请求文本执行全部规则，返回命中的实体。
// 任何规则不命中都不是错误, 缺失的实体留给执行阶段处理。
func (e *Extractor) Extract(text string) Bag {
	bag := Bag{}

	if m := employeeIDPattern.FindString(text); m != "" {
		bag["employee_id"] = "E" + m[1:]
	}
	if m := reimbursementIDPattern.FindString(text); m != "" {
		bag["reimbursement_id"] = "R" + m[1:]
	}
	if m := departmentPattern.FindString(text); m != "" {
		bag["department"] = m
	}
	if m := emailPattern.FindString(text); m != "" {
		bag["to_email"] = m
	}
	if !bag.Has("employee_id") {
		if m := namePattern.FindString(text); m != "" {
			bag["name"] = m
		}
	}

	if start, end, ok := e.resolveDateRange(text); ok {
		bag["start_date"] = start
		bag["end_date"] = end
	}

	return bag
}

// resolveDateRange 将文本中的日期描述解析为 YYYY-MM-DD 范围。
// 按特异性从高到低匹配：显式日期 > 相对月份 > 半年 > X月份。
func (e *Extractor) resolveDateRange(text string) (string, string, bool) {
	now := e.now()

	if dates := isoDatePattern.FindAllStringSubmatch(text, 2); len(dates) > 0 {
		start := normalizeDateParts(dates[0])
		end := start
		if len(dates) > 1 {
			end = normalizeDateParts(dates[1])
		}
		if start > end {
			start, end = end, start
		}
		return start, end, true
	}

	if strings.Contains(text, "上个月") || strings.Contains(text, "上月") {
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		return monthRange(first.Year(), first.Month())
	}
	if strings.Contains(text, "本月") || strings.Contains(text, "这个月") {
		return monthRange(now.Year(), now.Month())
	}
	if strings.Contains(text, "上半年") {
		year := now.Year()
		return fmt.Sprintf("%04d-01-01", year), fmt.Sprintf("%04d-06-30", year), true
	}
	if strings.Contains(text, "下半年") {
		year := now.Year()
		return fmt.Sprintf("%04d-07-01", year), fmt.Sprintf("%04d-12-31", year), true
	}

	if m := monthOfYearPattern.FindStringSubmatch(text); m != nil {
		month, err := strconv.Atoi(m[1])
		if err == nil && month >= 1 && month <= 12 {
			return monthRange(now.Year(), time.Month(month))
		}
	}

	return "", "", false
}

func monthRange(year int, month time.Month) (string, string, bool) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first.Format("2006-01-02"), last.Format("2006-01-02"), true
}

// normalizeDateParts 将正则分组组装为 YYYY-MM-DD。
func normalizeDateParts(groups []string) string {
	year, _ := strconv.Atoi(groups[1])
	month, _ := strconv.Atoi(groups[2])
	day, _ := strconv.Atoi(groups[3])
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}
