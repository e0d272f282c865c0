package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Hit 描述一条检索结果，Origin 指向来源文档。
type Hit struct {
	Text   string  `json:"text"`
	Origin string  `json:"origin"`
	Score  float64 `json:"score"`
}

// Retriever 定义知识库检索的通用接口。
type Retriever interface {
	Search(ctx context.Context, query string, topK int, minScore float64) ([]Hit, error)
}

// Snippet 描述静态知识库中的一段制度条文。
type Snippet struct {
	Document string   `json:"document"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

// StaticRetriever 通过加载 JSON 文件提供关键词检索能力，
// 用于没有向量索引服务时的本地运行与测试。
type StaticRetriever struct {
	items []Snippet
}

// NewStaticRetriever 创建静态检索器实例。
func NewStaticRetriever(items []Snippet) *StaticRetriever {
	return &StaticRetriever{items: items}
}

// LoadStaticRetriever 从 JSON 文件加载制度条目。
func LoadStaticRetriever(path string) (*StaticRetriever, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticRetriever(entries), nil
}

// Search 根据查询词做关键词打分，按得分降序返回前 topK 条。
func (r *StaticRetriever) Search(_ context.Context, query string, topK int, minScore float64) ([]Hit, error) {
	if r == nil {
		return nil, nil
	}
	if topK <= 0 {
		topK = 3
	}

	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return nil, nil
	}

	hits := make([]Hit, 0, len(r.items))
	for _, item := range r.items {
		score := scoreSnippet(item, normalized)
		if score <= 0 || score < minScore {
			continue
		}
		hits = append(hits, Hit{
			Text:   item.Content,
			Origin: item.Document,
			Score:  score,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// scoreSnippet 按命中关键词占比给出 0~1 的得分。
func scoreSnippet(snippet Snippet, query string) float64 {
	if len(snippet.Keywords) == 0 {
		return 0
	}
	matched := 0
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(query, normalized) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return float64(matched) / float64(len(snippet.Keywords))
}

var _ Retriever = (*StaticRetriever)(nil)
