// Package rag wraps the knowledge retriever as a tool so policy
// questions share the same planning and execution path as data
// queries.
package rag

import (
	"context"
	"fmt"
	"strings"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/retrieval"
	"FinCopilot/internal/tool"
)

// SearchTool 在制度知识库中检索与问题相关的条文片段。
type SearchTool struct {
	retriever retrieval.Retriever
	topK      int
	minScore  float64
}

// NewSearchTool 创建知识库检索工具。topK 与 minScore 非法时取默认值。
func NewSearchTool(retriever retrieval.Retriever, topK int, minScore float64) *SearchTool {
	if topK <= 0 {
		topK = 3
	}
	if minScore < 0 {
		minScore = 0
	}
	return &SearchTool{retriever: retriever, topK: topK, minScore: minScore}
}

// Spec 实现 tool.Tool 接口。
func (t *SearchTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "rag_search",
		Description: "在公司制度知识库中检索报销、出差等政策条文",
		Category:    tool.CategoryPolicy,
		Required:    []string{"query"},
	}
}

// Invoke 实现 tool.Tool 接口。
func (t *SearchTool) Invoke(ctx context.Context, args map[string]string) (*tool.Output, error) {
	query := strings.TrimSpace(args["query"])
	if query == "" {
		return nil, xerrors.New(xerrors.CodeParameterInvalid, "检索词不能为空",
			xerrors.WithMetadata("missing", "query"))
	}

	hits, err := t.retriever.Search(ctx, query, t.topK, t.minScore)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransient, err, "检索知识库失败")
	}
	if len(hits) == 0 {
		return nil, xerrors.New(xerrors.CodeEntityNotFound,
			fmt.Sprintf("知识库中没有与 %q 相关的条文", query))
	}

	var sb strings.Builder
	origins := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("[%s] %s", hit.Origin, hit.Text))
		if !seen[hit.Origin] {
			seen[hit.Origin] = true
			origins = append(origins, hit.Origin)
		}
	}
	return &tool.Output{Text: sb.String(), Origins: origins}, nil
}
