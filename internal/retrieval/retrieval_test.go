package retrieval

import (
	"context"
	"testing"
)

func testSnippets() []Snippet {
	return []Snippet{
		{
			Document: "差旅费报销制度.md",
			Content:  "差旅费报销需在出差结束后 30 天内提交，住宿费标准为每晚 500 元。",
			Keywords: []string{"差旅", "报销"},
		},
		{
			Document: "餐费报销制度.md",
			Content:  "工作日加班餐费每人每餐不超过 50 元。",
			Keywords: []string{"餐费", "加班"},
		},
		{
			Document: "工单处理流程.md",
			Content:  "财务类工单需在三个工作日内响应。",
			Keywords: []string{"工单"},
		},
	}
}

func TestSearchRanksByScore(t *testing.T) {
	r := NewStaticRetriever(testSnippets())

	hits, err := r.Search(context.Background(), "差旅报销的标准是什么", 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Origin != "差旅费报销制度.md" {
		t.Fatalf("unexpected origin: %s", hits[0].Origin)
	}
	if hits[0].Score != 1 {
		t.Fatalf("expected both keywords matched, score %v", hits[0].Score)
	}
}

func TestSearchRespectsTopKAndMinScore(t *testing.T) {
	r := NewStaticRetriever(testSnippets())

	hits, err := r.Search(context.Background(), "加班餐费报销和工单", 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("topK=1 should cap results, got %d", len(hits))
	}

	hits, err = r.Search(context.Background(), "差旅", 3, 0.9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("minScore should filter partial matches, got %d", len(hits))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	r := NewStaticRetriever(testSnippets())
	hits, err := r.Search(context.Background(), "   ", 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != nil {
		t.Fatalf("expected no hits for empty query")
	}
}
