package tool

import (
	"context"
	"testing"
)

// stubTool 是测试用工具实现。
type stubTool struct {
	spec Spec
}

func (s *stubTool) Spec() Spec { return s.spec }

func (s *stubTool) Invoke(context.Context, map[string]string) (*Output, error) {
	return &Output{Text: "ok"}, nil
}

func TestRegistryRegistrationOrder(t *testing.T) {
	registry, err := NewRegistry(
		&stubTool{spec: Spec{Name: "lookup_person", Exports: []string{"person_id"}}},
		&stubTool{spec: Spec{Name: "search_docs"}},
		&stubTool{spec: Spec{Name: "lookup_badge", Exports: []string{"person_id", "badge_id"}}},
	)
	if err != nil {
		t.Fatalf("NewRegistry 失败: %v", err)
	}

	names := registry.Names()
	want := []string{"lookup_person", "search_docs", "lookup_badge"}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("注册顺序不符: got %v", names)
		}
	}

	producers := registry.Exporters("person_id")
	if len(producers) != 2 {
		t.Fatalf("person_id 应有 2 个生产者, 实际 %d", len(producers))
	}
	if producers[0].Spec().Name != "lookup_person" {
		t.Fatalf("生产者应按注册顺序排列: %s", producers[0].Spec().Name)
	}

	if def := registry.DefaultProducer("person_id"); def == nil || def.Spec().Name != "lookup_person" {
		t.Fatal("默认生产者应为最早注册的工具")
	}
	if def := registry.DefaultProducer("unknown_param"); def != nil {
		t.Fatal("无生产者时应返回 nil")
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	_, err := NewRegistry(
		&stubTool{spec: Spec{Name: "dup"}},
		&stubTool{spec: Spec{Name: "dup"}},
	)
	if err == nil {
		t.Fatal("重复注册应返回错误")
	}
}

func TestSpecHelpers(t *testing.T) {
	spec := Spec{
		Name:     "query_records",
		Required: []string{"person_id", "start_date"},
		Optional: map[string]string{"limit": "10", "status": ""},
		Exports:  []string{"total_amount"},
	}

	missing := spec.MissingRequired(map[string]string{"person_id": "E001", "start_date": "  "})
	if len(missing) != 1 || missing[0] != "start_date" {
		t.Fatalf("必填参数检查结果不符: %v", missing)
	}

	merged := spec.ApplyDefaults(map[string]string{"person_id": "E001"})
	if merged["limit"] != "10" {
		t.Fatalf("选填参数默认值未填充: %v", merged)
	}
	if _, ok := merged["status"]; ok {
		t.Fatal("无默认值的选填参数不应被填充")
	}

	if !spec.ProducesParam("total_amount") || spec.ProducesParam("person_id") {
		t.Fatal("ProducesParam 判断错误")
	}
}
