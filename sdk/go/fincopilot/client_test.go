package fincopilot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAskSendsQuestionAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ask" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		var payload struct {
			Question string `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload.Question != "张三 3月份的报销汇总" {
			t.Fatalf("unexpected question: %q", payload.Question)
		}
		_ = json.NewEncoder(w).Encode(Answer{
			Text:   "合计 2300.00 元",
			Intent: "data-query",
			Sources: []Attribution{
				{Origin: "报销记录库", Excerpt: "R20240315001"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("secret")

	answer, err := client.Ask(context.Background(), "张三 3月份的报销汇总")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.Text != "合计 2300.00 元" || answer.Intent != "data-query" {
		t.Fatalf("unexpected answer: %+v", answer)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].Origin != "报销记录库" {
		t.Fatalf("unexpected sources: %+v", answer.Sources)
	}
}

func TestSubmitAndWaitForTask(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/tasks" && r.Method == http.MethodPost:
			var submission TaskSubmission
			if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
				t.Fatalf("decode submission: %v", err)
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Question: submission.Question, Status: "pending"})
		case r.URL.Path == "/api/v1/tasks/task-1" && r.Method == http.MethodGet:
			status := "running"
			var result *TaskResult
			if polls.Add(1) >= 3 {
				status = "succeeded"
				result = &TaskResult{Answer: "已为您创建工单", Intent: "composite-task"}
			}
			_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: status, Result: result})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	submitted, err := client.SubmitTask(context.Background(), TaskSubmission{Question: "给张三创建工单"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.ID != "task-1" || submitted.Status != "pending" {
		t.Fatalf("unexpected submission result: %+v", submitted)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := client.WaitForTask(ctx, "task-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != "succeeded" || done.Result == nil || done.Result.Answer != "已为您创建工单" {
		t.Fatalf("unexpected final task: %+v", done)
	}
}

func TestListTasksBuildsQueryString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("limit") != "5" || query.Get("status") != "failed,succeeded" || query.Get("q") != "报销" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Task{{ID: "t1", Status: "failed"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	tasks, err := client.ListTasks(context.Background(), ListTasksOptions{
		Limit:    5,
		Statuses: []string{"failed", "succeeded"},
		Query:    "报销",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "计划中没有任何可执行步骤",
			"code":  "DEPENDENCY_UNSATISFIABLE",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	_, err := client.Ask(context.Background(), "做一件做不到的事")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "DEPENDENCY_UNSATISFIABLE" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
