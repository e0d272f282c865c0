package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"FinCopilot/internal/aggregate"
	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/intent"
	"FinCopilot/internal/observability/alerting"
)

// stubRunner 按调用顺序返回脚本中的错误, 脚本耗尽后返回成功结果。
type stubRunner struct {
	mu      sync.Mutex
	script  []error
	calls   int
	latency time.Duration
}

func (r *stubRunner) Run(ctx context.Context, requestText string) (*aggregate.Answer, error) {
	if r.latency > 0 {
		select {
		case <-time.After(r.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	idx := r.calls
	r.calls++
	r.mu.Unlock()
	if idx < len(r.script) && r.script[idx] != nil {
		return nil, r.script[idx]
	}
	return &aggregate.Answer{
		Text:   "已为您查询: " + requestText,
		Intent: intent.IntentDataQuery,
		Sources: []aggregate.Attribution{
			{Origin: "员工信息库", Excerpt: "张三"},
		},
	}, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
	return nil
}

func (d *captureDispatcher) captured() []alerting.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]alerting.Event(nil), d.events...)
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	runner := &stubRunner{latency: 5 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(runner, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		question := fmt.Sprintf("查询第 %d 条报销记录", i)
		submitted, err := service.Submit(ctx, Request{Question: question})
		if err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
		ids = append(ids, submitted.ID)
	}

	deadline := time.After(5 * time.Second)
	for {
		if runner.callCount() >= total {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", runner.callCount())
		case <-time.After(50 * time.Millisecond):
		}
	}
	cancel()

	done, err := store.Get(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("查询任务: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", done.Status)
	}
	if done.Result == nil || done.Result.Intent != string(intent.IntentDataQuery) {
		t.Fatalf("unexpected result: %+v", done.Result)
	}
	if done.Result.Sources == "" || !strings.Contains(done.Result.Sources, "员工信息库") {
		t.Fatalf("expected serialized sources, got %q", done.Result.Sources)
	}
}

func TestProcessorRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	runner := &stubRunner{script: []error{xerrors.New(xerrors.CodeTransient, "上游超时")}}

	processor := NewProcessor(runner, store, queue, queue)

	if err := store.Create(ctx, &Task{ID: "retry-1", Question: "查询报销", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := processor.handle(ctx, "retry-1"); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	failed, err := store.Get(ctx, "retry-1")
	if err != nil {
		t.Fatalf("get after failure: %v", err)
	}
	if failed.Status != StatusFailed || failed.ErrorCode != string(xerrors.CodeTransient) {
		t.Fatalf("unexpected intermediate state: %+v", failed)
	}

	// 失败后处理器应将任务重新投递。
	select {
	case requeued := <-queue.ch:
		if requeued != "retry-1" {
			t.Fatalf("unexpected requeued id %q", requeued)
		}
	default:
		t.Fatal("expected task to be requeued")
	}

	if err := processor.handle(ctx, "retry-1"); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	done, err := store.Get(ctx, "retry-1")
	if err != nil {
		t.Fatalf("get after retry: %v", err)
	}
	if done.Status != StatusSucceeded || done.Attempts != 2 {
		t.Fatalf("expected success on second attempt, got %+v", done)
	}
	if runner.callCount() != 2 {
		t.Fatalf("expected 2 runner invocations, got %d", runner.callCount())
	}
}

func TestProcessorDegradesNonRetryableFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	dispatcher := &captureDispatcher{}
	runner := &stubRunner{script: []error{xerrors.New(xerrors.CodeEntityNotFound, "未找到员工 王九")}}

	processor := NewProcessor(runner, store, queue, queue,
		WithRecoveryHandler(AnswerRecovery{}),
		WithAlertDispatcher(dispatcher),
	)

	if err := store.Create(ctx, &Task{ID: "deg-1", Question: "王九的报销汇总", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.handle(ctx, "deg-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	done, err := store.Get(ctx, "deg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("expected degraded success, got %s", done.Status)
	}
	if done.Result == nil || !strings.Contains(done.Result.Answer, "未找到") {
		t.Fatalf("unexpected fallback answer: %+v", done.Result)
	}
	if done.Result.Notes == "" {
		t.Fatal("expected degradation notes to be recorded")
	}

	events := dispatcher.captured()
	if len(events) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(events))
	}
	if events[0].Metadata["stage"] != "degraded" {
		t.Fatalf("unexpected alert stage: %+v", events[0].Metadata)
	}
	if events[0].Question != "王九的报销汇总" {
		t.Fatalf("alert should carry the question, got %q", events[0].Question)
	}
}

func TestProcessorTerminalFailureEmitsAlert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	dispatcher := &captureDispatcher{}
	runner := &stubRunner{script: []error{xerrors.New(xerrors.CodeMutationUncertain, "工单创建结果不确定")}}

	// 不配置补偿策略, 写操作不确定的失败不允许降级。
	processor := NewProcessor(runner, store, queue, queue, WithAlertDispatcher(dispatcher))

	if err := store.Create(ctx, &Task{ID: "term-1", Question: "给张三创建工单", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.handle(ctx, "term-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	done, err := store.Get(ctx, "term-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", done.Status)
	}
	if done.ErrorCode != string(xerrors.CodeMutationUncertain) {
		t.Fatalf("unexpected error code %q", done.ErrorCode)
	}

	// 不可重试的失败不应重新入队。
	select {
	case requeued := <-queue.ch:
		t.Fatalf("unexpected requeue of %q", requeued)
	default:
	}

	events := dispatcher.captured()
	if len(events) != 1 || events[0].Metadata["stage"] != "terminal" {
		t.Fatalf("expected single terminal alert, got %+v", events)
	}
	if runner.callCount() != 1 {
		t.Fatalf("expected exactly 1 invocation, got %d", runner.callCount())
	}
}
