package llm

import "context"

// Request 描述一次大模型调用的上下文。
type Request struct {
	System string
	Prompt string
}

// Response 是大模型返回的文本输出。
type Response struct {
	Text string
}

// Client 定义了调用大模型的统一接口。意图分类与结果整合
// 共用同一个客户端；空响应或网络失败由调用方按瞬时错误处理。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
