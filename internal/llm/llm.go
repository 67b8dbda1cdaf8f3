package llm

import "context"

// Request 描述一次发送给大模型的推理请求。
type Request struct {
	// System 为可选的系统提示词。
	System string
	// Prompt 为完整的用户提示词。
	Prompt string
	// Temperature 控制采样温度，计划生成默认使用 0。
	Temperature float64
}

// Response 是大模型返回的原始文本。
type Response struct {
	Content string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 允许使用函数实现 Client，便于测试替身。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 实现 Client。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
