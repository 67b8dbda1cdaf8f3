package langchain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"Stepwise-Agent/internal/llm"
)

// Provider 标识 langchaingo 的后端。
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// Config 描述构建 langchaingo 模型所需的信息。
type Config struct {
	Provider  Provider
	ServerURL string
	Model     string
	APIKey    string
}

// Client 将 llms.Model 适配为 llm.Client。
type Client struct {
	model llms.Model
}

// New 使用现有的 llms.Model 创建客户端。
func New(model llms.Model) (*Client, error) {
	if model == nil {
		return nil, errors.New("未提供 langchaingo 模型")
	}
	return &Client{model: model}, nil
}

// NewFromConfig 根据配置构建具体的后端。
func NewFromConfig(cfg Config) (*Client, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderOllama, "":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if url := OllamaServerURL(cfg.ServerURL); url != "" {
			opts = append(opts, ollama.WithServerURL(url))
		}
		model, err = ollama.New(opts...)
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.ServerURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.ServerURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("不支持的 langchaingo 后端: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("初始化 %s 模型失败: %w", cfg.Provider, err)
	}
	return New(model)
}

// OllamaServerURL 去掉 /api/chat 之类的路径后缀，只保留服务根地址。
func OllamaServerURL(raw string) string {
	url := strings.TrimRight(strings.TrimSpace(raw), "/")
	for _, suffix := range []string{"/api/chat", "/api/generate", "/api"} {
		if strings.HasSuffix(url, suffix) {
			return strings.TrimSuffix(url, suffix)
		}
	}
	return url
}

// Generate 实现 llm.Client。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var messages []llms.MessageContent
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(req.Prompt)},
	})

	resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(req.Temperature))
	if err != nil {
		return nil, fmt.Errorf("调用 langchaingo 模型失败: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("模型响应中没有有效的 choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return nil, errors.New("模型响应内容为空")
	}
	return &llm.Response{Content: content}, nil
}
