package langchain

import (
	"context"
	"errors"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"Stepwise-Agent/internal/llm"
)

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	reply    string
	err      error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestGenerateBuildsMessages(t *testing.T) {
	model := &fakeModel{reply: " {\"goal\":\"g\"} "}
	client, err := New(model)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	resp, err := client.Generate(context.Background(), llm.Request{System: "be terse", Prompt: "plan", Temperature: 0.3})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != `{"goal":"g"}` {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if len(model.messages) != 2 || model.messages[0].Role != llms.ChatMessageTypeSystem {
		t.Fatalf("unexpected messages %+v", model.messages)
	}
	if model.opts.Temperature != 0.3 {
		t.Fatalf("unexpected temperature %v", model.opts.Temperature)
	}
}

func TestGenerateWrapsModelError(t *testing.T) {
	client, _ := New(&fakeModel{err: errors.New("connection refused")})
	if _, err := client.Generate(context.Background(), llm.Request{Prompt: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOllamaServerURL(t *testing.T) {
	cases := map[string]string{
		"http://192.168.1.195:11434/api/chat": "http://192.168.1.195:11434",
		"http://localhost:11434/":             "http://localhost:11434",
		"":                                    "",
	}
	for in, want := range cases {
		if got := OllamaServerURL(in); got != want {
			t.Fatalf("OllamaServerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewFromConfigRejectsUnknownProvider(t *testing.T) {
	if _, err := NewFromConfig(Config{Provider: "mystery"}); err == nil {
		t.Fatalf("expected error")
	}
}
