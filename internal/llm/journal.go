package llm

import (
	"context"
	"fmt"

	"Stepwise-Agent/pkg/logger"
)

type journaled struct {
	next    Client
	journal *logger.Journal
}

// WithJournal 在日志流中记录每次推理的提示词与回复。
func WithJournal(client Client, journal *logger.Journal) Client {
	if client == nil || journal == nil {
		return client
	}
	return &journaled{next: client, journal: journal}
}

func (j *journaled) Generate(ctx context.Context, req Request) (*Response, error) {
	j.journal.Printf(logger.NamespacePrompt, "📝 %s", req.Prompt)
	resp, err := j.next.Generate(ctx, req)
	if err != nil {
		j.journal.Printf(logger.NamespacePrompt, "📝❌ Error: %v", err)
		return nil, fmt.Errorf("AI model interaction failed: %w", err)
	}
	j.journal.Printf(logger.NamespacePrompt, "📝 %s", resp.Content)
	return resp, nil
}
