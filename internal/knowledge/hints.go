package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Snippet 是一条规划提示，关键字命中用户指令时附加到规划提示词中。
// 没有关键字的条目总是命中。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

// StaticProvider 提供基于关键字匹配的静态提示检索。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态提示库，maxResults 非正数时默认为 3。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{items: items, maxResults: maxResults}
}

// LoadStaticProvider 从 JSON 数组文件加载提示条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("提示库文件路径不能为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取提示库文件失败: %w", err)
	}
	var entries []Snippet
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("解析提示库文件失败: %w", err)
	}
	return NewStaticProvider(entries, maxResults), nil
}

// Query 返回与指令匹配的条目，按文件中的顺序排列。
func (p *StaticProvider) Query(instructions string) []Snippet {
	if p == nil {
		return nil
	}
	text := strings.ToLower(instructions)
	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, text) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

// Lookup 将命中的条目格式化为提示词中的一行。
func (p *StaticProvider) Lookup(instructions string) []string {
	snippets := p.Query(instructions)
	lines := make([]string, 0, len(snippets))
	for _, s := range snippets {
		content := strings.TrimSpace(s.Content)
		if content == "" {
			continue
		}
		if title := strings.TrimSpace(s.Title); title != "" {
			content = title + ": " + content
		}
		lines = append(lines, content)
	}
	return lines
}

func matches(snippet Snippet, text string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized != "" && strings.Contains(text, normalized) {
			return true
		}
	}
	return false
}
