package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"Stepwise-Agent/internal/llm"
)

// Client 通过调用外部命令（例如 Python 脚本）实现大模型推理。
type Client struct {
	command    string
	args       []string
	workingDir string
}

// NewClient 创建外部命令客户端。
func NewClient(command string, args []string, workingDir string) (*Client, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("未指定外部推理命令")
	}
	return &Client{
		command:    command,
		args:       append([]string(nil), args...),
		workingDir: workingDir,
	}, nil
}

// Generate 将请求以 JSON 写入标准输入，并解析标准输出。
// 输出可以是 {"content": "..."}，也可以是纯文本。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload := map[string]any{
		"system":      req.System,
		"prompt":      req.Prompt,
		"temperature": req.Temperature,
		"timestamp":   time.Now().Unix(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.command, c.args...)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行外部推理命令失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	raw := bytes.TrimSpace(stdout.Bytes())
	var resp struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &resp); err == nil && resp.Content != "" {
		return &llm.Response{Content: resp.Content}, nil
	}
	if len(raw) == 0 {
		return nil, errors.New("外部推理命令没有输出")
	}
	return &llm.Response{Content: string(raw)}, nil
}

// ResolvePath 根据工作目录推导脚本绝对路径。
func ResolvePath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
