package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"Stepwise-Agent/pkg/logger"
)

// 环境变量名称。
const (
	EnvConfigPath   = "STEPWISE_CONFIG"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvOpenAIAPI    = "OPENAI_API"
	EnvAgentAPI     = "AGENT_API"
	EnvModel        = "MODEL"
	EnvAPIToken     = "STEPWISE_API_TOKEN"
	DefaultFileName = "stepwise.json"
)

// 推理后端。
const (
	ProviderAuto   = "auto"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderBridge = "bridge"
)

// Config 描述 Stepwise 在启动阶段需要加载的全部配置。
type Config struct {
	Log         logger.Config     `json:"log" toml:"log"`
	Journal     JournalConfig     `json:"journal" toml:"journal"`
	LLM         LLMConfig         `json:"llm" toml:"llm"`
	Registry    RegistryConfig    `json:"registry" toml:"registry"`
	ResultStore ResultStoreConfig `json:"result_store" toml:"result_store"`
	Events      EventsConfig      `json:"events" toml:"events"`
	History     HistoryConfig     `json:"history" toml:"history"`
	Server      ServerConfig      `json:"server" toml:"server"`
	Runtime     RuntimeConfig     `json:"runtime" toml:"runtime"`
}

// JournalConfig 控制运行日志文件。
type JournalConfig struct {
	Path      string `json:"path" toml:"path"`
	MaxSizeMB int    `json:"max_size_mb" toml:"max_size_mb"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider    string       `json:"provider" toml:"provider"`
	Temperature float64      `json:"temperature" toml:"temperature"`
	OpenAI      OpenAIConfig `json:"openai" toml:"openai"`
	Ollama      OllamaConfig `json:"ollama" toml:"ollama"`
	Bridge      BridgeConfig `json:"bridge" toml:"bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey            string `json:"api_key" toml:"api_key"`
	APIKeyEnv         string `json:"api_key_env" toml:"api_key_env"`
	BaseURL           string `json:"base_url" toml:"base_url"`
	Model             string `json:"model" toml:"model"`
	TimeoutSeconds    int    `json:"timeout_seconds" toml:"timeout_seconds"`
	RequestsPerMinute int    `json:"requests_per_minute" toml:"requests_per_minute"`
}

// Timeout 返回请求超时。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OllamaConfig 描述通过 langchaingo 访问的 Ollama 服务。
type OllamaConfig struct {
	ServerURL string `json:"server_url" toml:"server_url"`
	Model     string `json:"model" toml:"model"`
}

// BridgeConfig 描述通过外部命令完成推理时所需的信息。
type BridgeConfig struct {
	Command    string   `json:"command" toml:"command"`
	Args       []string `json:"args" toml:"args"`
	WorkingDir string   `json:"working_dir" toml:"working_dir"`
}

// RegistryConfig 描述能力清单的位置。
type RegistryConfig struct {
	Manifest     string `json:"manifest" toml:"manifest"`
	BuildCommand string `json:"build_command" toml:"build_command"`
}

// ResultStoreConfig 选择结果存储后端。
type ResultStoreConfig struct {
	Driver string      `json:"driver" toml:"driver"`
	Redis  RedisConfig `json:"redis" toml:"redis"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address    string `json:"address" toml:"address"`
	Password   string `json:"password" toml:"password"`
	DB         int    `json:"db" toml:"db"`
	Prefix     string `json:"prefix" toml:"prefix"`
	Channel    string `json:"channel" toml:"channel"`
	TTLSeconds int    `json:"ttl_seconds" toml:"ttl_seconds"`
}

// RabbitMQConfig 是 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url" toml:"url"`
	Exchange string `json:"exchange" toml:"exchange"`
}

// EventsConfig 选择任务事件的发布方式。
type EventsConfig struct {
	Driver   string         `json:"driver" toml:"driver"`
	Redis    RedisConfig    `json:"redis" toml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" toml:"rabbitmq"`
}

// HistoryConfig 选择运行历史的存储方式。
type HistoryConfig struct {
	Driver  string `json:"driver" toml:"driver"`
	DSN     string `json:"dsn" toml:"dsn"`
	DataDir string `json:"data_dir" toml:"data_dir"`
}

// ServerConfig 控制状态 API 的监听地址，为空时不启动。
// Tokens 为 名称 -> Bearer 令牌，留空表示不做认证。
type ServerConfig struct {
	Address string            `json:"address" toml:"address"`
	Tokens  map[string]string `json:"tokens" toml:"tokens"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir          string `json:"data_dir" toml:"data_dir"`
	HistoryFile      string `json:"history_file" toml:"history_file"`
	StrictReferences bool   `json:"strict_references" toml:"strict_references"`
	// HintsFile 是可选的规划提示库（JSON 数组）。
	HintsFile string `json:"hints_file" toml:"hints_file"`
}

// Path 返回配置文件路径，优先读取 STEPWISE_CONFIG。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultFileName
}

// Load 解析指定路径的配置文件，并应用环境变量覆盖。
// 文件不存在时只使用默认值。
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv 与 Load 相同，但从 getenv 读取环境变量。
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := decode(path, content, &cfg); err != nil {
			return nil, err
		}
	}

	if getenv != nil {
		cfg.applyEnv(getenv)
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(content), cfg); err != nil {
			return fmt.Errorf("解析 TOML 配置失败: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("解析配置失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置格式 %q", filepath.Ext(path))
	}
	return nil
}

// applyEnv 使用环境变量覆盖文件中的配置。
func (c *Config) applyEnv(getenv func(string) string) {
	keyEnv := c.LLM.OpenAI.APIKeyEnv
	if keyEnv == "" {
		keyEnv = EnvOpenAIKey
	}
	if key := strings.TrimSpace(getenv(keyEnv)); key != "" {
		c.LLM.OpenAI.APIKey = key
	}
	if api := strings.TrimSpace(getenv(EnvOpenAIAPI)); api != "" {
		c.LLM.OpenAI.BaseURL = api
	}
	if api := strings.TrimSpace(getenv(EnvAgentAPI)); api != "" {
		c.LLM.Ollama.ServerURL = api
	}
	if model := strings.TrimSpace(getenv(EnvModel)); model != "" {
		c.LLM.OpenAI.Model = model
		c.LLM.Ollama.Model = model
	}
	if token := strings.TrimSpace(getenv(EnvAPIToken)); token != "" {
		if c.Server.Tokens == nil {
			c.Server.Tokens = make(map[string]string)
		}
		c.Server.Tokens["env"] = token
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, filepath.Join(baseDir, "data"))
	dataDir := c.Runtime.DataDir

	c.Journal.Path = resolve(baseDir, c.Journal.Path, filepath.Join(dataDir, "agent.log"))
	if c.Journal.MaxSizeMB <= 0 {
		c.Journal.MaxSizeMB = 50
	}
	c.Runtime.HistoryFile = resolve(baseDir, c.Runtime.HistoryFile, filepath.Join(dataDir, "input_history"))

	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderAuto
	}
	if c.LLM.Provider == ProviderAuto {
		if c.LLM.OpenAI.APIKey != "" {
			c.LLM.Provider = ProviderOpenAI
		} else {
			c.LLM.Provider = ProviderOllama
		}
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}
	if c.LLM.Ollama.Model == "" {
		c.LLM.Ollama.Model = "llama3"
	}
	if c.Runtime.HintsFile != "" {
		c.Runtime.HintsFile = resolve(baseDir, c.Runtime.HintsFile, "")
	}
	if c.LLM.Bridge.WorkingDir != "" {
		c.LLM.Bridge.WorkingDir = resolve(baseDir, c.LLM.Bridge.WorkingDir, "")
	}

	c.Registry.Manifest = resolve(baseDir, c.Registry.Manifest, filepath.Join(dataDir, "capabilities.yaml"))

	if c.ResultStore.Driver == "" {
		c.ResultStore.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.History.Driver == "" {
		c.History.Driver = "file"
	}
	c.History.DataDir = resolve(baseDir, c.History.DataDir, dataDir)
}

// Validate 检查互相依赖的字段。
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderOllama:
	case ProviderBridge:
		if strings.TrimSpace(c.LLM.Bridge.Command) == "" {
			return errors.New("llm.bridge.command 不能为空")
		}
	default:
		return fmt.Errorf("未知的推理后端 %q", c.LLM.Provider)
	}
	switch c.ResultStore.Driver {
	case "memory":
	case "redis":
		if c.ResultStore.Redis.Address == "" {
			return errors.New("result_store.redis.address 不能为空")
		}
	default:
		return fmt.Errorf("未知的结果存储驱动 %q", c.ResultStore.Driver)
	}
	if c.History.Driver == "mysql" && c.History.DSN == "" {
		return errors.New("history.dsn 不能为空")
	}
	return nil
}

// resolve 把相对路径转换为相对配置文件目录的绝对路径。
// fallback 已经是解析过的路径，不再拼接 baseDir。
func resolve(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
