// Package config 负责加载 Stepwise 的启动配置：JSON 或 TOML 文件、默认值以及
// OPENAI_API_KEY、OPENAI_API、AGENT_API、MODEL 等环境变量覆盖。
package config
