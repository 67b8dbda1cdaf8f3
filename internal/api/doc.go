// Package api 提供只读的状态接口：当前任务、任务历史、能力目录、健康检查与
// Prometheus 文本格式的指标。
package api
