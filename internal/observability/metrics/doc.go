// Package metrics 提供监控进程自身的 Prometheus 指标：事件吞吐、丢弃原因、
// 跟踪中的任务数、重连次数、快照周期耗时以及管理接口的 HTTP 请求指标。
package metrics
