// Package reporting 将需要人工关注的错误上报到外部错误平台（Sentry），
// 预期内的丢弃与重连不会被上报。
package reporting
