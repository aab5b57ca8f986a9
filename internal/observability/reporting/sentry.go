package reporting

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	xerrors "CeleryPulse/internal/errors"
)

// SentryConfig 描述 Sentry 客户端参数。
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	Debug       bool

	// BeforeSend 允许在发送前修改或丢弃事件。
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// SentryReporter 只转发 ShouldAlert 为 true 的错误。
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter 创建独立的 Sentry Hub，不修改全局 Hub。
func NewSentryReporter(cfg SentryConfig) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              strings.TrimSpace(cfg.DSN),
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		Debug:            cfg.Debug,
		AttachStacktrace: true,
		BeforeSend:       cfg.BeforeSend,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 Sentry 客户端失败")
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report 上报错误。不需要告警的错误码直接忽略。
func (r *SentryReporter) Report(_ context.Context, event Event) error {
	if r == nil || r.hub == nil || event.Err == nil {
		return nil
	}
	if !xerrors.ShouldAlert(event.Err) {
		return nil
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(levelOf(event.Severity))
		scope.SetTag("code", string(event.Code))
		if event.Stage != "" {
			scope.SetTag("stage", event.Stage)
		}
		if len(event.Metadata) > 0 {
			extra := make(map[string]interface{}, len(event.Metadata))
			for k, v := range event.Metadata {
				extra[k] = v
			}
			scope.SetContext("celerypulse", extra)
		}
		r.hub.CaptureException(event.Err)
	})
	return nil
}

// Flush 等待缓冲中的事件发送完毕。
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	if r == nil || r.hub == nil {
		return true
	}
	return r.hub.Flush(timeout)
}

func levelOf(sev xerrors.Severity) sentry.Level {
	switch sev {
	case xerrors.SeverityInfo:
		return sentry.LevelInfo
	case xerrors.SeverityWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}
