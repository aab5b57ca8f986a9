package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	xerrors "CeleryPulse/internal/errors"
	"CeleryPulse/pkg/logger"
)

// Event 描述一次需要上报的错误。
type Event struct {
	Err        error
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Stage      string
	Metadata   map[string]string
	OccurredAt time.Time
}

// NewEvent 根据错误构造上报事件，错误码与严重程度取自统一错误类型。
func NewEvent(err error, stage string, metadata map[string]string) Event {
	ev := Event{
		Err:        err,
		Code:       xerrors.CodeOf(err),
		Severity:   xerrors.SeverityOf(err),
		Stage:      stage,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err != nil {
		ev.Message = err.Error()
	}
	if typed, ok := xerrors.From(err); ok {
		merged := typed.Metadata()
		if merged == nil {
			merged = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			merged[k] = v
		}
		ev.Metadata = merged
	}
	return ev
}

// Reporter 负责把事件送往错误平台。
type Reporter interface {
	Report(ctx context.Context, event Event) error
	Flush(timeout time.Duration) bool
}

// LogReporter 将事件写入日志，日志级别取自错误的严重程度。
// 调用方上报后不再单独记录同一个错误。
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, event Event) error {
	log := r.Logger
	if log == nil {
		log = logger.L()
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("stage", event.Stage),
	}
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, event.Metadata[k]))
	}
	log.Log(ctx, levelFor(event.Severity), event.Message, attrs...)
	return nil
}

func levelFor(sev xerrors.Severity) slog.Level {
	switch sev {
	case xerrors.SeverityInfo:
		return slog.LevelInfo
	case xerrors.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (LogReporter) Flush(time.Duration) bool { return true }

// Fanout 将事件广播给多个 Reporter。
type Fanout struct {
	reporters []Reporter
}

// NewFanout 创建一个新的 Fanout，忽略 nil。
func NewFanout(reporters ...Reporter) *Fanout {
	set := make([]Reporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			set = append(set, r)
		}
	}
	return &Fanout{reporters: set}
}

// Report 将事件投递至所有 Reporter。
func (f *Fanout) Report(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for i, r := range f.reporters {
		if err := r.Report(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("reporter %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Flush 等待所有 Reporter 发送完毕，任一超时返回 false。
func (f *Fanout) Flush(timeout time.Duration) bool {
	if f == nil {
		return true
	}
	ok := true
	for _, r := range f.reporters {
		if !r.Flush(timeout) {
			ok = false
		}
	}
	return ok
}
