package monitor

import (
	"errors"

	xerrors "CeleryPulse/internal/errors"
)

// ErrSourceClosed 表示事件源已被关闭，Listen 不会再投递事件。
var ErrSourceClosed = errors.New("monitor: event source closed")

const (
	CodeEventMalformed xerrors.Code = "EVENT_MALFORMED"
	CodeHandlerPanic   xerrors.Code = "HANDLER_PANIC"
	CodeCycleFailed    xerrors.Code = "CYCLE_FAILED"
)

func init() {
	xerrors.Register(CodeEventMalformed, xerrors.Attributes{
		Message:   "malformed lifecycle event",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeHandlerPanic, xerrors.Attributes{
		Message:   "event handler panicked",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeCycleFailed, xerrors.Attributes{
		Message:   "snapshot cycle failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}
