package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := fmt.Errorf("listen: %w", Wrap(CodeTransportFailure, cause, "订阅事件失败"))

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !stdErrors.Is(err, New(CodeTransportFailure, "")) {
		t.Fatalf("expected code match through errors.Is")
	}
	if got := CodeOf(err); got != CodeTransportFailure {
		t.Fatalf("unexpected code: %s", got)
	}
	if !RetryableError(err) {
		t.Fatalf("transport failures should be retryable")
	}
	if ShouldAlert(err) {
		t.Fatalf("transport failures should not alert")
	}
}

func TestOverridesAndRegistry(t *testing.T) {
	const custom Code = "TEST_CUSTOM"
	Register(custom, Attributes{Message: "custom", Severity: SeverityWarning, Alert: true})

	err := New(custom, "", WithAlert(false), WithSeverity(SeverityCritical), WithMetadata("queue", "default"))
	if err.Message() != "custom" {
		t.Fatalf("expected registered default message, got %q", err.Message())
	}
	if err.ShouldAlert() {
		t.Fatalf("alert override ignored")
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("severity override ignored")
	}
	if err.Metadata()["queue"] != "default" {
		t.Fatalf("metadata missing: %+v", err.Metadata())
	}

	if AttributesOf("NOT_REGISTERED").Message != AttributesOf(CodeUnknown).Message {
		t.Fatalf("unregistered codes should fall back to UNKNOWN")
	}
	if !ShouldAlert(stdErrors.New("plain")) {
		t.Fatalf("plain errors are treated as UNKNOWN and alert")
	}
}
