package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("disk full")
	err := Wrap(CodeStorageFailure, cause, "save record")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !err.Retryable() {
		t.Fatalf("storage failures default to retryable")
	}
	if got := err.Error(); got != "[STORAGE_FAILURE] save record: disk full" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestHasCodeThroughFmtWrapping(t *testing.T) {
	inner := New(CodeNotFound, "missing")
	outer := fmt.Errorf("lookup: %w", inner)

	if !HasCode(outer, CodeNotFound) {
		t.Fatalf("expected NOT_FOUND in chain")
	}
	if HasCode(outer, CodeConflict) {
		t.Fatalf("did not expect CONFLICT in chain")
	}
}

func TestRegisterOverridesDefaults(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityCritical})

	err := New(code, "")
	if err.Message() != "custom" {
		t.Fatalf("expected registered message, got %q", err.Message())
	}
	if SeverityOf(err) != SeverityCritical {
		t.Fatalf("unexpected severity: %s", SeverityOf(err))
	}
	if RetryableError(New(code, "", WithRetryable(true))) != true {
		t.Fatalf("option should override registry")
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	if AttributesOf("NOPE").Message != "unknown error" {
		t.Fatalf("expected fallback attributes")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
}
