package embedsched

import (
	"errors"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := newError("ConfigureTransBufEntry", CodeTransPoolExhausted, 2, 3, "pool exhausted")

	if err.Op != "ConfigureTransBufEntry" {
		t.Errorf("Op = %q, want ConfigureTransBufEntry", err.Op)
	}
	if err.Code != CodeTransPoolExhausted {
		t.Errorf("Code = %q, want %q", err.Code, CodeTransPoolExhausted)
	}

	expected := "embedsched: pool exhausted (op=ConfigureTransBufEntry)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := newError("PushToReqQueue", CodeHostProtocolViolation, 0, 1, "bad slba")
	b := &Error{Code: CodeHostProtocolViolation}

	if !errors.Is(a, b) {
		t.Error("expected errors with the same Code to satisfy errors.Is")
	}

	c := newError("PushToReqQueue", CodeUnsupportedCellMode, 0, 1, "mlc required")
	if errors.Is(a, c) {
		t.Error("expected errors with different Codes not to match")
	}
}

func TestWrapErrorPreservesCode(t *testing.T) {
	inner := newError("EraseBlockAsync", CodeRetryExhausted, 1, 2, "erase failed")
	wrapped := wrapError("ApplyBadBlockMaintenance", 1, 2, inner)

	if wrapped.Code != CodeRetryExhausted {
		t.Errorf("Code = %q, want %q", wrapped.Code, CodeRetryExhausted)
	}
	if wrapped.Op != "ApplyBadBlockMaintenance" {
		t.Errorf("Op = %q, want ApplyBadBlockMaintenance", wrapped.Op)
	}
}

func TestWrapErrorNil(t *testing.T) {
	if wrapError("op", 0, 0, nil) != nil {
		t.Error("wrapError(nil) should return nil")
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(newError("op", CodeTransPoolExhausted, -1, -1, "exhausted")) {
		t.Error("pool exhaustion should be fatal")
	}
	if !IsFatal(newError("op", CodeHostProtocolViolation, -1, -1, "bad request")) {
		t.Error("host protocol violation should be fatal")
	}
	if IsFatal(newError("op", CodeRetryExhausted, 0, 0, "retry exhausted")) {
		t.Error("retry exhaustion should not be fatal")
	}
	if IsFatal(errors.New("plain error")) {
		t.Error("a non-*Error should never be fatal")
	}
}
