package embedsched

import (
	"errors"
	"fmt"
)

// Error is a structured scheduler error with channel/way context,
// adapted from the teacher's root errors.go: same Op/Code/Inner shape,
// locating a die instead of a device/queue pair.
type Error struct {
	Op      string    // operation that failed, e.g. "PushToReqQueue", "ConfigureTransBufEntry"
	Code    ErrorCode // high-level error category
	Channel int       // -1 if not applicable
	Way     int       // -1 if not applicable
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Channel >= 0 {
		parts = append(parts, fmt.Sprintf("ch=%d", e.Channel))
	}
	if e.Way >= 0 {
		parts = append(parts, fmt.Sprintf("way=%d", e.Way))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("embedsched: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("embedsched: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode classifies the scheduler errors named in spec.md §7.
type ErrorCode string

const (
	// CodeRetryExhausted marks a transient NAND failure (status/ECC)
	// abandoned after RetryLimit attempts. Logged, never surfaced to the
	// host beyond the abandoned request being treated as completed.
	CodeRetryExhausted ErrorCode = "retry limit exhausted"

	// CodeTransPoolExhausted is fatal: the translation-buffer free list
	// is empty on a config-write. The frontend is expected to
	// back-pressure before this happens.
	CodeTransPoolExhausted ErrorCode = "translation buffer pool exhausted"

	// CodeHostProtocolViolation is fatal: a host command referenced an
	// out-of-range SLBA, an unaligned translation config write, or an
	// unknown request id.
	CodeHostProtocolViolation ErrorCode = "host protocol violation"

	// CodeUnsupportedCellMode marks a geometry misconfiguration.
	CodeUnsupportedCellMode ErrorCode = "unsupported cell mode"
)

// IsFatal reports whether err represents one of the two firmware-fatal
// conditions from spec.md §7 (pool exhaustion, host protocol violation).
// Callers such as cmd/embedsched-sim treat a fatal error the way the
// original firmware's ASSERT would: halt rather than continue scheduling.
func IsFatal(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == CodeTransPoolExhausted || se.Code == CodeHostProtocolViolation
}

func newError(op string, code ErrorCode, ch, way int, msg string) *Error {
	return &Error{Op: op, Code: code, Channel: ch, Way: way, Msg: msg}
}

func wrapError(op string, ch, way int, inner error) *Error {
	if inner == nil {
		return nil
	}
	if se, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: se.Code, Channel: ch, Way: way, Msg: se.Msg, Inner: se.Inner}
	}
	return &Error{Op: op, Code: CodeHostProtocolViolation, Channel: ch, Way: way, Msg: inner.Error(), Inner: inner}
}
