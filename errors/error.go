// Package errors defines the runtime's error taxonomy and the central
// handler that records, classifies, and recovers from failures.
package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Kind classifies an error into the closed taxonomy.
type Kind string

const (
	// KindConfiguration marks invalid setup, e.g. a cyclic dependency.
	KindConfiguration Kind = "configuration"
	// KindInitialization marks a resource or subsystem failing to start.
	KindInitialization Kind = "initialization"
	// KindOperationFailed wraps an inner cause from a failed operation.
	KindOperationFailed Kind = "operation_failed"
	// KindTimeout marks an operation that exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindCircuitOpen marks a call rejected by an open circuit breaker.
	KindCircuitOpen Kind = "circuit_open"
	// KindValidation marks field-level input problems.
	KindValidation Kind = "validation"
	// KindNotFound marks a lookup for a key that is not tracked.
	KindNotFound Kind = "not_found"
	// KindCancelled marks cooperative cancellation; always recoverable.
	KindCancelled Kind = "cancelled"
	// KindUnknown is the fallback for unclassified errors.
	KindUnknown Kind = "unknown"
)

// Severity ranks an error's impact.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// DefaultSeverity returns the severity an error of this kind carries unless
// overridden.
func (k Kind) DefaultSeverity() Severity {
	switch k {
	case KindConfiguration, KindInitialization:
		return SeverityCritical
	case KindOperationFailed:
		return SeverityHigh
	case KindTimeout, KindCircuitOpen, KindUnknown:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// defaultRecoverable reports whether recovery strategies should be tried for
// this kind unless the error says otherwise.
func (k Kind) defaultRecoverable() bool {
	switch k {
	case KindOperationFailed, KindTimeout, KindCircuitOpen, KindCancelled:
		return true
	default:
		return false
	}
}

// Error is the structured error carried across the runtime.
type Error struct {
	Kind        Kind           `json:"kind"`
	Message     string         `json:"message"`
	Op          string         `json:"op,omitempty"`
	Component   string         `json:"component,omitempty"`
	Severity    Severity       `json:"severity"`
	Recoverable bool           `json:"recoverable"`
	Context     map[string]any `json:"context,omitempty"`
	Hint        string         `json:"hint,omitempty"`
	Inner       error          `json:"-"`
	Stack       []string       `json:"-"`
	At          time.Time      `json:"at"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Inner != nil {
		msg = e.Inner.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the inner cause.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches errors by kind, so errors.Is(err, &Error{Kind: KindTimeout})
// works across wrapping.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// WithOp records the operation that produced the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithComponent records the originating subsystem.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithContext attaches one structured context entry.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithHint attaches a resolution hint for whoever surfaces the error.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithSeverity overrides the kind's default severity.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// AsRecoverable marks the error as a candidate for recovery strategies.
func (e *Error) AsRecoverable() *Error {
	e.Recoverable = true
	return e
}

// AsUnrecoverable marks the error as terminal for the caller.
func (e *Error) AsUnrecoverable() *Error {
	e.Recoverable = false
	return e
}

// WithStack captures the call stack at the point of invocation.
func (e *Error) WithStack() *Error {
	e.Stack = captureStack(3)
	return e
}

// New creates an Error with the kind's default severity and recoverability.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:        kind,
		Message:     message,
		Severity:    kind.DefaultSeverity(),
		Recoverable: kind.defaultRecoverable(),
		At:          time.Now(),
	}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap classifies an existing error under a kind with added context.
// Wrapping nil returns nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	e := New(kind, message)
	e.Inner = err
	return e
}

// From returns err as *Error, classifying foreign errors: context
// cancellation maps to KindCancelled, deadline expiry to KindTimeout, and
// everything else to KindUnknown. From(nil) returns nil.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(err, KindCancelled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, KindTimeout, err.Error())
	}
	return Wrap(err, KindUnknown, err.Error())
}

// Configuration creates a configuration error.
func Configuration(message string) *Error {
	return New(KindConfiguration, message)
}

// Initialization creates an initialization error.
func Initialization(message string) *Error {
	return New(KindInitialization, message)
}

// OperationFailed wraps a cause as an operation failure.
func OperationFailed(message string, cause error) *Error {
	e := New(KindOperationFailed, message)
	e.Inner = cause
	return e
}

// Validation creates a field-level validation error.
func Validation(field, reason string) *Error {
	return Newf(KindValidation, "invalid value for %s: %s", field, reason).
		WithContext("field", field).
		WithContext("reason", reason)
}

// Timeout creates a timeout error carrying the exceeded duration.
func Timeout(d time.Duration) *Error {
	return Newf(KindTimeout, "operation timed out after %s", d).
		WithContext("timeout", d)
}

// CircuitOpen creates a circuit-open rejection carrying the breaker name and
// the earliest moment a retry can pass.
func CircuitOpen(name string, retryAfter time.Time) *Error {
	return Newf(KindCircuitOpen, "circuit breaker %q is open", name).
		WithComponent("resilience").
		WithContext("breaker", name).
		WithContext("retry_after", retryAfter).
		WithHint("wait for the reset timeout before retrying")
}

// NotFound creates a not-found error for a key.
func NotFound(key string) *Error {
	return Newf(KindNotFound, "resource %q not found", key).
		WithContext("key", key)
}

// Cancelled creates a cancellation error for an operation.
func Cancelled(op string) *Error {
	return New(KindCancelled, "operation cancelled").WithOp(op)
}

// KindOf returns the kind of err, or KindUnknown for foreign errors and the
// zero Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRecoverable reports whether recovery strategies may be tried for err.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

// Aggregate joins the non-nil errors of a bulk operation into one
// operation-failed error. Returns nil when every error is nil.
func Aggregate(message string, errs ...error) error {
	joined := errors.Join(errs...)
	if joined == nil {
		return nil
	}
	count := 0
	for _, err := range errs {
		if err != nil {
			count++
		}
	}
	return Newf(KindOperationFailed, "%s: %d failure(s)", message, count).
		WithContext("failures", count).
		withInner(joined)
}

func (e *Error) withInner(err error) *Error {
	e.Inner = err
	return e
}

// Join re-exports errors.Join so callers aliasing this package do not need a
// second import for plain aggregation.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// As re-exports errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is re-exports errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// captureStack collects a short, readable call stack.
func captureStack(skip int) []string {
	var stack []string
	for i := skip; i < skip+8; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		name := fn.Name()
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, name))
	}
	return stack
}
