// Package errs defines the closed error taxonomy used across the
// orchestrator's engines: a small set of Kinds plus a Fault type that
// carries one of them along with a message and an optional cause.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the seven error categories named by the orchestrator's
// error-handling design. Components never construct ad-hoc sentinel
// errors for these cases; they build a *Fault with the matching Kind.
type Kind int

const (
	// TransientApi covers rate limits, network failures, and 5xx
	// responses from the chat API. Retried up to a configured budget.
	TransientApi Kind = iota
	// ToolError is a tool result carrying the "Error:" prefix.
	ToolError
	// BudgetExhaustion is a terminal agent failure: max turns, idle
	// turns, or consecutive errors reached.
	BudgetExhaustion
	// InvariantViolation is an illegal state transition or schema
	// violation. The panic-equivalent of this taxonomy.
	InvariantViolation
	// RecoveryExhaustion means the Recovery Selector produced Abort or
	// every applicable action was at its retry cap.
	RecoveryExhaustion
	// UserPause is an operator-issued pause command. Resumable.
	UserPause
	// ConfigError is a fatal startup configuration problem.
	ConfigError
)

func (k Kind) String() string {
	switch k {
	case TransientApi:
		return "transient_api"
	case ToolError:
		return "tool_error"
	case BudgetExhaustion:
		return "budget_exhaustion"
	case InvariantViolation:
		return "invariant_violation"
	case RecoveryExhaustion:
		return "recovery_exhaustion"
	case UserPause:
		return "user_pause"
	case ConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}

// Fault is the concrete error value for every Kind above. Components
// return *Fault (wrapped in the standard error interface) instead of
// panicking or defining per-case sentinel errors.
type Fault struct {
	Kind    Kind
	Message string
	Cause   error
}

// New builds a Fault with no wrapped cause.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// Wrap builds a Fault that wraps an existing error.
func Wrap(kind Kind, message string, cause error) *Fault {
	return &Fault{Kind: kind, Message: message, Cause: cause}
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// Is reports whether target is a *Fault with the same Kind, so callers
// can write errors.Is(err, errs.New(errs.ToolError, "")) style checks
// via the KindOf helper below, or compare Kinds directly after As.
func (f *Fault) Is(target error) bool {
	var other *Fault
	if errors.As(target, &other) {
		return other.Kind == f.Kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) a *Fault, and
// reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

// Is reports whether err is a Fault of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
