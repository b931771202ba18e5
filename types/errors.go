package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotResolved is the uniform signal for a failed lookup.
// The distinguishing cause is carried by ResolutionFailure.Cause.
var ErrNotResolved = errors.New("not resolved")

// ErrNotApplied is returned when a conditional write matched no row.
var ErrNotApplied = errors.New("conditional write not applied")

// ValidationError describes a bad or missing CSV field.
// The row is skipped and the run continues.
type ValidationError struct {
	Row    int
	Field  string
	Value  string
	Reason SkipReason
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d: %s: %s %q", e.Row, e.Reason, e.Field, e.Value)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// ResolutionCause distinguishes why a lookup failed. Callers treat all
// causes the same; the cause is kept for logs only.
type ResolutionCause string

// Resolution causes.
const (
	CauseUnreachable ResolutionCause = "unreachable"
	CauseEmpty       ResolutionCause = "empty"
	CauseAmbiguous   ResolutionCause = "ambiguous"
	CauseDependency  ResolutionCause = "dependency unresolved"
)

// ResolutionFailure is a lookup that produced no usable identifier.
type ResolutionFailure struct {
	Kind  KeyKind
	Key   string
	Cause ResolutionCause
	Err   error
}

func (e *ResolutionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s %q: %s: %v", e.Kind, e.Key, e.Cause, e.Err)
	}
	return fmt.Sprintf("resolve %s %q: %s", e.Kind, e.Key, e.Cause)
}

// Unwrap lets errors.Is match ErrNotResolved.
func (e *ResolutionFailure) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrNotResolved, e.Err}
	}
	return []error{ErrNotResolved}
}

// StepFailure is one mutation step failing against one backend.
type StepFailure struct {
	Step    string
	Backend Backend
	Request Request
	Status  int
	Body    string
	Err     error
}

func (e *StepFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %s (%s) failed", e.Step, e.Backend)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StepFailure) Unwrap() error {
	return e.Err
}

// FatalConfigError aborts the run before any mutation.
type FatalConfigError struct {
	Msg string
	Err error
}

func (e *FatalConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FatalConfigError) Unwrap() error {
	return e.Err
}

// Fatalf builds a FatalConfigError with a formatted message.
func Fatalf(format string, args ...any) *FatalConfigError {
	return &FatalConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err is (or wraps) a FatalConfigError.
func IsFatal(err error) bool {
	var fe *FatalConfigError
	return errors.As(err, &fe)
}
