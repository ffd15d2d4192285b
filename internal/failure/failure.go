// Package failure defines the error taxonomy shared by every pipeline stage.
//
// Stages never recover from these errors locally. They are wrapped with
// context as they travel up and are converted into a report only at the
// bootstrap boundary, which uses KindOf to name the failure.
package failure

import (
	"errors"
	"fmt"
)

// Kind names a class of pipeline failure.
type Kind string

const (
	// MalformedUnit: compiled-unit bytes could not be parsed.
	MalformedUnit Kind = "MalformedUnit"
	// CompilationFailed: the compiler service reported source diagnostics.
	CompilationFailed Kind = "CompilationFailed"
	// VerificationFailed: a unit failed the structural verification pass.
	VerificationFailed Kind = "VerificationFailed"
	// ClassResolutionFailed: a symbolic name could not be resolved or was redefined.
	ClassResolutionFailed Kind = "ClassResolutionFailed"
	// DependencyUpdateFailed: one or more dependency descriptors could not be materialized.
	DependencyUpdateFailed Kind = "DependencyUpdateFailed"
	// AmbiguousControlScript: more than one control script was found.
	AmbiguousControlScript Kind = "AmbiguousControlScript"
	// ExecutionFailed: the control object faulted while running.
	ExecutionFailed Kind = "ExecutionFailed"
	// Unclassified is reported for errors outside the taxonomy.
	Unclassified Kind = "Error"
)

// Sentinels for errors.Is. A classified error matches the sentinel of its kind.
var (
	ErrMalformedUnit          = &Error{Kind: MalformedUnit}
	ErrCompilationFailed      = &Error{Kind: CompilationFailed}
	ErrVerificationFailed     = &Error{Kind: VerificationFailed}
	ErrClassResolutionFailed  = &Error{Kind: ClassResolutionFailed}
	ErrDependencyUpdateFailed = &Error{Kind: DependencyUpdateFailed}
	ErrAmbiguousControlScript = &Error{Kind: AmbiguousControlScript}
	ErrExecutionFailed        = &Error{Kind: ExecutionFailed}
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Classified is implemented by errors that carry their own kind, such as
// compiler diagnostics, so they can be reported without being rewrapped.
type Classified interface {
	error
	FailureKind() Kind
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, prefixing it with a formatted message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// FailureKind implements Classified.
func (e *Error) FailureKind() Kind { return e.Kind }

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var c Classified
	if errors.As(err, &c) {
		return c.FailureKind()
	}
	return Unclassified
}
