// Package corefail implements the error taxonomy shared across every stage
// of the integration pipeline. Every error the core returns to a caller is
// one of the kinds below, wrapping a human-readable cause and, where known,
// the offending input path.
package corefail

import "fmt"

// Kind identifies a member of the pipeline's error taxonomy.
type Kind string

const (
	BadContainer          Kind = "BadContainer"
	WrongDimensionality    Kind = "WrongDimensionality"
	TooSmall               Kind = "TooSmall"
	NoContrast             Kind = "NoContrast"
	TooDark                Kind = "TooDark"
	InconsistentSequence   Kind = "InconsistentSequence"
	MissingMaster          Kind = "MissingMaster"
	ShapeMismatch          Kind = "ShapeMismatch"
	PreconditionFailed     Kind = "PreconditionFailed"
	NoMatchableFeatures    Kind = "NoMatchableFeatures"
	ResamplingError        Kind = "ResamplingError"
	EphemerisUnavailable   Kind = "EphemerisUnavailable"
	EphemerisIncomplete    Kind = "EphemerisIncomplete"
	MemoryBudgetExceeded   Kind = "MemoryBudgetExceeded"
	Cancelled              Kind = "Cancelled"
	EmptySequence          Kind = "EmptySequence"
)

// Error is the concrete error type returned by every stage. It always
// carries a Kind, a human-readable Cause, and, when available, the input
// path or a reference identifying the offending frame.
type Error struct {
	Kind  Kind
	Input string // input path or reference, "" if not applicable
	Cause error
}

func (e *Error) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Input, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a pipeline error of the given kind with a formatted cause.
func New(kind Kind, input string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Input: input, Cause: fmt.Errorf(format, args...)}
}

// Wrap builds a pipeline error of the given kind around an existing error.
func Wrap(kind Kind, input string, cause error) *Error {
	return &Error{Kind: kind, Input: input, Cause: cause}
}

// Is reports whether err is a pipeline Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	return e.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Warning is a recoverable, per-frame annotation. Stages that can recover
// locally (a missing master, a failed per-frame align, an ephemeris miss on
// one timestamp) attach a Warning instead of aborting.
type Warning struct {
	Kind  Kind
	Input string
	Cause error
}

func (w Warning) String() string {
	if w.Input == "" {
		return fmt.Sprintf("%s: %v", w.Kind, w.Cause)
	}
	return fmt.Sprintf("%s (%s): %v", w.Kind, w.Input, w.Cause)
}

// Outcome pairs a successfully produced value with an optional Warning,
// letting per-frame soft failures flow through a sequence without aborting
// the stage that produced them. Index is the stable input position.
type Outcome[T any] struct {
	Index   int
	Value   T
	Warning *Warning
}
