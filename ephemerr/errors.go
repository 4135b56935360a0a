// Package ephemerr defines the error taxonomy shared across the ephemeris
// codec, query engine, and integrator packages. Every fallible operation
// returns an *Error wrapping one of the Kind sentinels below, so callers can
// branch with errors.Is without parsing message strings.
package ephemerr

import "fmt"

// Kind identifies the category of failure. Kind values are themselves
// errors and are the targets of errors.Is checks.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	InvalidMagic       Kind = "invalid magic"
	UnsupportedVersion Kind = "unsupported version"
	TruncatedFile      Kind = "truncated file"
	UnsupportedSpkType Kind = "unsupported spk type"
	UnknownBody        Kind = "unknown body"
	OutOfRange         Kind = "out of range"
	FitFailure         Kind = "fit failure"
	IntegratorDiverged Kind = "integrator diverged"
	ProviderFailure    Kind = "provider failure"
	IoError            Kind = "io error"
	InvalidElements    Kind = "invalid elements"
)

// Error carries a Kind plus the operation and contextual values (body ID,
// Julian date, file path, ...) that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Kind }

// New constructs an *Error with the given kind, operation name, and context.
func New(kind Kind, op string, ctx map[string]any) *Error {
	return &Error{Kind: kind, Op: op, Context: ctx}
}

// Wrap constructs an *Error around an underlying error.
func Wrap(kind Kind, op string, ctx map[string]any, err error) *Error {
	return &Error{Kind: kind, Op: op, Context: ctx, Err: err}
}
