package enrich

import "fmt"

// FailureKind partitions enrichment failures for the retry policy:
// timeouts and crashes are transient, validation failures are retried
// once at most since repeating an invocation that produced bad output
// rarely self-corrects.
type FailureKind string

const (
	FailValidation FailureKind = "validation"
	FailTimeout    FailureKind = "timeout"
	FailCrash      FailureKind = "crash"
)

// Error is a typed enrichment failure.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("enrichment %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying more than
// once.
func (e *Error) Transient() bool {
	return e.Kind == FailTimeout || e.Kind == FailCrash
}
