package procstate

import "errors"

var (
	// ErrRecordNotFound indicates no processing record exists for the key.
	ErrRecordNotFound = errors.New("processing record not found")
	// ErrInvalidTransition indicates an illegal state change.
	ErrInvalidTransition = errors.New("invalid processing state transition")
	// ErrTerminal indicates the record is in a terminal state.
	ErrTerminal = errors.New("processing record is terminal")
	// ErrInFlight indicates the document is already being processed.
	ErrInFlight = errors.New("document already in flight")
)
