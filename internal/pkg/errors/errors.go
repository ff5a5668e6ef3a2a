package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrImmutableSession is returned when a mutation targets a session that
	// has already crystallized.
	ErrImmutableSession = errors.New("session is crystallized and immutable")
	// ErrConcurrentCommit is returned when a commit is attempted while
	// another commit for the same session is in flight.
	ErrConcurrentCommit = errors.New("commit already in flight for session")
	// ErrGraphIntegrity marks a mutation that referenced a node which does
	// not exist. Batch operations skip the offending item and continue.
	ErrGraphIntegrity = errors.New("graph integrity violation")
	// ErrMalformedResponse marks classifier output that could not be parsed.
	// It contributes no verdict and is never fatal.
	ErrMalformedResponse = errors.New("malformed classifier response")
)
