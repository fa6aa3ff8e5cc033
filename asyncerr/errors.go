package asyncerr

import "errors"

var (
	// ErrPermissionDenied indicates the caller does not own the consumer.
	ErrPermissionDenied = errors.New("asyncerr: permission denied")
	// ErrTimeout indicates no record arrived before the timeout expired.
	ErrTimeout = errors.New("asyncerr: timed out waiting for error record")
	// ErrInterrupted indicates the wait was cancelled by the caller's context.
	ErrInterrupted = errors.New("asyncerr: wait interrupted")
	// ErrTerminated indicates the consumer was torn down.
	ErrTerminated = errors.New("asyncerr: consumer terminated")
	// ErrAlreadyRegistered indicates the consumer is already in the dispatch list.
	ErrAlreadyRegistered = errors.New("asyncerr: consumer already registered")
)
