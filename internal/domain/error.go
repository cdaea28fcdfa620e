package domain

import "errors"

var (
	// Common domain errors
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResultNotReady    = errors.New("result not yet available")
	ErrTimedOut          = errors.New("timed out waiting for result")
	ErrQueueClosed       = errors.New("pending queue closed")
	ErrMisalignedResults = errors.New("backend returned a result count different from the batch size")
	ErrBackendPanic      = errors.New("inference backend panicked")
)
