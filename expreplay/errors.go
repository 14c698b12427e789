package expreplay

import "errors"

var (
	errEmptyBuffer         = errors.New("no transitions in buffer")
	errInsufficientSamples = errors.New("buffer below minimum capacity")
)

// ExpReplayError describes an error that occurred during an operation
// on a Buffer
type ExpReplayError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *ExpReplayError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause of the ExpReplayError
func (e *ExpReplayError) Unwrap() error {
	return e.Err
}

// IsEmptyBuffer returns whether err was caused by sampling an empty
// Buffer
func IsEmptyBuffer(err error) bool {
	return errors.Is(err, errEmptyBuffer)
}

// IsInsufficientSamples returns whether err was caused by sampling a
// Buffer below its minimum capacity
func IsInsufficientSamples(err error) bool {
	return errors.Is(err, errInsufficientSamples)
}
