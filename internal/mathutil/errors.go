package mathutil

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when k is outside [1, len(data)].
	ErrInvalidK = errors.New("k must be between 1 and the number of data points")

	// ErrTooFewDistinct is returned when the data holds fewer distinct values than k.
	ErrTooFewDistinct = errors.New("fewer distinct data values than k")

	// ErrClusteringImpossible is returned when empty clusters cannot be repaired.
	ErrClusteringImpossible = errors.New("cannot reach k non-empty clusters")
)

// ParamError describes a rejected clustering parameter.
//
// The underlying sentinel can be matched with errors.Is.
type ParamError struct {
	K      int
	Points int
	cause  error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameters k=%d points=%d: %v", e.K, e.Points, e.cause)
}

func (e *ParamError) Unwrap() error { return e.cause }
