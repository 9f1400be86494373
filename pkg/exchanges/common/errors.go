package common

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass drives the retry policy in the exchange adapter.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassTransient
	ClassRateLimit
	ClassAuth
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimit:
		return "rate_limit"
	case ClassAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error is a classified exchange failure.
type Error struct {
	Class  ErrorClass
	Op     string
	Status int    // HTTP status, 0 for transport failures
	Code   int    // venue error code when present
	Msg    string // venue message or body
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: %s status %d code %d: %s", e.Op, e.Class, e.Status, e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Class, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Classify returns the class of err. Classified errors keep their class;
// deadline and network errors are transient; everything else is unknown.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}
	return ClassUnknown
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return Classify(err) == ClassAuth }
