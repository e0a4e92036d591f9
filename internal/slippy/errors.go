package slippy

import "fmt"

// ReadErrorKind classifies ReadError.
type ReadErrorKind int

const (
	// Param is a client supplied value that failed validation.
	Param ReadErrorKind = iota
	IO
	UTF8
)

func (k ReadErrorKind) String() string {
	switch k {
	case Param:
		return "param"
	case IO:
		return "io"
	case UTF8:
		return "utf8"
	default:
		return fmt.Sprintf("ReadErrorKind(%d)", int(k))
	}
}

// ReadError is returned when a request matched but could not be read.
type ReadError struct {
	Kind ReadErrorKind
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read request (%s): %v", e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// InvalidParameterError names the offending request parameter.
type InvalidParameterError struct {
	Param  string
	Value  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%q: %s", e.Param, e.Value, e.Reason)
}

func paramError(param, value, reason string) error {
	return &ReadError{
		Kind: Param,
		Err:  &InvalidParameterError{Param: param, Value: value, Reason: reason},
	}
}
