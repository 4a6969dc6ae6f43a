package querylang

import (
	"errors"
	"fmt"
)

// Decode errors.
var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrMalformed       = errors.New("malformed expression")
)

// DecodeError provides detailed error information including the location of
// the offending node, e.g. "$expr.$and[1].$not[0]".
type DecodeError struct {
	Path    string // location within the document
	Message string // human-readable error message
	Err     error  // underlying sentinel error (for errors.Is)
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at %s: %s", e.Path, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// newDecodeError creates a DecodeError with the given path and sentinel error.
func newDecodeError(path string, err error, msgFmt string, args ...any) *DecodeError {
	return &DecodeError{
		Path:    path,
		Message: fmt.Sprintf(msgFmt, args...),
		Err:     err,
	}
}
