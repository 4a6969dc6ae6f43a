package filter

import (
	"errors"
	"fmt"
)

// Sentinel errors. These indicate a grammar mismatch between the filter UI and
// the query backend, not bad runtime data, and callers should surface them.
var (
	ErrUnsupportedOperator  = errors.New("unsupported operator")
	ErrUnsupportedInversion = errors.New("operator has no inverse")
	ErrUnsupportedOrShape   = errors.New("unsupported $or shape")
	ErrUnsupportedShape     = errors.New("unsupported expression shape")
	ErrInvalidValue         = errors.New("invalid filter value")
)

// Error describes a filter that could not be compiled or an expression that
// could not be decompiled.
type Error struct {
	Field    string   // filter field, when known
	Operator Operator // operator involved, when known
	Message  string
	Err      error // underlying sentinel error (for errors.Is)
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Operator != "":
		return fmt.Sprintf("filter %s %q: %s", e.Field, e.Operator, e.Message)
	case e.Operator != "":
		return fmt.Sprintf("operator %q: %s", e.Operator, e.Message)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(field string, op Operator, err error, msgFmt string, args ...any) *Error {
	return &Error{
		Field:    field,
		Operator: op,
		Message:  fmt.Sprintf(msgFmt, args...),
		Err:      err,
	}
}
