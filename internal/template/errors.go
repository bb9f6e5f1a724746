package template

import (
	"errors"
	"fmt"
)

var (
	ErrMissingExtends      = errors.New("missing extends")
	ErrMultipleExtends     = errors.New("multiple extends statements")
	ErrBaseExtends         = errors.New("base template cannot extend another template")
	ErrMismatchedBlockName = errors.New("mismatched block/endblock name")
	ErrDuplicateBlock      = errors.New("duplicate block")
	ErrUnclosedBlock       = errors.New("unclosed block")
	ErrUnknownFilter       = errors.New("unknown filter")
)

// Error is a template validation failure. Kind is one of the sentinel errors
// above, so callers can match it with errors.Is.
type Error struct {
	Kind   error
	Path   string
	Name   string
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("template %s: %s", e.Path, e.Kind)
	if e.Name != "" {
		msg += fmt.Sprintf(" %q", e.Name)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }
