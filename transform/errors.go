package transform

import (
	"errors"
	"fmt"
)

// ConfigurationError reports transform configuration which is not a
// well-formed structure.
type ConfigurationError struct {
	File   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.File == "" {
		return "css config: " + e.Reason
	}
	return fmt.Sprintf("css config %s: %s", e.File, e.Reason)
}

// TransformError reports failure of a plugin in the chain. Line and Column
// are 0 when plugin did not supply location.
type TransformError struct {
	Plugin string
	File   string
	Line   int
	Column int
	Err    error
}

func (e *TransformError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s:%d:%d: %v", e.Plugin, e.File, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Plugin, e.File, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Location returns 1-based line and column of the failure when known.
func (e *TransformError) Location() (int, int) {
	return e.Line, e.Column
}

// locator is implemented by errors which know where in the source they
// happened.
type locator interface {
	Location() (int, int)
}

func newTransformError(plugin, file string, err error) *TransformError {
	var te *TransformError
	if errors.As(err, &te) {
		// already annotated by nested pipeline
		return te
	}
	e := &TransformError{Plugin: plugin, File: file, Err: err}
	var loc locator
	if errors.As(err, &loc) {
		e.Line, e.Column = loc.Location()
	}
	return e
}
