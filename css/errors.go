package css

import (
	"fmt"
	"strings"

	parse "github.com/tdewolff/parse/v2"
)

// SyntaxError reports malformed stylesheet input.
type SyntaxError struct {
	Reason  string
	Source  string // stylesheet identity, usually file name
	Line    int
	Column  int
	Excerpt string // source context rendered by the tokenizer, may be empty
}

func (e *SyntaxError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Reason)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.Source, e.Line, e.Column, e.Reason)
}

// Location returns 1-based line and column of the error.
func (e *SyntaxError) Location() (int, int) {
	return e.Line, e.Column
}

func newSyntaxError(text, source string, offset int, reason string) *SyntaxError {
	perr := parse.NewError(strings.NewReader(text), offset, reason)
	return &SyntaxError{
		Reason:  reason,
		Source:  source,
		Line:    perr.Line,
		Column:  perr.Column,
		Excerpt: perr.Context,
	}
}
