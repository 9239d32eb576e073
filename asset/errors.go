package asset

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"

	"stylepipe/css"
)

// MalformedImportError reports @import rule without usable specifier.
type MalformedImportError struct {
	Rule   string
	Line   int
	Column int
}

func (e *MalformedImportError) Error() string {
	return "could not find import name for " + e.Rule
}

func (e *MalformedImportError) Location() (int, int) { return e.Line, e.Column }

type locator interface {
	Location() (int, int)
}

// Diagnostic is a human readable description of asset processing failure.
type Diagnostic struct {
	Message string
	// Line and Column are 1-based, 0 when unknown.
	Line   int
	Column int
	// CodeFrame is an excerpt of source around the failure.
	CodeFrame string
	// HighlightedCodeFrame is CodeFrame with terminal colors.
	HighlightedCodeFrame string
}

const (
	framesBefore = 2
	framesAfter  = 2
)

// Diagnose builds diagnostic for error produced while processing source.
func Diagnose(err error, source string) Diagnostic {
	d := Diagnostic{Message: err.Error()}

	var se *css.SyntaxError
	if errors.As(err, &se) {
		d.Message = se.Reason
	}
	var loc locator
	if errors.As(err, &loc) {
		d.Line, d.Column = loc.Location()
	}
	if d.Line <= 0 || source == "" {
		return d
	}

	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
	if d.Line > len(lines) {
		return d
	}
	start := max(d.Line-framesBefore, 1)
	end := min(d.Line+framesAfter, len(lines))

	plain := lines[start-1 : end]
	d.CodeFrame = codeFrame(plain, plain, start, d.Line, d.Column)

	var buf bytes.Buffer
	if err := quick.Highlight(&buf, strings.Join(plain, "\n"), "css", "terminal256", "monokai"); err == nil {
		colored := strings.Split(buf.String(), "\n")
		if len(colored) >= len(plain) {
			d.HighlightedCodeFrame = codeFrame(colored[:len(plain)], plain, start, d.Line, d.Column)
		}
	}
	if d.HighlightedCodeFrame == "" {
		d.HighlightedCodeFrame = d.CodeFrame
	}
	return d
}

// codeFrame renders lines numbered from first with marker under column of
// line at. Plain lines are used to place the marker.
func codeFrame(lines, plain []string, first, at, column int) string {
	width := len(strconv.Itoa(first + len(lines) - 1))
	var sb strings.Builder
	for i, text := range lines {
		n := first + i
		mark := " "
		if n == at {
			mark = ">"
		}
		fmt.Fprintf(&sb, "%s %*d | %s\n", mark, width, n, text)
		if n == at && column > 0 {
			fmt.Fprintf(&sb, "  %s | %s^\n", strings.Repeat(" ", width), pointerPad(plain[i], column))
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// pointerPad keeps tabs so marker lines up with the source column.
func pointerPad(line string, column int) string {
	var sb strings.Builder
	for i := 0; i < column-1 && i < len(line); i++ {
		if line[i] == '\t' {
			sb.WriteByte('\t')
		} else {
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
