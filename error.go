package lume

import (
	"fmt"
	"strings"

	"github.com/lume-lang/lume/lexer"
	"github.com/lume-lang/lume/parser"
)

// Error is the user-visible diagnostic shape: a message plus the source
// span where the problem was detected.
type Error = parser.Error

// FileError ties a diagnostic to the file it came from.
type FileError struct {
	File string
	Err  *Error
}

// SourceErrors aggregates diagnostics for several files, rendered one per
// line as file:line:col: message.
type SourceErrors struct {
	Errors []FileError
}

func (e SourceErrors) Error() string {
	var msg strings.Builder
	msg.WriteString("syntax error:\n\n")
	for _, fileErr := range e.Errors {
		msg.WriteString(fmt.Sprintf("%s:%d:%d: %s\n",
			fileErr.File,
			fileErr.Err.Span.Start.Line,
			fileErr.Err.Span.Start.Column,
			fileErr.Err.Message))
	}
	return msg.String()
}

// SpanOf extracts the span from any front-end error, with ok=false for
// errors that don't carry one.
func SpanOf(err error) (lexer.Span, bool) {
	if parseErr, ok := err.(*parser.Error); ok {
		return parseErr.Span, true
	}
	return lexer.Span{}, false
}
