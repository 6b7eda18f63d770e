package parser

import (
	"fmt"

	"github.com/lume-lang/lume/lexer"
)

// Error is a structured parse diagnostic. Parsing stops at the first
// error; there is no partial recovery.
type Error struct {
	Message string
	Span    lexer.Span
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Span.Start.Line, e.Span.Start.Column, e.Message)
}

func errorAt(span lexer.Span, format string, args ...any) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Span:    span,
	}
}

func errorAtToken(token lexer.Token, format string, args ...any) *Error {
	return errorAt(token.Span, format, args...)
}
