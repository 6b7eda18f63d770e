// Package lume is the front-end and runtime core of the Lume scripting
// language: a lexer, a parser producing a compact Ast arena, a source
// formatter, and the runtime value model. The bytecode compiler, virtual
// machine, and standard library live with the embedder.
package lume

import (
	"iter"

	"github.com/lume-lang/lume/format"
	"github.com/lume-lang/lume/lexer"
	"github.com/lume-lang/lume/parser"
)

// FormatOptions controls the formatter; the zero value means a line
// length of 100 with arms indented only when necessary.
type FormatOptions = format.Options

// Format renders source in canonical form.
func Format(source string, options FormatOptions) (string, error) {
	return format.Format(source, options)
}

// Parse turns source text into an Ast.
func Parse(source string) (*parser.Ast, error) {
	return parser.Parse(source)
}

// Lex returns the token sequence of the source.
func Lex(source string) iter.Seq[lexer.Token] {
	return func(yield func(lexer.Token) bool) {
		lex := lexer.New(source)
		for {
			token, ok := lex.Next()
			if !ok || !yield(token) {
				return
			}
		}
	}
}

// PeekingLex returns a lexer with unbounded lookahead through Peek(n).
func PeekingLex(source string) *lexer.Lexer {
	return lexer.New(source)
}
