// Package format re-emits Lume source in canonical form. The input is
// parsed first, so the formatter only ever sees valid source; comments
// are preserved through a token-level statement model rather than the
// Ast, which keeps every byte of comment content available.
package format

import (
	"strings"

	"github.com/lume-lang/lume/lexer"
	"github.com/lume-lang/lume/parser"
)

// Options controls formatting.
type Options struct {
	// LineLength is the layout budget in display columns.
	LineLength uint32 `yaml:"line_length"`
	// AlwaysIndentArms moves every match/switch arm body onto its own
	// indented line, even short ones.
	AlwaysIndentArms bool `yaml:"always_indent_arms"`
}

// DefaultOptions returns the defaults: a line length of 100, arms
// indented only when they don't fit.
func DefaultOptions() Options {
	return Options{LineLength: 100}
}

// Format renders source in canonical form. The result is idempotent,
// preserves every comment, and parses to the same Ast as the input up to
// normalization.
func Format(source string, options Options) (string, error) {
	if options.LineLength == 0 {
		options.LineLength = DefaultOptions().LineLength
	}

	if _, err := parser.Parse(source); err != nil {
		return "", err
	}

	toks := collectTokens(source)
	statements := groupStatements(toks)
	markSkipped(statements)

	r := &renderer{source: source, options: options}
	r.renderStatements(statements, 0, false)
	return r.finish(), nil
}

// tok is one significant token: comments kept, whitespace dropped, and
// string literals folded into a single atomic token covering the whole
// delimited string.
type tok struct {
	typ       lexer.TokenType
	text      string
	startByte int
	endByte   int
	line      int // starting line
	endLine   int
	indent    int
	// adjacent is set when the token directly follows the previous one in
	// the source with no whitespace in between; call parens and index
	// brackets bind only when adjacent.
	adjacent bool
	// unary marks a '-' that negates rather than subtracts
	unary bool
}

func collectTokens(source string) []tok {
	lex := lexer.New(source)
	var toks []tok
	prevEnd := -1

	for {
		token, ok := lex.Next()
		if !ok {
			break
		}
		switch token.Type {
		case lexer.WhitespaceToken, lexer.NewLineToken:
			continue
		}

		result := tok{
			typ:       token.Type,
			startByte: token.StartByte,
			endByte:   token.EndByte,
			line:      int(token.Span.Start.Line),
			endLine:   int(token.Span.End.Line),
			indent:    token.Indent,
			adjacent:  token.StartByte == prevEnd,
		}

		if token.Type == lexer.StringStartToken {
			// Fold the whole string, nested templates included, into one
			// token; the delimited source is emitted verbatim.
			depth := 1
			endByte := token.EndByte
			endLine := int(token.Span.End.Line)
			for depth > 0 {
				inner, innerOk := lex.Next()
				if !innerOk {
					break
				}
				switch inner.Type {
				case lexer.StringStartToken:
					depth++
				case lexer.StringEndToken:
					depth--
				}
				endByte = inner.EndByte
				endLine = int(inner.Span.End.Line)
			}
			result.endByte = endByte
			result.endLine = endLine
		}

		if token.Type == lexer.SubtractToken {
			result.unary = len(toks) == 0 || !endsOperand(toks[len(toks)-1].typ)
		}

		result.text = source[result.startByte:result.endByte]
		prevEnd = result.endByte
		toks = append(toks, result)
	}
	return toks
}

// stmt is a source statement: its own tokens (continuation lines
// included) plus any indented block as child statements.
type stmt struct {
	toks     []tok
	children []*stmt

	startLine int
	endLine   int
	startByte int
	endByte   int
	indent    int

	// verbatim is set by a preceding fmt:skip attribute; the statement's
	// source bytes pass through untouched
	verbatim bool
}

// lastByte returns the statement's final byte, children included.
func (s *stmt) lastByte() int {
	end := s.endByte
	for _, child := range s.children {
		if b := child.lastByte(); b > end {
			end = b
		}
	}
	return end
}

// continuesStatement reports whether the first token of a line extends
// the statement ending with prev: operators and dots open continuation
// lines, and operators, commas, and assignments leave them open.
func continuesStatement(prev, first tok) bool {
	switch first.typ {
	case lexer.DotToken, lexer.AddToken, lexer.SubtractToken, lexer.MultiplyToken,
		lexer.DivideToken, lexer.RemainderToken, lexer.AndToken, lexer.OrToken,
		lexer.EqualToken, lexer.NotEqualToken, lexer.LessToken, lexer.LessOrEqualToken,
		lexer.GreaterToken, lexer.GreaterOrEqualToken, lexer.PipeToken, lexer.ArrowToken,
		lexer.RangeToken, lexer.RangeInclusiveToken,
		lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken:
		return true
	}

	switch prev.typ {
	case lexer.AddToken, lexer.SubtractToken, lexer.MultiplyToken, lexer.DivideToken,
		lexer.RemainderToken, lexer.AndToken, lexer.OrToken, lexer.NotToken,
		lexer.EqualToken, lexer.NotEqualToken, lexer.LessToken, lexer.LessOrEqualToken,
		lexer.GreaterToken, lexer.GreaterOrEqualToken, lexer.PipeToken, lexer.ArrowToken,
		lexer.RangeToken, lexer.RangeInclusiveToken, lexer.CommaToken,
		lexer.AssignToken, lexer.AddAssignToken, lexer.SubtractAssignToken,
		lexer.MultiplyAssignToken, lexer.DivideAssignToken, lexer.RemainderAssignToken,
		lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken,
		lexer.CommentSingleToken:
		// A trailing single-line comment only continues when the token
		// before it left the expression open
		if prev.typ == lexer.CommentSingleToken {
			return false
		}
		return true
	}
	return false
}

// groupStatements builds the statement tree from the token list.
func groupStatements(toks []tok) []*stmt {
	pos := 0
	return readBlock(toks, &pos, 0)
}

func readBlock(toks []tok, pos *int, blockIndent int) []*stmt {
	var statements []*stmt

	for *pos < len(toks) {
		first := toks[*pos]
		if first.indent < blockIndent {
			break
		}
		statements = append(statements, readStatement(toks, pos))
	}
	return statements
}

func readStatement(toks []tok, pos *int) *stmt {
	first := toks[*pos]
	s := &stmt{
		startLine: first.line,
		endLine:   first.endLine,
		startByte: first.startByte,
		endByte:   first.endByte,
		indent:    first.indent,
	}

	depth := 0
	var lastSignificant tok

	for *pos < len(toks) {
		t := toks[*pos]
		newLine := t.line > s.endLine

		if newLine && depth == 0 {
			if t.indent <= s.indent || !continuesStatement(lastSignificant, t) {
				break
			}
		}

		switch t.typ {
		case lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken:
			depth++
		case lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken:
			depth--
		}

		s.toks = append(s.toks, t)
		s.endLine = t.endLine
		s.endByte = t.endByte
		if t.typ != lexer.CommentSingleToken && t.typ != lexer.CommentMultiToken {
			lastSignificant = t
		}
		*pos++
	}

	// Deeper lines that don't continue the expression are the statement's
	// indented block
	for *pos < len(toks) && toks[*pos].indent > s.indent {
		s.children = append(s.children, readStatement(toks, pos))
	}

	return s
}

// lastLine returns the statement's final source line, children included.
func (s *stmt) lastLine() int {
	last := s.endLine
	for _, child := range s.children {
		if l := child.lastLine(); l > last {
			last = l
		}
	}
	return last
}

// isSkipAttribute recognises the '#[fmt:skip]' / '#[fmt: skip]' marker.
func isSkipAttribute(s *stmt) bool {
	if len(s.toks) != 1 || s.toks[0].typ != lexer.CommentSingleToken {
		return false
	}
	text := strings.TrimSpace(s.toks[0].text)
	return text == "#[fmt:skip]" || text == "#[fmt: skip]"
}

// markSkipped flags the statement following each skip attribute, at every
// nesting level.
func markSkipped(statements []*stmt) {
	for i, s := range statements {
		if isSkipAttribute(s) && i+1 < len(statements) {
			statements[i+1].verbatim = true
		}
		markSkipped(s.children)
	}
}

// blankSeparated records, for sibling statements, whether the source held
// at least one blank line between them; runs collapse to a single blank.
func blankSeparated(prev, next *stmt) bool {
	return next.startLine > prev.lastLine()+1
}
