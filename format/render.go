package format

import (
	"strings"

	"github.com/lume-lang/lume/lexer"
)

const indentWidth = 2

type renderer struct {
	source  string
	options Options
	lines   []string
}

func (r *renderer) finish() string {
	var sb strings.Builder
	for _, line := range r.lines {
		sb.WriteString(strings.TrimRight(line, " \t"))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r *renderer) emit(line string) {
	r.lines = append(r.lines, line)
}

func indentFor(depth int) string {
	return strings.Repeat(" ", depth*indentWidth)
}

func (r *renderer) fits(line string) bool {
	return lexer.DisplayWidth(line) <= int(r.options.LineLength)
}

func (r *renderer) renderStatements(statements []*stmt, depth int, arms bool) {
	for i, s := range statements {
		if i > 0 && blankSeparated(statements[i-1], s) {
			r.emit("")
		}
		if s.verbatim {
			r.renderVerbatim(s)
			continue
		}
		r.renderStatement(s, depth, arms)
	}
}

// renderVerbatim passes a statement through byte-for-byte, children and
// original indentation included.
func (r *renderer) renderVerbatim(s *stmt) {
	start := s.startByte
	for start > 0 && r.source[start-1] != '\n' {
		start--
	}
	text := r.source[start:s.lastByte()]
	for _, line := range strings.Split(text, "\n") {
		r.emit(line)
	}
}

func headerOpensArms(s *stmt) bool {
	return len(s.toks) > 0 &&
		(s.toks[0].typ == lexer.MatchToken || s.toks[0].typ == lexer.SwitchToken)
}

func (r *renderer) renderStatement(s *stmt, depth int, isArm bool) {
	for _, line := range r.layoutStatement(s, depth, isArm) {
		r.emit(line)
	}
	r.renderStatements(s.children, depth+1, headerOpensArms(s))
}

// layoutStatement lays out a statement's own tokens (not its children)
// under the width budget.
func (r *renderer) layoutStatement(s *stmt, depth int, isArm bool) []string {
	toks := s.toks
	indent := indentFor(depth)
	multiline := s.endLine > s.startLine

	// Arms split at 'then' when forced, or when the one-line form is too
	// wide
	thenIndex := topLevelIndex(toks, lexer.ThenToken)
	armSplit := isArm && thenIndex >= 0 && thenIndex < len(toks)-1 &&
		(r.options.AlwaysIndentArms ||
			multiline ||
			hasMidComment(toks) ||
			!r.fits(indent+renderLine(toks)))
	if armSplit {
		header := indent + renderLine(toks[:thenIndex+1])
		return append([]string{header}, r.layoutToks(toks[thenIndex+1:], depth+1, false)...)
	}

	if !multiline && !hasMidComment(toks) {
		line := indent + renderLine(toks)
		if r.fits(line) {
			return []string{line}
		}
	}

	return r.layoutToks(toks, depth, multiline)
}

// layoutToks renders a token run, breaking with the strategy the run's
// top-level structure calls for.
func (r *renderer) layoutToks(toks []tok, depth int, multiline bool) []string {
	if len(toks) == 0 {
		return nil
	}
	indent := indentFor(depth)

	if !multiline && !hasMidComment(toks) {
		line := indent + renderLine(toks)
		if r.fits(line) {
			return []string{line}
		}
	}

	// Assignments break after the operator
	if assign := topLevelAssign(toks); assign >= 0 {
		header := indent + renderLine(toks[:assign+1])
		rhs := toks[assign+1:]
		if len(rhs) == 0 {
			return []string{header}
		}

		// A whole-rhs delimiter group keeps its opener on the header line
		if open, inner, ok := wrapsWholeRun(rhs); ok {
			lines := []string{header + " " + open.text}
			lines = append(lines, r.packComma(inner, depth+1)...)
			return append(lines, indent+closingFor(open))
		}

		oneLine := header + " " + renderLine(rhs)
		if !hasMidComment(rhs) && r.fits(oneLine) && !multiline {
			return []string{oneLine}
		}
		if hasTopLevelComma(rhs) {
			return append([]string{header}, r.packComma(rhs, depth+1)...)
		}
		return append([]string{header}, r.layoutToks(rhs, depth+1, multiline)...)
	}

	// Chains break one link per line
	if isChain(toks) {
		return r.layoutChain(toks, depth)
	}

	// Binary expressions break before the loosest operators
	if prec := loosestPrecedence(toks); prec > 0 {
		return r.layoutBinary(toks, depth, prec)
	}

	if hasTopLevelComma(toks) {
		return r.packComma(toks, depth)
	}

	if open, inner, ok := wrapsWholeRun(toks); ok {
		lines := []string{indent + open.text}
		lines = append(lines, r.packComma(inner, depth+1)...)
		return append(lines, indent+closingFor(open))
	}

	// A mid-statement single-line comment forces a break after itself
	if i := midCommentIndex(toks); i >= 0 {
		first := indent + renderLine(toks[:i+1])
		return append([]string{first}, r.layoutToks(toks[i+1:], depth+1, multiline)...)
	}

	// Nothing left to break; emit overlong
	return []string{indent + renderLine(toks)}
}

// layoutChain emits the chain root, then one line per dot-led link.
func (r *renderer) layoutChain(toks []tok, depth int) []string {
	indent := indentFor(depth)
	linkIndent := indentFor(depth + 1)

	var lines []string
	segment := 0
	depthCount := 0
	for i, t := range toks {
		switch t.typ {
		case lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken:
			depthCount++
		case lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken:
			depthCount--
		case lexer.DotToken:
			if depthCount == 0 && i > segment {
				prefix := indent
				if len(lines) > 0 {
					prefix = linkIndent
				}
				lines = append(lines, prefix+renderLine(toks[segment:i]))
				segment = i
			}
		}
	}
	prefix := indent
	if len(lines) > 0 {
		prefix = linkIndent
	}
	lines = append(lines, prefix+renderLine(toks[segment:]))
	return lines
}

// layoutBinary breaks before every top-level operator of the loosest
// precedence; operators start the continuation lines. Single-line
// comments that sit between an operator and its operand migrate to the
// end of the previous line.
func (r *renderer) layoutBinary(toks []tok, depth int, prec int) []string {
	indent := indentFor(depth)
	continuation := indentFor(depth + 1)

	var segments [][]tok
	depthCount := 0
	start := 0
	for i, t := range toks {
		switch t.typ {
		case lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken:
			depthCount++
		case lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken:
			depthCount--
		default:
			if depthCount == 0 && i > start && operatorPrecedence(t.typ) == prec &&
				!isUnaryContext(toks, i) {
				segments = append(segments, toks[start:i])
				start = i
			}
		}
	}
	segments = append(segments, toks[start:])

	var lines []string
	for i, segment := range segments {
		// Comments trailing the previous operand, or sitting between the
		// operator and its operand, attach to the previous line
		if i > 0 {
			var migrated []tok
			trimmed := segment[:1]
			rest := segment[1:]
			for len(rest) > 0 && rest[0].typ == lexer.CommentSingleToken {
				migrated = append(migrated, rest[0])
				rest = rest[1:]
			}
			trimmed = append(trimmed, rest...)
			if len(migrated) > 0 {
				last := len(lines) - 1
				for _, comment := range migrated {
					lines[last] += " " + comment.text
				}
			}
			lines = append(lines, continuation+renderLine(trimmed))
			continue
		}
		lines = append(lines, indent+renderLine(segment))
	}
	return lines
}

// packComma splits a run at its top-level commas and packs the groups
// greedily under the budget, emitting a trailing comma.
func (r *renderer) packComma(toks []tok, depth int) []string {
	indent := indentFor(depth)

	var groups [][]tok
	depthCount := 0
	start := 0
	for i, t := range toks {
		switch t.typ {
		case lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken:
			depthCount++
		case lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken:
			depthCount--
		case lexer.CommaToken:
			if depthCount == 0 {
				groups = append(groups, toks[start:i+1])
				start = i + 1
			}
		}
	}
	if start < len(toks) {
		groups = append(groups, toks[start:])
	}

	var lines []string
	current := ""
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		rendered := renderLine(group)
		switch {
		case current == "":
			current = indent + rendered
		case r.fits(current + " " + rendered):
			current += " " + rendered
		default:
			lines = append(lines, current)
			current = indent + rendered
		}
	}
	if current != "" {
		if !strings.HasSuffix(current, ",") {
			current += ","
		}
		lines = append(lines, current)
	}
	return lines
}

// ---------------------------------------------------------------------------
// Token run analysis

func topLevelIndex(toks []tok, target lexer.TokenType) int {
	depth := 0
	for i, t := range toks {
		switch t.typ {
		case lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken:
			depth++
		case lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken:
			depth--
		default:
			if depth == 0 && t.typ == target {
				return i
			}
		}
	}
	return -1
}

func isAssignOp(t lexer.TokenType) bool {
	switch t {
	case lexer.AssignToken, lexer.AddAssignToken, lexer.SubtractAssignToken,
		lexer.MultiplyAssignToken, lexer.DivideAssignToken, lexer.RemainderAssignToken:
		return true
	}
	return false
}

func topLevelAssign(toks []tok) int {
	depth := 0
	for i, t := range toks {
		switch t.typ {
		case lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken:
			depth++
		case lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken:
			depth--
		default:
			if depth == 0 && isAssignOp(t.typ) {
				return i
			}
		}
	}
	return -1
}

func hasTopLevelComma(toks []tok) bool {
	return topLevelIndex(toks, lexer.CommaToken) >= 0
}

// midCommentIndex finds a single-line comment that isn't the run's final
// token; such a comment forces a break.
func midCommentIndex(toks []tok) int {
	for i, t := range toks {
		if t.typ == lexer.CommentSingleToken && i < len(toks)-1 {
			return i
		}
	}
	return -1
}

func hasMidComment(toks []tok) bool {
	return midCommentIndex(toks) >= 0
}

// operatorPrecedence mirrors the parser's table; zero means "not a
// binary operator".
func operatorPrecedence(t lexer.TokenType) int {
	switch t {
	case lexer.PipeToken, lexer.ArrowToken:
		return 1
	case lexer.OrToken:
		return 2
	case lexer.AndToken:
		return 3
	case lexer.EqualToken, lexer.NotEqualToken:
		return 4
	case lexer.LessToken, lexer.LessOrEqualToken, lexer.GreaterToken, lexer.GreaterOrEqualToken:
		return 5
	case lexer.AddToken, lexer.SubtractToken:
		return 7
	case lexer.MultiplyToken, lexer.DivideToken, lexer.RemainderToken:
		return 8
	}
	return 0
}

// isUnaryContext reports whether the token at i is a unary minus rather
// than a binary operator.
func isUnaryContext(toks []tok, i int) bool {
	return toks[i].typ == lexer.SubtractToken && toks[i].unary
}

// endsOperand reports whether a token can end an operand.
func endsOperand(t lexer.TokenType) bool {
	switch t {
	case lexer.IdToken, lexer.NumberToken, lexer.StringStartToken, lexer.SelfToken,
		lexer.TrueToken, lexer.FalseToken, lexer.NullToken, lexer.WildcardToken,
		lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken,
		lexer.QuestionToken:
		return true
	}
	return false
}

// loosestPrecedence returns the lowest precedence of any top-level binary
// operator in the run, or zero.
func loosestPrecedence(toks []tok) int {
	depth := 0
	loosest := 0
	for i, t := range toks {
		switch t.typ {
		case lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken:
			depth++
		case lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken:
			depth--
		default:
			if depth == 0 && i > 0 && !isUnaryContext(toks, i) {
				if prec := operatorPrecedence(t.typ); prec > 0 && (loosest == 0 || prec < loosest) {
					loosest = prec
				}
			}
		}
	}
	return loosest
}

// isChain reports whether the run is a lookup chain with no top-level
// operators or commas: those break link-by-link.
func isChain(toks []tok) bool {
	hasDot := false
	depth := 0
	for i, t := range toks {
		switch t.typ {
		case lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken:
			depth++
		case lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken:
			depth--
		case lexer.DotToken:
			if depth == 0 {
				hasDot = true
			}
		case lexer.CommaToken:
			if depth == 0 {
				return false
			}
		default:
			if depth == 0 && i > 0 && operatorPrecedence(t.typ) > 0 && !isUnaryContext(toks, i) {
				return false
			}
		}
	}
	return hasDot
}

// wrapsWholeRun reports whether the run is a single delimiter group, and
// returns the opener and the inner tokens.
func wrapsWholeRun(toks []tok) (tok, []tok, bool) {
	if len(toks) < 2 {
		return tok{}, nil, false
	}
	first := toks[0]
	var closeType lexer.TokenType
	switch first.typ {
	case lexer.RoundOpenToken:
		closeType = lexer.RoundCloseToken
	case lexer.SquareOpenToken:
		closeType = lexer.SquareCloseToken
	case lexer.CurlyOpenToken:
		closeType = lexer.CurlyCloseToken
	default:
		return tok{}, nil, false
	}
	last := toks[len(toks)-1]
	if last.typ != closeType {
		return tok{}, nil, false
	}

	// The final token must close the first, not a later group
	depth := 0
	for i, t := range toks {
		switch t.typ {
		case lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken:
			depth++
		case lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken:
			depth--
			if depth == 0 && i < len(toks)-1 {
				return tok{}, nil, false
			}
		}
	}
	return first, toks[1 : len(toks)-1], true
}

func closingFor(open tok) string {
	switch open.typ {
	case lexer.RoundOpenToken:
		return ")"
	case lexer.SquareOpenToken:
		return "]"
	}
	return "}"
}

// ---------------------------------------------------------------------------
// One-line rendering

// renderLine joins tokens with canonical spacing.
func renderLine(toks []tok) string {
	var sb strings.Builder
	barOpen := false

	for i, t := range toks {
		if i > 0 && spaceBetween(toks[i-1], t, &barOpen) {
			sb.WriteString(" ")
		}
		if t.typ == lexer.FunctionToken {
			barOpen = !barOpen
		}
		sb.WriteString(t.text)
	}
	return sb.String()
}

// spaceBetween decides whether a space separates two adjacent tokens in
// canonical form.
func spaceBetween(prev, cur tok, barOpen *bool) bool {
	// Inside function bars the opening bar hugs its first argument
	switch prev.typ {
	case lexer.DotToken, lexer.AtToken, lexer.DollarToken,
		lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken,
		lexer.RangeToken, lexer.RangeInclusiveToken:
		return false
	case lexer.FunctionToken:
		if *barOpen {
			return false
		}
	case lexer.SubtractToken:
		// Unary minus hugs its operand; renderLine callers only see the
		// minus as unary when nothing operand-like precedes it
		if prev.unary {
			return false
		}
	}

	switch cur.typ {
	case lexer.CommaToken, lexer.ColonToken, lexer.DotToken, lexer.QuestionToken,
		lexer.RoundCloseToken, lexer.SquareCloseToken, lexer.CurlyCloseToken,
		lexer.RangeToken, lexer.RangeInclusiveToken, lexer.EllipsisToken:
		return false
	case lexer.RoundOpenToken, lexer.SquareOpenToken:
		// Call and index binding is significant: after an operand, '('
		// and '[' stay tight exactly when they were tight in the source
		if endsOperand(prev.typ) {
			return !cur.adjacent
		}
		return true
	case lexer.FunctionToken:
		if *barOpen {
			return false
		}
	}

	return true
}
