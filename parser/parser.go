// Recursive descent parser for Lume source.
//
// CONVENTION:
// Parse functions expect the scanner positioned before the tokens they are
// documented to consume, and consume everything belonging to their
// construct, trailing trivia excluded. Look-ahead is done through the
// lexer's peek queue; nothing is consumed until a production commits.
package parser

import (
	"strconv"
	"strings"

	"github.com/lume-lang/lume/lexer"
)

// exprContext carries the layout facts needed to decide whether an
// expression continues across a line break.
type exprContext struct {
	// indent of the line the expression started on; a following line
	// continues the expression only when indented further
	indent int
	// inside parens/brackets/braces line breaks are always allowed
	allowBreaks bool
}

type frame struct {
	assigned    map[ConstantIndex]struct{}
	assignOrder []ConstantIndex

	nonLocals   []ConstantIndex
	nonLocalSet map[ConstantIndex]struct{}

	// accesses buffered while a line's leading expression might still turn
	// out to be an assignment target
	pending []ConstantIndex

	containsYield bool
}

func newFrame() *frame {
	return &frame{
		assigned:    make(map[ConstantIndex]struct{}),
		nonLocalSet: make(map[ConstantIndex]struct{}),
	}
}

func (f *frame) assign(id ConstantIndex) {
	if _, ok := f.assigned[id]; !ok {
		f.assigned[id] = struct{}{}
		f.assignOrder = append(f.assignOrder, id)
	}
}

func (f *frame) recordAccess(id ConstantIndex) {
	if _, ok := f.assigned[id]; ok {
		return
	}
	if _, ok := f.nonLocalSet[id]; ok {
		return
	}
	f.nonLocalSet[id] = struct{}{}
	f.nonLocals = append(f.nonLocals, id)
}

type parser struct {
	lex    *lexer.Lexer
	source string
	ast    *Ast

	frames []*frame

	// buffering is set while the start of a line may still become an
	// assignment target; id accesses go to the frame's pending list
	buffering bool

	lastSpan lexer.Span
	lastByte int
}

// Parse turns source text into an Ast rooted at a MainBlock. On error a
// *Error diagnostic is returned with the earliest detected span.
func Parse(source string) (*Ast, error) {
	p := &parser{
		lex:    lexer.New(source),
		source: source,
		ast:    newAst(),
	}

	p.pushFrame()
	body, firstSpan, err := p.parseBlockBody(0, true)
	if err != nil {
		return nil, err
	}
	f := p.popFrame()

	span := firstSpan
	span.End = p.lastSpan.End
	p.ast.push(MainBlock{Body: body, LocalCount: len(f.assignOrder)}, span)
	return p.ast, nil
}

// ---------------------------------------------------------------------------
// Frames

func (p *parser) pushFrame() {
	p.frames = append(p.frames, newFrame())
}

func (p *parser) popFrame() *frame {
	f := p.frame()
	p.flushPending()
	p.frames = p.frames[:len(p.frames)-1]
	return f
}

func (p *parser) frame() *frame {
	return p.frames[len(p.frames)-1]
}

func (p *parser) access(id ConstantIndex) {
	f := p.frame()
	if p.buffering {
		f.pending = append(f.pending, id)
		return
	}
	f.recordAccess(id)
}

func (p *parser) flushPending() {
	f := p.frame()
	for _, id := range f.pending {
		f.recordAccess(id)
	}
	f.pending = nil
}

// ---------------------------------------------------------------------------
// Token plumbing

func (p *parser) peek(n int) (lexer.Token, bool) {
	return p.lex.Peek(n)
}

func (p *parser) next() (lexer.Token, bool) {
	token, ok := p.lex.Next()
	if ok && !token.Type.IsWhitespaceOrNewline() {
		p.lastSpan = token.Span
		p.lastByte = token.EndByte
	}
	return token, ok
}

// sigPeek scans ahead past whitespace, comments, and newlines. It returns
// the significant token, its raw look-ahead index, and whether a line
// break was crossed.
func (p *parser) sigPeek() (token lexer.Token, ahead int, brokeLine bool, ok bool) {
	for n := 0; ; n++ {
		t, tokOk := p.peek(n)
		if !tokOk {
			return lexer.Token{}, 0, brokeLine, false
		}
		switch {
		case t.Type.IsWhitespace():
		case t.Type == lexer.NewLineToken:
			brokeLine = true
		default:
			return t, n, brokeLine, true
		}
	}
}

// sigPeekSameLine is sigPeek restricted to the current line.
func (p *parser) sigPeekSameLine() (lexer.Token, bool) {
	token, _, broke, ok := p.sigPeek()
	if !ok || broke {
		return lexer.Token{}, false
	}
	return token, true
}

// sigPeekContinued peeks the next significant token, allowing a line
// break only when the context permits continuation.
func (p *parser) sigPeekContinued(ctx exprContext) (lexer.Token, bool) {
	token, _, broke, ok := p.sigPeek()
	if !ok {
		return lexer.Token{}, false
	}
	if broke && !ctx.allowBreaks && token.Indent <= ctx.indent {
		return lexer.Token{}, false
	}
	return token, true
}

// advanceTo consumes raw tokens up to (not including) look-ahead index n.
func (p *parser) advanceTo(n int) {
	for i := 0; i < n; i++ {
		p.next()
	}
}

// acceptSig consumes trivia and the next significant token, which the
// caller has already peeked.
func (p *parser) acceptSig() lexer.Token {
	_, n, _, _ := p.sigPeek()
	p.advanceTo(n)
	token, _ := p.next()
	return token
}

func (p *parser) expect(tokenType lexer.TokenType, what string) (lexer.Token, error) {
	token, _, _, ok := p.sigPeek()
	if !ok || token.Type != tokenType {
		return token, errorAtToken(token, "expected %s", what)
	}
	return p.acceptSig(), nil
}

func (p *parser) spanFrom(start lexer.Span) lexer.Span {
	return lexer.Span{Start: start.Start, End: p.lastSpan.End}
}

// startsExpression reports whether a token can begin an expression; used
// to detect paren-free call arguments and open-ended ranges.
func startsExpression(t lexer.TokenType) bool {
	switch t {
	case lexer.IdToken, lexer.NumberToken, lexer.StringStartToken,
		lexer.TrueToken, lexer.FalseToken, lexer.NullToken, lexer.SelfToken,
		lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.CurlyOpenToken,
		lexer.FunctionToken, lexer.NotToken, lexer.WildcardToken, lexer.AtToken:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Blocks and lines

// parseBlockBody parses expressions sharing blockIndent until a dedent or
// end of input. topLevel relaxes the sibling-indent check for indent 0.
func (p *parser) parseBlockBody(blockIndent int, topLevel bool) ([]AstIndex, lexer.Span, error) {
	var body []AstIndex
	var firstSpan lexer.Span
	haveFirst := false

	for {
		token, ahead, _, ok := p.sigPeek()
		if !ok {
			break
		}
		if token.Indent < blockIndent {
			break
		}
		if token.Indent > blockIndent {
			return nil, firstSpan, errorAtToken(token, "unexpected indentation")
		}
		if !haveFirst {
			firstSpan = token.Span
			haveFirst = true
		}

		p.advanceTo(ahead)
		expr, err := p.parseLine(token.Indent)
		if err != nil {
			return nil, firstSpan, err
		}
		body = append(body, expr)

		// Anything left on the line besides trivia is an error
		if trailing, onLine := p.sigPeekSameLine(); onLine {
			return nil, firstSpan, errorAtToken(trailing, "unexpected token '%s'", trailing.Slice(p.source))
		}
	}

	if !haveFirst && !topLevel {
		token, _, _, _ := p.sigPeek()
		return nil, firstSpan, errorAtToken(token, "expected expression")
	}
	return body, firstSpan, nil
}

// parseIndentedBlock parses a block whose lines are indented beyond
// parentIndent. Single-expression blocks collapse to the expression.
func (p *parser) parseIndentedBlock(parentIndent int) (AstIndex, error) {
	token, _, broke, ok := p.sigPeek()
	if !ok || !broke || token.Indent <= parentIndent {
		return NoIndex, errorAtToken(token, "expected indented block")
	}

	startSpan := token.Span
	body, _, err := p.parseBlockBody(token.Indent, false)
	if err != nil {
		return NoIndex, err
	}
	if len(body) == 1 {
		return body[0], nil
	}
	return p.ast.push(Block{Body: body}, p.spanFrom(startSpan)), nil
}

// parseLine parses one expression line, handling export/let prefixes and
// single/multi assignments.
func (p *parser) parseLine(indent int) (AstIndex, error) {
	ctx := exprContext{indent: indent}

	scope := ScopeLocal
	isLet := false

	token, _, _, ok := p.sigPeek()
	if !ok {
		return NoIndex, errorAtToken(token, "expected expression")
	}
	startSpan := token.Span

	if token.Type == lexer.ExportToken {
		p.acceptSig()
		scope = ScopeExport
		token, _, _, ok = p.sigPeek()
		if !ok {
			return NoIndex, errorAtToken(token, "expected expression after 'export'")
		}
	}
	if token.Type == lexer.LetToken {
		p.acceptSig()
		isLet = true
	}

	// Parse the leading expression(s) with accesses buffered; they become
	// plain accesses only if no assignment operator follows.
	p.buffering = true
	first, err := p.parseExpression(ctx, 0)
	if err != nil {
		p.buffering = false
		return NoIndex, err
	}

	targets := []AstIndex{first}
	for {
		token, onLine := p.sigPeekSameLine()
		if !onLine || token.Type != lexer.CommaToken {
			break
		}
		// A let binding has a single target
		if isLet {
			break
		}
		p.acceptSig()
		expr, err := p.parseExpression(ctx, 0)
		if err != nil {
			p.buffering = false
			return NoIndex, err
		}
		targets = append(targets, expr)
	}

	// Optional advisory type annotation on a let binding
	annotation := NoConstant
	if isLet {
		if token, onLine := p.sigPeekSameLine(); onLine && token.Type == lexer.ColonToken {
			p.acceptSig()
			idToken, err := p.expect(lexer.IdToken, "type annotation")
			if err != nil {
				p.buffering = false
				return NoIndex, err
			}
			annotation = p.ast.constants.AddString(idToken.Slice(p.source))
		}
	}

	opToken, onLine := p.sigPeekSameLine()
	op, isAssign := assignOpFor(opToken.Type)
	if !onLine || !isAssign {
		p.buffering = false
		p.flushPending()
		if isLet {
			return NoIndex, errorAtToken(opToken, "expected '=' in let binding")
		}
		if scope == ScopeExport {
			return NoIndex, errorAtToken(opToken, "expected assignment after 'export'")
		}
		if len(targets) > 1 {
			// A bare comma-separated list is a tuple expression
			return p.ast.push(Tuple{Elements: targets}, p.spanFrom(startSpan)), nil
		}
		return first, nil
	}

	if len(targets) > 1 && op != AssignEqual {
		return NoIndex, errorAtToken(opToken, "compound assignment with multiple targets")
	}

	// Commit: the leading expressions are assignment targets
	assignTargets := make([]AssignTarget, 0, len(targets))
	for _, target := range targets {
		if err := p.markAssignTarget(target); err != nil {
			p.buffering = false
			return NoIndex, err
		}
		assignTargets = append(assignTargets, AssignTarget{Target: target, Scope: scope})
	}
	p.buffering = false
	p.flushPending()

	p.acceptSig() // the assignment operator

	rhs, err := p.parseAssignRhs(ctx)
	if err != nil {
		return NoIndex, err
	}

	if len(assignTargets) > 1 {
		node := MultiAssign{Targets: assignTargets, Expression: rhs}
		return p.ast.push(node, p.spanFrom(startSpan)), nil
	}
	node := Assign{
		Target:         assignTargets[0],
		Op:             op,
		Expression:     rhs,
		Let:            isLet,
		TypeAnnotation: annotation,
	}
	return p.ast.push(node, p.spanFrom(startSpan)), nil
}

func assignOpFor(t lexer.TokenType) (AssignOp, bool) {
	switch t {
	case lexer.AssignToken:
		return AssignEqual, true
	case lexer.AddAssignToken:
		return AssignAdd, true
	case lexer.SubtractAssignToken:
		return AssignSubtract, true
	case lexer.MultiplyAssignToken:
		return AssignMultiply, true
	case lexer.DivideAssignToken:
		return AssignDivide, true
	case lexer.RemainderAssignToken:
		return AssignRemainder, true
	}
	return AssignEqual, false
}

// markAssignTarget validates an expression as an assignment destination
// and registers id bindings in the current frame.
func (p *parser) markAssignTarget(target AstIndex) error {
	switch node := p.ast.Node(target).(type) {
	case Id:
		p.frame().assign(node.Constant)
		p.discardPendingAccess(node.Constant)
		return nil
	case Wildcard:
		return nil
	case Lookup:
		return nil
	case Tuple:
		for _, element := range node.Elements {
			if err := p.markAssignTarget(element); err != nil {
				return err
			}
		}
		return nil
	case Nested:
		return p.markAssignTarget(node.Expr)
	}
	return errorAt(p.ast.Span(target), "invalid assignment target")
}

// discardPendingAccess removes one buffered access of id, so that a
// target id isn't counted as a non-local.
func (p *parser) discardPendingAccess(id ConstantIndex) {
	f := p.frame()
	for i, pending := range f.pending {
		if pending == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return
		}
	}
}

// parseAssignRhs parses the right-hand side of an assignment: either an
// expression list on the same line (TempTuple when plural) or an indented
// block.
func (p *parser) parseAssignRhs(ctx exprContext) (AstIndex, error) {
	if _, onLine := p.sigPeekSameLine(); !onLine {
		return p.parseIndentedBlock(ctx.indent)
	}

	token, _, _, _ := p.sigPeek()
	startSpan := token.Span

	first, err := p.parseExpression(ctx, 0)
	if err != nil {
		return NoIndex, err
	}
	elements := []AstIndex{first}
	for {
		token, onLine := p.sigPeekSameLine()
		if !onLine || token.Type != lexer.CommaToken {
			break
		}
		p.acceptSig()
		// The list continues on an indented line; a trailing comma ends it
		next, continued := p.sigPeekContinued(ctx)
		if !continued || !startsExpression(next.Type) {
			break
		}
		expr, err := p.parseExpression(ctx, 0)
		if err != nil {
			return NoIndex, err
		}
		elements = append(elements, expr)
	}
	if len(elements) == 1 {
		return first, nil
	}
	return p.ast.push(TempTuple{Elements: elements}, p.spanFrom(startSpan)), nil
}

// ---------------------------------------------------------------------------
// Expressions

// Binary operator precedence, low to high. Assignment is not part of the
// expression grammar; it is handled at line level.
const (
	precPipe       = 1
	precOr         = 2
	precAnd        = 3
	precEquality   = 4
	precComparison = 5
	precRange      = 6
	precAdditive   = 7
	precProduct    = 8
)

func binaryOpFor(t lexer.TokenType) (AstBinaryOp, int, bool) {
	switch t {
	case lexer.PipeToken, lexer.ArrowToken:
		return BinaryPipe, precPipe, true
	case lexer.OrToken:
		return BinaryOr, precOr, true
	case lexer.AndToken:
		return BinaryAnd, precAnd, true
	case lexer.EqualToken:
		return BinaryEqual, precEquality, true
	case lexer.NotEqualToken:
		return BinaryNotEqual, precEquality, true
	case lexer.LessToken:
		return BinaryLess, precComparison, true
	case lexer.LessOrEqualToken:
		return BinaryLessOrEqual, precComparison, true
	case lexer.GreaterToken:
		return BinaryGreater, precComparison, true
	case lexer.GreaterOrEqualToken:
		return BinaryGreaterOrEqual, precComparison, true
	case lexer.AddToken:
		return BinaryAdd, precAdditive, true
	case lexer.SubtractToken:
		return BinarySubtract, precAdditive, true
	case lexer.MultiplyToken:
		return BinaryMultiply, precProduct, true
	case lexer.DivideToken:
		return BinaryDivide, precProduct, true
	case lexer.RemainderToken:
		return BinaryRemainder, precProduct, true
	}
	return BinaryAdd, 0, false
}

func (p *parser) parseExpression(ctx exprContext, minPrecedence int) (AstIndex, error) {
	lhs, err := p.parseUnary(ctx)
	if err != nil {
		return NoIndex, err
	}
	return p.parseBinaryOps(ctx, lhs, minPrecedence)
}

func (p *parser) parseBinaryOps(ctx exprContext, lhs AstIndex, minPrecedence int) (AstIndex, error) {
	lhsSpan := p.ast.Span(lhs)

	for {
		token, ok := p.sigPeekContinued(ctx)
		if !ok {
			return lhs, nil
		}

		// Range operators sit between comparison and additive precedence
		if token.Type == lexer.RangeToken || token.Type == lexer.RangeInclusiveToken {
			if precRange < minPrecedence {
				return lhs, nil
			}
			inclusive := token.Type == lexer.RangeInclusiveToken
			p.acceptSig()

			if end, endOk := p.sigPeekContinued(ctx); endOk && startsExpression(end.Type) {
				endExpr, err := p.parseExpression(ctx, precAdditive)
				if err != nil {
					return NoIndex, err
				}
				node := Range{Start: lhs, End: endExpr, Inclusive: inclusive}
				lhs = p.ast.push(node, p.spanFrom(lhsSpan))
				continue
			}
			lhs = p.ast.push(RangeFrom{Start: lhs}, p.spanFrom(lhsSpan))
			continue
		}

		op, prec, isOp := binaryOpFor(token.Type)
		if !isOp || prec < minPrecedence {
			return lhs, nil
		}
		p.acceptSig()

		if op == BinaryPipe {
			rhs, err := p.parseExpression(ctx, precPipe+1)
			if err != nil {
				return NoIndex, err
			}
			lhs = p.applyPipe(lhs, rhs, p.spanFrom(lhsSpan))
			continue
		}

		rhs, err := p.parseUnary(ctx)
		if err != nil {
			return NoIndex, err
		}
		// Left associative: bind rhs to any higher-precedence ops first
		rhs, err = p.parseBinaryOps(ctx, rhs, prec+1)
		if err != nil {
			return NoIndex, err
		}
		lhs = p.ast.push(BinaryOp{Op: op, Lhs: lhs, Rhs: rhs}, p.spanFrom(lhsSpan))
	}
}

// applyPipe resolves '>>': the piped value becomes a trailing argument of
// an unparenthesized call, and a fresh call on the result of anything
// else.
func (p *parser) applyPipe(lhs, rhs AstIndex, span lexer.Span) AstIndex {
	switch node := p.ast.Node(rhs).(type) {
	case NamedCall:
		node.Args = append(node.Args, lhs)
		p.ast.entries[rhs].Node = node
		return rhs
	case Lookup:
		// Find the final link of the chain
		last := rhs
		for {
			link := p.ast.Node(last).(Lookup)
			if link.Next == NoIndex {
				break
			}
			last = link.Next
		}
		link := p.ast.Node(last).(Lookup)
		if link.Node.Kind == LookupCall && !link.Node.WithParens {
			link.Node.Args = append(link.Node.Args, lhs)
			p.ast.entries[last].Node = link
			return rhs
		}
	}

	// Call the result of the rhs expression with the piped value
	call := Lookup{
		Node: LookupNode{Kind: LookupCall, Args: []AstIndex{lhs}, WithParens: true},
		Next: NoIndex,
	}
	callIndex := p.ast.push(call, span)
	root := Lookup{Node: LookupNode{Kind: LookupRoot, Root: rhs}, Next: callIndex}
	return p.ast.push(root, span)
}

func (p *parser) parseUnary(ctx exprContext) (AstIndex, error) {
	token, ok := p.sigPeekContinued(ctx)
	if !ok {
		return NoIndex, errorAt(p.spanFrom(p.lastSpan), "expected expression")
	}

	switch token.Type {
	case lexer.NotToken:
		startSpan := token.Span
		p.acceptSig()
		// 'not' binds tighter than comparison but looser than arithmetic
		value, err := p.parseExpression(ctx, precAdditive)
		if err != nil {
			return NoIndex, err
		}
		return p.ast.push(UnaryOp{Op: UnaryNot, Value: value}, p.spanFrom(startSpan)), nil

	case lexer.SubtractToken:
		startSpan := token.Span
		p.acceptSig()
		value, err := p.parseUnary(ctx)
		if err != nil {
			return NoIndex, err
		}
		return p.ast.push(UnaryOp{Op: UnaryNegate, Value: value}, p.spanFrom(startSpan)), nil
	}

	return p.parseTerm(ctx)
}

func (p *parser) parseTerm(ctx exprContext) (AstIndex, error) {
	token, ok := p.sigPeekContinued(ctx)
	if !ok {
		return NoIndex, errorAt(p.spanFrom(p.lastSpan), "expected expression")
	}
	startSpan := token.Span

	switch token.Type {
	case lexer.NumberToken:
		p.acceptSig()
		index, err := p.pushNumber(token)
		if err != nil {
			return NoIndex, err
		}
		return p.parseChainLinks(ctx, index)

	case lexer.StringStartToken:
		str, err := p.parseString(ctx)
		if err != nil {
			return NoIndex, err
		}
		index := p.ast.push(Str{String: *str}, p.spanFrom(startSpan))
		return p.parseChainLinks(ctx, index)

	case lexer.IdToken, lexer.SelfToken:
		return p.parseIdExpression(ctx)

	case lexer.TrueToken:
		p.acceptSig()
		return p.ast.push(BoolTrue{}, token.Span), nil

	case lexer.FalseToken:
		p.acceptSig()
		return p.ast.push(BoolFalse{}, token.Span), nil

	case lexer.NullToken:
		p.acceptSig()
		return p.ast.push(Empty{}, token.Span), nil

	case lexer.WildcardToken:
		p.acceptSig()
		return p.ast.push(Wildcard{}, token.Span), nil

	case lexer.EllipsisToken:
		p.acceptSig()
		return p.ast.push(Ellipsis{Name: NoConstant}, token.Span), nil

	case lexer.RangeToken, lexer.RangeInclusiveToken:
		p.acceptSig()
		inclusive := token.Type == lexer.RangeInclusiveToken
		if end, ok := p.sigPeekContinued(ctx); ok && startsExpression(end.Type) {
			endExpr, err := p.parseExpression(ctx, precAdditive)
			if err != nil {
				return NoIndex, err
			}
			node := RangeTo{End: endExpr, Inclusive: inclusive}
			return p.ast.push(node, p.spanFrom(startSpan)), nil
		}
		return p.ast.push(RangeFull{}, token.Span), nil

	case lexer.RoundOpenToken:
		index, err := p.parseParenthesized(ctx)
		if err != nil {
			return NoIndex, err
		}
		return p.parseChainLinks(ctx, index)

	case lexer.SquareOpenToken:
		index, err := p.parseList(ctx)
		if err != nil {
			return NoIndex, err
		}
		return p.parseChainLinks(ctx, index)

	case lexer.CurlyOpenToken:
		index, err := p.parseMap(ctx)
		if err != nil {
			return NoIndex, err
		}
		return p.parseChainLinks(ctx, index)

	case lexer.FunctionToken:
		return p.parseFunction(ctx)

	case lexer.AtToken:
		return p.parseMetaKey()

	case lexer.IfToken:
		return p.parseIf(ctx)
	case lexer.MatchToken:
		return p.parseMatch(ctx)
	case lexer.SwitchToken:
		return p.parseSwitch(ctx)
	case lexer.ForToken:
		return p.parseFor(ctx)
	case lexer.LoopToken:
		p.acceptSig()
		body, err := p.parseIndentedBlock(ctx.indent)
		if err != nil {
			return NoIndex, err
		}
		return p.ast.push(Loop{Body: body}, p.spanFrom(startSpan)), nil
	case lexer.WhileToken:
		p.acceptSig()
		condition, err := p.parseExpression(ctx, 0)
		if err != nil {
			return NoIndex, err
		}
		body, err := p.parseIndentedBlock(ctx.indent)
		if err != nil {
			return NoIndex, err
		}
		return p.ast.push(While{Condition: condition, Body: body}, p.spanFrom(startSpan)), nil
	case lexer.UntilToken:
		p.acceptSig()
		condition, err := p.parseExpression(ctx, 0)
		if err != nil {
			return NoIndex, err
		}
		body, err := p.parseIndentedBlock(ctx.indent)
		if err != nil {
			return NoIndex, err
		}
		return p.ast.push(Until{Condition: condition, Body: body}, p.spanFrom(startSpan)), nil
	case lexer.TryToken:
		return p.parseTry(ctx)

	case lexer.BreakToken:
		p.acceptSig()
		return p.ast.push(Break{}, token.Span), nil
	case lexer.ContinueToken:
		p.acceptSig()
		return p.ast.push(Continue{}, token.Span), nil

	case lexer.ReturnToken:
		p.acceptSig()
		value := NoIndex
		if next, onLine := p.sigPeekSameLine(); onLine && startsExpression(next.Type) {
			expr, err := p.parseExpression(ctx, 0)
			if err != nil {
				return NoIndex, err
			}
			value = expr
		}
		return p.ast.push(Return{Value: value}, p.spanFrom(startSpan)), nil

	case lexer.YieldToken:
		p.acceptSig()
		p.frame().containsYield = true
		value, err := p.parseExpression(ctx, 0)
		if err != nil {
			return NoIndex, err
		}
		return p.ast.push(Yield{Value: value}, p.spanFrom(startSpan)), nil

	case lexer.ThrowToken:
		p.acceptSig()
		value, err := p.parseExpression(ctx, 0)
		if err != nil {
			return NoIndex, err
		}
		return p.ast.push(Throw{Value: value}, p.spanFrom(startSpan)), nil

	case lexer.DebugToken:
		return p.parseDebug(ctx)

	case lexer.ImportToken, lexer.FromToken:
		return p.parseImport(ctx)
	}

	return NoIndex, errorAtToken(token, "unexpected token '%s'", token.Slice(p.source))
}

func (p *parser) pushNumber(token lexer.Token) (AstIndex, error) {
	text := token.Slice(p.source)

	if strings.HasPrefix(text, "0b") || strings.HasPrefix(text, "0o") || strings.HasPrefix(text, "0x") {
		base := 2
		switch text[1] {
		case 'o':
			base = 8
		case 'x':
			base = 16
		}
		n, err := strconv.ParseInt(text[2:], base, 64)
		if err != nil {
			return NoIndex, errorAtToken(token, "invalid number '%s'", text)
		}
		return p.pushInt(n, token.Span), nil
	}

	if strings.ContainsAny(text, ".e") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return NoIndex, errorAtToken(token, "invalid number '%s'", text)
		}
		return p.ast.push(Float{Constant: p.ast.constants.AddFloat(f)}, token.Span), nil
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return NoIndex, errorAtToken(token, "invalid number '%s'", text)
	}
	return p.pushInt(n, token.Span), nil
}

func (p *parser) pushInt(n int64, span lexer.Span) AstIndex {
	switch n {
	case 0:
		return p.ast.push(Number0{}, span)
	case 1:
		return p.ast.push(Number1{}, span)
	}
	return p.ast.push(Int{Constant: p.ast.constants.AddInt(n)}, span)
}

// ---------------------------------------------------------------------------
// Ids, chains, and calls

func (p *parser) idConstant(token lexer.Token) ConstantIndex {
	if token.Type == lexer.SelfToken {
		return p.ast.constants.AddString("self")
	}
	return p.ast.constants.AddString(token.Slice(p.source))
}

func (p *parser) parseIdExpression(ctx exprContext) (AstIndex, error) {
	token := p.acceptSig()
	startSpan := token.Span
	id := p.idConstant(token)
	p.access(id)

	if p.startsChain(ctx) {
		root := p.ast.push(Id{Constant: id}, token.Span)
		return p.parseChain(ctx, root, startSpan)
	}

	// A paren-free call: arguments follow on the same line
	if next, onLine := p.sigPeekSameLine(); onLine && startsExpression(next.Type) {
		args, err := p.parseCallArgs(ctx)
		if err != nil {
			return NoIndex, err
		}
		node := NamedCall{Id: id, Args: args}
		return p.ast.push(node, p.spanFrom(startSpan)), nil
	}

	return p.ast.push(Id{Constant: id}, token.Span), nil
}

// startsChain reports whether a lookup chain continues at the current
// position: an adjacent '(', '[', '?', or a dot (possibly on a further
// indented continuation line).
func (p *parser) startsChain(ctx exprContext) bool {
	if raw, ok := p.peek(0); ok {
		switch raw.Type {
		case lexer.RoundOpenToken, lexer.SquareOpenToken, lexer.DotToken, lexer.QuestionToken:
			return true
		}
	}
	token, ok := p.sigPeekContinued(ctx)
	return ok && token.Type == lexer.DotToken
}

// parseChainLinks wraps a root expression in a chain if links follow.
func (p *parser) parseChainLinks(ctx exprContext, root AstIndex) (AstIndex, error) {
	if !p.startsChain(ctx) {
		return root, nil
	}
	return p.parseChain(ctx, root, p.ast.Span(root))
}

// parseChain parses the links following a chain root. The chain is stored
// as a linked list; links are pushed in reverse so that every Next index
// points backward in the arena.
func (p *parser) parseChain(ctx exprContext, root AstIndex, startSpan lexer.Span) (AstIndex, error) {
	links := []LookupNode{{Kind: LookupRoot, Root: root}}

	for {
		// Adjacent tokens bind without restriction; a dot may also start a
		// continuation line.
		raw, rawOk := p.peek(0)

		if rawOk && raw.Type == lexer.QuestionToken {
			p.next()
			links[len(links)-1].Propagate = true
			continue
		}

		if rawOk && (raw.Type == lexer.RoundOpenToken || raw.Type == lexer.SquareOpenToken) {
			if raw.Type == lexer.RoundOpenToken {
				args, err := p.parseParenCallArgs(ctx)
				if err != nil {
					return NoIndex, err
				}
				links = append(links, LookupNode{Kind: LookupCall, Args: args, WithParens: true})
			} else {
				index, err := p.parseIndex(ctx)
				if err != nil {
					return NoIndex, err
				}
				links = append(links, LookupNode{Kind: LookupIndex, Index: index})
			}
			continue
		}

		token, ok := p.sigPeekContinued(ctx)
		if ok && token.Type == lexer.DotToken {
			p.acceptSig()
			next, nextOk := p.sigPeekContinued(ctx)
			if !nextOk {
				return NoIndex, errorAtToken(token, "expected lookup after '.'")
			}
			switch next.Type {
			case lexer.IdToken:
				idToken := p.acceptSig()
				links = append(links, LookupNode{Kind: LookupId, Id: p.idConstant(idToken)})
			case lexer.StringStartToken:
				str, err := p.parseString(ctx)
				if err != nil {
					return NoIndex, err
				}
				links = append(links, LookupNode{Kind: LookupStr, Str: str})
			default:
				return NoIndex, errorAtToken(next, "expected lookup after '.'")
			}
			continue
		}

		// A paren-free call ends the chain; its extent would be ambiguous
		// anywhere else.
		if sameLine, onLine := p.sigPeekSameLine(); onLine && startsExpression(sameLine.Type) {
			args, err := p.parseCallArgs(ctx)
			if err != nil {
				return NoIndex, err
			}
			links = append(links, LookupNode{Kind: LookupCall, Args: args, WithParens: false})
		}
		break
	}

	// Push links back to front so Next always points to a lower index
	next := NoIndex
	span := p.spanFrom(startSpan)
	for i := len(links) - 1; i >= 0; i-- {
		next = p.ast.push(Lookup{Node: links[i], Next: next}, span)
	}
	return next, nil
}

// parseCallArgs parses paren-free call arguments: a comma-separated
// expression list on the current line.
func (p *parser) parseCallArgs(ctx exprContext) ([]AstIndex, error) {
	var args []AstIndex
	for {
		arg, err := p.parseExpression(ctx, precOr)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		token, onLine := p.sigPeekSameLine()
		if !onLine || token.Type != lexer.CommaToken {
			return args, nil
		}
		p.acceptSig()
	}
}

// parseParenCallArgs parses '(...)' call arguments; line breaks are
// unrestricted inside the parens.
func (p *parser) parseParenCallArgs(ctx exprContext) ([]AstIndex, error) {
	p.next() // '('
	inner := exprContext{indent: ctx.indent, allowBreaks: true}

	var args []AstIndex
	for {
		token, _, _, ok := p.sigPeek()
		if !ok {
			return nil, errorAtToken(token, "expected ')'")
		}
		if token.Type == lexer.RoundCloseToken {
			p.acceptSig()
			return args, nil
		}
		arg, err := p.parseExpression(inner, 0)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		token, _, _, ok = p.sigPeek()
		if ok && token.Type == lexer.CommaToken {
			p.acceptSig()
		}
	}
}

// parseIndex parses '[...]'; the index expression may be a range.
func (p *parser) parseIndex(ctx exprContext) (AstIndex, error) {
	p.next() // '['
	inner := exprContext{indent: ctx.indent, allowBreaks: true}

	index, err := p.parseExpression(inner, 0)
	if err != nil {
		return NoIndex, err
	}
	if _, err := p.expect(lexer.SquareCloseToken, "']'"); err != nil {
		return NoIndex, err
	}
	return index, nil
}

// ---------------------------------------------------------------------------
// Strings

func (p *parser) parseString(ctx exprContext) (*AstString, error) {
	start := p.acceptSig() // StringStart

	result := &AstString{
		Quote:     start.Quote,
		Raw:       start.Raw,
		RawHashes: start.RawHashes,
	}

	for {
		token, ok := p.peek(0)
		if !ok {
			return nil, errorAtToken(start, "unterminated string")
		}

		switch token.Type {
		case lexer.StringEndToken:
			p.next()
			return result, nil

		case lexer.StringLiteralToken:
			p.next()
			text := token.Slice(p.source)
			if !start.Raw {
				unescaped, err := unescape(text, token)
				if err != nil {
					return nil, err
				}
				text = unescaped
			}
			result.Nodes = append(result.Nodes, StringNode{
				Kind:    StringLiteralNode,
				Literal: p.ast.constants.AddString(text),
			})

		case lexer.DollarToken:
			p.next()
			next, ok := p.peek(0)
			if !ok {
				return nil, errorAtToken(token, "expected interpolation after '$'")
			}
			switch next.Type {
			case lexer.IdToken:
				idToken, _ := p.next()
				id := p.idConstant(idToken)
				p.access(id)
				expr := p.ast.push(Id{Constant: id}, idToken.Span)
				result.Nodes = append(result.Nodes, StringNode{Kind: StringExprNode, Expr: expr})
			case lexer.CurlyOpenToken:
				p.next()
				inner := exprContext{indent: ctx.indent, allowBreaks: true}
				expr, err := p.parseExpression(inner, 0)
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(lexer.CurlyCloseToken, "'}'"); err != nil {
					return nil, err
				}
				result.Nodes = append(result.Nodes, StringNode{Kind: StringExprNode, Expr: expr})
			default:
				return nil, errorAtToken(next, "expected interpolation after '$'")
			}

		case lexer.ErrorToken:
			return nil, errorAtToken(token, "unterminated string")

		default:
			return nil, errorAtToken(token, "unexpected token in string")
		}
	}
}

func unescape(text string, token lexer.Token) (string, error) {
	if !strings.ContainsRune(text, '\\') {
		return text, nil
	}

	var sb strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(text) {
			return "", errorAtToken(token, "malformed escape")
		}
		switch text[i] {
		case '$', '\\', '"', '\'':
			sb.WriteByte(text[i])
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		default:
			return "", errorAtToken(token, "malformed escape '\\%c'", text[i])
		}
	}
	return sb.String(), nil
}

// ---------------------------------------------------------------------------
// Collections

// parseParenthesized parses '()', '(expr)', and '(a, b, ...)'.
func (p *parser) parseParenthesized(ctx exprContext) (AstIndex, error) {
	open := p.acceptSig()
	inner := exprContext{indent: ctx.indent, allowBreaks: true}

	if token, _, _, ok := p.sigPeek(); ok && token.Type == lexer.RoundCloseToken {
		p.acceptSig()
		return p.ast.push(Empty{}, p.spanFrom(open.Span)), nil
	}

	var elements []AstIndex
	sawComma := false
	for {
		expr, err := p.parseExpression(inner, 0)
		if err != nil {
			return NoIndex, err
		}
		elements = append(elements, expr)

		token, _, _, ok := p.sigPeek()
		if !ok {
			return NoIndex, errorAtToken(token, "expected ')'")
		}
		switch token.Type {
		case lexer.CommaToken:
			sawComma = true
			p.acceptSig()
			if next, _, _, ok := p.sigPeek(); ok && next.Type == lexer.RoundCloseToken {
				p.acceptSig()
				return p.ast.push(Tuple{Elements: elements}, p.spanFrom(open.Span)), nil
			}
		case lexer.RoundCloseToken:
			p.acceptSig()
			if sawComma || len(elements) > 1 {
				return p.ast.push(Tuple{Elements: elements}, p.spanFrom(open.Span)), nil
			}
			return p.ast.push(Nested{Expr: elements[0]}, p.spanFrom(open.Span)), nil
		default:
			return NoIndex, errorAtToken(token, "expected ',' or ')'")
		}
	}
}

func (p *parser) parseList(ctx exprContext) (AstIndex, error) {
	open := p.acceptSig()
	inner := exprContext{indent: ctx.indent, allowBreaks: true}

	var elements []AstIndex
	for {
		token, _, _, ok := p.sigPeek()
		if !ok {
			return NoIndex, errorAtToken(token, "expected ']'")
		}
		if token.Type == lexer.SquareCloseToken {
			p.acceptSig()
			return p.ast.push(List{Elements: elements}, p.spanFrom(open.Span)), nil
		}
		expr, err := p.parseExpression(inner, 0)
		if err != nil {
			return NoIndex, err
		}
		elements = append(elements, expr)

		token, _, _, ok = p.sigPeek()
		if ok && token.Type == lexer.CommaToken {
			p.acceptSig()
		}
	}
}

func (p *parser) parseMap(ctx exprContext) (AstIndex, error) {
	open := p.acceptSig()
	inner := exprContext{indent: ctx.indent, allowBreaks: true}

	var entries []MapEntry
	for {
		token, _, _, ok := p.sigPeek()
		if !ok {
			return NoIndex, errorAtToken(token, "expected '}'")
		}
		if token.Type == lexer.CurlyCloseToken {
			p.acceptSig()
			return p.ast.push(Map{Entries: entries}, p.spanFrom(open.Span)), nil
		}

		key, err := p.parseMapKey(inner)
		if err != nil {
			return NoIndex, err
		}

		value := NoIndex
		if token, _, _, ok := p.sigPeek(); ok && token.Type == lexer.ColonToken {
			p.acceptSig()
			expr, err := p.parseExpression(inner, 0)
			if err != nil {
				return NoIndex, err
			}
			value = expr
		} else {
			// Shorthand entry: the value is the id itself
			if key.Kind == MapKeyId {
				p.access(key.Id)
			}
		}
		entries = append(entries, MapEntry{Key: key, Value: value})

		token, _, _, ok = p.sigPeek()
		if ok && token.Type == lexer.CommaToken {
			p.acceptSig()
		}
	}
}

func (p *parser) parseMapKey(ctx exprContext) (MapKey, error) {
	token, _, _, ok := p.sigPeek()
	if !ok {
		return MapKey{}, errorAtToken(token, "expected map key")
	}

	switch token.Type {
	case lexer.IdToken:
		idToken := p.acceptSig()
		return MapKey{Kind: MapKeyId, Id: p.idConstant(idToken)}, nil
	case lexer.StringStartToken:
		str, err := p.parseString(ctx)
		if err != nil {
			return MapKey{}, err
		}
		return MapKey{Kind: MapKeyStr, Str: str}, nil
	case lexer.AtToken:
		key, name, err := p.parseMetaKeyParts()
		if err != nil {
			return MapKey{}, err
		}
		return MapKey{Kind: MapKeyMeta, Meta: key, Name: name}, nil
	}
	return MapKey{}, errorAtToken(token, "expected map key")
}

// ---------------------------------------------------------------------------
// Meta keys

func (p *parser) parseMetaKeyParts() (MetaKeyId, ConstantIndex, error) {
	at := p.acceptSig() // '@'
	idToken, err := p.expect(lexer.IdToken, "meta key name")
	if err != nil {
		return MetaType, NoConstant, err
	}
	name := idToken.Slice(p.source)
	key, ok := metaKeyNames[name]
	if !ok {
		return MetaType, NoConstant, errorAtToken(at, "unknown meta key '@%s'", name)
	}

	extra := NoConstant
	if key == MetaNamed {
		nameToken, err := p.expect(lexer.IdToken, "meta entry name")
		if err != nil {
			return MetaType, NoConstant, err
		}
		extra = p.ast.constants.AddString(nameToken.Slice(p.source))
	}
	return key, extra, nil
}

func (p *parser) parseMetaKey() (AstIndex, error) {
	token, _, _, _ := p.sigPeek()
	key, name, err := p.parseMetaKeyParts()
	if err != nil {
		return NoIndex, err
	}
	return p.ast.push(Meta{Key: key, Name: name}, p.spanFrom(token.Span)), nil
}

// ---------------------------------------------------------------------------
// Functions

func (p *parser) parseFunction(ctx exprContext) (AstIndex, error) {
	open := p.acceptSig() // '|'
	p.pushFrame()
	wasBuffering := p.buffering
	p.buffering = false

	var args []AstIndex
	var annotations []ConstantIndex
	isVariadic := false
	isInstanceMethod := false

	for {
		token, _, _, ok := p.sigPeek()
		if !ok {
			p.popFrame()
			return NoIndex, errorAtToken(token, "expected '|'")
		}
		if token.Type == lexer.FunctionToken {
			p.acceptSig()
			break
		}

		arg, annotation, variadic, err := p.parseFunctionArg(ctx)
		if err != nil {
			p.popFrame()
			return NoIndex, err
		}
		if variadic {
			isVariadic = true
		}
		if len(args) == 0 {
			if id, isId := p.ast.Node(arg).(Id); isId &&
				p.ast.constants.GetString(id.Constant) == "self" {
				isInstanceMethod = true
			}
		}
		args = append(args, arg)
		annotations = append(annotations, annotation)

		if token, _, _, ok := p.sigPeek(); ok && token.Type == lexer.CommaToken {
			p.acceptSig()
		}
	}

	// Inline body on the same line, or an indented block
	var body AstIndex
	var err error
	if _, onLine := p.sigPeekSameLine(); onLine {
		body, err = p.parseExpression(exprContext{indent: ctx.indent}, 0)
	} else {
		body, err = p.parseIndentedBlock(ctx.indent)
	}
	if err != nil {
		p.popFrame()
		return NoIndex, err
	}

	f := p.popFrame()
	p.buffering = wasBuffering
	node := Function{
		Args:              args,
		ArgAnnotations:    annotations,
		LocalCount:        len(f.assignOrder),
		AccessedNonLocals: f.nonLocals,
		Body:              body,
		IsInstanceMethod:  isInstanceMethod,
		IsVariadic:        isVariadic,
		IsGenerator:       f.containsYield,
	}
	return p.ast.push(node, p.spanFrom(open.Span)), nil
}

// parseFunctionArg parses one argument: an id, a wildcard, a destructuring
// pattern, or a variadic capture, with an optional type annotation.
func (p *parser) parseFunctionArg(ctx exprContext) (AstIndex, ConstantIndex, bool, error) {
	token, _, _, ok := p.sigPeek()
	if !ok {
		return NoIndex, NoConstant, false, errorAtToken(token, "expected argument")
	}

	annotation := NoConstant
	variadic := false
	var arg AstIndex

	switch token.Type {
	case lexer.IdToken, lexer.SelfToken:
		idToken := p.acceptSig()
		id := p.idConstant(idToken)
		p.frame().assign(id)

		// 'xs...' is a variadic capture
		if raw, rawOk := p.peek(0); rawOk && raw.Type == lexer.EllipsisToken {
			p.next()
			variadic = true
			arg = p.ast.push(Ellipsis{Name: id}, p.spanFrom(idToken.Span))
			break
		}
		arg = p.ast.push(Id{Constant: id}, idToken.Span)

	case lexer.WildcardToken:
		wildcardToken := p.acceptSig()
		arg = p.ast.push(Wildcard{}, wildcardToken.Span)

	case lexer.EllipsisToken:
		ellipsisToken := p.acceptSig()
		variadic = true
		arg = p.ast.push(Ellipsis{Name: NoConstant}, ellipsisToken.Span)

	case lexer.RoundOpenToken, lexer.SquareOpenToken:
		pattern, err := p.parseDestructurePattern(ctx)
		if err != nil {
			return NoIndex, NoConstant, false, err
		}
		arg = pattern

	default:
		return NoIndex, NoConstant, false, errorAtToken(token, "expected argument")
	}

	// Optional advisory type annotation
	if next, _, _, ok := p.sigPeek(); ok && next.Type == lexer.ColonToken {
		p.acceptSig()
		annToken, err := p.expect(lexer.IdToken, "type annotation")
		if err != nil {
			return NoIndex, NoConstant, false, err
		}
		annotation = p.ast.constants.AddString(annToken.Slice(p.source))
	}

	return arg, annotation, variadic, nil
}

// parseDestructurePattern parses a tuple or list pattern in an argument
// or match position; ids bind in the current frame.
func (p *parser) parseDestructurePattern(ctx exprContext) (AstIndex, error) {
	open := p.acceptSig() // '(' or '['
	isList := open.Type == lexer.SquareOpenToken
	closeType := lexer.RoundCloseToken
	if isList {
		closeType = lexer.SquareCloseToken
	}

	var elements []AstIndex
	for {
		token, _, _, ok := p.sigPeek()
		if !ok {
			return NoIndex, errorAtToken(token, "unterminated pattern")
		}
		if token.Type == closeType {
			p.acceptSig()
			break
		}

		element, err := p.parsePatternElement(ctx)
		if err != nil {
			return NoIndex, err
		}
		elements = append(elements, element)

		if token, _, _, ok := p.sigPeek(); ok && token.Type == lexer.CommaToken {
			p.acceptSig()
		}
	}

	span := p.spanFrom(open.Span)
	if isList {
		return p.ast.push(List{Elements: elements}, span), nil
	}
	return p.ast.push(Tuple{Elements: elements}, span), nil
}

func (p *parser) parsePatternElement(ctx exprContext) (AstIndex, error) {
	token, _, _, ok := p.sigPeek()
	if !ok {
		return NoIndex, errorAtToken(token, "expected pattern")
	}

	switch token.Type {
	case lexer.IdToken:
		idToken := p.acceptSig()
		id := p.idConstant(idToken)
		p.frame().assign(id)
		if raw, rawOk := p.peek(0); rawOk && raw.Type == lexer.EllipsisToken {
			p.next()
			return p.ast.push(Ellipsis{Name: id}, p.spanFrom(idToken.Span)), nil
		}
		return p.ast.push(Id{Constant: id}, idToken.Span), nil
	case lexer.WildcardToken:
		wildcardToken := p.acceptSig()
		return p.ast.push(Wildcard{}, wildcardToken.Span), nil
	case lexer.EllipsisToken:
		ellipsisToken := p.acceptSig()
		return p.ast.push(Ellipsis{Name: NoConstant}, ellipsisToken.Span), nil
	case lexer.RoundOpenToken, lexer.SquareOpenToken:
		return p.parseDestructurePattern(ctx)
	}

	// Fall back to a literal pattern
	return p.parseUnary(ctx)
}

// ---------------------------------------------------------------------------
// Control flow

func (p *parser) parseIf(ctx exprContext) (AstIndex, error) {
	ifToken := p.acceptSig()
	condition, err := p.parseExpression(ctx, 0)
	if err != nil {
		return NoIndex, err
	}

	// Inline: 'if a then b else if c then d else e'
	if token, onLine := p.sigPeekSameLine(); onLine && token.Type == lexer.ThenToken {
		p.acceptSig()
		thenNode, err := p.parseExpression(ctx, 0)
		if err != nil {
			return NoIndex, err
		}

		result := If{Condition: condition, ThenNode: thenNode, ElseNode: NoIndex}
		for {
			token, onLine := p.sigPeekSameLine()
			if !onLine {
				break
			}
			switch token.Type {
			case lexer.ElseIfToken:
				p.acceptSig()
				elseIfCondition, err := p.parseExpression(ctx, 0)
				if err != nil {
					return NoIndex, err
				}
				if _, err := p.expect(lexer.ThenToken, "'then'"); err != nil {
					return NoIndex, err
				}
				elseIfBody, err := p.parseExpression(ctx, 0)
				if err != nil {
					return NoIndex, err
				}
				result.ElseIfs = append(result.ElseIfs, ElseIfBlock{
					Condition: elseIfCondition,
					Block:     elseIfBody,
				})
				continue
			case lexer.ElseToken:
				p.acceptSig()
				elseNode, err := p.parseExpression(ctx, 0)
				if err != nil {
					return NoIndex, err
				}
				result.ElseNode = elseNode
			}
			break
		}
		return p.ast.push(result, p.spanFrom(ifToken.Span)), nil
	}

	// Block form
	thenNode, err := p.parseIndentedBlock(ctx.indent)
	if err != nil {
		return NoIndex, err
	}
	result := If{Condition: condition, ThenNode: thenNode, ElseNode: NoIndex}

	for {
		token, _, broke, ok := p.sigPeek()
		if !ok || !broke || token.Indent != ctx.indent {
			break
		}
		if token.Type == lexer.ElseIfToken {
			p.acceptSig()
			elseIfCondition, err := p.parseExpression(ctx, 0)
			if err != nil {
				return NoIndex, err
			}
			elseIfBody, err := p.parseIfBranchBody(ctx)
			if err != nil {
				return NoIndex, err
			}
			result.ElseIfs = append(result.ElseIfs, ElseIfBlock{
				Condition: elseIfCondition,
				Block:     elseIfBody,
			})
			continue
		}
		if token.Type == lexer.ElseToken {
			p.acceptSig()
			elseNode, err := p.parseIfBranchBody(ctx)
			if err != nil {
				return NoIndex, err
			}
			result.ElseNode = elseNode
		}
		break
	}

	return p.ast.push(result, p.spanFrom(ifToken.Span)), nil
}

// parseIfBranchBody parses the body of an else/else-if branch: either
// inline after 'then', or an indented block.
func (p *parser) parseIfBranchBody(ctx exprContext) (AstIndex, error) {
	if token, onLine := p.sigPeekSameLine(); onLine {
		if token.Type == lexer.ThenToken {
			p.acceptSig()
		}
		return p.parseExpression(ctx, 0)
	}
	return p.parseIndentedBlock(ctx.indent)
}

func (p *parser) parseMatch(ctx exprContext) (AstIndex, error) {
	matchToken := p.acceptSig()
	expression, err := p.parseExpression(ctx, 0)
	if err != nil {
		return NoIndex, err
	}

	armToken, _, broke, ok := p.sigPeek()
	if !ok || !broke || armToken.Indent <= ctx.indent {
		return NoIndex, errorAtToken(armToken, "expected match arms")
	}
	armIndent := armToken.Indent
	armCtx := exprContext{indent: armIndent}

	var arms []MatchArm
	for {
		token, ahead, _, ok := p.sigPeek()
		if !ok || token.Indent != armIndent {
			break
		}

		p.advanceTo(ahead)
		arm, err := p.parseMatchArm(armCtx)
		if err != nil {
			return NoIndex, err
		}
		arms = append(arms, arm)
	}

	if len(arms) == 0 {
		return NoIndex, errorAtToken(armToken, "expected match arms")
	}
	node := Match{Expression: expression, Arms: arms}
	return p.ast.push(node, p.spanFrom(matchToken.Span)), nil
}

func (p *parser) parseMatchArm(ctx exprContext) (MatchArm, error) {
	arm := MatchArm{Condition: NoIndex}

	token, _, _, _ := p.sigPeek()
	if token.Type == lexer.ElseToken {
		p.acceptSig()
		expression, err := p.parseArmBody(ctx)
		if err != nil {
			return arm, err
		}
		arm.Expression = expression
		return arm, nil
	}

	// One or more or-separated patterns
	for {
		pattern, err := p.parseMatchPattern(ctx)
		if err != nil {
			return arm, err
		}
		arm.Patterns = append(arm.Patterns, pattern)

		token, onLine := p.sigPeekSameLine()
		if !onLine || token.Type != lexer.OrToken {
			break
		}
		p.acceptSig()
	}

	// Optional guard
	if token, onLine := p.sigPeekSameLine(); onLine && token.Type == lexer.IfToken {
		p.acceptSig()
		condition, err := p.parseExpression(ctx, 0)
		if err != nil {
			return arm, err
		}
		arm.Condition = condition
	}

	if _, err := p.expect(lexer.ThenToken, "'then'"); err != nil {
		return arm, err
	}
	expression, err := p.parseArmBody(ctx)
	if err != nil {
		return arm, err
	}
	arm.Expression = expression
	return arm, nil
}

// parseMatchPattern parses a single arm pattern; comma-separated patterns
// group into a temp tuple matching multiple values.
func (p *parser) parseMatchPattern(ctx exprContext) (AstIndex, error) {
	first, err := p.parsePatternElement(ctx)
	if err != nil {
		return NoIndex, err
	}
	firstSpan := p.ast.Span(first)

	elements := []AstIndex{first}
	for {
		token, onLine := p.sigPeekSameLine()
		if !onLine || token.Type != lexer.CommaToken {
			break
		}
		p.acceptSig()
		element, err := p.parsePatternElement(ctx)
		if err != nil {
			return NoIndex, err
		}
		elements = append(elements, element)
	}

	if len(elements) == 1 {
		return first, nil
	}
	return p.ast.push(TempTuple{Elements: elements}, p.spanFrom(firstSpan)), nil
}

// parseArmBody parses an arm's expression: inline on the arm's line, or
// an indented block.
func (p *parser) parseArmBody(ctx exprContext) (AstIndex, error) {
	if _, onLine := p.sigPeekSameLine(); onLine {
		return p.parseExpression(ctx, 0)
	}
	return p.parseIndentedBlock(ctx.indent)
}

func (p *parser) parseSwitch(ctx exprContext) (AstIndex, error) {
	switchToken := p.acceptSig()

	armToken, _, broke, ok := p.sigPeek()
	if !ok || !broke || armToken.Indent <= ctx.indent {
		return NoIndex, errorAtToken(armToken, "expected switch arms")
	}
	armIndent := armToken.Indent
	armCtx := exprContext{indent: armIndent}

	var arms []SwitchArm
	for {
		token, ahead, _, ok := p.sigPeek()
		if !ok || token.Indent != armIndent {
			break
		}

		p.advanceTo(ahead)
		arm := SwitchArm{Condition: NoIndex}
		if token.Type == lexer.ElseToken {
			p.acceptSig()
		} else {
			condition, err := p.parseExpression(armCtx, 0)
			if err != nil {
				return NoIndex, err
			}
			arm.Condition = condition
			if _, err := p.expect(lexer.ThenToken, "'then'"); err != nil {
				return NoIndex, err
			}
		}
		expression, err := p.parseArmBody(armCtx)
		if err != nil {
			return NoIndex, err
		}
		arm.Expression = expression
		arms = append(arms, arm)
	}

	if len(arms) == 0 {
		return NoIndex, errorAtToken(armToken, "expected switch arms")
	}
	return p.ast.push(Switch{Arms: arms}, p.spanFrom(switchToken.Span)), nil
}

func (p *parser) parseFor(ctx exprContext) (AstIndex, error) {
	forToken := p.acceptSig()

	var args []ConstantIndex
	for {
		token, _, _, ok := p.sigPeek()
		if !ok {
			return NoIndex, errorAtToken(token, "expected loop binding")
		}
		switch token.Type {
		case lexer.IdToken:
			idToken := p.acceptSig()
			id := p.idConstant(idToken)
			p.frame().assign(id)
			args = append(args, id)
		case lexer.WildcardToken:
			p.acceptSig()
			args = append(args, NoConstant)
		default:
			return NoIndex, errorAtToken(token, "expected loop binding")
		}

		token, _, _, ok = p.sigPeek()
		if ok && token.Type == lexer.CommaToken {
			p.acceptSig()
			continue
		}
		break
	}

	if _, err := p.expect(lexer.InToken, "'in'"); err != nil {
		return NoIndex, err
	}
	iterable, err := p.parseExpression(ctx, 0)
	if err != nil {
		return NoIndex, err
	}
	body, err := p.parseIndentedBlock(ctx.indent)
	if err != nil {
		return NoIndex, err
	}

	node := For{Args: args, Iterable: iterable, Body: body}
	return p.ast.push(node, p.spanFrom(forToken.Span)), nil
}

func (p *parser) parseTry(ctx exprContext) (AstIndex, error) {
	tryToken := p.acceptSig()
	tryBlock, err := p.parseIndentedBlock(ctx.indent)
	if err != nil {
		return NoIndex, err
	}

	if _, err := p.expect(lexer.CatchToken, "'catch'"); err != nil {
		return NoIndex, err
	}

	catchArg := NoConstant
	token, _, _, ok := p.sigPeek()
	if !ok {
		return NoIndex, errorAtToken(token, "expected catch binding")
	}
	switch token.Type {
	case lexer.IdToken:
		idToken := p.acceptSig()
		catchArg = p.idConstant(idToken)
		p.frame().assign(catchArg)
	case lexer.WildcardToken:
		p.acceptSig()
	default:
		return NoIndex, errorAtToken(token, "expected catch binding")
	}

	catchBlock, err := p.parseIndentedBlock(ctx.indent)
	if err != nil {
		return NoIndex, err
	}

	finallyBlock := NoIndex
	if token, _, broke, ok := p.sigPeek(); ok && broke &&
		token.Indent == ctx.indent && token.Type == lexer.FinallyToken {
		p.acceptSig()
		block, err := p.parseIndentedBlock(ctx.indent)
		if err != nil {
			return NoIndex, err
		}
		finallyBlock = block
	}

	node := Try{
		TryBlock:     tryBlock,
		CatchArg:     catchArg,
		CatchBlock:   catchBlock,
		FinallyBlock: finallyBlock,
	}
	return p.ast.push(node, p.spanFrom(tryToken.Span)), nil
}

// ---------------------------------------------------------------------------
// Imports and debug

func (p *parser) parseImport(ctx exprContext) (AstIndex, error) {
	startToken, _, _, _ := p.sigPeek()

	var from []ImportItem
	if startToken.Type == lexer.FromToken {
		p.acceptSig()
		path, err := p.parseImportPath(ctx)
		if err != nil {
			return NoIndex, err
		}
		from = path
		if _, err := p.expect(lexer.ImportToken, "'import'"); err != nil {
			return NoIndex, err
		}
	} else {
		p.acceptSig() // 'import'
	}

	var items []ImportPath
	for {
		path, err := p.parseImportPath(ctx)
		if err != nil {
			return NoIndex, err
		}
		item := ImportPath{Path: path, Alias: NoConstant}

		// Optional 'as' alias
		if token, onLine := p.sigPeekSameLine(); onLine &&
			token.Type == lexer.IdToken && token.Slice(p.source) == "as" {
			p.acceptSig()
			aliasToken, err := p.expect(lexer.IdToken, "import alias")
			if err != nil {
				return NoIndex, err
			}
			item.Alias = p.idConstant(aliasToken)
			p.frame().assign(item.Alias)
		} else if last := item.Path[len(item.Path)-1]; last.Kind == ImportItemId {
			p.frame().assign(last.Id)
		}
		items = append(items, item)

		token, onLine := p.sigPeekSameLine()
		if !onLine || token.Type != lexer.CommaToken {
			break
		}
		p.acceptSig()
	}

	node := Import{From: from, Items: items}
	return p.ast.push(node, p.spanFrom(startToken.Span)), nil
}

func (p *parser) parseImportPath(ctx exprContext) ([]ImportItem, error) {
	var path []ImportItem
	for {
		token, _, _, ok := p.sigPeek()
		if !ok {
			return nil, errorAtToken(token, "expected import path")
		}
		switch token.Type {
		case lexer.IdToken:
			idToken := p.acceptSig()
			path = append(path, ImportItem{Kind: ImportItemId, Id: p.idConstant(idToken)})
		case lexer.StringStartToken:
			str, err := p.parseString(ctx)
			if err != nil {
				return nil, err
			}
			path = append(path, ImportItem{Kind: ImportItemStr, Str: str})
		default:
			return nil, errorAtToken(token, "expected import path")
		}

		if raw, ok := p.peek(0); ok && raw.Type == lexer.DotToken {
			p.next()
			continue
		}
		return path, nil
	}
}

func (p *parser) parseDebug(ctx exprContext) (AstIndex, error) {
	debugToken := p.acceptSig()

	exprToken, _, _, ok := p.sigPeek()
	if !ok {
		return NoIndex, errorAtToken(debugToken, "expected expression after 'debug'")
	}
	startByte := exprToken.StartByte

	expression, err := p.parseExpression(ctx, 0)
	if err != nil {
		return NoIndex, err
	}

	text := strings.TrimSpace(p.source[startByte:p.lastByte])
	node := Debug{
		ExpressionString: p.ast.constants.AddString(text),
		Expression:       expression,
	}
	return p.ast.push(node, p.spanFrom(debugToken.Span)), nil
}
