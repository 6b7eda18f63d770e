package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expectedToken struct {
	tokenType TokenType
	slice     string
}

func tok(tokenType TokenType, slice string) expectedToken {
	return expectedToken{tokenType, slice}
}

// checkTokens asserts the full token sequence, whitespace included.
func checkTokens(input string, expected ...expectedToken) func(*testing.T) {
	return func(t *testing.T) {
		lex := New(input)
		for i, e := range expected {
			token, ok := lex.Next()
			require.True(t, ok, "ran out of tokens at position %d", i)
			assert.Equal(t, e.tokenType, token.Type, "token type mismatch at position %d", i)
			assert.Equal(t, e.slice, token.Slice(input), "slice mismatch at position %d", i)
		}
		_, ok := lex.Next()
		assert.False(t, ok, "unexpected trailing token")
	}
}

// checkTypes asserts the token types with whitespace tokens skipped.
func checkTypes(input string, expected ...TokenType) func(*testing.T) {
	return func(t *testing.T) {
		lex := New(input)
		for i, e := range expected {
			for {
				token, ok := lex.Next()
				require.True(t, ok, "ran out of tokens at position %d", i)
				if token.Type == WhitespaceToken {
					continue
				}
				assert.Equal(t, e, token.Type, "mismatch at position %d", i)
				break
			}
		}
		_, ok := lex.Next()
		assert.False(t, ok)
	}
}

func TestNumbers(t *testing.T) {
	t.Run("", checkTokens("123", tok(NumberToken, "123")))
	t.Run("", checkTokens("1.5", tok(NumberToken, "1.5")))
	t.Run("", checkTokens("1.0e+3", tok(NumberToken, "1.0e+3")))
	t.Run("", checkTokens("1.e3", tok(NumberToken, "1.e3")))
	t.Run("", checkTokens("1e-3", tok(NumberToken, "1e-3")))
	t.Run("", checkTokens("0b101", tok(NumberToken, "0b101")))
	t.Run("", checkTokens("0o17", tok(NumberToken, "0o17")))
	t.Run("", checkTokens("0xfF0", tok(NumberToken, "0xfF0")))
	// Hex and friends need the leading zero; '1x' is a number then an id
	t.Run("", checkTokens("1x", tok(NumberToken, "1"), tok(IdToken, "x")))
	// A dot followed by a non-digit is a lookup, not a fraction
	t.Run("", checkTokens("1.sin",
		tok(NumberToken, "1"), tok(DotToken, "."), tok(IdToken, "sin")))
	t.Run("", checkTokens("1.exp",
		tok(NumberToken, "1"), tok(DotToken, "."), tok(IdToken, "exp")))
}

func TestIdsAndKeywords(t *testing.T) {
	t.Run("", checkTokens("if", tok(IfToken, "if")))
	t.Run("", checkTokens("iffy", tok(IdToken, "iffy")))
	t.Run("", checkTokens("else if", tok(ElseIfToken, "else if")))
	t.Run("", checkTokens("else  if",
		tok(ElseToken, "else"), tok(WhitespaceToken, "  "), tok(IfToken, "if")))
	// Keywords after a dot are plain ids
	t.Run("", checkTokens("foo.and",
		tok(IdToken, "foo"), tok(DotToken, "."), tok(IdToken, "and")))
	t.Run("", checkTokens("_", tok(WildcardToken, "_")))
	t.Run("", checkTokens("_ignored", tok(WildcardToken, "_ignored")))
}

func TestComments(t *testing.T) {
	t.Run("", checkTokens("# hello", tok(CommentSingleToken, "# hello")))
	t.Run("", checkTokens("#- multi\nline -# x",
		tok(CommentMultiToken, "#- multi\nline -#"),
		tok(WhitespaceToken, " "),
		tok(IdToken, "x")))
	t.Run("", checkTokens("#- unterminated", tok(ErrorToken, "#- unterminated")))
	t.Run("", checkTokens("#-##--# y",
		tok(CommentMultiToken, "#-##--#"),
		tok(WhitespaceToken, " "),
		tok(IdToken, "y")))
}

func TestStrings(t *testing.T) {
	t.Run("", checkTokens(`"hello"`,
		tok(StringStartToken, `"`),
		tok(StringLiteralToken, "hello"),
		tok(StringEndToken, `"`)))
	t.Run("", checkTokens(`'a\'b'`,
		tok(StringStartToken, "'"),
		tok(StringLiteralToken, `a\'b`),
		tok(StringEndToken, "'")))
	t.Run("", checkTokens(`"$name"`,
		tok(StringStartToken, `"`),
		tok(DollarToken, "$"),
		tok(IdToken, "name"),
		tok(StringEndToken, `"`)))
	t.Run("", checkTokens(`"unterminated`,
		tok(StringStartToken, `"`),
		tok(ErrorToken, "unterminated")))
}

func TestStringTemplates(t *testing.T) {
	// spec scenario: "x + y == ${x + y}"
	t.Run("", checkTypes(`"x + y == ${x + y}"`,
		StringStartToken, StringLiteralToken, DollarToken, CurlyOpenToken,
		IdToken, AddToken, IdToken, CurlyCloseToken, StringEndToken))
	// An inline map's braces don't close the template
	t.Run("", checkTypes(`"${foo {bar: 1}}"`,
		StringStartToken, DollarToken, CurlyOpenToken,
		IdToken, CurlyOpenToken, IdToken, ColonToken, NumberToken,
		CurlyCloseToken, CurlyCloseToken, StringEndToken))
	// Nested string inside a template
	t.Run("", checkTypes(`"${'inner'}"`,
		StringStartToken, DollarToken, CurlyOpenToken,
		StringStartToken, StringLiteralToken, StringEndToken,
		CurlyCloseToken, StringEndToken))
}

func TestRawStrings(t *testing.T) {
	t.Run("", checkTokens(`r'\n$x'`,
		tok(StringStartToken, "r'"),
		tok(StringLiteralToken, `\n$x`),
		tok(StringEndToken, "'")))
	t.Run("", checkTokens(`r#'quote ' inside'#`,
		tok(StringStartToken, "r#'"),
		tok(StringLiteralToken, "quote ' inside"),
		tok(StringEndToken, "'#")))
	t.Run("", func(t *testing.T) {
		lex := New(`r###'body'###`)
		start, ok := lex.Next()
		require.True(t, ok)
		assert.Equal(t, StringStartToken, start.Type)
		assert.True(t, start.Raw)
		assert.Equal(t, 3, start.RawHashes)
	})
}

func TestSymbols(t *testing.T) {
	t.Run("", checkTypes("a .. b", IdToken, RangeToken, IdToken))
	t.Run("", checkTypes("a ..= b", IdToken, RangeInclusiveToken, IdToken))
	t.Run("", checkTypes("a...", IdToken, EllipsisToken))
	t.Run("", checkTypes("x >> f", IdToken, PipeToken, IdToken))
	t.Run("", checkTypes("x -> f", IdToken, ArrowToken, IdToken))
	t.Run("", checkTypes("a -= 1", IdToken, SubtractAssignToken, NumberToken))
	t.Run("", checkTypes("f()?", IdToken, RoundOpenToken, RoundCloseToken, QuestionToken))
}

func TestNewlinesAndIndent(t *testing.T) {
	input := "x =\n  1\n"
	lex := New(input)

	expected := []struct {
		tokenType TokenType
		indent    int
	}{
		{IdToken, 0},
		{WhitespaceToken, 0},
		{AssignToken, 0},
		{NewLineToken, 0},
		{WhitespaceToken, 2},
		{NumberToken, 2},
		{NewLineToken, 2},
	}
	for i, e := range expected {
		token, ok := lex.Next()
		require.True(t, ok, "position %d", i)
		assert.Equal(t, e.tokenType, token.Type, "position %d", i)
		assert.Equal(t, e.indent, token.Indent, "position %d", i)
	}

	t.Run("", checkTokens("\r\n", tok(NewLineToken, "\r\n")))
	t.Run("", checkTokens("\rx", tok(ErrorToken, "\r"), tok(IdToken, "x")))
}

func TestSpans(t *testing.T) {
	lex := New("ab + 日本\ncd")

	type expected struct {
		tokenType            TokenType
		startLine, startCol  uint32
		endLine, endCol      uint32
	}
	for i, e := range []expected{
		{IdToken, 1, 1, 1, 3},
		{WhitespaceToken, 1, 3, 1, 4},
		{AddToken, 1, 4, 1, 5},
		{WhitespaceToken, 1, 5, 1, 6},
		{IdToken, 1, 6, 1, 10}, // wide runes advance two columns each
		{NewLineToken, 1, 10, 2, 1},
		{IdToken, 2, 1, 2, 3},
	} {
		token, ok := lex.Next()
		require.True(t, ok, "position %d", i)
		assert.Equal(t, e.tokenType, token.Type, "position %d", i)
		assert.Equal(t, Position{e.startLine, e.startCol}, token.Span.Start, "start, position %d", i)
		assert.Equal(t, Position{e.endLine, e.endCol}, token.Span.End, "end, position %d", i)
	}
}

// Every lexed source is exactly covered by its tokens' byte ranges, with
// no overlaps or gaps.
func TestByteCoverage(t *testing.T) {
	sources := []string{
		"",
		"x = 1 + 2\n",
		"#- comment -# foo.bar 42",
		`"interp ${1 + 2} done"`,
		"match x\n  0 then 'zero'\n  else 'other'\n",
		"r#'raw'# @meta \x00\xff junk",
	}
	for _, source := range sources {
		lex := New(source)
		offset := 0
		for {
			token, ok := lex.Next()
			if !ok {
				break
			}
			assert.Equal(t, offset, token.StartByte, "gap or overlap in %q", source)
			assert.GreaterOrEqual(t, token.EndByte, token.StartByte)
			offset = token.EndByte
		}
		assert.Equal(t, len(source), offset, "tokens don't cover %q", source)
	}
}

// Peek(n) then Next returns the same tokens in the same order as Next
// alone would have.
func TestPeekConsistency(t *testing.T) {
	source := "foo.bar 42 >> baz('x', ${y})\nloop\n  break\n"

	plain := New(source)
	var viaNext []Token
	for {
		token, ok := plain.Next()
		if !ok {
			break
		}
		viaNext = append(viaNext, token)
	}

	peeking := New(source)
	for i := 0; ; i++ {
		peeked, peekOk := peeking.Peek(3)
		token, ok := peeking.Next()
		if !ok {
			assert.False(t, peekOk)
			break
		}
		require.Less(t, i, len(viaNext))
		assert.Equal(t, viaNext[i], token, "position %d", i)
		if i+3 < len(viaNext) {
			require.True(t, peekOk)
			assert.Equal(t, viaNext[i+3], peeked, "peek at position %d", i)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	lex := New(`"a${b}c" d`)
	_, ok := lex.Next() // StringStart, pushes string mode
	require.True(t, ok)

	snapshot := lex.Clone()

	// Drain the original
	for {
		if _, ok := lex.Next(); !ok {
			break
		}
	}

	// The clone still resumes mid-string
	token, ok := snapshot.Next()
	require.True(t, ok)
	assert.Equal(t, StringLiteralToken, token.Type)
	assert.Equal(t, "a", token.Slice(snapshot.Source()))
}
