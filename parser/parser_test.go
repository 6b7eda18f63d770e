package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, source string) *Ast {
	t.Helper()
	ast, err := Parse(source)
	require.NoError(t, err, "parse failed for %q", source)
	return ast
}

func mainBody(t *testing.T, ast *Ast) []AstIndex {
	t.Helper()
	root, ok := ast.Node(ast.Root()).(MainBlock)
	require.True(t, ok, "root is not a MainBlock")
	return root.Body
}

func TestLiterals(t *testing.T) {
	test := func(source string, expected Node) func(*testing.T) {
		return func(t *testing.T) {
			ast := parse(t, source)
			body := mainBody(t, ast)
			require.Len(t, body, 1)
			assert.Equal(t, expected, ast.Node(body[0]))
		}
	}

	t.Run("", test("true", BoolTrue{}))
	t.Run("", test("false", BoolFalse{}))
	t.Run("", test("null", Empty{}))
	t.Run("", test("0", Number0{}))
	t.Run("", test("1", Number1{}))

	t.Run("int", func(t *testing.T) {
		ast := parse(t, "42")
		body := mainBody(t, ast)
		node := ast.Node(body[0]).(Int)
		assert.Equal(t, int64(42), ast.Constants().GetInt(node.Constant))
	})

	t.Run("hex", func(t *testing.T) {
		ast := parse(t, "0x2a")
		body := mainBody(t, ast)
		node := ast.Node(body[0]).(Int)
		assert.Equal(t, int64(42), ast.Constants().GetInt(node.Constant))
	})

	t.Run("float", func(t *testing.T) {
		ast := parse(t, "1.5e3")
		body := mainBody(t, ast)
		node := ast.Node(body[0]).(Float)
		assert.Equal(t, 1500.0, ast.Constants().GetFloat(node.Constant))
	})
}

func TestArenaIsTopologicallyForward(t *testing.T) {
	sources := []string{
		"x = 1 + 2 * 3\n",
		"f = |a, b|\n  a + b\nf 1, 2\n",
		"match x\n  0 then 'zero'\n  1 or 2 then 'small'\n  else 'other'\n",
		"for a, b in pairs\n  debug a\n",
		"m = {name: 'x', count: 1}\nm.name\n",
		"try\n  risky()\ncatch e\n  throw e\nfinally\n  done()\n",
	}
	for _, source := range sources {
		ast := parse(t, source)
		for i := 0; i < ast.Len(); i++ {
			for _, child := range ast.Children(AstIndex(i)) {
				assert.Less(t, int(child), i,
					"child %d not below parent %d in %q", child, i, source)
			}
		}
	}
}

func TestAssignments(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		ast := parse(t, "x = 42\n")
		body := mainBody(t, ast)
		require.Len(t, body, 1)
		assign := ast.Node(body[0]).(Assign)
		assert.Equal(t, AssignEqual, assign.Op)
		assert.Equal(t, ScopeLocal, assign.Target.Scope)

		root := ast.Node(ast.Root()).(MainBlock)
		assert.Equal(t, 1, root.LocalCount)
	})

	t.Run("compound", func(t *testing.T) {
		ast := parse(t, "x += 1\n")
		assign := ast.Node(mainBody(t, ast)[0]).(Assign)
		assert.Equal(t, AssignAdd, assign.Op)
	})

	t.Run("export", func(t *testing.T) {
		ast := parse(t, "export answer = 42\n")
		assign := ast.Node(mainBody(t, ast)[0]).(Assign)
		assert.Equal(t, ScopeExport, assign.Target.Scope)
	})

	t.Run("let with annotation", func(t *testing.T) {
		ast := parse(t, "let x: Number = 42\n")
		assign := ast.Node(mainBody(t, ast)[0]).(Assign)
		assert.True(t, assign.Let)
		require.NotEqual(t, NoConstant, assign.TypeAnnotation)
		assert.Equal(t, "Number", ast.Constants().GetString(assign.TypeAnnotation))
	})

	t.Run("multi", func(t *testing.T) {
		ast := parse(t, "a, b, c = 11 + 11, 22 + 22, 33 + 33\n")
		multi := ast.Node(mainBody(t, ast)[0]).(MultiAssign)
		require.Len(t, multi.Targets, 3)
		rhs := ast.Node(multi.Expression).(TempTuple)
		assert.Len(t, rhs.Elements, 3)

		root := ast.Node(ast.Root()).(MainBlock)
		assert.Equal(t, 3, root.LocalCount)
	})

	t.Run("compound multi rejected", func(t *testing.T) {
		_, err := Parse("a, b += 1\n")
		require.Error(t, err)
	})
}

func TestPrecedence(t *testing.T) {
	t.Run("multiplication binds tighter", func(t *testing.T) {
		ast := parse(t, "1 + 2 * 3\n")
		top := ast.Node(mainBody(t, ast)[0]).(BinaryOp)
		assert.Equal(t, BinaryAdd, top.Op)
		rhs := ast.Node(top.Rhs).(BinaryOp)
		assert.Equal(t, BinaryMultiply, rhs.Op)
	})

	t.Run("unary minus is tight", func(t *testing.T) {
		// a - -b is a subtraction with a negated rhs
		ast := parse(t, "a - -b\n")
		top := ast.Node(mainBody(t, ast)[0]).(BinaryOp)
		assert.Equal(t, BinarySubtract, top.Op)
		rhs := ast.Node(top.Rhs).(UnaryOp)
		assert.Equal(t, UnaryNegate, rhs.Op)
	})

	t.Run("not binds looser than arithmetic", func(t *testing.T) {
		// not a + b is not (a + b)
		ast := parse(t, "not a + b\n")
		top := ast.Node(mainBody(t, ast)[0]).(UnaryOp)
		assert.Equal(t, UnaryNot, top.Op)
		value := ast.Node(top.Value).(BinaryOp)
		assert.Equal(t, BinaryAdd, value.Op)
	})

	t.Run("not binds tighter than comparison", func(t *testing.T) {
		// not a < b is (not a) < b
		ast := parse(t, "not a < b\n")
		top := ast.Node(mainBody(t, ast)[0]).(BinaryOp)
		assert.Equal(t, BinaryLess, top.Op)
		lhs := ast.Node(top.Lhs).(UnaryOp)
		assert.Equal(t, UnaryNot, lhs.Op)
	})

	t.Run("range of sums", func(t *testing.T) {
		ast := parse(t, "a + 1..b + 2\n")
		top := ast.Node(mainBody(t, ast)[0]).(Range)
		assert.False(t, top.Inclusive)
		assert.IsType(t, BinaryOp{}, ast.Node(top.Start))
		assert.IsType(t, BinaryOp{}, ast.Node(top.End))
	})
}

// lastLink walks a chain to its final link.
func lastLink(ast *Ast, index AstIndex) Lookup {
	link := ast.Node(index).(Lookup)
	for link.Next != NoIndex {
		link = ast.Node(link.Next).(Lookup)
	}
	return link
}

func TestChains(t *testing.T) {
	t.Run("dot index call", func(t *testing.T) {
		ast := parse(t, "foo.bar[0](x)\n")
		chain := ast.Node(mainBody(t, ast)[0]).(Lookup)
		require.Equal(t, LookupRoot, chain.Node.Kind)

		kinds := []LookupNodeKind{chain.Node.Kind}
		for next := chain.Next; next != NoIndex; {
			link := ast.Node(next).(Lookup)
			kinds = append(kinds, link.Node.Kind)
			next = link.Next
		}
		assert.Equal(t,
			[]LookupNodeKind{LookupRoot, LookupId, LookupIndex, LookupCall}, kinds)
	})

	t.Run("propagate marks the preceding link", func(t *testing.T) {
		ast := parse(t, "foo.bar()?\n")
		last := lastLink(ast, mainBody(t, ast)[0])
		assert.Equal(t, LookupCall, last.Node.Kind)
		assert.True(t, last.Node.Propagate)
	})

	t.Run("string lookup", func(t *testing.T) {
		ast := parse(t, "foo.'baz'()\n")
		chain := ast.Node(mainBody(t, ast)[0]).(Lookup)
		str := ast.Node(chain.Next).(Lookup)
		assert.Equal(t, LookupStr, str.Node.Kind)
	})
}

func TestPipe(t *testing.T) {
	t.Run("piped into paren-free call", func(t *testing.T) {
		// 99 >> foo.bar 42 is foo.bar(42, 99)
		ast := parse(t, "99 >> foo.bar 42\n")
		last := lastLink(ast, mainBody(t, ast)[0])
		require.Equal(t, LookupCall, last.Node.Kind)
		assert.False(t, last.Node.WithParens)
		require.Len(t, last.Node.Args, 2)

		first := ast.Node(last.Node.Args[0]).(Int)
		assert.Equal(t, int64(42), ast.Constants().GetInt(first.Constant))
		second := ast.Node(last.Node.Args[1]).(Int)
		assert.Equal(t, int64(99), ast.Constants().GetInt(second.Constant))
	})

	t.Run("piped into closed call", func(t *testing.T) {
		// 99 >> foo.bar(42) calls the result of foo.bar(42) with 99
		ast := parse(t, "99 >> foo.bar(42)\n")
		chain := ast.Node(mainBody(t, ast)[0]).(Lookup)
		require.Equal(t, LookupRoot, chain.Node.Kind)

		inner := ast.Node(chain.Node.Root).(Lookup)
		innerLast := lastLink(ast, chain.Node.Root)
		assert.Equal(t, LookupRoot, inner.Node.Kind)
		assert.True(t, innerLast.Node.WithParens)
		require.Len(t, innerLast.Node.Args, 1)

		outerCall := ast.Node(chain.Next).(Lookup)
		require.Equal(t, LookupCall, outerCall.Node.Kind)
		assert.True(t, outerCall.Node.WithParens)
		require.Len(t, outerCall.Node.Args, 1)
		piped := ast.Node(outerCall.Node.Args[0]).(Int)
		assert.Equal(t, int64(99), ast.Constants().GetInt(piped.Constant))
	})

	t.Run("named paren-free call", func(t *testing.T) {
		ast := parse(t, "99 >> foo 42\n")
		call := ast.Node(mainBody(t, ast)[0]).(NamedCall)
		require.Len(t, call.Args, 2)
	})
}

func TestIf(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		ast := parse(t, "if a then b else if c then d else e\n")
		node := ast.Node(mainBody(t, ast)[0]).(If)
		require.Len(t, node.ElseIfs, 1)
		assert.NotEqual(t, NoIndex, node.ElseNode)
	})

	t.Run("block", func(t *testing.T) {
		source := "if a\n  b\n  c\nelse if d\n  e\nelse\n  f\n"
		ast := parse(t, source)
		body := mainBody(t, ast)
		require.Len(t, body, 1)
		node := ast.Node(body[0]).(If)
		then := ast.Node(node.ThenNode).(Block)
		assert.Len(t, then.Body, 2)
		require.Len(t, node.ElseIfs, 1)
		assert.NotEqual(t, NoIndex, node.ElseNode)
	})
}

func TestMatch(t *testing.T) {
	source := "match x\n  0 then 'zero'\n  1 or 2 then 'small'\n  n if n < 0 then 'negative'\n  (a, b) then a\n  else 'other'\n"
	ast := parse(t, source)
	node := ast.Node(mainBody(t, ast)[0]).(Match)
	require.Len(t, node.Arms, 5)

	assert.Len(t, node.Arms[0].Patterns, 1)
	assert.Len(t, node.Arms[1].Patterns, 2)
	assert.NotEqual(t, NoIndex, node.Arms[2].Condition)
	assert.IsType(t, Tuple{}, ast.Node(node.Arms[3].Patterns[0]))
	assert.Empty(t, node.Arms[4].Patterns)
}

func TestSwitch(t *testing.T) {
	source := "switch\n  a > 0 then 'positive'\n  a < 0 then 'negative'\n  else 'zero'\n"
	ast := parse(t, source)
	node := ast.Node(mainBody(t, ast)[0]).(Switch)
	require.Len(t, node.Arms, 3)
	assert.NotEqual(t, NoIndex, node.Arms[0].Condition)
	assert.Equal(t, NoIndex, node.Arms[2].Condition)
}

func TestLoops(t *testing.T) {
	t.Run("for", func(t *testing.T) {
		ast := parse(t, "for key, _ in entries\n  key\n")
		node := ast.Node(mainBody(t, ast)[0]).(For)
		require.Len(t, node.Args, 2)
		assert.NotEqual(t, NoConstant, node.Args[0])
		assert.Equal(t, NoConstant, node.Args[1])
	})

	t.Run("while", func(t *testing.T) {
		ast := parse(t, "while x < 10\n  x += 1\n")
		node := ast.Node(mainBody(t, ast)[0]).(While)
		assert.IsType(t, BinaryOp{}, ast.Node(node.Condition))
	})

	t.Run("until and loop with break", func(t *testing.T) {
		ast := parse(t, "until done\n  step()\nloop\n  break\n")
		body := mainBody(t, ast)
		require.Len(t, body, 2)
		assert.IsType(t, Until{}, ast.Node(body[0]))
		loop := ast.Node(body[1]).(Loop)
		assert.IsType(t, Break{}, ast.Node(loop.Body))
	})
}

func TestFunctions(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		ast := parse(t, "add = |a, b| a + b\n")
		assign := ast.Node(mainBody(t, ast)[0]).(Assign)
		fn := ast.Node(assign.Expression).(Function)
		assert.Len(t, fn.Args, 2)
		assert.Equal(t, 2, fn.LocalCount)
		assert.False(t, fn.IsGenerator)
		assert.Empty(t, fn.AccessedNonLocals)
	})

	t.Run("generator", func(t *testing.T) {
		ast := parse(t, "gen = |n|\n  yield n\n  yield n + 1\n")
		assign := ast.Node(mainBody(t, ast)[0]).(Assign)
		fn := ast.Node(assign.Expression).(Function)
		assert.True(t, fn.IsGenerator)
	})

	t.Run("variadic", func(t *testing.T) {
		ast := parse(t, "f = |first, rest...| first\n")
		assign := ast.Node(mainBody(t, ast)[0]).(Assign)
		fn := ast.Node(assign.Expression).(Function)
		assert.True(t, fn.IsVariadic)
		ellipsis := ast.Node(fn.Args[1]).(Ellipsis)
		assert.Equal(t, "rest", ast.Constants().GetString(ellipsis.Name))
	})

	t.Run("instance method", func(t *testing.T) {
		ast := parse(t, "m = |self, x| self.value + x\n")
		assign := ast.Node(mainBody(t, ast)[0]).(Assign)
		fn := ast.Node(assign.Expression).(Function)
		assert.True(t, fn.IsInstanceMethod)
	})

	t.Run("non-locals", func(t *testing.T) {
		ast := parse(t, "f = |a| a + outside\n")
		assign := ast.Node(mainBody(t, ast)[0]).(Assign)
		fn := ast.Node(assign.Expression).(Function)
		require.Len(t, fn.AccessedNonLocals, 1)
		assert.Equal(t, "outside", ast.Constants().GetString(fn.AccessedNonLocals[0]))
	})
}

func TestStrings(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		ast := parse(t, "'hello'\n")
		str := ast.Node(mainBody(t, ast)[0]).(Str)
		require.Len(t, str.String.Nodes, 1)
		node := str.String.Nodes[0]
		assert.Equal(t, StringLiteralNode, node.Kind)
		assert.Equal(t, "hello", ast.Constants().GetString(node.Literal))
	})

	t.Run("escapes", func(t *testing.T) {
		ast := parse(t, `'a\nb\$c'`+"\n")
		str := ast.Node(mainBody(t, ast)[0]).(Str)
		assert.Equal(t, "a\nb$c", ast.Constants().GetString(str.String.Nodes[0].Literal))
	})

	t.Run("interpolation", func(t *testing.T) {
		ast := parse(t, "'sum: ${1 + 2}'\n")
		str := ast.Node(mainBody(t, ast)[0]).(Str)
		require.Len(t, str.String.Nodes, 2)
		assert.Equal(t, StringLiteralNode, str.String.Nodes[0].Kind)
		assert.Equal(t, StringExprNode, str.String.Nodes[1].Kind)
		assert.IsType(t, BinaryOp{}, ast.Node(str.String.Nodes[1].Expr))
	})

	t.Run("raw", func(t *testing.T) {
		ast := parse(t, `r'\n${x}'`+"\n")
		str := ast.Node(mainBody(t, ast)[0]).(Str)
		require.True(t, str.String.Raw)
		require.Len(t, str.String.Nodes, 1)
		assert.Equal(t, `\n${x}`, ast.Constants().GetString(str.String.Nodes[0].Literal))
	})
}

func TestImports(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		ast := parse(t, "import a.b.c\n")
		node := ast.Node(mainBody(t, ast)[0]).(Import)
		assert.Empty(t, node.From)
		require.Len(t, node.Items, 1)
		assert.Len(t, node.Items[0].Path, 3)
	})

	t.Run("from with alias", func(t *testing.T) {
		ast := parse(t, "from a.b import c, d as e\n")
		node := ast.Node(mainBody(t, ast)[0]).(Import)
		assert.Len(t, node.From, 2)
		require.Len(t, node.Items, 2)
		assert.Equal(t, NoConstant, node.Items[0].Alias)
		assert.Equal(t, "e", ast.Constants().GetString(node.Items[1].Alias))
	})
}

func TestDebug(t *testing.T) {
	ast := parse(t, "debug 1 + x\n")
	node := ast.Node(mainBody(t, ast)[0]).(Debug)
	assert.Equal(t, "1 + x", ast.Constants().GetString(node.ExpressionString))
	assert.IsType(t, BinaryOp{}, ast.Node(node.Expression))
}

func TestErrors(t *testing.T) {
	sources := []string{
		"if a\n    b\n  c\n",   // sibling indent mismatch
		"'unterminated\n",      // unterminated string
		"x = \x01\n",           // unexpected byte
		"a, b += 1\n",          // compound multi-assignment
		"1 +\n",                // missing operand at top level
	}
	for _, source := range sources {
		_, err := Parse(source)
		require.Error(t, err, "expected error for %q", source)
		var parseErr *Error
		require.ErrorAs(t, err, &parseErr)
		assert.NotEmpty(t, parseErr.Message)
		assert.GreaterOrEqual(t, parseErr.Span.Start.Line, uint32(1))
	}
}
