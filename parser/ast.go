package parser

import (
	"github.com/lume-lang/lume/lexer"
)

// AstIndex refers to a node in the Ast arena.
type AstIndex uint32

// NoIndex marks an absent optional child.
const NoIndex AstIndex = 0xffffffff

// ConstantIndex refers to an entry in the constant pool.
type ConstantIndex uint32

// NoConstant marks an absent optional constant reference.
const NoConstant ConstantIndex = 0xffffffff

// AstEntry pairs a node with its source span.
type AstEntry struct {
	Node Node
	Span lexer.Span
}

// Ast is a flat, append-only arena of nodes. Children are referenced by
// index and are always pushed before their parent, so every child index is
// strictly less than the parent's own index.
type Ast struct {
	entries   []AstEntry
	constants *ConstantPool
}

func newAst() *Ast {
	return &Ast{constants: NewConstantPool()}
}

func (a *Ast) push(node Node, span lexer.Span) AstIndex {
	a.entries = append(a.entries, AstEntry{Node: node, Span: span})
	return AstIndex(len(a.entries) - 1)
}

// Len returns the number of nodes in the arena.
func (a *Ast) Len() int {
	return len(a.entries)
}

// Root returns the index of the root node, the MainBlock pushed last.
func (a *Ast) Root() AstIndex {
	return AstIndex(len(a.entries) - 1)
}

// Node returns the node stored at the given index.
func (a *Ast) Node(i AstIndex) Node {
	return a.entries[int(i)].Node
}

// Span returns the span of the node stored at the given index.
func (a *Ast) Span(i AstIndex) lexer.Span {
	return a.entries[int(i)].Span
}

// Entry returns the node/span pair at the given index.
func (a *Ast) Entry(i AstIndex) AstEntry {
	return a.entries[int(i)]
}

// Constants returns the pool shared by this Ast; it outlives the Ast into
// the compiled program.
func (a *Ast) Constants() *ConstantPool {
	return a.constants
}

func appendIndex(children []AstIndex, i AstIndex) []AstIndex {
	if i == NoIndex {
		return children
	}
	return append(children, i)
}

func appendStringNodes(children []AstIndex, s *AstString) []AstIndex {
	for _, node := range s.Nodes {
		if node.Kind == StringExprNode {
			children = append(children, node.Expr)
		}
	}
	return children
}

// Children returns the direct child indices of a node, in source order.
func (a *Ast) Children(i AstIndex) []AstIndex {
	var children []AstIndex
	switch node := a.Node(i).(type) {
	case Nested:
		children = append(children, node.Expr)
	case Lookup:
		switch node.Node.Kind {
		case LookupRoot:
			children = append(children, node.Node.Root)
		case LookupStr:
			children = appendStringNodes(children, node.Node.Str)
		case LookupIndex:
			children = append(children, node.Node.Index)
		case LookupCall:
			children = append(children, node.Node.Args...)
		}
		children = appendIndex(children, node.Next)
	case NamedCall:
		children = append(children, node.Args...)
	case Str:
		children = appendStringNodes(children, &node.String)
	case List:
		children = append(children, node.Elements...)
	case Tuple:
		children = append(children, node.Elements...)
	case TempTuple:
		children = append(children, node.Elements...)
	case Range:
		children = append(children, node.Start, node.End)
	case RangeFrom:
		children = append(children, node.Start)
	case RangeTo:
		children = append(children, node.End)
	case Map:
		for _, entry := range node.Entries {
			if entry.Key.Kind == MapKeyStr {
				children = appendStringNodes(children, entry.Key.Str)
			}
			children = appendIndex(children, entry.Value)
		}
	case MainBlock:
		children = append(children, node.Body...)
	case Block:
		children = append(children, node.Body...)
	case Function:
		children = append(children, node.Args...)
		children = append(children, node.Body)
	case Assign:
		children = append(children, node.Target.Target, node.Expression)
	case MultiAssign:
		for _, target := range node.Targets {
			children = append(children, target.Target)
		}
		children = append(children, node.Expression)
	case UnaryOp:
		children = append(children, node.Value)
	case BinaryOp:
		children = append(children, node.Lhs, node.Rhs)
	case If:
		children = append(children, node.Condition, node.ThenNode)
		for _, elseIf := range node.ElseIfs {
			children = append(children, elseIf.Condition, elseIf.Block)
		}
		children = appendIndex(children, node.ElseNode)
	case Match:
		children = append(children, node.Expression)
		for _, arm := range node.Arms {
			children = append(children, arm.Patterns...)
			children = appendIndex(children, arm.Condition)
			children = append(children, arm.Expression)
		}
	case Switch:
		for _, arm := range node.Arms {
			children = appendIndex(children, arm.Condition)
			children = append(children, arm.Expression)
		}
	case For:
		children = append(children, node.Iterable, node.Body)
	case Loop:
		children = append(children, node.Body)
	case While:
		children = append(children, node.Condition, node.Body)
	case Until:
		children = append(children, node.Condition, node.Body)
	case Return:
		children = appendIndex(children, node.Value)
	case Try:
		children = append(children, node.TryBlock, node.CatchBlock)
		children = appendIndex(children, node.FinallyBlock)
	case Throw:
		children = append(children, node.Value)
	case Yield:
		children = append(children, node.Value)
	case Debug:
		children = append(children, node.Expression)
	}
	return children
}
