// Package ast defines the syntax tree produced by the parser. Nodes are plain
// data; each parent owns its children and nothing is shared.
package ast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/petal-labs/monkeyml/lexer"
)

// Node is the interface implemented by all AST nodes.
type Node interface {
	String() string
}

// Statement is a node that appears in a program or block.
type Statement interface {
	Node
	stmt() // marker method
}

// Expression is a node that produces a value.
type Expression interface {
	Node
	expr() // marker method
}

// Program is an ordered sequence of top-level statements.
type Program struct {
	Statements []Statement
}

func (p *Program) String() string {
	return joinStatements(p.Statements)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// LetStatement binds Name to the value of Value.
type LetStatement struct {
	Name  string
	Value Expression
}

func (s *LetStatement) stmt() {}
func (s *LetStatement) String() string {
	return fmt.Sprintf("let %s = %s;", s.Name, s.Value)
}

// ReturnStatement starts an early return with the value of Value.
type ReturnStatement struct {
	Value Expression
}

func (s *ReturnStatement) stmt() {}
func (s *ReturnStatement) String() string {
	return fmt.Sprintf("return %s;", s.Value)
}

// BlockStatement is a braced statement list, used for function bodies and
// conditional branches.
type BlockStatement struct {
	Statements []Statement
}

func (s *BlockStatement) stmt() {}
func (s *BlockStatement) String() string {
	if len(s.Statements) == 0 {
		return "{ }"
	}
	return "{ " + joinStatements(s.Statements) + " }"
}

// ExpressionStatement is a bare expression used as a statement.
type ExpressionStatement struct {
	Expr Expression
}

func (s *ExpressionStatement) stmt() {}
func (s *ExpressionStatement) String() string {
	return s.Expr.String()
}

func joinStatements(stmts []Statement) string {
	parts := make([]string, len(stmts))
	for i, st := range stmts {
		parts[i] = st.String()
	}
	return strings.Join(parts, " ")
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// IntegerLiteral is a 32-bit integer constant.
type IntegerLiteral struct {
	Value int32
}

func (e *IntegerLiteral) expr() {}
func (e *IntegerLiteral) String() string {
	return strconv.FormatInt(int64(e.Value), 10)
}

// StringLiteral is a string constant.
type StringLiteral struct {
	Value string
}

func (e *StringLiteral) expr() {}
func (e *StringLiteral) String() string {
	return strconv.Quote(e.Value)
}

// BooleanLiteral is true or false.
type BooleanLiteral struct {
	Value bool
}

func (e *BooleanLiteral) expr() {}
func (e *BooleanLiteral) String() string {
	return strconv.FormatBool(e.Value)
}

// Identifier is a reference to a bound name.
type Identifier struct {
	Name string
}

func (e *Identifier) expr() {}
func (e *Identifier) String() string {
	return e.Name
}

// PrefixExpression is a unary negate (-) or not (!).
type PrefixExpression struct {
	Op    lexer.TokenKind
	Right Expression
}

func (e *PrefixExpression) expr() {}
func (e *PrefixExpression) String() string {
	return fmt.Sprintf("(%s%s)", e.Op, e.Right)
}

// InfixExpression is a binary arithmetic or comparison operation.
type InfixExpression struct {
	Left  Expression
	Op    lexer.TokenKind
	Right Expression
}

func (e *InfixExpression) expr() {}
func (e *InfixExpression) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

// IfExpression is a conditional. Alternative is an empty block when the
// source has no else branch.
type IfExpression struct {
	Condition   Expression
	Consequence Statement
	Alternative Statement
}

func (e *IfExpression) expr() {}
func (e *IfExpression) String() string {
	return fmt.Sprintf("if (%s) %s else %s", e.Condition, e.Consequence, e.Alternative)
}

// FunctionLiteral is a function definition. It captures no environment.
type FunctionLiteral struct {
	Params []string
	Body   Statement
}

func (e *FunctionLiteral) expr() {}
func (e *FunctionLiteral) String() string {
	return fmt.Sprintf("fn(%s) %s", strings.Join(e.Params, ", "), e.Body)
}

// CallExpression applies Function to Args.
type CallExpression struct {
	Function Expression
	Args     []Expression
}

func (e *CallExpression) expr() {}
func (e *CallExpression) String() string {
	return fmt.Sprintf("%s(%s)", e.Function, joinExpressions(e.Args))
}

// ArrayLiteral is a bracketed element list (e.g. [1, 2, 3]).
type ArrayLiteral struct {
	Elements []Expression
}

func (e *ArrayLiteral) expr() {}
func (e *ArrayLiteral) String() string {
	return "[" + joinExpressions(e.Elements) + "]"
}

// HashPair is one key/value entry of a hash literal.
type HashPair struct {
	Key   Expression
	Value Expression
}

// HashLiteral is a braced key/value list (e.g. {"a": 1}). Pairs keep source
// order so evaluation order is deterministic.
type HashLiteral struct {
	Pairs []HashPair
}

func (e *HashLiteral) expr() {}
func (e *HashLiteral) String() string {
	parts := make([]string, len(e.Pairs))
	for i, p := range e.Pairs {
		parts[i] = p.Key.String() + ": " + p.Value.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// IndexExpression is target[index].
type IndexExpression struct {
	Left  Expression
	Index Expression
}

func (e *IndexExpression) expr() {}
func (e *IndexExpression) String() string {
	return fmt.Sprintf("(%s[%s])", e.Left, e.Index)
}

func joinExpressions(exprs []Expression) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
