// Package eval is the tree-walking evaluator for monkeyml programs.
//
// Evaluation never fails on semantic problems: type mismatches, unbound
// names, out-of-range indexes and calls to non-functions all produce null.
// Parse errors are returned as errors. Integer division by zero is a native
// fault and panics; callers that host untrusted programs recover it at their
// own boundary.
package eval

import (
	"fmt"
	"io"
	"strings"

	"github.com/petal-labs/monkeyml/ast"
	"github.com/petal-labs/monkeyml/lexer"
	"github.com/petal-labs/monkeyml/parser"
)

// Evaluate parses src and evaluates it against state. Text emitted by
// builtins is buffered and written to out once the program completes. The
// result is the value of the last top-level statement, or nil when that
// statement produced none.
func Evaluate(state *State, src string, out io.Writer) (Value, error) {
	prog, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	return EvalProgram(state, prog, out)
}

// EvalProgram evaluates an already parsed program against state.
func EvalProgram(state *State, prog *ast.Program, out io.Writer) (Value, error) {
	ev := &evaluator{}
	result := ev.evalStatements(prog.Statements, state)
	if out != nil && ev.out.Len() > 0 {
		if _, err := io.WriteString(out, ev.out.String()); err != nil {
			return nil, fmt.Errorf("write output: %w", err)
		}
	}
	if result == nil {
		return nil, nil
	}
	return unwrapReturn(result), nil
}

type evaluator struct {
	out strings.Builder
}

// evalStatements runs stmts in order and keeps the last value. A return
// wrapper stops the sequence and is passed up unchanged.
func (ev *evaluator) evalStatements(stmts []ast.Statement, state *State) Value {
	var result Value
	for _, st := range stmts {
		result = ev.evalStatement(st, state)
		if _, ok := result.(*ReturnValue); ok {
			return result
		}
	}
	return result
}

// evalStatement returns nil for statements that produce no value.
func (ev *evaluator) evalStatement(st ast.Statement, state *State) Value {
	switch s := st.(type) {
	case *ast.LetStatement:
		state.Set(s.Name, unwrapReturn(ev.eval(s.Value, state)))
		return nil

	case *ast.ReturnStatement:
		return &ReturnValue{Value: unwrapReturn(ev.eval(s.Value, state))}

	case *ast.BlockStatement:
		return ev.evalStatements(s.Statements, state)

	case *ast.ExpressionStatement:
		return ev.eval(s.Expr, state)

	default:
		panic(fmt.Sprintf("eval: unknown statement type %T", st))
	}
}

// eval always returns a non-nil value.
func (ev *evaluator) eval(e ast.Expression, state *State) Value {
	switch n := e.(type) {
	case *ast.IntegerLiteral:
		return Integer(n.Value)

	case *ast.StringLiteral:
		return String(n.Value)

	case *ast.BooleanLiteral:
		return Boolean(n.Value)

	case *ast.Identifier:
		if v, ok := state.Get(n.Name); ok {
			return v
		}
		return NullValue

	case *ast.PrefixExpression:
		return evalPrefix(n.Op, ev.eval(n.Right, state))

	case *ast.InfixExpression:
		left := ev.eval(n.Left, state)
		right := ev.eval(n.Right, state)
		return evalInfix(n.Op, left, right)

	case *ast.IfExpression:
		return ev.evalIf(n, state)

	case *ast.FunctionLiteral:
		return &Function{Params: n.Params, Body: n.Body}

	case *ast.CallExpression:
		return ev.evalCall(n, state)

	case *ast.ArrayLiteral:
		elements := make(Array, len(n.Elements))
		for i, el := range n.Elements {
			elements[i] = unwrapReturn(ev.eval(el, state))
		}
		return elements

	case *ast.HashLiteral:
		hash := &Hash{Pairs: make(map[string]Value, len(n.Pairs))}
		for _, pair := range n.Pairs {
			key := unwrapReturn(ev.eval(pair.Key, state))
			hash.Pairs[HashKey(key)] = unwrapReturn(ev.eval(pair.Value, state))
		}
		return hash

	case *ast.IndexExpression:
		return evalIndex(ev.eval(n.Left, state), ev.eval(n.Index, state))

	default:
		panic(fmt.Sprintf("eval: unknown expression type %T", e))
	}
}

func evalPrefix(op lexer.TokenKind, right Value) Value {
	switch op {
	case lexer.TokenMinus:
		if i, ok := right.(Integer); ok {
			return -i
		}
	case lexer.TokenBang:
		if b, ok := right.(Boolean); ok {
			return !b
		}
	}
	return NullValue
}

func evalInfix(op lexer.TokenKind, left, right Value) Value {
	if op == lexer.TokenPlus {
		_, ls := left.(String)
		_, rs := right.(String)
		if ls || rs {
			return String(left.String() + right.String())
		}
	}

	l, lok := left.(Integer)
	r, rok := right.(Integer)
	if !lok || !rok {
		return NullValue
	}

	switch op {
	case lexer.TokenPlus:
		return l + r
	case lexer.TokenMinus:
		return l - r
	case lexer.TokenAsterisk:
		return l * r
	case lexer.TokenSlash:
		return l / r // panics on zero
	case lexer.TokenEq:
		return Boolean(l == r)
	case lexer.TokenNotEq:
		return Boolean(l != r)
	case lexer.TokenLt:
		return Boolean(l < r)
	case lexer.TokenGt:
		return Boolean(l > r)
	}
	return NullValue
}

// evalIf runs one branch for a boolean condition. Any other condition yields
// null and runs neither branch.
func (ev *evaluator) evalIf(n *ast.IfExpression, state *State) Value {
	cond, ok := ev.eval(n.Condition, state).(Boolean)
	if !ok {
		return NullValue
	}
	if cond {
		return orNull(ev.evalStatement(n.Consequence, state))
	}
	return orNull(ev.evalStatement(n.Alternative, state))
}

// evalCall invokes a function in a copy of the caller's state with the
// parameters overlaid. Extra arguments are not evaluated; missing ones leave
// the parameter name as the caller had it.
func (ev *evaluator) evalCall(n *ast.CallExpression, state *State) Value {
	switch fn := ev.eval(n.Function, state).(type) {
	case *Function:
		frame := state.Clone()
		bound := min(len(n.Args), len(fn.Params))
		for i := 0; i < bound; i++ {
			frame.Set(fn.Params[i], unwrapReturn(ev.eval(n.Args[i], state)))
		}
		return orNull(unwrapReturn(ev.evalStatement(fn.Body, frame)))

	case *Builtin:
		args := make([]Value, len(n.Args))
		for i, arg := range n.Args {
			args[i] = unwrapReturn(ev.eval(arg, state))
		}
		result, text := fn.Fn(args)
		ev.out.WriteString(text)
		return orNull(result)

	default:
		return NullValue
	}
}

func evalIndex(left, index Value) Value {
	switch target := left.(type) {
	case Array:
		i, ok := index.(Integer)
		if !ok || i < 0 || int(i) >= len(target) {
			return NullValue
		}
		return target[i]
	case *Hash:
		if v, ok := target.Get(index); ok {
			return v
		}
	}
	return NullValue
}
