// Package parser builds monkeyml syntax trees with operator-precedence
// (Pratt) parsing. The first error aborts the parse; there is no recovery.
package parser

import (
	"fmt"
	"strconv"

	"github.com/petal-labs/monkeyml/ast"
	"github.com/petal-labs/monkeyml/lexer"
)

// TokenSource supplies tokens one at a time. Both *lexer.Lexer and
// *lexer.Stream satisfy it.
type TokenSource interface {
	NextToken() lexer.Token
}

// Precedence levels (low to high).
type precedence int

const (
	precLowest precedence = iota
	precEquals            // ==, !=
	precLessGreater       // <, >
	precSum               // +, -
	precProduct           // *, /
	precPrefix            // -x, !x
	precCall              // f(x), a[i]
)

var precedences = map[lexer.TokenKind]precedence{
	lexer.TokenEq:       precEquals,
	lexer.TokenNotEq:    precEquals,
	lexer.TokenLt:       precLessGreater,
	lexer.TokenGt:       precLessGreater,
	lexer.TokenPlus:     precSum,
	lexer.TokenMinus:    precSum,
	lexer.TokenAsterisk: precProduct,
	lexer.TokenSlash:    precProduct,
	lexer.TokenLParen:   precCall,
	lexer.TokenLBracket: precCall,
}

func precedenceOf(kind lexer.TokenKind) precedence {
	if p, ok := precedences[kind]; ok {
		return p
	}
	return precLowest
}

// Parse parses a complete source text into a Program.
func Parse(src string) (*ast.Program, error) {
	return New(lexer.New(src)).ParseProgram()
}

// Parser holds a two-token window (cur, peek) over a token source.
type Parser struct {
	src  TokenSource
	cur  lexer.Token
	peek lexer.Token
}

// New returns a parser reading from src.
func New(src TokenSource) *Parser {
	p := &Parser{src: src}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.src.NextToken()
}

// expectPeek advances when the lookahead token is of the given kind.
func (p *Parser) expectPeek(kind lexer.TokenKind) error {
	if p.peek.Kind != kind {
		return unexpected(p.peek, kind.String())
	}
	p.next()
	return nil
}

func unexpected(tok lexer.Token, want string) error {
	if tok.Kind == lexer.TokenIllegal {
		return fmt.Errorf("illegal token %q at position %d", tok.Literal, tok.Pos)
	}
	return fmt.Errorf("expected %s but got %s at position %d", want, tok.Kind, tok.Pos)
}

// ParseProgram parses statements until EOF.
func (p *Parser) ParseProgram() (*ast.Program, error) {
	prog := &ast.Program{}
	for p.cur.Kind != lexer.TokenEOF {
		if p.cur.Kind == lexer.TokenIllegal {
			return nil, unexpected(p.cur, "statement")
		}
		st, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		prog.Statements = append(prog.Statements, st)
		p.next()
	}
	return prog, nil
}

// parseStatement parses one statement starting at cur and leaves cur on its
// last token, including an optional trailing semicolon.
func (p *Parser) parseStatement() (ast.Statement, error) {
	var (
		st  ast.Statement
		err error
	)
	switch p.cur.Kind {
	case lexer.TokenLet:
		st, err = p.parseLetStatement()
	case lexer.TokenReturn:
		st, err = p.parseReturnStatement()
	case lexer.TokenLBrace:
		st, err = p.parseBlockStatement()
	default:
		st, err = p.parseExpressionStatement()
	}
	if err != nil {
		return nil, err
	}
	if p.peek.Kind == lexer.TokenSemicolon {
		p.next()
	}
	return st, nil
}

func (p *Parser) parseLetStatement() (ast.Statement, error) {
	if err := p.expectPeek(lexer.TokenIdent); err != nil {
		return nil, err
	}
	name := p.cur.Literal
	if err := p.expectPeek(lexer.TokenAssign); err != nil {
		return nil, err
	}
	p.next()
	value, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	return &ast.LetStatement{Name: name, Value: value}, nil
}

func (p *Parser) parseReturnStatement() (ast.Statement, error) {
	p.next()
	value, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	return &ast.ReturnStatement{Value: value}, nil
}

func (p *Parser) parseBlockStatement() (*ast.BlockStatement, error) {
	block := &ast.BlockStatement{}
	p.next() // skip {
	for p.cur.Kind != lexer.TokenRBrace {
		if p.cur.Kind == lexer.TokenEOF {
			return nil, unexpected(p.cur, lexer.TokenRBrace.String())
		}
		st, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		block.Statements = append(block.Statements, st)
		p.next()
	}
	return block, nil
}

func (p *Parser) parseExpressionStatement() (ast.Statement, error) {
	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	return &ast.ExpressionStatement{Expr: expr}, nil
}

// parseExpression parses a prefix term, then keeps folding infix operators
// while the lookahead binds tighter than prec.
func (p *Parser) parseExpression(prec precedence) (ast.Expression, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}

	for p.peek.Kind != lexer.TokenSemicolon && prec < precedenceOf(p.peek.Kind) {
		p.next()
		switch p.cur.Kind {
		case lexer.TokenLParen:
			left, err = p.parseCall(left)
		case lexer.TokenLBracket:
			left, err = p.parseIndex(left)
		default:
			left, err = p.parseInfix(left)
		}
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parsePrefix() (ast.Expression, error) {
	tok := p.cur

	switch tok.Kind {
	case lexer.TokenIdent:
		return &ast.Identifier{Name: tok.Literal}, nil

	case lexer.TokenInt:
		val, err := strconv.ParseInt(tok.Literal, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("integer literal %q overflows int32 at position %d", tok.Literal, tok.Pos)
		}
		return &ast.IntegerLiteral{Value: int32(val)}, nil

	case lexer.TokenString:
		return &ast.StringLiteral{Value: tok.Literal}, nil

	case lexer.TokenTrue:
		return &ast.BooleanLiteral{Value: true}, nil

	case lexer.TokenFalse:
		return &ast.BooleanLiteral{Value: false}, nil

	case lexer.TokenBang, lexer.TokenMinus:
		p.next()
		right, err := p.parseExpression(precPrefix)
		if err != nil {
			return nil, err
		}
		return &ast.PrefixExpression{Op: tok.Kind, Right: right}, nil

	case lexer.TokenLParen:
		p.next()
		expr, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil

	case lexer.TokenIf:
		return p.parseIf()

	case lexer.TokenFunction:
		return p.parseFunction()

	case lexer.TokenLBracket:
		elements, err := p.parseExpressionList(lexer.TokenRBracket)
		if err != nil {
			return nil, err
		}
		return &ast.ArrayLiteral{Elements: elements}, nil

	case lexer.TokenLBrace:
		return p.parseHash()

	default:
		return nil, unexpected(tok, "expression")
	}
}

func (p *Parser) parseInfix(left ast.Expression) (ast.Expression, error) {
	op := p.cur.Kind
	prec := precedenceOf(op)
	p.next()
	right, err := p.parseExpression(prec)
	if err != nil {
		return nil, err
	}
	return &ast.InfixExpression{Left: left, Op: op, Right: right}, nil
}

func (p *Parser) parseCall(fn ast.Expression) (ast.Expression, error) {
	args, err := p.parseExpressionList(lexer.TokenRParen)
	if err != nil {
		return nil, err
	}
	return &ast.CallExpression{Function: fn, Args: args}, nil
}

func (p *Parser) parseIndex(left ast.Expression) (ast.Expression, error) {
	p.next() // skip [
	index, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.TokenRBracket); err != nil {
		return nil, err
	}
	return &ast.IndexExpression{Left: left, Index: index}, nil
}

// parseIf parses `if (COND) STMT [else STMT]`. Branches are single statements,
// so both blocks and bare statements are accepted.
func (p *Parser) parseIf() (ast.Expression, error) {
	if err := p.expectPeek(lexer.TokenLParen); err != nil {
		return nil, err
	}
	p.next()
	cond, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.TokenRParen); err != nil {
		return nil, err
	}
	p.next()
	consequence, err := p.parseStatement()
	if err != nil {
		return nil, err
	}

	expr := &ast.IfExpression{
		Condition:   cond,
		Consequence: consequence,
		Alternative: &ast.BlockStatement{},
	}
	if p.peek.Kind == lexer.TokenElse {
		p.next()
		p.next()
		alt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		expr.Alternative = alt
	}
	return expr, nil
}

// parseFunction parses `fn (PARAM, ...) STMT`.
func (p *Parser) parseFunction() (ast.Expression, error) {
	if err := p.expectPeek(lexer.TokenLParen); err != nil {
		return nil, err
	}

	var params []string
	if p.peek.Kind == lexer.TokenRParen {
		p.next()
	} else {
		for {
			if err := p.expectPeek(lexer.TokenIdent); err != nil {
				return nil, err
			}
			params = append(params, p.cur.Literal)
			if p.peek.Kind != lexer.TokenComma {
				break
			}
			p.next() // skip comma
		}
		if err := p.expectPeek(lexer.TokenRParen); err != nil {
			return nil, err
		}
	}

	p.next()
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &ast.FunctionLiteral{Params: params, Body: body}, nil
}

// parseExpressionList parses comma-separated expressions up to end. On entry
// cur is the opening delimiter; on return cur is end.
func (p *Parser) parseExpressionList(end lexer.TokenKind) ([]ast.Expression, error) {
	var list []ast.Expression

	if p.peek.Kind == end {
		p.next()
		return list, nil
	}

	for {
		p.next()
		elem, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		list = append(list, elem)

		if p.peek.Kind != lexer.TokenComma {
			break
		}
		p.next() // skip comma
	}

	if err := p.expectPeek(end); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *Parser) parseHash() (ast.Expression, error) {
	hash := &ast.HashLiteral{}

	for p.peek.Kind != lexer.TokenRBrace {
		p.next()
		key, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.TokenColon); err != nil {
			return nil, err
		}
		p.next()
		value, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		hash.Pairs = append(hash.Pairs, ast.HashPair{Key: key, Value: value})

		if p.peek.Kind == lexer.TokenRBrace {
			break
		}
		if err := p.expectPeek(lexer.TokenComma); err != nil {
			return nil, err
		}
	}

	p.next() // consume }
	return hash, nil
}
