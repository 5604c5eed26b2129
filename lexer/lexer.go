// Package lexer turns monkeyml source text into tokens.
package lexer

import (
	"fmt"
	"iter"
	"unicode"
	"unicode/utf8"
)

// TokenKind identifies the type of a lexer token.
type TokenKind int

const (
	TokenEOF     TokenKind = iota // end of input
	TokenIllegal                  // unrecognized character

	// Literals and identifiers
	TokenIdent  // identifier
	TokenInt    // integer literal
	TokenString // string literal

	// Operators
	TokenAssign   // =
	TokenPlus     // +
	TokenMinus    // -
	TokenAsterisk // *
	TokenSlash    // /
	TokenBang     // !
	TokenEq       // ==
	TokenNotEq    // !=
	TokenLt       // <
	TokenGt       // >

	// Delimiters
	TokenComma     // ,
	TokenSemicolon // ;
	TokenColon     // :
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenLBracket  // [
	TokenRBracket  // ]

	// Keywords
	TokenFunction // fn
	TokenLet      // let
	TokenTrue     // true
	TokenFalse    // false
	TokenIf       // if
	TokenElse     // else
	TokenReturn   // return
)

var tokenNames = map[TokenKind]string{
	TokenEOF:       "EOF",
	TokenIllegal:   "illegal",
	TokenIdent:     "identifier",
	TokenInt:       "integer",
	TokenString:    "string",
	TokenAssign:    "=",
	TokenPlus:      "+",
	TokenMinus:     "-",
	TokenAsterisk:  "*",
	TokenSlash:     "/",
	TokenBang:      "!",
	TokenEq:        "==",
	TokenNotEq:     "!=",
	TokenLt:        "<",
	TokenGt:        ">",
	TokenComma:     ",",
	TokenSemicolon: ";",
	TokenColon:     ":",
	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenFunction:  "fn",
	TokenLet:       "let",
	TokenTrue:      "true",
	TokenFalse:     "false",
	TokenIf:        "if",
	TokenElse:      "else",
	TokenReturn:    "return",
}

func (k TokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token is a lexed token with position information.
type Token struct {
	Kind    TokenKind
	Literal string // raw text; string tokens hold the unquoted contents
	Pos     int    // byte offset in source
}

func (t Token) String() string {
	switch t.Kind {
	case TokenIdent, TokenInt, TokenIllegal:
		return fmt.Sprintf("%s %q", t.Kind, t.Literal)
	case TokenString:
		return fmt.Sprintf("string %q", t.Literal)
	}
	return t.Kind.String()
}

// keywords maps keyword strings to their token kinds.
var keywords = map[string]TokenKind{
	"fn":     TokenFunction,
	"let":    TokenLet,
	"true":   TokenTrue,
	"false":  TokenFalse,
	"if":     TokenIf,
	"else":   TokenElse,
	"return": TokenReturn,
}

// LookupIdent returns the keyword kind for word, or TokenIdent.
func LookupIdent(word string) TokenKind {
	if kind, ok := keywords[word]; ok {
		return kind
	}
	return TokenIdent
}

// Lexer scans source text one token at a time.
type Lexer struct {
	src string
	pos int
}

// New returns a lexer positioned at the start of src.
func New(src string) *Lexer {
	return &Lexer{src: src}
}

// Reset rewinds the lexer to the start of its source.
func (l *Lexer) Reset() {
	l.pos = 0
}

// All returns the token sequence of the whole source, starting over from the
// beginning on every range. The sequence ends before EOF or an illegal token.
func (l *Lexer) All() iter.Seq[Token] {
	return func(yield func(Token) bool) {
		l.Reset()
		for {
			tok := l.NextToken()
			if tok.Kind == TokenEOF || tok.Kind == TokenIllegal {
				return
			}
			if !yield(tok) {
				return
			}
		}
	}
}

// Lex tokenizes a source fragment. The returned slice has no trailing EOF.
func Lex(src string) ([]Token, error) {
	l := New(src)
	var tokens []Token
	for {
		tok := l.NextToken()
		switch tok.Kind {
		case TokenEOF:
			return tokens, nil
		case TokenIllegal:
			return nil, fmt.Errorf("unexpected character %q at position %d", tok.Literal, tok.Pos)
		}
		tokens = append(tokens, tok)
	}
}

// NextToken scans and returns the next token. Once the input is exhausted it
// keeps returning EOF.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	if l.pos >= len(l.src) {
		return Token{Kind: TokenEOF, Pos: l.pos}
	}

	ch, size := utf8.DecodeRuneInString(l.src[l.pos:])
	if tok, ok := l.tryDoubleCharToken(ch); ok {
		return tok
	}
	if tok, ok := l.trySingleCharToken(ch); ok {
		return tok
	}

	switch {
	case ch == '"':
		return l.lexString()
	case isDigit(ch):
		return l.lexInt()
	case isIdentChar(ch):
		return l.lexIdent()
	}

	tok := Token{Kind: TokenIllegal, Literal: l.src[l.pos : l.pos+size], Pos: l.pos}
	l.pos += size
	return tok
}

func (l *Lexer) tryDoubleCharToken(ch rune) (Token, bool) {
	switch {
	case ch == '=' && l.peekNext() == '=':
		return l.emit(TokenEq, 2), true
	case ch == '!' && l.peekNext() == '=':
		return l.emit(TokenNotEq, 2), true
	}
	return Token{}, false
}

func (l *Lexer) trySingleCharToken(ch rune) (Token, bool) {
	var kind TokenKind
	switch ch {
	case '=':
		kind = TokenAssign
	case '+':
		kind = TokenPlus
	case '-':
		kind = TokenMinus
	case '*':
		kind = TokenAsterisk
	case '/':
		kind = TokenSlash
	case '!':
		kind = TokenBang
	case '<':
		kind = TokenLt
	case '>':
		kind = TokenGt
	case ',':
		kind = TokenComma
	case ';':
		kind = TokenSemicolon
	case ':':
		kind = TokenColon
	case '(':
		kind = TokenLParen
	case ')':
		kind = TokenRParen
	case '{':
		kind = TokenLBrace
	case '}':
		kind = TokenRBrace
	case '[':
		kind = TokenLBracket
	case ']':
		kind = TokenRBracket
	default:
		return Token{}, false
	}
	return l.emit(kind, 1), true
}

func (l *Lexer) peekNext() byte {
	next := l.pos + 1
	if next >= len(l.src) {
		return 0
	}
	return l.src[next]
}

func (l *Lexer) emit(kind TokenKind, width int) Token {
	tok := Token{Kind: kind, Literal: l.src[l.pos : l.pos+width], Pos: l.pos}
	l.pos += width
	return tok
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) {
		ch, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(ch) {
			break
		}
		l.pos += size
	}
}

// lexString scans a double-quoted literal. There are no escape sequences; an
// unterminated literal is illegal.
func (l *Lexer) lexString() Token {
	start := l.pos
	l.pos++ // skip opening quote
	for l.pos < len(l.src) {
		if l.src[l.pos] == '"' {
			tok := Token{Kind: TokenString, Literal: l.src[start+1 : l.pos], Pos: start}
			l.pos++
			return tok
		}
		l.pos++
	}
	return Token{Kind: TokenIllegal, Literal: l.src[start:], Pos: start}
}

func (l *Lexer) lexInt() Token {
	start := l.pos
	for l.pos < len(l.src) && isDigit(rune(l.src[l.pos])) {
		l.pos++
	}
	return Token{Kind: TokenInt, Literal: l.src[start:l.pos], Pos: start}
}

func (l *Lexer) lexIdent() Token {
	start := l.pos
	for l.pos < len(l.src) {
		ch, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isIdentChar(ch) {
			break
		}
		l.pos += size
	}
	word := l.src[start:l.pos]
	return Token{Kind: LookupIdent(word), Literal: word, Pos: start}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

// Identifiers are letters and underscores only; digits end an identifier.
func isIdentChar(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}
