// Package template turns .ml page templates into monkeyml programs.
//
// A template is read line by line. A line consisting of exactly "<%" opens
// a code region and a line consisting of exactly "%>" closes it. Lines in a
// code region are lexed as monkeyml source; every other line is emitted
// verbatim through println.
package template

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/petal-labs/monkeyml/ast"
	"github.com/petal-labs/monkeyml/eval"
	"github.com/petal-labs/monkeyml/lexer"
	"github.com/petal-labs/monkeyml/parser"
)

// Extension is the file extension of templates.
const Extension = ".ml"

const (
	openCode  = "<%"
	closeCode = "%>"
)

// IsTemplate reports whether path names a template file.
func IsTemplate(path string) bool {
	return filepath.Ext(path) == Extension
}

// Rewrite converts template source into a single token stream. The
// returned slice does not include the terminating EOF token; wrap it in a
// lexer.Stream to parse it.
func Rewrite(src string) ([]lexer.Token, error) {
	var (
		tokens []lexer.Token
		inCode bool
		offset int
	)
	for raw := range strings.Lines(src) {
		start := offset
		offset += len(raw)
		line := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")

		switch {
		case inCode && line == closeCode:
			inCode = false
		case inCode:
			code, err := lexer.Lex(line)
			if err != nil {
				return nil, fmt.Errorf("template: line at offset %d: %w", start, err)
			}
			for _, tok := range code {
				tok.Pos += start
				tokens = append(tokens, tok)
			}
		case line == openCode:
			inCode = true
		default:
			tokens = append(tokens, literalLine(line, start)...)
		}
	}
	return tokens, nil
}

func literalLine(line string, pos int) []lexer.Token {
	return []lexer.Token{
		{Kind: lexer.TokenIdent, Literal: "println", Pos: pos},
		{Kind: lexer.TokenLParen, Literal: "(", Pos: pos},
		{Kind: lexer.TokenString, Literal: line, Pos: pos},
		{Kind: lexer.TokenRParen, Literal: ")", Pos: pos},
	}
}

// Parse rewrites and parses a template.
func Parse(src string) (*ast.Program, error) {
	tokens, err := Rewrite(src)
	if err != nil {
		return nil, err
	}
	prog, err := parser.New(lexer.NewStream(tokens)).ParseProgram()
	if err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	return prog, nil
}

// ParseValue converts a request parameter into a value: "true" and "false"
// become booleans, anything that parses as a 32-bit integer once trimmed
// becomes an integer, and everything else stays a string.
func ParseValue(s string) eval.Value {
	switch s {
	case "true":
		return eval.Boolean(true)
	case "false":
		return eval.Boolean(false)
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32); err == nil {
		return eval.Integer(n)
	}
	return eval.String(s)
}

// Params builds the hash bound to get or post. When a name repeats, the
// last value wins.
func Params(values url.Values) *eval.Hash {
	h := eval.NewHash()
	for name, vals := range values {
		if len(vals) == 0 {
			continue
		}
		h.Pairs[eval.HashKey(eval.String(name))] = ParseValue(vals[len(vals)-1])
	}
	return h
}
