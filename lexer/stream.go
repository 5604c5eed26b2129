package lexer

// Stream replays a pre-built token slice. It satisfies the same NextToken
// contract as Lexer, so rewritten token sequences can be parsed directly.
type Stream struct {
	tokens []Token
	pos    int
}

// NewStream returns a stream over tokens. A trailing EOF is optional.
func NewStream(tokens []Token) *Stream {
	return &Stream{tokens: tokens}
}

// NextToken returns the next token, or EOF once the slice is exhausted.
func (s *Stream) NextToken() Token {
	if s.pos >= len(s.tokens) {
		pos := 0
		if n := len(s.tokens); n > 0 {
			pos = s.tokens[n-1].Pos
		}
		return Token{Kind: TokenEOF, Pos: pos}
	}
	tok := s.tokens[s.pos]
	s.pos++
	return tok
}
