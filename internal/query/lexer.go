package query

import (
	"fmt"
	"strings"
)

// TokenType is the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError
	TokenTerm
	TokenAnd
	TokenOr
	TokenNot
	TokenLParen
	TokenRParen
)

// String returns the string representation of a TokenType.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of query"
	case TokenError:
		return "ERROR"
	case TokenTerm:
		return "TERM"
	case TokenAnd:
		return "AND"
	case TokenOr:
		return "OR"
	case TokenNot:
		return "NOT"
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	default:
		return "UNKNOWN"
	}
}

var keywords = map[string]TokenType{
	"AND": TokenAnd,
	"OR":  TokenOr,
	"NOT": TokenNot,
}

// Token is a lexical token. Term tokens carry their decoded field and
// pattern; quoted segments are unescaped and never split on ':' or '='.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int

	Field    string
	HasField bool
	Pattern  string
}

// String returns a string representation of the token.
func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d}", t.Type, t.Literal, t.Pos)
}

// Lexer tokenizes query input.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	start := l.pos
	switch l.input[l.pos] {
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Literal: "(", Pos: start}
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Literal: ")", Pos: start}
	}
	return l.readTerm()
}

// readTerm scans up to the next unquoted space or parenthesis.
func (l *Lexer) readTerm() Token {
	start := l.pos

	var (
		cur      strings.Builder
		field    string
		hasField bool
		quoted   bool

		// valueQuoted is set when the pattern after the separator was quoted
		valueQuoted bool
	)
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isSpace(ch) || ch == '(' || ch == ')' {
			break
		}
		switch {
		case ch == '"':
			quoted = true
			valueQuoted = hasField
			s, err := l.readQuoted()
			if err != nil {
				return Token{Type: TokenError, Literal: err.Error(), Pos: start}
			}
			cur.WriteString(s)
		case (ch == ':' || ch == '=') && !hasField:
			field, hasField = strings.TrimSpace(cur.String()), true
			cur.Reset()
			l.pos++
		default:
			cur.WriteByte(ch)
			l.pos++
		}
	}

	lit := l.input[start:l.pos]
	if !quoted {
		if kw, ok := keywords[strings.ToUpper(lit)]; ok {
			return Token{Type: kw, Literal: lit, Pos: start}
		}
	}

	tok := Token{Type: TokenTerm, Literal: lit, Pos: start, Pattern: cur.String()}
	switch {
	case hasField && field != "" && (tok.Pattern != "" || valueQuoted):
		tok.Field, tok.HasField = field, true
	case hasField:
		// "field:" or ":value" is searched literally, separator included.
		tok.Pattern = lit
		if quoted {
			tok.Pattern = unquoteAll(lit)
		}
	}
	return tok
}

// readQuoted consumes a double-quoted segment starting at l.pos and returns
// its unescaped content.
func (l *Lexer) readQuoted() (string, error) {
	start := l.pos
	l.pos++ // opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '\\' && l.pos+1 < len(l.input):
			sb.WriteByte(l.input[l.pos+1])
			l.pos += 2
		case ch == '"':
			l.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(ch)
			l.pos++
		}
	}
	return "", fmt.Errorf("unterminated quoted string at position %d", start)
}

func unquoteAll(s string) string {
	l := NewLexer(s)
	var sb strings.Builder
	for l.pos < len(l.input) {
		if l.input[l.pos] == '"' {
			q, err := l.readQuoted()
			if err != nil {
				return s
			}
			sb.WriteString(q)
			continue
		}
		sb.WriteByte(l.input[l.pos])
		l.pos++
	}
	return sb.String()
}
