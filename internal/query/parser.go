package query

import (
	"fmt"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
)

// SyntaxError is returned for malformed queries. It unwraps to a QUERY
// PARSE_ERROR so callers can classify it with the errors package.
type SyntaxError struct {
	Message  string
	Position int
	Token    string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("query syntax error at position %d: %s", e.Position, e.Message)
	}
	return fmt.Sprintf("query syntax error at position %d: %s (got %s)", e.Position, e.Message, e.Token)
}

func (e *SyntaxError) Unwrap() error {
	return shardErrors.NewQueryError(shardErrors.CodeParseError, e.Message)
}

// Parser is a recursive-descent parser over the query grammar:
//
//	query   := orExpr
//	orExpr  := andExpr (OR andExpr)*
//	andExpr := notExpr (AND notExpr)*
//	notExpr := [NOT] atom
//	atom    := '(' query ')' | term
//	term    := [field (':'|'=')] pattern
type Parser struct {
	lexer    *Lexer
	curToken Token
}

// NewParser creates a Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.nextToken()
	return p
}

// Parse parses input into an expression tree. An empty or whitespace-only
// query returns a nil Node.
func Parse(input string) (Node, error) {
	p := NewParser(input)
	if p.curToken.Type == TokenEOF {
		return nil, nil
	}

	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	switch p.curToken.Type {
	case TokenEOF:
		return n, nil
	case TokenTerm, TokenLParen, TokenNot:
		return nil, p.errorf("missing AND or OR between terms")
	case TokenRParen:
		return nil, p.errorf("unbalanced ')'")
	default:
		return nil, p.errorf("unexpected %s", p.curToken.Type)
	}
}

func (p *Parser) nextToken() {
	p.curToken = p.lexer.NextToken()
}

func (p *Parser) errorf(format string, args ...interface{}) *SyntaxError {
	lit := p.curToken.Literal
	if p.curToken.Type == TokenEOF {
		lit = "end of query"
	}
	return &SyntaxError{
		Message:  fmt.Sprintf(format, args...),
		Position: p.curToken.Pos,
		Token:    lit,
	}
}

func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.curToken.Type == TokenOr {
		p.nextToken()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.curToken.Type == TokenAnd {
		p.nextToken()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Node, error) {
	if p.curToken.Type != TokenNot {
		return p.parseAtom()
	}
	p.nextToken()
	inner, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	return &Not{Inner: inner}, nil
}

func (p *Parser) parseAtom() (Node, error) {
	switch p.curToken.Type {
	case TokenLParen:
		p.nextToken()
		if p.curToken.Type == TokenRParen {
			return nil, p.errorf("empty parentheses")
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.curToken.Type != TokenRParen {
			if p.curToken.Type == TokenEOF {
				return nil, p.errorf("unbalanced '(': expected ')'")
			}
			return nil, p.errorf("expected ')'")
		}
		p.nextToken()
		return &Group{Inner: inner}, nil

	case TokenTerm:
		tok := p.curToken
		re, err := CompilePattern(tok.Pattern)
		if err != nil {
			return nil, p.errorf("bad pattern: %v", err)
		}
		p.nextToken()
		return &Term{Field: tok.Field, Pattern: tok.Pattern, re: re}, nil

	case TokenError:
		return nil, p.errorf("%s", p.curToken.Literal)

	case TokenEOF:
		return nil, p.errorf("expected a term or '('")

	default:
		return nil, p.errorf("expected a term or '('")
	}
}
