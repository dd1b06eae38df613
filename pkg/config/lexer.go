// Package config implements the hierarchical VTN configuration language:
// lexer, parser, set/delete path editing and compilation to a typed Config.
package config

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType represents the type of a lexer token.
type TokenType int

const (
	TokenLBrace     TokenType = iota // {
	TokenRBrace                      // }
	TokenSemicolon                   // ;
	TokenIdentifier                  // unquoted word
	TokenString                      // "quoted string"
	TokenPipe                        // |
	TokenEOF
	TokenError
)

var tokenNames = [...]string{
	TokenLBrace:     "'{'",
	TokenRBrace:     "'}'",
	TokenSemicolon:  "';'",
	TokenIdentifier: "identifier",
	TokenString:     "string",
	TokenPipe:       "'|'",
	TokenEOF:        "EOF",
	TokenError:      "error",
}

func (t TokenType) String() string {
	if t >= 0 && int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return "unknown"
}

// Token is a single lexer token.
type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int
}

// IsWord reports whether the token carries a key: an identifier or a
// quoted string.
func (t Token) IsWord() bool {
	return t.Type == TokenIdentifier || t.Type == TokenString
}

func (t Token) String() string {
	if t.IsWord() {
		return fmt.Sprintf("%s(%q)", t.Type, t.Value)
	}
	return t.Type.String()
}

// Lexer tokenizes configuration text.
type Lexer struct {
	input  string
	pos    int
	line   int
	column int
}

// NewLexer creates a new Lexer for the given input string.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, column: 1}
}

// Next returns the next token, advancing the position.
func (l *Lexer) Next() Token {
	l.skipSpace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Line: l.line, Column: l.column}
	}

	ch := l.input[l.pos]
	line, col := l.line, l.column
	punct := func(t TokenType) Token {
		l.advance()
		return Token{Type: t, Value: string(ch), Line: line, Column: col}
	}

	switch {
	case ch == '{':
		return punct(TokenLBrace)
	case ch == '}':
		return punct(TokenRBrace)
	case ch == ';':
		return punct(TokenSemicolon)
	case ch == '|':
		return punct(TokenPipe)
	case ch == '[' || ch == ']':
		// [ a b ] lists flatten into plain words.
		l.advance()
		return l.Next()
	case ch == '"':
		return l.readString(line, col)
	case isIdentChar(ch):
		start := l.pos
		for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
			l.pos++
			l.column++
		}
		return Token{Type: TokenIdentifier, Value: l.input[start:l.pos], Line: line, Column: col}
	}
	l.advance()
	return Token{
		Type:   TokenError,
		Value:  fmt.Sprintf("unexpected character %q", ch),
		Line:   line,
		Column: col,
	}
}

// Peek returns the next token without advancing.
func (l *Lexer) Peek() Token {
	saved := *l
	tok := l.Next()
	*l = saved
	return tok
}

// Words tokenizes a single command line into its words. Structural tokens
// other than '|' are rejected.
func Words(line string) ([]string, error) {
	l := NewLexer(line)
	var words []string
	for {
		tok := l.Next()
		switch {
		case tok.Type == TokenEOF:
			return words, nil
		case tok.IsWord():
			words = append(words, tok.Value)
		case tok.Type == TokenPipe:
			words = append(words, "|")
		case tok.Type == TokenError:
			return nil, fmt.Errorf("column %d: %s", tok.Column, tok.Value)
		default:
			return nil, fmt.Errorf("column %d: unexpected %s", tok.Column, tok.Type)
		}
	}
}

func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}
	if l.input[l.pos] == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
}

func (l *Lexer) skipToEOL() {
	for l.pos < len(l.input) && l.input[l.pos] != '\n' {
		l.advance()
	}
}

// skipSpace skips whitespace and #, // and /* */ comments.
func (l *Lexer) skipSpace() {
	for l.pos < len(l.input) {
		rest := l.input[l.pos:]
		switch {
		case rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '\r':
			l.advance()
		case rest[0] == '#' || strings.HasPrefix(rest, "//"):
			l.skipToEOL()
		case strings.HasPrefix(rest, "/*"):
			l.advance()
			l.advance()
			for l.pos < len(l.input) && !strings.HasPrefix(l.input[l.pos:], "*/") {
				l.advance()
			}
			l.advance()
			l.advance()
		default:
			return
		}
	}
}

func (l *Lexer) readString(line, col int) Token {
	l.advance() // opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '\\' && l.pos+1 < len(l.input):
			l.advance()
			switch esc := l.input[l.pos]; esc {
			case '"', '\\':
				b.WriteByte(esc)
			case 'n':
				b.WriteByte('\n')
			default:
				b.WriteByte('\\')
				b.WriteByte(esc)
			}
		case ch == '"':
			l.advance()
			return Token{Type: TokenString, Value: b.String(), Line: line, Column: col}
		default:
			b.WriteByte(ch)
		}
		l.advance()
	}
	return Token{Type: TokenError, Value: "unterminated string", Line: line, Column: col}
}

// isIdentChar returns true if ch is valid in an unquoted word. Words cover
// MAC addresses (00:11:22:33:44:55), prefixes (10.0.0.0/8), port ranges
// (1024-2048) and hex values (0x8100).
func isIdentChar(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		strings.IndexByte("-_./:*+", ch) >= 0
}

// IsIdentRune is the rune version for use in tab completion.
func IsIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_./:*+", r)
}
