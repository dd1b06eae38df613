package config

import (
	"fmt"
)

// ParseError is a syntax error with its position in the input.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// Parser builds a ConfigTree from hierarchical configuration text.
type Parser struct {
	lex  *Lexer
	errs []error
}

// NewParser creates a parser for input.
func NewParser(input string) *Parser {
	return &Parser{lex: NewLexer(input)}
}

// Parse parses the whole input. It keeps going after a syntax error so all
// errors are reported; the tree is only meaningful when errs is empty.
func (p *Parser) Parse() (*ConfigTree, []error) {
	tree := &ConfigTree{}
	tree.Children = p.parseBlock(true)
	return tree, p.errs
}

func (p *Parser) errorf(tok Token, format string, args ...any) {
	p.errs = append(p.errs, &ParseError{
		Line:    tok.Line,
		Column:  tok.Column,
		Message: fmt.Sprintf(format, args...),
	})
}

// parseBlock reads statements until '}' (consumed) or EOF.
func (p *Parser) parseBlock(top bool) []*Node {
	var nodes []*Node
	for {
		tok := p.lex.Peek()
		switch tok.Type {
		case TokenEOF:
			if !top {
				p.errorf(tok, "missing '}'")
			}
			return nodes
		case TokenRBrace:
			p.lex.Next()
			if top {
				p.errorf(tok, "unexpected '}'")
				continue
			}
			return nodes
		case TokenSemicolon:
			p.lex.Next()
			continue
		}
		if n := p.parseStatement(); n != nil {
			nodes = append(nodes, n)
		}
	}
}

// parseStatement reads "keys... ;" or "keys... { ... }".
func (p *Parser) parseStatement() *Node {
	first := p.lex.Peek()
	n := &Node{Line: first.Line, Column: first.Column}
	for {
		tok := p.lex.Peek()
		if tok.Type == TokenRBrace || tok.Type == TokenEOF {
			// Leave the closing brace to the enclosing block.
			p.errorf(tok, "missing ';' after %q", n.KeyPath())
			n.IsLeaf = true
			return n
		}
		p.lex.Next()
		switch {
		case tok.IsWord():
			n.Keys = append(n.Keys, tok.Value)
		case tok.Type == TokenSemicolon:
			n.IsLeaf = true
			return n
		case tok.Type == TokenLBrace:
			if len(n.Keys) == 0 {
				p.errorf(tok, "block without a name")
			}
			n.Children = p.parseBlock(false)
			if n.Children == nil {
				n.Children = []*Node{}
			}
			return n
		case tok.Type == TokenError:
			p.errorf(tok, "%s", tok.Value)
		default:
			p.errorf(tok, "unexpected %s", tok.Type)
		}
	}
}

// ParseSetCommand splits a "set ..." or "delete ..." command into its path.
func ParseSetCommand(cmd string) ([]string, error) {
	words, err := Words(cmd)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	switch words[0] {
	case "set", "delete":
		words = words[1:]
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%s: path required", cmd)
	}
	for _, w := range words {
		if w == "|" {
			return nil, fmt.Errorf("unexpected '|' in configuration path")
		}
	}
	return words, nil
}

// ParseSetCommands builds a tree from a list of "set" lines, the format
// produced by ConfigTree.FormatSet. Blank lines and # comments are skipped.
func ParseSetCommands(lines []string) (*ConfigTree, error) {
	tree := &ConfigTree{}
	for i, line := range lines {
		words, err := Words(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if len(words) == 0 {
			continue
		}
		if words[0] != "set" {
			return nil, fmt.Errorf("line %d: expected set command", i+1)
		}
		if err := tree.SetPath(words[1:]); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return tree, nil
}
