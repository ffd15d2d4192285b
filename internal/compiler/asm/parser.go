package asm

import (
	"fmt"
	"strings"

	"github.com/compilo-build/compilo/compiler/errors"
	"github.com/compilo-build/compilo/internal/unit"
)

// ParseError is a syntax error with its position.
type ParseError struct {
	Code    string
	Message string
	Pos     Pos
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Parser builds a File from tokens. It recovers from errors by skipping to
// the next line, so one pass reports every independent problem.
type Parser struct {
	tokens  []Token
	current int
	errors  []ParseError
}

// errSync unwinds the current declaration after an error was recorded.
type errSync struct{}

// NewParser creates a parser over tokens, which must end with TOKEN_EOF.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses the whole token stream.
func (p *Parser) Parse(name string) (*File, []ParseError) {
	file := &File{Name: name}

	for !p.isAtEnd() {
		u := p.unitDecl()
		if u != nil {
			file.Units = append(file.Units, u)
		}
	}
	return file, p.errors
}

// unitDecl parses a unit header and its members. On a header error it skips
// to the next unit keyword.
func (p *Parser) unitDecl() (u *UnitDecl) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(errSync); !ok {
				panic(r)
			}
			for !p.isAtEnd() && !p.check(TOKEN_UNIT) {
				p.advance()
			}
			u = nil
		}
	}()

	flags := p.modifiers()
	if p.check(TOKEN_AT) {
		p.fail(errors.ErrInvalidAnnotation, p.peek(), "tags are only allowed on methods")
	}
	kw := p.expect(TOKEN_UNIT, errors.ErrUnexpectedToken, "expected 'unit'")
	name := p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedIdentifier, "expected unit name")

	u = &UnitDecl{Pos: posOf(kw), Flags: flags, Name: name.Lexeme}

	if p.match(TOKEN_EXTENDS) {
		u.Super = p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedIdentifier, "expected super unit name").Lexeme
	}
	if p.match(TOKEN_REQUIRES) {
		for {
			tok := p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedIdentifier, "expected requirement (dir, props or out)")
			need, ok := unit.ParseNeed(tok.Lexeme)
			if !ok {
				p.fail(errors.ErrUnknownRequirement, tok, fmt.Sprintf("unknown requirement %q (expected dir, props or out)", tok.Lexeme))
			}
			u.Requires |= need
			if !p.match(TOKEN_COMMA) {
				break
			}
		}
	}

	for !p.isAtEnd() && !p.startsUnit() {
		if m := p.methodDecl(); m != nil {
			u.Methods = append(u.Methods, m)
		}
	}
	return u
}

// startsUnit reports whether the upcoming tokens are modifiers followed by
// the unit keyword.
func (p *Parser) startsUnit() bool {
	for i := p.current; i < len(p.tokens); i++ {
		tok := p.tokens[i]
		if tok.Type == TOKEN_UNIT {
			return true
		}
		if tok.Type != TOKEN_IDENTIFIER {
			return false
		}
		if _, ok := unit.ParseFlag(tok.Lexeme); !ok {
			return false
		}
	}
	return false
}

// methodDecl parses one method. On error it skips past the method body.
func (p *Parser) methodDecl() (m *MethodDecl) {
	start := p.current
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(errSync); !ok {
				panic(r)
			}
			p.skipMember(start)
			m = nil
		}
	}()

	m = &MethodDecl{}
	for p.check(TOKEN_AT) {
		tag, build := p.tag()
		if build {
			m.BuildTags = append(m.BuildTags, tag)
		} else {
			m.RuntimeTags = append(m.RuntimeTags, tag)
		}
	}
	m.Flags = p.modifiers()

	kw := p.expect(TOKEN_METHOD, errors.ErrUnexpectedToken, "expected 'method'")
	name := p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedIdentifier, "expected method name")
	m.Pos = posOf(kw)
	m.Name = name.Lexeme

	p.expect(TOKEN_LPAREN, errors.ErrExpectedParen, "expected '(' after method name")
	if !p.check(TOKEN_RPAREN) {
		for {
			pname := p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedIdentifier, "expected parameter name")
			ptype := p.valueType(false)
			m.Params = append(m.Params, VarDecl{Pos: posOf(pname), Name: pname.Lexeme, Type: ptype})
			if !p.match(TOKEN_COMMA) {
				break
			}
		}
	}
	p.expect(TOKEN_RPAREN, errors.ErrExpectedParen, "expected ')' after parameters")
	m.Return = p.valueType(true)

	if !p.check(TOKEN_LBRACE) {
		if !m.Flags.Has(unit.Abstract) {
			p.fail(errors.ErrMissingBlock, p.peek(), fmt.Sprintf("method %s needs a body", m.Name))
		}
		return m
	}

	p.advance()
	m.HasBody = true
	m.Body = p.body()
	return m
}

// body parses statements up to and including the closing brace. Errors in
// one statement skip the rest of its line and parsing continues.
func (p *Parser) body() []Stmt {
	var stmts []Stmt
	for !p.check(TOKEN_RBRACE) {
		if p.isAtEnd() {
			p.fail(errors.ErrExpectedBrace, p.peek(), "expected '}' to close method body")
		}
		if s, ok := p.statement(); ok {
			stmts = append(stmts, s)
		}
	}
	p.advance()
	return stmts
}

func (p *Parser) statement() (s Stmt, ok bool) {
	line := p.peek().Line
	defer func() {
		if r := recover(); r != nil {
			if _, isSync := r.(errSync); !isSync {
				panic(r)
			}
			for !p.isAtEnd() && !p.check(TOKEN_RBRACE) && p.peek().Line == line {
				p.advance()
			}
			ok = false
		}
	}()

	if p.match(TOKEN_LOCAL) {
		kw := p.previous()
		name := p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedIdentifier, "expected local name")
		typ := p.valueType(false)
		return Stmt{Kind: StmtLocal, Pos: posOf(kw), Local: VarDecl{Pos: posOf(name), Name: name.Lexeme, Type: typ}}, true
	}

	tok := p.expect(TOKEN_IDENTIFIER, errors.ErrUnexpectedToken, "expected instruction or label")
	if p.match(TOKEN_COLON) {
		return Stmt{Kind: StmtLabel, Pos: posOf(tok), Label: tok.Lexeme}, true
	}

	op, found := unit.LookupOpcode(strings.ToUpper(tok.Lexeme))
	if !found {
		p.fail(errors.ErrUnknownMnemonic, tok, fmt.Sprintf("unknown instruction %q", tok.Lexeme))
	}
	return Stmt{Kind: StmtInsn, Pos: posOf(tok), Insn: p.operands(op)}, true
}

func (p *Parser) operands(op unit.Opcode) InsnStmt {
	in := InsnStmt{Op: op}

	switch op {
	case unit.OpIConst:
		tok := p.expect(TOKEN_INT_LITERAL, errors.ErrInvalidSyntax, "iconst needs an integer")
		in.Int = tok.Literal.(int64)
	case unit.OpSConst:
		tok := p.expect(TOKEN_STRING_LITERAL, errors.ErrInvalidSyntax, "sconst needs a string")
		in.Str = tok.Literal.(string)
	case unit.OpLoad, unit.OpStore:
		tok := p.advance()
		switch tok.Type {
		case TOKEN_INT_LITERAL:
			in.Int = tok.Literal.(int64)
		case TOKEN_IDENTIFIER:
			in.Ref = tok.Lexeme
			in.RefPos = posOf(tok)
		default:
			p.fail(errors.ErrInvalidSyntax, tok, fmt.Sprintf("%s needs a local name or slot", strings.ToLower(op.String())))
		}
	case unit.OpJump, unit.OpJumpIf, unit.OpJumpIfNot:
		tok := p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedIdentifier, "jump needs a label")
		in.Ref = tok.Lexeme
		in.RefPos = posOf(tok)
	case unit.OpInvoke:
		first := p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedIdentifier, "invoke needs a method")
		in.Name = first.Lexeme
		if p.match(TOKEN_DOT) {
			in.Owner = first.Lexeme
			in.Name = p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedIdentifier, "expected method name after '.'").Lexeme
		}
		in.RefPos = posOf(first)
		in.Desc = p.descriptor()
	case unit.OpNative:
		tok := p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedIdentifier, "native needs a name")
		in.Name = tok.Lexeme
		in.RefPos = posOf(tok)
		in.Desc = p.descriptor()
	}
	return in
}

// descriptor parses the compact form "(IS)V".
func (p *Parser) descriptor() unit.Descriptor {
	open := p.expect(TOKEN_LPAREN, errors.ErrExpectedParen, "expected descriptor")
	args := ""
	if p.check(TOKEN_IDENTIFIER) {
		args = p.advance().Lexeme
	}
	p.expect(TOKEN_RPAREN, errors.ErrExpectedParen, "expected ')' in descriptor")
	ret := p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedType, "expected descriptor return type")

	d, err := unit.ParseDescriptor("(" + args + ")" + ret.Lexeme)
	if err != nil {
		p.fail(errors.ErrExpectedType, open, err.Error())
	}
	return d
}

// valueType parses I, S or, when allowVoid, V.
func (p *Parser) valueType(allowVoid bool) unit.Type {
	tok := p.expect(TOKEN_IDENTIFIER, errors.ErrExpectedType, "expected type")
	if len(tok.Lexeme) == 1 {
		switch t := unit.Type(tok.Lexeme[0]); t {
		case unit.Int, unit.String:
			return t
		case unit.Void:
			if allowVoid {
				return t
			}
		}
	}
	if allowVoid {
		p.fail(errors.ErrExpectedType, tok, fmt.Sprintf("expected I, S or V, got %q", tok.Lexeme))
	}
	p.fail(errors.ErrExpectedType, tok, fmt.Sprintf("expected I or S, got %q", tok.Lexeme))
	return 0
}

// tag parses @name or @@name with optional (key="value", ...) attributes.
func (p *Parser) tag() (unit.Tag, bool) {
	p.advance()
	build := p.match(TOKEN_AT)
	name := p.expect(TOKEN_IDENTIFIER, errors.ErrInvalidAnnotation, "expected tag name after '@'")

	tag := unit.Tag{Type: name.Lexeme}
	if p.match(TOKEN_LPAREN) {
		tag.Attrs = make(map[string]string)
		for !p.check(TOKEN_RPAREN) {
			key := p.expect(TOKEN_IDENTIFIER, errors.ErrInvalidAnnotation, "expected attribute name")
			p.expect(TOKEN_EQUALS, errors.ErrInvalidAnnotation, "expected '=' after attribute name")
			val := p.expect(TOKEN_STRING_LITERAL, errors.ErrInvalidAnnotation, "attribute values are strings")
			tag.Attrs[key.Lexeme] = val.Literal.(string)
			if !p.match(TOKEN_COMMA) {
				break
			}
		}
		p.expect(TOKEN_RPAREN, errors.ErrInvalidAnnotation, "expected ')' to close tag attributes")
		if len(tag.Attrs) == 0 {
			tag.Attrs = nil
		}
	}
	return tag, build
}

func (p *Parser) modifiers() unit.Flags {
	var flags unit.Flags
	for p.check(TOKEN_IDENTIFIER) {
		f, ok := unit.ParseFlag(p.peek().Lexeme)
		if !ok {
			break
		}
		flags |= f
		p.advance()
	}
	if p.check(TOKEN_IDENTIFIER) && p.checkNext(TOKEN_METHOD) {
		tok := p.peek()
		p.fail(errors.ErrUnknownModifier, tok, fmt.Sprintf("unknown modifier %q", tok.Lexeme))
	}
	return flags
}

// skipMember discards tokens of a broken method: through its body if one
// was opened, otherwise up to the next member or unit.
func (p *Parser) skipMember(start int) {
	depth := 0
	for i := start; i < p.current; i++ {
		switch p.tokens[i].Type {
		case TOKEN_LBRACE:
			depth++
		case TOKEN_RBRACE:
			depth--
		}
	}
	if depth > 0 {
		for !p.isAtEnd() && depth > 0 {
			switch p.advance().Type {
			case TOKEN_LBRACE:
				depth++
			case TOKEN_RBRACE:
				depth--
			}
		}
		return
	}
	if p.current == start {
		p.advance()
	}
	for !p.isAtEnd() && !p.check(TOKEN_AT) && !p.check(TOKEN_METHOD) && !p.startsUnit() && !p.startsMember() {
		p.advance()
	}
}

// startsMember reports whether modifiers followed by 'method' come next.
func (p *Parser) startsMember() bool {
	for i := p.current; i < len(p.tokens); i++ {
		tok := p.tokens[i]
		if tok.Type == TOKEN_METHOD {
			return true
		}
		if tok.Type != TOKEN_IDENTIFIER {
			return false
		}
		if _, ok := unit.ParseFlag(tok.Lexeme); !ok {
			return false
		}
	}
	return false
}

// Helper methods

func (p *Parser) expect(tt TokenType, code, message string) Token {
	if p.check(tt) {
		return p.advance()
	}
	tok := p.peek()
	if tok.Type == TOKEN_EOF {
		message += " at end of file"
	} else {
		message += fmt.Sprintf(", got %q", tok.Lexeme)
	}
	p.fail(code, tok, message)
	return Token{}
}

func (p *Parser) fail(code string, tok Token, message string) {
	p.errors = append(p.errors, ParseError{Code: code, Message: message, Pos: posOf(tok)})
	panic(errSync{})
}

func (p *Parser) match(tt TokenType) bool {
	if p.check(tt) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) check(tt TokenType) bool {
	return p.peek().Type == tt
}

func (p *Parser) checkNext(tt TokenType) bool {
	if p.current+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.current+1].Type == tt
}

func (p *Parser) advance() Token {
	if !p.isAtEnd() {
		p.current++
	}
	return p.previous()
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == TOKEN_EOF
}

func (p *Parser) peek() Token {
	return p.tokens[p.current]
}

func (p *Parser) previous() Token {
	return p.tokens[p.current-1]
}
