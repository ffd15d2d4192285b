// Package asm implements unit assembly, a line-oriented textual form of
// compiled units, and a compiler service that turns it into units.
//
//	# comments run to the end of the line
//	unit app/Build extends compilo/AutoBuild
//	requires out, props
//
//	@test
//	@@compilo/tailrec
//	static method sum(n I, acc I) I {
//	    load n
//	    iconst 0
//	    eq
//	    jumpifnot recur
//	    load acc
//	    vreturn
//	recur:
//	    ...
//	}
//
// A single tag marker (@) is a runtime tag; a double marker (@@) is a
// build-time tag. Mnemonics are case-insensitive.
package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/compilo-build/compilo/compiler/errors"
)

// Lexer tokenizes unit assembly.
//
// Lexer instances are not safe for concurrent use.
type Lexer struct {
	source  string     // Source code to tokenize
	start   int        // Start position of current token
	current int        // Current position in source
	line    int        // Current line number (1-indexed)
	column  int        // Current column number (1-indexed)
	tokens  []Token    // Collected tokens
	errors  []LexError // Collected errors
}

// NewLexer creates a new Lexer for the given source code
func NewLexer(source string) *Lexer {
	return &Lexer{
		source: source,
		line:   1,
		column: 1,
		tokens: make([]Token, 0),
		errors: make([]LexError, 0),
	}
}

// ScanTokens tokenizes the entire source and returns tokens and errors
func (l *Lexer) ScanTokens() ([]Token, []LexError) {
	for !l.isAtEnd() {
		l.start = l.current
		l.scanToken()
	}

	l.tokens = append(l.tokens, Token{
		Type:   TOKEN_EOF,
		Lexeme: "",
		Line:   l.line,
		Column: l.column,
	})

	return l.tokens, l.errors
}

func (l *Lexer) scanToken() {
	c := l.advance()

	switch c {
	case '(':
		l.addToken(TOKEN_LPAREN)
	case ')':
		l.addToken(TOKEN_RPAREN)
	case '{':
		l.addToken(TOKEN_LBRACE)
	case '}':
		l.addToken(TOKEN_RBRACE)
	case '@':
		l.addToken(TOKEN_AT)
	case '.':
		l.addToken(TOKEN_DOT)
	case ',':
		l.addToken(TOKEN_COMMA)
	case ':':
		l.addToken(TOKEN_COLON)
	case '=':
		l.addToken(TOKEN_EQUALS)
	case '#', ';':
		l.comment()
	case '"':
		l.string()
	case ' ', '\r', '\t':
		// Ignore whitespace
	case '\n':
		l.line++
		l.column = 1
	case '-':
		if l.isDigit(l.peek()) {
			l.number()
		} else {
			l.addError(errors.ErrInvalidCharacter, "unexpected '-' not followed by a digit")
		}
	default:
		switch {
		case l.isDigit(c):
			l.number()
		case l.isAlpha(c):
			l.identifier()
		default:
			l.addError(errors.ErrInvalidCharacter, fmt.Sprintf("unexpected character %q", c))
		}
	}
}

// comment skips to the end of the line.
func (l *Lexer) comment() {
	for l.peek() != '\n' && !l.isAtEnd() {
		l.advance()
	}
}

func (l *Lexer) string() {
	startLine := l.line
	startColumn := l.column - 1
	value := strings.Builder{}

	for !l.isAtEnd() && l.peek() != '"' {
		if l.peek() == '\n' {
			break
		}
		if l.peek() != '\\' {
			value.WriteByte(l.advance())
			continue
		}

		l.advance() // consume backslash
		if l.isAtEnd() {
			break
		}
		escaped := l.advance()
		switch escaped {
		case 'n':
			value.WriteByte('\n')
		case 't':
			value.WriteByte('\t')
		case 'r':
			value.WriteByte('\r')
		case '\\':
			value.WriteByte('\\')
		case '"':
			value.WriteByte('"')
		default:
			l.addError(errors.ErrInvalidEscape, fmt.Sprintf("invalid escape sequence \\%c", escaped))
		}
	}

	if l.isAtEnd() || l.peek() == '\n' {
		l.errors = append(l.errors, LexError{
			Code:    errors.ErrUnterminatedString,
			Message: fmt.Sprintf("unterminated string starting at %d:%d", startLine, startColumn),
			Line:    startLine,
			Column:  startColumn,
			Lexeme:  l.source[l.start:l.current],
		})
		return
	}

	// Consume closing "
	l.advance()

	l.tokens = append(l.tokens, Token{
		Type:    TOKEN_STRING_LITERAL,
		Lexeme:  l.source[l.start:l.current],
		Literal: value.String(),
		Line:    startLine,
		Column:  startColumn,
	})
}

func (l *Lexer) number() {
	for l.isDigit(l.peek()) {
		l.advance()
	}
	if l.isAlpha(l.peek()) {
		for l.isAlphaNumeric(l.peek()) {
			l.advance()
		}
		l.addError(errors.ErrInvalidNumber, fmt.Sprintf("invalid number %q", l.source[l.start:l.current]))
		return
	}

	text := l.source[l.start:l.current]
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		l.addError(errors.ErrNumberOverflow, fmt.Sprintf("number %s does not fit in 64 bits", text))
		return
	}
	l.addTokenWithLiteral(TOKEN_INT_LITERAL, v)
}

func (l *Lexer) identifier() {
	for l.isAlphaNumeric(l.peek()) {
		l.advance()
	}

	text := l.source[l.start:l.current]
	if kw, ok := keywords[text]; ok {
		l.addToken(kw)
		return
	}
	l.addToken(TOKEN_IDENTIFIER)
}

func (l *Lexer) isAtEnd() bool {
	return l.current >= len(l.source)
}

func (l *Lexer) advance() byte {
	if l.isAtEnd() {
		return 0
	}
	c := l.source[l.current]
	l.current++
	l.column++
	return c
}

func (l *Lexer) peek() byte {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.current]
}

func (l *Lexer) isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (l *Lexer) isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '$'
}

// isAlphaNumeric also admits '/', which separates the segments of unit names.
func (l *Lexer) isAlphaNumeric(c byte) bool {
	return l.isAlpha(c) || l.isDigit(c) || c == '/'
}

func (l *Lexer) addToken(tokenType TokenType) {
	l.addTokenWithLiteral(tokenType, nil)
}

func (l *Lexer) addTokenWithLiteral(tokenType TokenType, literal interface{}) {
	l.tokens = append(l.tokens, Token{
		Type:    tokenType,
		Lexeme:  l.source[l.start:l.current],
		Literal: literal,
		Line:    l.line,
		Column:  l.column - (l.current - l.start),
	})
}

func (l *Lexer) addError(code, message string) {
	l.errors = append(l.errors, LexError{
		Code:    code,
		Message: message,
		Line:    l.line,
		Column:  l.column - (l.current - l.start),
		Lexeme:  l.source[l.start:l.current],
	})
}
