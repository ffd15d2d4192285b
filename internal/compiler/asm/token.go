package asm

import "fmt"

// TokenType represents the type of a token in unit assembly
type TokenType int

const (
	// TOKEN_EOF marks the end of the token stream.
	TOKEN_EOF TokenType = iota
	// TOKEN_ERROR represents a lexical error encountered during scanning.
	TOKEN_ERROR

	// Keywords
	TOKEN_UNIT     // unit
	TOKEN_EXTENDS  // extends
	TOKEN_REQUIRES // requires
	TOKEN_METHOD   // method
	TOKEN_LOCAL    // local

	// Literals
	TOKEN_IDENTIFIER     // app/Build, sum, iconst, etc.
	TOKEN_INT_LITERAL    // 42, -7
	TOKEN_STRING_LITERAL // "hello"

	// Punctuation
	TOKEN_AT     // @
	TOKEN_DOT    // .
	TOKEN_COMMA  // ,
	TOKEN_COLON  // :
	TOKEN_EQUALS // =
	TOKEN_LPAREN // (
	TOKEN_RPAREN // )
	TOKEN_LBRACE // {
	TOKEN_RBRACE // }
)

// TokenTypeNames maps token types to their string representations
var TokenTypeNames = map[TokenType]string{
	TOKEN_EOF:            "EOF",
	TOKEN_ERROR:          "ERROR",
	TOKEN_UNIT:           "UNIT",
	TOKEN_EXTENDS:        "EXTENDS",
	TOKEN_REQUIRES:       "REQUIRES",
	TOKEN_METHOD:         "METHOD",
	TOKEN_LOCAL:          "LOCAL",
	TOKEN_IDENTIFIER:     "IDENTIFIER",
	TOKEN_INT_LITERAL:    "INT_LITERAL",
	TOKEN_STRING_LITERAL: "STRING_LITERAL",
	TOKEN_AT:             "AT",
	TOKEN_DOT:            "DOT",
	TOKEN_COMMA:          "COMMA",
	TOKEN_COLON:          "COLON",
	TOKEN_EQUALS:         "EQUALS",
	TOKEN_LPAREN:         "LPAREN",
	TOKEN_RPAREN:         "RPAREN",
	TOKEN_LBRACE:         "LBRACE",
	TOKEN_RBRACE:         "RBRACE",
}

// String returns the string representation of a token type
func (t TokenType) String() string {
	if name, ok := TokenTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

var keywords = map[string]TokenType{
	"unit":     TOKEN_UNIT,
	"extends":  TOKEN_EXTENDS,
	"requires": TOKEN_REQUIRES,
	"method":   TOKEN_METHOD,
	"local":    TOKEN_LOCAL,
}

// Token is a lexical token with its position.
type Token struct {
	Type    TokenType
	Lexeme  string
	Literal interface{}
	Line    int
	Column  int
}

// String returns a string representation of the token
func (t Token) String() string {
	if t.Literal != nil {
		return fmt.Sprintf("%s %q %v (line %d, col %d)", t.Type, t.Lexeme, t.Literal, t.Line, t.Column)
	}
	return fmt.Sprintf("%s %q (line %d, col %d)", t.Type, t.Lexeme, t.Line, t.Column)
}

// LexError represents a lexical error
type LexError struct {
	Code    string
	Message string
	Line    int
	Column  int
	Lexeme  string
}

// Error implements the error interface
func (e LexError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}
