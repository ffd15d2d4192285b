package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compilo-build/compilo/compiler/errors"
)

func tokenTypes(tokens []Token) []TokenType {
	types := make([]TokenType, len(tokens))
	for i, t := range tokens {
		types[i] = t.Type
	}
	return types
}

func TestLexer_Tokens(t *testing.T) {
	src := `# header
unit app/Build extends compilo/AutoBuild
@@compilo/tailrec(reason="x")
static method sum(n I) I {
  iconst -42 ; trailing comment
  invoke app/Math.sum (II)I
}`
	tokens, errs := NewLexer(src).ScanTokens()
	require.Empty(t, errs)

	assert.Equal(t, []TokenType{
		TOKEN_UNIT, TOKEN_IDENTIFIER, TOKEN_EXTENDS, TOKEN_IDENTIFIER,
		TOKEN_AT, TOKEN_AT, TOKEN_IDENTIFIER, TOKEN_LPAREN, TOKEN_IDENTIFIER, TOKEN_EQUALS, TOKEN_STRING_LITERAL, TOKEN_RPAREN,
		TOKEN_IDENTIFIER, TOKEN_METHOD, TOKEN_IDENTIFIER, TOKEN_LPAREN, TOKEN_IDENTIFIER, TOKEN_IDENTIFIER, TOKEN_RPAREN, TOKEN_IDENTIFIER, TOKEN_LBRACE,
		TOKEN_IDENTIFIER, TOKEN_INT_LITERAL,
		TOKEN_IDENTIFIER, TOKEN_IDENTIFIER, TOKEN_DOT, TOKEN_IDENTIFIER, TOKEN_LPAREN, TOKEN_IDENTIFIER, TOKEN_RPAREN, TOKEN_IDENTIFIER,
		TOKEN_RBRACE, TOKEN_EOF,
	}, tokenTypes(tokens))

	assert.Equal(t, "app/Build", tokens[1].Lexeme)
	assert.Equal(t, 2, tokens[1].Line)
	assert.Equal(t, 6, tokens[1].Column)
	assert.Equal(t, "x", tokens[10].Literal)
	assert.Equal(t, int64(-42), tokens[22].Literal)
}

func TestLexer_StringEscapes(t *testing.T) {
	tokens, errs := NewLexer(`"a\tb\n\"c\"\\"`).ScanTokens()
	require.Empty(t, errs)
	assert.Equal(t, "a\tb\n\"c\"\\", tokens[0].Literal)
}

func TestLexer_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"unterminated string", `sconst "abc`, errors.ErrUnterminatedString},
		{"string across lines", "sconst \"abc\nreturn", errors.ErrUnterminatedString},
		{"bad escape", `"\q"`, errors.ErrInvalidEscape},
		{"bad character", "load %", errors.ErrInvalidCharacter},
		{"bad number", "iconst 12ab", errors.ErrInvalidNumber},
		{"overflow", "iconst 99999999999999999999", errors.ErrNumberOverflow},
		{"lone minus", "iconst -", errors.ErrInvalidCharacter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := NewLexer(tt.src).ScanTokens()
			require.NotEmpty(t, errs)
			assert.Equal(t, tt.code, errs[0].Code)
		})
	}
}
