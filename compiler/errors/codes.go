package errors

// Error code constants organized by phase
// E001-E099: Lexer errors
// E100-E199: Parser errors
// E200-E299: Assembler errors
// E300-E399: Linker errors (references across units and the class path)

const (
	// Lexer errors (E001-E099)
	ErrUnterminatedString = "E001"
	ErrInvalidCharacter   = "E002"
	ErrInvalidNumber      = "E003"
	ErrInvalidEscape      = "E005"
	ErrNumberOverflow     = "E007"

	// Parser errors (E100-E199)
	ErrUnexpectedToken    = "E100"
	ErrExpectedIdentifier = "E101"
	ErrExpectedType       = "E102"
	ErrExpectedBrace      = "E104"
	ErrExpectedParen      = "E105"
	ErrInvalidAnnotation  = "E117"
	ErrMissingBlock       = "E118"
	ErrInvalidSyntax      = "E126"
	ErrUnknownMnemonic    = "E131"
	ErrUnknownModifier    = "E132"
	ErrUnknownRequirement = "E133"

	// Assembler errors (E200-E299)
	ErrDuplicateUnit   = "E200"
	ErrDuplicateMethod = "E201"
	ErrDuplicateLabel  = "E202"
	ErrUndefinedLabel  = "E203"
	ErrUndefinedLocal  = "E204"
	ErrDuplicateLocal  = "E205"
	ErrInvalidUnit     = "E206"

	// Linker errors (E300-E399)
	ErrUndefinedUnit   = "E300"
	ErrUndefinedMethod = "E301"
	ErrUnreadableUnit  = "E302"
)

// ErrorCodeInfo describes an error code
type ErrorCodeInfo struct {
	Code        string
	Phase       string
	Description string
}

// errorCodeRegistry maps error codes to their information
var errorCodeRegistry = map[string]ErrorCodeInfo{
	ErrUnterminatedString: {ErrUnterminatedString, "lexer", "String literal is not terminated"},
	ErrInvalidCharacter:   {ErrInvalidCharacter, "lexer", "Invalid character in source"},
	ErrInvalidNumber:      {ErrInvalidNumber, "lexer", "Invalid number format"},
	ErrInvalidEscape:      {ErrInvalidEscape, "lexer", "Invalid escape sequence in string"},
	ErrNumberOverflow:     {ErrNumberOverflow, "lexer", "Number literal overflows 64 bits"},

	ErrUnexpectedToken:    {ErrUnexpectedToken, "parser", "Unexpected token"},
	ErrExpectedIdentifier: {ErrExpectedIdentifier, "parser", "Expected identifier"},
	ErrExpectedType:       {ErrExpectedType, "parser", "Expected a type (I, S or V)"},
	ErrExpectedBrace:      {ErrExpectedBrace, "parser", "Expected brace"},
	ErrExpectedParen:      {ErrExpectedParen, "parser", "Expected parenthesis"},
	ErrInvalidAnnotation:  {ErrInvalidAnnotation, "parser", "Malformed tag"},
	ErrMissingBlock:       {ErrMissingBlock, "parser", "Method body is missing"},
	ErrInvalidSyntax:      {ErrInvalidSyntax, "parser", "Invalid syntax"},
	ErrUnknownMnemonic:    {ErrUnknownMnemonic, "parser", "Unknown instruction mnemonic"},
	ErrUnknownModifier:    {ErrUnknownModifier, "parser", "Unknown modifier"},
	ErrUnknownRequirement: {ErrUnknownRequirement, "parser", "Unknown context requirement"},

	ErrDuplicateUnit:   {ErrDuplicateUnit, "assembler", "Unit declared more than once"},
	ErrDuplicateMethod: {ErrDuplicateMethod, "assembler", "Method declared more than once"},
	ErrDuplicateLabel:  {ErrDuplicateLabel, "assembler", "Label declared more than once"},
	ErrUndefinedLabel:  {ErrUndefinedLabel, "assembler", "Jump to undefined label"},
	ErrUndefinedLocal:  {ErrUndefinedLocal, "assembler", "Reference to undefined local"},
	ErrDuplicateLocal:  {ErrDuplicateLocal, "assembler", "Local declared more than once"},
	ErrInvalidUnit:     {ErrInvalidUnit, "assembler", "Assembled unit is not well formed"},

	ErrUndefinedUnit:   {ErrUndefinedUnit, "linker", "Reference to unknown unit"},
	ErrUndefinedMethod: {ErrUndefinedMethod, "linker", "Reference to unknown method"},
	ErrUnreadableUnit:  {ErrUnreadableUnit, "linker", "Unit on the class path could not be read"},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code string) (ErrorCodeInfo, bool) {
	info, ok := errorCodeRegistry[code]
	return info, ok
}
