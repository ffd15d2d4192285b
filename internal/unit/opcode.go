package unit

import (
	"fmt"
	"strconv"
)

// Opcode is an instruction operation code.
type Opcode byte

const (
	OpNop Opcode = iota
	OpIConst
	OpSConst
	OpLoad
	OpStore
	OpPop
	OpDup
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpConcat
	OpEq
	OpLt
	OpNot
	OpJump
	OpJumpIf
	OpJumpIfNot
	OpInvoke
	OpNative
	OpReturn
	OpVReturn

	opCount
)

// operand describes how an opcode's operands are encoded.
type operand int

const (
	operandNone operand = iota
	operandInt          // signed constant
	operandSlot         // local index or jump target
	operandString       // string constant
	operandCall         // owner, name, descriptor
	operandNative       // name, descriptor
)

var opInfo = [opCount]struct {
	name    string
	operand operand
}{
	OpNop:       {"NOP", operandNone},
	OpIConst:    {"ICONST", operandInt},
	OpSConst:    {"SCONST", operandString},
	OpLoad:      {"LOAD", operandSlot},
	OpStore:     {"STORE", operandSlot},
	OpPop:       {"POP", operandNone},
	OpDup:       {"DUP", operandNone},
	OpAdd:       {"ADD", operandNone},
	OpSub:       {"SUB", operandNone},
	OpMul:       {"MUL", operandNone},
	OpDiv:       {"DIV", operandNone},
	OpMod:       {"MOD", operandNone},
	OpConcat:    {"CONCAT", operandNone},
	OpEq:        {"EQ", operandNone},
	OpLt:        {"LT", operandNone},
	OpNot:       {"NOT", operandNone},
	OpJump:      {"JUMP", operandSlot},
	OpJumpIf:    {"JUMPIF", operandSlot},
	OpJumpIfNot: {"JUMPIFNOT", operandSlot},
	OpInvoke:    {"INVOKE", operandCall},
	OpNative:    {"NATIVE", operandNative},
	OpReturn:    {"RETURN", operandNone},
	OpVReturn:   {"VRETURN", operandNone},
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool { return op < opCount }

func (op Opcode) String() string {
	if !op.Valid() {
		return "OP(" + strconv.Itoa(int(op)) + ")"
	}
	return opInfo[op].name
}

// IsJump reports whether op transfers control to Int.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIf || op == OpJumpIfNot
}

// IsTerminal reports whether control never falls through op.
func (op Opcode) IsTerminal() bool {
	return op == OpJump || op == OpReturn || op == OpVReturn
}

// LookupOpcode maps a mnemonic (case-sensitive, upper case) to its opcode.
func LookupOpcode(name string) (Opcode, bool) {
	for i := Opcode(0); i < opCount; i++ {
		if opInfo[i].name == name {
			return i, true
		}
	}
	return 0, false
}

// Instruction is one element of a method's code. Which fields are
// meaningful depends on Op: Int for constants, locals and jump targets; Str
// for string constants; Owner, Name and Desc for calls.
type Instruction struct {
	Op    Opcode
	Int   int64
	Str   string
	Owner string
	Name  string
	Desc  Descriptor
}

// Insn builds an operand-less instruction.
func Insn(op Opcode) Instruction { return Instruction{Op: op} }

// IntInsn builds an instruction with an integer operand.
func IntInsn(op Opcode, v int64) Instruction { return Instruction{Op: op, Int: v} }

// StringConst builds an SCONST instruction.
func StringConst(s string) Instruction { return Instruction{Op: OpSConst, Str: s} }

// Invoke builds an INVOKE instruction.
func Invoke(owner, name string, desc Descriptor) Instruction {
	return Instruction{Op: OpInvoke, Owner: owner, Name: name, Desc: desc}
}

// Native builds a NATIVE instruction.
func Native(name string, desc Descriptor) Instruction {
	return Instruction{Op: OpNative, Name: name, Desc: desc}
}

func (in Instruction) String() string {
	switch opInfo[in.Op%opCount].operand {
	case operandInt, operandSlot:
		return fmt.Sprintf("%s %d", in.Op, in.Int)
	case operandString:
		return fmt.Sprintf("%s %q", in.Op, in.Str)
	case operandCall:
		return fmt.Sprintf("%s %s.%s %s", in.Op, in.Owner, in.Name, in.Desc)
	case operandNative:
		return fmt.Sprintf("%s %s %s", in.Op, in.Name, in.Desc)
	}
	return in.Op.String()
}
