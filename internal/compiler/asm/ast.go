package asm

import "github.com/compilo-build/compilo/internal/unit"

// Pos is a source position.
type Pos struct {
	Line   int
	Column int
	Length int
}

func posOf(t Token) Pos {
	return Pos{Line: t.Line, Column: t.Column, Length: len(t.Lexeme)}
}

// File is a parsed source file. One file may declare several units.
type File struct {
	Name  string
	Units []*UnitDecl
}

// UnitDecl is a unit declaration.
type UnitDecl struct {
	Pos      Pos
	Flags    unit.Flags
	Name     string
	Super    string
	Requires unit.Needs
	Methods  []*MethodDecl
}

// MethodDecl is a method declaration. Body is nil for abstract methods.
type MethodDecl struct {
	Pos         Pos
	Flags       unit.Flags
	Name        string
	Params      []VarDecl
	Return      unit.Type
	RuntimeTags []unit.Tag
	BuildTags   []unit.Tag
	Body        []Stmt
	HasBody     bool
}

// Descriptor derives the method descriptor from the parameter list.
func (m *MethodDecl) Descriptor() unit.Descriptor {
	var d unit.Descriptor
	for _, p := range m.Params {
		d.Args = append(d.Args, p.Type)
	}
	d.Return = m.Return
	return d
}

// VarDecl names a parameter or local.
type VarDecl struct {
	Pos  Pos
	Name string
	Type unit.Type
}

// StmtKind discriminates Stmt.
type StmtKind int

const (
	StmtInsn StmtKind = iota
	StmtLabel
	StmtLocal
)

// Stmt is one line of a method body.
type Stmt struct {
	Kind  StmtKind
	Pos   Pos
	Label string  // StmtLabel
	Local VarDecl // StmtLocal
	Insn  InsnStmt
}

// InsnStmt is an instruction before locals and labels are resolved.
type InsnStmt struct {
	Op unit.Opcode
	// Int holds ICONST values and numeric LOAD/STORE slots.
	Int int64
	Str string
	// Ref names a local (LOAD/STORE) or a label (jumps). Empty when the
	// operand was numeric.
	Ref    string
	RefPos Pos
	Owner  string
	Name   string
	Desc   unit.Descriptor
}
