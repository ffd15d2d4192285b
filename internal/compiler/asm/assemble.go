package asm

import (
	"fmt"

	"github.com/compilo-build/compilo/compiler/errors"
	"github.com/compilo-build/compilo/internal/unit"
)

// Diagnostic is an assembler problem located in the source.
type Diagnostic struct {
	Code    string
	Message string
	Pos     Pos
}

// Assemble converts a parsed unit into a tree. Diagnostics are returned
// instead of the tree when anything is wrong.
func Assemble(u *UnitDecl) (unit.Tree, []Diagnostic) {
	tree := unit.Tree{
		Name:     u.Name,
		Super:    u.Super,
		Flags:    u.Flags,
		Requires: u.Requires,
	}

	var diags []Diagnostic
	seen := make(map[string]bool)
	for _, md := range u.Methods {
		m, mdiags := assembleMethod(u, md)
		if len(mdiags) > 0 {
			diags = append(diags, mdiags...)
			continue
		}
		if seen[m.Key()] {
			diags = append(diags, Diagnostic{errors.ErrDuplicateMethod, fmt.Sprintf("method %s is declared more than once", m.Key()), md.Pos})
			continue
		}
		seen[m.Key()] = true
		tree.Methods = append(tree.Methods, m)
	}
	if len(diags) > 0 {
		return unit.Tree{}, diags
	}

	if err := unit.Verify(tree); err != nil {
		return unit.Tree{}, []Diagnostic{{errors.ErrInvalidUnit, err.Error(), u.Pos}}
	}
	return tree, nil
}

type methodScope struct {
	locals map[string]int
	table  []unit.LocalVar
	next   int
	diags  []Diagnostic
}

func (s *methodScope) declare(v VarDecl) {
	if _, dup := s.locals[v.Name]; dup {
		s.fail(errors.ErrDuplicateLocal, v.Pos, "local %q is already declared", v.Name)
		return
	}
	s.locals[v.Name] = s.next
	s.table = append(s.table, unit.LocalVar{Index: s.next, Name: v.Name, Type: v.Type})
	s.next++
}

type labelRef struct {
	name string
	pos  Pos
}

func assembleMethod(u *UnitDecl, md *MethodDecl) (unit.Method, []Diagnostic) {
	m := unit.Method{
		Name:        md.Name,
		Desc:        md.Descriptor(),
		Flags:       md.Flags,
		RuntimeTags: md.RuntimeTags,
		BuildTags:   md.BuildTags,
	}
	if m.IsAbstract() {
		if md.HasBody {
			return m, []Diagnostic{{errors.ErrInvalidUnit, fmt.Sprintf("abstract method %s has a body", md.Name), md.Pos}}
		}
		return m, nil
	}

	scope := &methodScope{locals: make(map[string]int)}
	if !m.IsStatic() {
		scope.declare(VarDecl{Pos: md.Pos, Name: "this", Type: unit.Ref})
	}
	for _, p := range md.Params {
		scope.declare(p)
	}

	code := unit.NewCode()
	placed := make(map[string]bool)
	var jumps []labelRef

	for _, st := range md.Body {
		switch st.Kind {
		case StmtLocal:
			scope.declare(st.Local)
		case StmtLabel:
			if placed[st.Label] {
				scope.fail(errors.ErrDuplicateLabel, st.Pos, "label %q is already defined", st.Label)
				continue
			}
			placed[st.Label] = true
			code.Mark(code.Named(st.Label))
		case StmtInsn:
			in := st.Insn
			switch {
			case in.Op.IsJump():
				jumps = append(jumps, labelRef{in.Ref, in.RefPos})
				code.Jump(in.Op, code.Named(in.Ref))
			case in.Op == unit.OpLoad || in.Op == unit.OpStore:
				code.Emit(unit.IntInsn(in.Op, scope.slot(in, st.Pos)))
			case in.Op == unit.OpIConst:
				code.Emit(unit.IntInsn(in.Op, in.Int))
			case in.Op == unit.OpSConst:
				code.Emit(unit.StringConst(in.Str))
			case in.Op == unit.OpInvoke:
				owner := in.Owner
				if owner == "" {
					owner = u.Name
				}
				code.Emit(unit.Invoke(owner, in.Name, in.Desc))
			case in.Op == unit.OpNative:
				code.Emit(unit.Native(in.Name, in.Desc))
			default:
				code.Emit(unit.Insn(in.Op))
			}
		}
	}

	for _, j := range jumps {
		if !placed[j.name] {
			scope.fail(errors.ErrUndefinedLabel, j.pos, "undefined label %q", j.name)
		}
	}
	if len(scope.diags) > 0 {
		return m, scope.diags
	}

	built, err := code.Build()
	if err != nil {
		return m, []Diagnostic{{errors.ErrInvalidUnit, err.Error(), md.Pos}}
	}
	m.Code = built
	m.Locals = scope.table
	m.MaxLocals = scope.next
	for _, in := range m.Code {
		if (in.Op == unit.OpLoad || in.Op == unit.OpStore) && int(in.Int) >= m.MaxLocals {
			m.MaxLocals = int(in.Int) + 1
		}
	}

	depth, err := unit.MaxStack(m)
	if err != nil {
		return m, []Diagnostic{{errors.ErrInvalidUnit, fmt.Sprintf("method %s: %v", md.Name, err), md.Pos}}
	}
	m.MaxStack = depth
	return m, nil
}

func (s *methodScope) fail(code string, pos Pos, format string, args ...any) {
	s.diags = append(s.diags, Diagnostic{code, fmt.Sprintf(format, args...), pos})
}

// slot resolves a LOAD/STORE operand to a local index.
func (s *methodScope) slot(in InsnStmt, pos Pos) int64 {
	if in.Ref == "" {
		if in.Int < 0 {
			s.fail(errors.ErrUndefinedLocal, pos, "local slot %d is negative", in.Int)
		}
		return in.Int
	}
	idx, ok := s.locals[in.Ref]
	if !ok {
		s.fail(errors.ErrUndefinedLocal, in.RefPos, "undefined local %q", in.Ref)
		return 0
	}
	return int64(idx)
}
