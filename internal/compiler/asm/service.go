package asm

import (
	"context"
	"fmt"

	"github.com/compilo-build/compilo/compiler/errors"
	"github.com/compilo-build/compilo/internal/archive"
	"github.com/compilo-build/compilo/internal/compiler"
	"github.com/compilo-build/compilo/internal/unit"
)

// Extension is the file extension of unit assembly sources.
const Extension = ".ua"

// maxLinkDepth bounds super-chain walks while linking.
const maxLinkDepth = 64

// Service compiles unit assembly. The zero value is ready to use.
type Service struct{}

var _ compiler.Service = Service{}

type parsedSource struct {
	src   compiler.Source
	units []*UnitDecl
	trees []unit.Tree
	bad   bool
}

// Compile implements compiler.Service. Every source is lexed, parsed and
// assembled; references to other units are then checked against the units
// of this task and the class path. Units are emitted only for sources that
// produced no errors.
func (s Service) Compile(ctx context.Context, task compiler.Task) error {
	report := task.Report
	if report == nil {
		report = func(errors.CompilerError) {}
	}

	parsed := make([]*parsedSource, 0, len(task.Sources))
	declared := make(map[string]unit.Tree)
	declaredIn := make(map[string]string)

	for _, src := range task.Sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		ps := &parsedSource{src: src}
		parsed = append(parsed, ps)

		diag := func(phase, code, msg string, pos Pos) {
			ps.bad = true
			report(errors.EnrichError(errors.NewCompilerError(phase, code, msg, errors.SourceLocation{
				File: src.Name, Line: pos.Line, Column: pos.Column, Length: pos.Length,
			}, errors.Error), src.Text))
		}

		tokens, lexErrs := NewLexer(src.Text).ScanTokens()
		for _, e := range lexErrs {
			diag("lexer", e.Code, e.Message, Pos{Line: e.Line, Column: e.Column, Length: len(e.Lexeme)})
		}
		file, parseErrs := NewParser(tokens).Parse(src.Name)
		for _, e := range parseErrs {
			diag("parser", e.Code, e.Message, e.Pos)
		}
		if len(file.Units) == 0 && len(lexErrs) == 0 && len(parseErrs) == 0 {
			diag("parser", errors.ErrInvalidSyntax, "source declares no unit", Pos{Line: 1, Column: 1})
		}

		for _, u := range file.Units {
			if other, dup := declaredIn[u.Name]; dup {
				diag("assembler", errors.ErrDuplicateUnit, fmt.Sprintf("unit %s is already declared in %s", u.Name, other), u.Pos)
				continue
			}
			declaredIn[u.Name] = src.Name

			tree, adiags := Assemble(u)
			for _, d := range adiags {
				diag("assembler", d.Code, d.Message, d.Pos)
			}
			if len(adiags) == 0 {
				ps.units = append(ps.units, u)
				ps.trees = append(ps.trees, tree)
				declared[tree.Name] = tree
			}
		}
	}

	l := &linker{declared: declared, classPath: task.ClassPath, cache: make(map[string]*unit.Tree)}
	for _, ps := range parsed {
		for i, tree := range ps.trees {
			for _, d := range l.check(ps.units[i], tree) {
				ps.bad = true
				report(errors.EnrichError(errors.NewCompilerError("linker", d.Code, d.Message, errors.SourceLocation{
					File: ps.src.Name, Line: d.Pos.Line, Column: d.Pos.Column, Length: d.Pos.Length,
				}, errors.Error), ps.src.Text))
			}
		}
	}

	for _, ps := range parsed {
		if ps.bad {
			continue
		}
		for _, tree := range ps.trees {
			data, err := unit.Serialize(tree)
			if err != nil {
				return fmt.Errorf("serializing %s: %w", tree.Name, err)
			}
			if err := task.Output.Emit(tree.Name, data); err != nil {
				return fmt.Errorf("emitting %s: %w", tree.Name, err)
			}
		}
	}
	return nil
}

// linker checks that super units and invoked methods exist, looking first at
// the units of the current task and then at the class path.
type linker struct {
	declared  map[string]unit.Tree
	classPath archive.Finder
	cache     map[string]*unit.Tree // nil entry: known missing
}

func (l *linker) lookup(name string) (*unit.Tree, error) {
	if t, ok := l.declared[name]; ok {
		return &t, nil
	}
	if t, ok := l.cache[name]; ok {
		return t, nil
	}
	if l.classPath == nil {
		l.cache[name] = nil
		return nil, nil
	}

	r, ok, err := l.classPath.Lookup(unit.FileName(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		l.cache[name] = nil
		return nil, nil
	}
	t, err := unit.Parse(r.Bytes())
	if err != nil {
		return nil, err
	}
	l.cache[name] = &t
	return &t, nil
}

func (l *linker) check(u *UnitDecl, tree unit.Tree) []Diagnostic {
	var diags []Diagnostic

	if tree.Super != "" {
		if _, err := l.require(tree.Super); err != nil {
			diags = append(diags, l.diagnose(err, u.Pos))
		}
	}

	for _, m := range tree.Methods {
		md := findDecl(u, m)
		for ci, in := range m.Code {
			if in.Op != unit.OpInvoke {
				continue
			}
			if err := l.hasMethod(in.Owner, in.Name, in.Desc); err != nil {
				diags = append(diags, l.diagnose(err, invokePos(md, ci)))
			}
		}
	}
	return diags
}

type linkError struct {
	code string
	msg  string
}

func (e *linkError) Error() string { return e.msg }

func (l *linker) diagnose(err error, pos Pos) Diagnostic {
	if le, ok := err.(*linkError); ok {
		return Diagnostic{Code: le.code, Message: le.msg, Pos: pos}
	}
	return Diagnostic{Code: errors.ErrUnreadableUnit, Message: err.Error(), Pos: pos}
}

func (l *linker) require(name string) (*unit.Tree, error) {
	t, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &linkError{errors.ErrUndefinedUnit, fmt.Sprintf("unit %s not found", name)}
	}
	return t, nil
}

func (l *linker) hasMethod(owner, name string, desc unit.Descriptor) error {
	cur := owner
	for depth := 0; cur != "" && depth < maxLinkDepth; depth++ {
		t, err := l.require(cur)
		if err != nil {
			return err
		}
		if _, _, ok := t.Method(name, desc); ok {
			return nil
		}
		cur = t.Super
	}
	return &linkError{errors.ErrUndefinedMethod, fmt.Sprintf("method %s%s not found in %s", name, desc, owner)}
}

// findDecl maps an assembled method back to its declaration.
func findDecl(u *UnitDecl, m unit.Method) *MethodDecl {
	for _, md := range u.Methods {
		if md.Name == m.Name && md.Descriptor().Equal(m.Desc) {
			return md
		}
	}
	return nil
}

// invokePos returns the source position of the n-th instruction of md.
func invokePos(md *MethodDecl, n int) Pos {
	if md == nil {
		return Pos{}
	}
	i := 0
	for _, st := range md.Body {
		if st.Kind != StmtInsn {
			continue
		}
		if i == n {
			return st.Insn.RefPos
		}
		i++
	}
	return md.Pos
}
