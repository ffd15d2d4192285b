// Package tailcall turns self-recursive calls in tail position into loops.
package tailcall

import (
	"fmt"

	"github.com/compilo-build/compilo/internal/transform"
	"github.com/compilo-build/compilo/internal/unit"
)

// Tag marks a method for tail-call rewriting. It is a build-time tag and
// does not survive into the output.
const Tag = "compilo/tailrec"

// Register adds the tail-call transformer to reg under Tag.
func Register(reg transform.Registry) transform.Registry {
	return reg.Add(Tag, Transform)
}

// Transform rewrites every INVOKE of m itself that is immediately followed by
// a return, and that runs on an otherwise empty operand stack, into stores of
// the arguments back into their local slots plus a jump to the method entry.
// Jump targets are remapped to the new instruction indices. Calls that do
// not qualify are left alone.
//
// Instance methods that can be overridden are returned unchanged: a virtual
// self call may land in a subclass.
func Transform(t unit.Tree, m unit.Method) (unit.Method, error) {
	if m.IsAbstract() {
		return m, nil
	}
	if !m.IsStatic() && !m.Flags.Has(unit.Final) && !t.Flags.Has(unit.Final) {
		return m, nil
	}

	heights, err := unit.StackHeights(m)
	if err != nil {
		return unit.Method{}, fmt.Errorf("cannot analyse %s: %w", m.Key(), err)
	}

	sites := make(map[int]bool)
	for i := range m.Code {
		if isTailSelfCall(t, m, i, heights[i]) {
			sites[i] = true
		}
	}
	if len(sites) == 0 {
		return m, nil
	}

	nargs := len(m.Desc.Args)
	base := m.ArgBase()

	// newIndex[i] is where old instruction i starts after rewriting.
	newIndex := make([]int, len(m.Code)+1)
	n := 0
	for i := range m.Code {
		newIndex[i] = n
		if sites[i] {
			n += nargs + 1
		} else {
			n++
		}
	}
	newIndex[len(m.Code)] = n

	code := make([]unit.Instruction, 0, n)
	for i, in := range m.Code {
		if !sites[i] {
			if in.Op.IsJump() {
				in.Int = int64(newIndex[in.Int])
			}
			code = append(code, in)
			continue
		}
		for a := nargs - 1; a >= 0; a-- {
			code = append(code, unit.IntInsn(unit.OpStore, int64(base+a)))
		}
		code = append(code, unit.IntInsn(unit.OpJump, 0))
	}

	return m.WithCode(code), nil
}

// isTailSelfCall reports whether instruction i of m calls m itself, is
// followed by a return, and finds only the call arguments on the stack.
func isTailSelfCall(t unit.Tree, m unit.Method, i, height int) bool {
	in := m.Code[i]
	if in.Op != unit.OpInvoke || in.Owner != t.Name || in.Name != m.Name || !in.Desc.Equal(m.Desc) {
		return false
	}
	if i+1 >= len(m.Code) {
		return false
	}
	next := m.Code[i+1].Op
	if next != unit.OpReturn && next != unit.OpVReturn {
		return false
	}
	return height == len(m.Desc.Args)
}
