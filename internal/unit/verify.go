package unit

import (
	"fmt"
	"math"

	"github.com/compilo-build/compilo/internal/failure"
)

// Verify runs the structural well-formedness check over every method of t.
// It only gates pass/fail: the first problem found is returned as a
// VerificationFailed failure.
func Verify(t Tree) error {
	if err := verifyTree(t); err != nil {
		return failure.Wrap(failure.VerificationFailed, err, "verifying %s", t.Name)
	}
	return nil
}

func verifyTree(t Tree) error {
	if t.Name == "" {
		return fmt.Errorf("unit has no name")
	}
	if t.Super == t.Name {
		return fmt.Errorf("unit extends itself")
	}

	seen := make(map[string]bool, len(t.Methods))
	for _, m := range t.Methods {
		if m.Name == "" {
			return fmt.Errorf("method with empty name")
		}
		if seen[m.Key()] {
			return fmt.Errorf("duplicate method %s", m.Key())
		}
		seen[m.Key()] = true

		if err := verifyMethod(m); err != nil {
			return fmt.Errorf("method %s: %w", m.Key(), err)
		}
	}
	return nil
}

func verifyMethod(m Method) error {
	if !m.Desc.Valid() {
		return fmt.Errorf("invalid descriptor %s", m.Desc)
	}
	for _, tag := range m.Tags() {
		if tag.Type == "" {
			return fmt.Errorf("tag with empty type")
		}
	}

	if m.IsAbstract() {
		if len(m.Code) > 0 {
			return fmt.Errorf("abstract method has code")
		}
		return nil
	}
	if len(m.Code) == 0 {
		return fmt.Errorf("method has no code")
	}
	if need := len(m.InitialLocals()); m.MaxLocals < need {
		return fmt.Errorf("max locals %d below the %d slots taken by receiver and arguments", m.MaxLocals, need)
	}
	for _, lv := range m.Locals {
		if lv.Index < 0 || lv.Index >= m.MaxLocals {
			return fmt.Errorf("local %q index %d out of range", lv.Name, lv.Index)
		}
	}

	_, err := StackHeights(m)
	return err
}

// StackHeights simulates stack heights along every path through m and
// returns the height on entry to each instruction (-1 for unreachable
// code). Heights must agree wherever paths merge, never drop below zero,
// never exceed MaxStack, and no reachable path may fall off the end of the
// code.
func StackHeights(m Method) ([]int, error) {
	code := m.Code
	heights := make([]int, len(code))
	for i := range heights {
		heights[i] = -1
	}

	type state struct{ pc, height int }
	work := []state{{0, 0}}

	for len(work) > 0 {
		s := work[len(work)-1]
		work = work[:len(work)-1]

		for pc, h := s.pc, s.height; ; {
			if pc >= len(code) {
				return nil, fmt.Errorf("execution falls off the end of the code")
			}
			if heights[pc] >= 0 {
				if heights[pc] != h {
					return nil, fmt.Errorf("instruction %d: inconsistent stack height %d vs %d", pc, heights[pc], h)
				}
				break
			}
			heights[pc] = h

			in := code[pc]
			pop, push, err := stackEffect(m, in)
			if err != nil {
				return nil, fmt.Errorf("instruction %d (%s): %w", pc, in, err)
			}
			if h < pop {
				return nil, fmt.Errorf("instruction %d (%s): stack underflow", pc, in)
			}
			h = h - pop + push
			if h > m.MaxStack {
				return nil, fmt.Errorf("instruction %d (%s): stack height %d exceeds max stack %d", pc, in, h, m.MaxStack)
			}

			if in.Op.IsJump() {
				if in.Int < 0 || in.Int >= int64(len(code)) {
					return nil, fmt.Errorf("instruction %d (%s): jump target out of range", pc, in)
				}
				if in.Op == OpJump {
					pc = int(in.Int)
					continue
				}
				work = append(work, state{int(in.Int), h})
			}
			if in.Op == OpReturn || in.Op == OpVReturn {
				break
			}
			pc++
		}
	}
	return heights, nil
}

// stackEffect returns how many values in pops and pushes.
func stackEffect(m Method, in Instruction) (pop, push int, err error) {
	switch in.Op {
	case OpNop, OpJump:
		return 0, 0, nil
	case OpIConst, OpSConst:
		return 0, 1, nil
	case OpLoad, OpStore:
		if in.Int < 0 || in.Int >= int64(m.MaxLocals) {
			return 0, 0, fmt.Errorf("local %d out of range", in.Int)
		}
		if in.Op == OpLoad {
			return 0, 1, nil
		}
		return 1, 0, nil
	case OpPop, OpJumpIf, OpJumpIfNot:
		return 1, 0, nil
	case OpDup:
		return 1, 2, nil
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpConcat, OpEq, OpLt:
		return 2, 1, nil
	case OpNot:
		return 1, 1, nil
	case OpInvoke, OpNative:
		if in.Op == OpInvoke && in.Owner == "" {
			return 0, 0, fmt.Errorf("call without owner")
		}
		if in.Name == "" {
			return 0, 0, fmt.Errorf("call without name")
		}
		if !in.Desc.Valid() {
			return 0, 0, fmt.Errorf("invalid call descriptor %s", in.Desc)
		}
		push = 1
		if in.Desc.Return == Void {
			push = 0
		}
		return len(in.Desc.Args), push, nil
	case OpReturn:
		if m.Desc.Return != Void {
			return 0, 0, fmt.Errorf("RETURN in method returning %s", m.Desc.Return)
		}
		return 0, 0, nil
	case OpVReturn:
		if m.Desc.Return == Void {
			return 0, 0, fmt.Errorf("VRETURN in void method")
		}
		return 1, 0, nil
	}
	return 0, 0, fmt.Errorf("unknown opcode %d", in.Op)
}

// MaxStack computes the deepest operand stack m can reach, ignoring the
// MaxStack already recorded on m.
func MaxStack(m Method) (int, error) {
	m.MaxStack = math.MaxInt32
	heights, err := StackHeights(m)
	if err != nil {
		return 0, err
	}
	deepest := 0
	for pc, h := range heights {
		if h < 0 {
			continue
		}
		pop, push, _ := stackEffect(m, m.Code[pc])
		deepest = max(deepest, h, h-pop+push)
	}
	return deepest, nil
}
