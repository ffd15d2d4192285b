package tailcall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compilo-build/compilo/internal/resource"
	"github.com/compilo-build/compilo/internal/transform"
	"github.com/compilo-build/compilo/internal/unit"
)

// countdown(n, acc) = n == 0 ? acc : countdown(n-1, acc+n)
func countdown(flags unit.Flags) unit.Method {
	b := unit.NewCode()
	recur := b.NewLabel()
	b.Emit(
		unit.IntInsn(unit.OpLoad, 0),
		unit.IntInsn(unit.OpIConst, 0),
		unit.Insn(unit.OpEq),
	).Jump(unit.OpJumpIfNot, recur).
		Emit(unit.IntInsn(unit.OpLoad, 1), unit.Insn(unit.OpVReturn)).
		Mark(recur).
		Emit(
			unit.IntInsn(unit.OpLoad, 0),
			unit.IntInsn(unit.OpIConst, 1),
			unit.Insn(unit.OpSub),
			unit.IntInsn(unit.OpLoad, 1),
			unit.IntInsn(unit.OpLoad, 0),
			unit.Insn(unit.OpAdd),
			unit.Invoke("app/Math", "sum", unit.MustDescriptor("(II)I")),
			unit.Insn(unit.OpVReturn),
		)

	return unit.Method{
		Name:      "sum",
		Desc:      unit.MustDescriptor("(II)I"),
		Flags:     flags,
		MaxStack:  3,
		MaxLocals: 2,
		Code:      b.MustBuild(),
		BuildTags: []unit.Tag{{Type: Tag}},
	}
}

func mathTree(m unit.Method) unit.Tree {
	return unit.Tree{Name: "app/Math", Methods: []unit.Method{m}}
}

func TestTransform_RewritesTailCall(t *testing.T) {
	m := countdown(unit.Static)
	out, err := Transform(mathTree(m), m)
	require.NoError(t, err)

	for _, in := range out.Code {
		assert.NotEqual(t, unit.OpInvoke, in.Op, "self call should be gone")
	}

	// The INVOKE at index 12 becomes STORE 1, STORE 0, JUMP 0.
	require.Len(t, out.Code, len(m.Code)+2)
	assert.Equal(t, unit.IntInsn(unit.OpStore, 1), out.Code[12])
	assert.Equal(t, unit.IntInsn(unit.OpStore, 0), out.Code[13])
	assert.Equal(t, unit.IntInsn(unit.OpJump, 0), out.Code[14])
	assert.Equal(t, unit.OpVReturn, out.Code[15].Op)

	assert.Equal(t, unit.OpJumpIfNot, out.Code[3].Op)
	assert.Equal(t, int64(6), out.Code[3].Int)

	assert.Len(t, m.Code, 14, "input is not modified")
	require.NoError(t, unit.Verify(mathTree(out)))
}

func TestTransform_RemapsJumpsAfterSite(t *testing.T) {
	// if (n < 1) return; run(n - 1); tail call placed before the exit branch.
	b := unit.NewCode()
	exit := b.NewLabel()
	b.Emit(
		unit.IntInsn(unit.OpLoad, 0),
		unit.IntInsn(unit.OpIConst, 1),
		unit.Insn(unit.OpLt),
	).Jump(unit.OpJumpIf, exit).
		Emit(
			unit.IntInsn(unit.OpLoad, 0),
			unit.IntInsn(unit.OpIConst, 1),
			unit.Insn(unit.OpSub),
			unit.Invoke("app/Math", "run", unit.MustDescriptor("(I)V")),
			unit.Insn(unit.OpReturn),
		).
		Mark(exit).
		Emit(unit.Insn(unit.OpReturn))

	m := unit.Method{
		Name:      "run",
		Desc:      unit.MustDescriptor("(I)V"),
		Flags:     unit.Static,
		MaxStack:  2,
		MaxLocals: 1,
		Code:      b.MustBuild(),
	}
	require.Equal(t, int64(9), m.Code[3].Int)

	out, err := Transform(mathTree(m), m)
	require.NoError(t, err)
	assert.Equal(t, int64(10), out.Code[3].Int)
	assert.Equal(t, unit.OpReturn, out.Code[10].Op)
	require.NoError(t, unit.Verify(mathTree(out)))
}

func TestTransform_LeavesNonTailCalls(t *testing.T) {
	// fact(n) = n * fact(n-1) is not a tail call.
	m := unit.Method{
		Name:      "fact",
		Desc:      unit.MustDescriptor("(I)I"),
		Flags:     unit.Static,
		MaxStack:  3,
		MaxLocals: 1,
		Code: []unit.Instruction{
			unit.IntInsn(unit.OpLoad, 0),
			unit.IntInsn(unit.OpLoad, 0),
			unit.IntInsn(unit.OpIConst, 1),
			unit.Insn(unit.OpSub),
			unit.Invoke("app/Math", "fact", unit.MustDescriptor("(I)I")),
			unit.Insn(unit.OpMul),
			unit.Insn(unit.OpVReturn),
		},
	}

	out, err := Transform(mathTree(m), m)
	require.NoError(t, err)
	assert.Equal(t, m.Code, out.Code)
}

func TestTransform_OverridableInstanceMethod(t *testing.T) {
	m := countdown(unit.Public)
	m.MaxLocals = 3
	out, err := Transform(mathTree(m), m)
	require.NoError(t, err)
	assert.Equal(t, m.Code, out.Code, "overridable self calls stay virtual")

	m.Flags |= unit.Final
	out, err = Transform(mathTree(m), m)
	require.NoError(t, err)
	assert.NotEqual(t, m.Code, out.Code)
}

func TestRegister_ThroughHandler(t *testing.T) {
	m := countdown(unit.Static)
	b, err := unit.Serialize(mathTree(m))
	require.NoError(t, err)

	h := transform.NewHandler(Register(transform.NewRegistry()), &transform.HandlerOptions{Verify: true})
	out, err := h.Handle(resource.New("app/Math.unit", time.Unix(1, 0), b))
	require.NoError(t, err)

	tree, err := unit.Parse(out.Bytes())
	require.NoError(t, err)
	assert.False(t, tree.Methods[0].HasTag(Tag))
	assert.Len(t, tree.Methods[0].Code, len(m.Code)+2)

	again, err := h.Handle(out)
	require.NoError(t, err)
	assert.Equal(t, out.Bytes(), again.Bytes())
}
