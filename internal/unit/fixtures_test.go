package unit

// sumTree builds a unit with a tail-recursive accumulator:
//
//	sum(n, acc) = n == 0 ? acc : sum(n-1, acc+n)
func sumTree() Tree {
	code := NewCode()
	done := code.NewLabel()
	recur := code.NewLabel()
	code.Emit(
		IntInsn(OpLoad, 0),
		IntInsn(OpIConst, 0),
		Insn(OpEq),
	).Jump(OpJumpIfNot, recur).
		Mark(done).
		Emit(IntInsn(OpLoad, 1), Insn(OpVReturn)).
		Mark(recur).
		Emit(
			IntInsn(OpLoad, 0),
			IntInsn(OpIConst, 1),
			Insn(OpSub),
			IntInsn(OpLoad, 1),
			IntInsn(OpLoad, 0),
			Insn(OpAdd),
			Invoke("app/Sum", "sum", MustDescriptor("(II)I")),
			Insn(OpVReturn),
		)

	return Tree{
		Name:     "app/Sum",
		Super:    "compilo/Build",
		Flags:    Public,
		Requires: NeedOut,
		Methods: []Method{
			{
				Name:      "sum",
				Desc:      MustDescriptor("(II)I"),
				Flags:     Public | Static,
				MaxStack:  3,
				MaxLocals: 2,
				Locals: []LocalVar{
					{Index: 0, Name: "n", Type: Int},
					{Index: 1, Name: "acc", Type: Int},
				},
				Code:        code.MustBuild(),
				RuntimeTags: []Tag{{Type: "test"}},
				BuildTags:   []Tag{{Type: "compilo/tailrec", Attrs: map[string]string{"reason": "loop"}}},
			},
			{
				Name:      "greet",
				Desc:      MustDescriptor("()V"),
				Flags:     Public,
				MaxStack:  1,
				MaxLocals: 1,
				Code: []Instruction{
					StringConst("hello"),
					Native("print", MustDescriptor("(S)V")),
					Insn(OpReturn),
				},
			},
			{
				Name:  "hook",
				Desc:  MustDescriptor("(S)S"),
				Flags: Public | Abstract,
			},
		},
	}
}
