package unit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor(t *testing.T) {
	tests := []struct {
		in      string
		want    Descriptor
		wantErr bool
	}{
		{in: "()V", want: Descriptor{Return: Void}},
		{in: "(IS)I", want: Descriptor{Args: []Type{Int, String}, Return: Int}},
		{in: "(S)S", want: Descriptor{Args: []Type{String}, Return: String}},
		{in: "", wantErr: true},
		{in: "()", wantErr: true},
		{in: "(V)V", wantErr: true},
		{in: "(I)X", wantErr: true},
		{in: "(I)VV", wantErr: true},
		{in: "I)V", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDescriptor(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
			assert.Equal(t, tt.in, d.String())
		})
	}
}

func TestMethod_InitialLocals(t *testing.T) {
	m := Method{Desc: MustDescriptor("(IS)V")}
	assert.Equal(t, []Type{Ref, Int, String}, m.InitialLocals())
	assert.Equal(t, 1, m.ArgBase())

	m.Flags = Static
	assert.Equal(t, []Type{Int, String}, m.InitialLocals())
	assert.Equal(t, 0, m.ArgBase())
}

func TestMethod_WithoutTag(t *testing.T) {
	m := Method{
		RuntimeTags: []Tag{{Type: "a"}, {Type: "b"}},
		BuildTags:   []Tag{{Type: "a"}, {Type: "c"}},
	}

	m1 := m.WithoutTag("a")
	assert.Equal(t, []Tag{{Type: "b"}}, m1.RuntimeTags, "runtime instance removed first")
	assert.Equal(t, m.BuildTags, m1.BuildTags)
	assert.Len(t, m.RuntimeTags, 2, "receiver unchanged")

	m2 := m1.WithoutTag("a")
	assert.Equal(t, []Tag{{Type: "c"}}, m2.BuildTags)
	assert.False(t, m2.HasTag("a"))

	m3 := m2.WithoutTag("missing")
	assert.Equal(t, m2, m3)
}

func TestMethod_Tags(t *testing.T) {
	m := sumTree().Methods[0]
	tags := m.Tags()
	require.Len(t, tags, 2)
	assert.Equal(t, "test", tags[0].Type)
	assert.Equal(t, "compilo/tailrec", tags[1].Type)

	tag, ok := m.FindTag("compilo/tailrec")
	require.True(t, ok)
	assert.Equal(t, "loop", tag.Attrs["reason"])
}

func TestTree_WithMethodDoesNotAlias(t *testing.T) {
	tree := sumTree()
	_, i, ok := tree.Method("greet", MustDescriptor("()V"))
	require.True(t, ok)

	changed := tree.Methods[i].WithCode([]Instruction{Insn(OpReturn)})
	t2 := tree.WithMethod(i, changed)

	assert.Len(t, tree.Methods[i].Code, 3)
	assert.Len(t, t2.Methods[i].Code, 1)
}

func TestTree_CloneIsDeep(t *testing.T) {
	tree := sumTree()
	c := tree.Clone()
	c.Methods[0].BuildTags[0].Attrs["reason"] = "changed"
	c.Methods[0].Code[0] = Insn(OpNop)

	assert.Equal(t, "loop", tree.Methods[0].BuildTags[0].Attrs["reason"])
	assert.Equal(t, OpLoad, tree.Methods[0].Code[0].Op)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "a/b/C.unit", FileName("a/b/C"))
	assert.Equal(t, "a/b/C.unit", FileName("a.b.C"))
	assert.Equal(t, "a/b/C", NameOf("a/b/C.unit"))
}

func TestFlagsAndNeeds(t *testing.T) {
	assert.Equal(t, "public static", (Public | Static).String())
	f, ok := ParseFlag("abstract")
	require.True(t, ok)
	assert.Equal(t, Abstract, f)

	assert.Equal(t, "dir,out", (NeedWorkDir | NeedOut).String())
	n, ok := ParseNeed("props")
	require.True(t, ok)
	assert.Equal(t, NeedProperties, n)
	_, ok = ParseNeed("disk")
	assert.False(t, ok)
}

func TestCodeBuilder(t *testing.T) {
	b := NewCode()
	end := b.Named("end")
	b.Jump(OpJump, end).Emit(Insn(OpNop)).Mark(end).Emit(Insn(OpReturn))

	code, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, int64(2), code[0].Int)

	unplaced := NewCode()
	unplaced.Jump(OpJump, unplaced.Named("nowhere"))
	_, err = unplaced.Build()
	assert.ErrorContains(t, err, "nowhere")

	twice := NewCode()
	l := twice.NewLabel()
	twice.Mark(l).Mark(l)
	_, err = twice.Build()
	assert.Error(t, err)
}

func TestDisassemble(t *testing.T) {
	out := Disassemble(sumTree())

	assert.True(t, strings.HasPrefix(out, "public unit app/Sum extends compilo/Build\n"))
	assert.Contains(t, out, "requires out")
	assert.Contains(t, out, "@test")
	assert.Contains(t, out, `@@compilo/tailrec(reason="loop")`)
	assert.Contains(t, out, "public static method sum (II)I")
	assert.Contains(t, out, "INVOKE app/Sum.sum (II)I")
	assert.Contains(t, out, `SCONST "hello"`)
	assert.Contains(t, out, "public abstract method hook (S)S")
}
