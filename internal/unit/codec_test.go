package unit

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compilo-build/compilo/internal/failure"
)

func TestSerialize_RoundTrip(t *testing.T) {
	tree := sumTree()

	b, err := Serialize(tree)
	require.NoError(t, err)

	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, tree, parsed)

	again, err := Serialize(parsed)
	require.NoError(t, err)
	assert.Equal(t, b, again, "parse then serialize must reproduce the input bytes")
}

func TestParse_EmptyAttributesRoundTrip(t *testing.T) {
	for name, blob := range map[string][]byte{
		"empty map": {0xa0},
		"null":      {0xf6},
	} {
		t.Run(name, func(t *testing.T) {
			first, err := Parse(taggedUnit(t, blob))
			require.NoError(t, err)
			assert.Nil(t, first.Methods[0].BuildTags[0].Attrs)

			b, err := Serialize(first)
			require.NoError(t, err)
			second, err := Parse(b)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func FuzzParse(f *testing.F) {
	valid, err := Serialize(sumTree())
	require.NoError(f, err)
	empty, err := Serialize(Tree{Name: "x/Empty"})
	require.NoError(f, err)

	f.Add(valid)
	f.Add(empty)
	f.Add(taggedUnit(f, []byte{0xa0}))
	f.Add(taggedUnit(f, []byte{0xa1, 0x61, 'k', 0x61, 'v'}))
	f.Add([]byte(Magic))

	f.Fuzz(func(t *testing.T, data []byte) {
		first, err := Parse(data)
		if err != nil {
			return
		}
		b, err := Serialize(first)
		require.NoError(t, err)
		second, err := Parse(b)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

// taggedUnit builds a one-method unit whose single build tag carries the
// given raw attribute blob.
func taggedUnit(tb testing.TB, attrs []byte) []byte {
	tb.Helper()
	b, err := Serialize(Tree{
		Name: "x/Tagged",
		Methods: []Method{{
			Name:      "m",
			Desc:      MustDescriptor("()V"),
			Flags:     Static,
			Code:      []Instruction{Insn(OpReturn)},
			BuildTags: []Tag{{Type: "t"}},
		}},
	})
	require.NoError(tb, err)

	// The encoding ends with the tag's zero attribute length.
	b = b[:len(b)-1]
	b = binary.AppendUvarint(b, uint64(len(attrs)))
	return append(b, attrs...)
}

func TestSerialize_Deterministic(t *testing.T) {
	tree := sumTree()
	tree.Methods[0].BuildTags[0].Attrs = map[string]string{"z": "1", "a": "2", "m": "3"}

	first, err := Serialize(tree)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		b, err := Serialize(tree)
		require.NoError(t, err)
		assert.Equal(t, first, b)
	}
}

func TestSerialize_EmptyTree(t *testing.T) {
	b, err := Serialize(Tree{Name: "x/Empty"})
	require.NoError(t, err)

	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, Tree{Name: "x/Empty"}, parsed)
}

func TestSerialize_RejectsNegativeSlot(t *testing.T) {
	tree := sumTree()
	tree.Methods[1].Code = []Instruction{IntInsn(OpLoad, -1), Insn(OpReturn)}

	_, err := Serialize(tree)
	assert.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	valid, err := Serialize(sumTree())
	require.NoError(t, err)

	badVersion := append([]byte(nil), valid...)
	binary.BigEndian.PutUint16(badVersion[len(Magic):], Version+1)

	badMagic := append([]byte(nil), valid...)
	badMagic[0] = 'X'

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte("CUN")},
		{"bad magic", badMagic},
		{"bad version", badVersion},
		{"trailing bytes", append(append([]byte(nil), valid...), 0)},
		{"huge count", append([]byte(Magic), 0, 1, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0x7f)},
		{"unknown opcode", unknownOpcodeUnit(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, failure.ErrMalformedUnit)
			assert.Equal(t, failure.MalformedUnit, failure.KindOf(err))
		})
	}
}

func TestParse_EveryTruncationFails(t *testing.T) {
	valid, err := Serialize(sumTree())
	require.NoError(t, err)

	for n := 0; n < len(valid); n++ {
		_, err := Parse(valid[:n])
		assert.Error(t, err, "prefix of %d bytes parsed", n)
	}
}

func unknownOpcodeUnit(t *testing.T) []byte {
	t.Helper()
	b, err := Serialize(Tree{
		Name: "x/Bad",
		Methods: []Method{{
			Name:      "m",
			Desc:      MustDescriptor("()V"),
			MaxLocals: 1,
			Code:      []Instruction{Insn(OpReturn)},
		}},
	})
	require.NoError(t, err)

	// The single RETURN opcode is followed by two empty tag lists.
	b[len(b)-3] = 0xEE
	return b
}
