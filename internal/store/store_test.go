package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compilo-build/compilo/internal/archive"
	"github.com/compilo-build/compilo/internal/resource"
)

var _ archive.Location = (*Store)(nil)

func TestStore_PutGet(t *testing.T) {
	s := New("test")
	_, ok := s.Get("a/B.unit")
	assert.False(t, ok)

	s.Put("a/B.unit", resource.New("a/B.unit", time.Time{}, []byte("1")))
	s.Put("a/B.unit", resource.New("a/B.unit", time.Time{}, []byte("2")))

	r, ok := s.Get("a/B.unit")
	require.True(t, ok)
	assert.Equal(t, "2", string(r.Bytes()), "last write wins")
	assert.Equal(t, 1, s.Len())
}

func TestStore_EntriesSorted(t *testing.T) {
	s := New("test")
	for _, name := range []string{"z.unit", "a/B.unit", "m.txt"} {
		s.Put(name, resource.New(name, time.Time{}, nil))
	}

	assert.Equal(t, []string{"a/B.unit", "m.txt", "z.unit"}, s.Names())
	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a/B.unit", entries[0].Name())
}

func TestStore_Outputs(t *testing.T) {
	s := New("test")
	require.NoError(t, s.Outputs().Put(resource.New("x/Y.unit", time.Time{}, []byte("y"))))

	r, ok, err := s.Lookup("x/Y.unit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "y", string(r.Bytes()))
	assert.Equal(t, "memory:test", s.String())
}
