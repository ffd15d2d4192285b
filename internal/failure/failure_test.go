package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: MalformedUnit}, "MalformedUnit"},
		{"message", New(VerificationFailed, "method %s: bad jump", "run"), "method run: bad jump"},
		{"wrapped", Wrap(ClassResolutionFailed, errors.New("boom"), "resolving %q", "a/B"), `resolving "a/B": boom`},
		{"cause only", &Error{Kind: ExecutionFailed, Err: errors.New("stack overflow")}, "stack overflow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsMatchesSentinelOfSameKind(t *testing.T) {
	err := fmt.Errorf("loading: %w", New(ClassResolutionFailed, "a/B not found"))

	assert.True(t, errors.Is(err, ErrClassResolutionFailed))
	assert.False(t, errors.Is(err, ErrMalformedUnit))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, Unclassified, KindOf(errors.New("plain")))
	assert.Equal(t, DependencyUpdateFailed, KindOf(fmt.Errorf("update: %w", New(DependencyUpdateFailed, "x"))))

	// The outermost classification wins.
	inner := New(MalformedUnit, "bad magic")
	outer := Wrap(ClassResolutionFailed, inner, "defining a/B")
	assert.Equal(t, ClassResolutionFailed, KindOf(outer))
	assert.True(t, errors.Is(outer, ErrMalformedUnit))
}
