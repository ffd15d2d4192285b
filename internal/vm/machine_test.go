package vm

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compilo-build/compilo/internal/compiler"
	"github.com/compilo-build/compilo/internal/compiler/asm"
	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/loader"
	"github.com/compilo-build/compilo/internal/resource"
	"github.com/compilo-build/compilo/internal/store"
	"github.com/compilo-build/compilo/internal/transform"
	"github.com/compilo-build/compilo/internal/transform/tailcall"
	"github.com/compilo-build/compilo/internal/unit"
)

const mathSource = `
unit app/Math

@@compilo/tailrec
static method sum(n I, acc I) I {
    load n
    iconst 0
    eq
    jumpifnot recur
    load acc
    vreturn
recur:
    load n
    iconst 1
    sub
    load acc
    load n
    add
    invoke sum (II)I
    vreturn
}

static method div(a I, b I) I {
    load a
    load b
    div
    vreturn
}

static method spin() V {
top:
    jump top
}
`

const shapesSource = `
abstract unit app/Shape
requires out
abstract method name() S

method describe() V {
    sconst "shape: "
    invoke app/Shape.name ()S
    concat
    native print (S)V
    return
}

static method broken() V {
    invoke app/Shape.name ()S
    pop
    return
}

unit app/Square extends app/Shape
method name() S {
    sconst "square"
    vreturn
}
`

func compileStore(t *testing.T, sources ...string) *store.Store {
	t.Helper()
	var srcs []compiler.Source
	for i, s := range sources {
		srcs = append(srcs, compiler.Source{Name: "src" + string(rune('a'+i)) + ".ua", Text: s})
	}
	dst := store.New("test")
	require.NoError(t, compiler.New(asm.Service{}, nil).Compile(context.Background(), srcs, nil, dst))
	return dst
}

func resolve(t *testing.T, s *store.Store, name string) *loader.Definition {
	t.Helper()
	def, err := loader.New(s, nil, nil, nil).Resolve(name)
	require.NoError(t, err)
	return def
}

func TestMachine_StaticRecursion(t *testing.T) {
	def := resolve(t, compileStore(t, mathSource), "app/Math")
	m := New(Env{}, nil)

	v, err := m.Invoke(context.Background(), def, nil, "sum", unit.MustDescriptor("(II)I"), Int(10), Int(0))
	require.NoError(t, err)
	assert.Equal(t, Int(55), v)
}

func TestMachine_DepthLimitAndTailCalls(t *testing.T) {
	s := compileStore(t, mathSource)
	m := New(Env{}, &Options{MaxDepth: 100})
	desc := unit.MustDescriptor("(II)I")

	_, err := m.Invoke(context.Background(), resolve(t, s, "app/Math"), nil, "sum", desc, Int(1000), Int(0))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrExecutionFailed)
	assert.Contains(t, err.Error(), "call depth exceeds 100")

	h := transform.NewHandler(tailcall.Register(transform.NewRegistry()), &transform.HandlerOptions{Verify: true, Suffix: unit.Suffix})
	rewritten := store.New("rewritten")
	require.NoError(t, resource.Handlers{h}.ProcessAll(s.Entries(), rewritten.Outputs()))

	v, err := m.Invoke(context.Background(), resolve(t, rewritten, "app/Math"), nil, "sum", desc, Int(1000), Int(0))
	require.NoError(t, err)
	assert.Equal(t, Int(500500), v)
}

func TestMachine_VirtualDispatch(t *testing.T) {
	s := compileStore(t, shapesSource)
	l := loader.New(s, nil, nil, nil)
	square, err := l.Resolve("app/Square")
	require.NoError(t, err)

	var out bytes.Buffer
	m := New(Env{Out: &out, Granted: unit.NeedOut}, nil)
	obj, err := m.Instantiate(square)
	require.NoError(t, err)

	shape, err := l.Resolve("app/Shape")
	require.NoError(t, err)
	_, err = m.Instantiate(shape)
	assert.ErrorIs(t, err, failure.ErrExecutionFailed, "abstract units cannot be instantiated")

	_, err = m.Invoke(context.Background(), shape, obj, "describe", unit.MustDescriptor("()V"))
	require.NoError(t, err)
	assert.Equal(t, "shape: square\n", out.String())

	_, err = m.Invoke(context.Background(), shape, nil, "broken", unit.MustDescriptor("()V"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "called from a static method")
}

func TestMachine_NativeNeedsAreGranted(t *testing.T) {
	s := compileStore(t, shapesSource)
	l := loader.New(s, nil, nil, nil)
	square, err := l.Resolve("app/Square")
	require.NoError(t, err)

	var out bytes.Buffer
	m := New(Env{Out: &out}, nil)
	obj, err := m.Instantiate(square)
	require.NoError(t, err)

	_, err = m.Invoke(context.Background(), square, obj, "describe", unit.MustDescriptor("()V"))
	require.Error(t, err)
	assert.Equal(t, failure.ExecutionFailed, failure.KindOf(err))
	assert.Contains(t, err.Error(), "native print needs out")
	assert.Empty(t, out.String())
}

func TestMachine_Faults(t *testing.T) {
	def := resolve(t, compileStore(t, mathSource), "app/Math")
	m := New(Env{}, nil)

	_, err := m.Invoke(context.Background(), def, nil, "div", unit.MustDescriptor("(II)I"), Int(1), Int(0))
	assert.ErrorIs(t, err, failure.ErrExecutionFailed)
	assert.Contains(t, err.Error(), "division by zero")

	_, err = m.Invoke(context.Background(), def, nil, "div", unit.MustDescriptor("(II)I"), Int(1), String("x"))
	assert.ErrorIs(t, err, failure.ErrExecutionFailed)

	_, err = m.Invoke(context.Background(), def, nil, "missing", unit.MustDescriptor("()V"))
	assert.ErrorIs(t, err, failure.ErrClassResolutionFailed)
}

func TestMachine_ContextCancellation(t *testing.T) {
	def := resolve(t, compileStore(t, mathSource), "app/Math")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Env{}, nil).Invoke(ctx, def, nil, "spin", unit.MustDescriptor("()V"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNatives(t *testing.T) {
	src := `
unit app/Tools
requires dir, props, out

static method report() V {
    native workdir ()S
    native print (S)V
    sconst "name"
    native property (S)S
    native print (S)V
    iconst 42
    native itoa (I)S
    native print (S)V
    return
}

static method stop() V {
    sconst "stopped by script"
    native fail (S)V
    return
}

static method run(cmd S) I {
    load cmd
    native exec (S)I
    vreturn
}

static method auto() V {
    native autobuild ()V
    return
}
`
	def := resolve(t, compileStore(t, src), "app/Tools")
	var out bytes.Buffer
	autoRan := false
	env := Env{
		WorkDir:    t.TempDir(),
		Properties: map[string]string{"name": "demo"},
		Out:        &out,
		Granted:    unit.NeedsAll,
		AutoBuild: func(ctx context.Context) error {
			autoRan = true
			return nil
		},
	}
	m := New(env, nil)
	ctx := context.Background()

	_, err := m.Invoke(ctx, def, nil, "report", unit.MustDescriptor("()V"))
	require.NoError(t, err)
	assert.Equal(t, []string{env.WorkDir, "demo", "42"}, strings.Split(strings.TrimSpace(out.String()), "\n"))

	_, err = m.Invoke(ctx, def, nil, "stop", unit.MustDescriptor("()V"))
	require.Error(t, err)
	assert.Equal(t, "stopped by script", err.Error())

	_, err = m.Invoke(ctx, def, nil, "auto", unit.MustDescriptor("()V"))
	require.NoError(t, err)
	assert.True(t, autoRan)

	if runtime.GOOS == "windows" {
		t.Skip("exec uses sh")
	}
	out.Reset()
	v, err := m.Invoke(ctx, def, nil, "run", unit.MustDescriptor("(S)I"), String("echo hi; exit 3"))
	require.NoError(t, err)
	assert.Equal(t, Int(3), v)
	assert.Equal(t, "hi\n", out.String())
}
