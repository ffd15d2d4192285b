package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compilo-build/compilo/internal/deps"
	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/resource"
	"github.com/compilo-build/compilo/internal/unit"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// clock advances by step on every call.
func clock(step time.Duration) func() time.Time {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func newOrchestrator(root string, out *bytes.Buffer, mutate func(*Options)) *Orchestrator {
	opts := &Options{
		Out:            out,
		Verify:         true,
		ProjectName:    "demo",
		ProjectVersion: "1.0",
		Now:            clock(2 * time.Second),
	}
	if mutate != nil {
		mutate(opts)
	}
	return New(root, opts)
}

func TestScenarioA_DefaultControlType(t *testing.T) {
	root := t.TempDir()
	var out bytes.Buffer

	res := newOrchestrator(root, &out, nil).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.ExitCode())
	assert.Equal(t, "compilo/AutoBuild", res.Control)
	assert.Equal(t, []State{StateStart, StateDiscover, StateUpdate, StateUseDefault, StateInstantiate, StateExecute, StateReport, StateEnd}, res.States)

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "build: compilo/AutoBuild\n"))
	assert.NotContains(t, text, "update:", "no descriptors, no update header")
	assert.True(t, strings.HasSuffix(text, "\nBUILD SUCCESSFUL\nTotal time: 2 seconds\n"), text)
	assert.FileExists(t, filepath.Join(root, "build", "artifacts", "demo-1.0.zip"))
}

func TestScenarioB_ControlScriptWithSourceError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Build.ua"), "unit Build extends compilo/Build\nmethod build() V {\n    bogus\n    return\n}\n")
	var out bytes.Buffer

	res := newOrchestrator(root, &out, nil).Run(context.Background())
	require.Error(t, res.Err)
	assert.NotEqual(t, 0, res.ExitCode())
	assert.Equal(t, failure.CompilationFailed, failure.KindOf(res.Err))

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "build: Build.ua\n"))
	assert.Contains(t, text, "Build.ua:3:5: E131: unknown instruction \"bogus\"\n")
	assert.Contains(t, text, "\nBUILD FAILED: CompilationFailed ")
	assert.Contains(t, text, "Total time: 2 seconds\n")
	assert.NotContains(t, res.States, StateExecute)
}

// greetingArchive writes a zip holding lib/Greeting with a static text()S.
func greetingArchive(t *testing.T, path string) {
	t.Helper()
	b, err := unit.Serialize(unit.Tree{
		Name:  "lib/Greeting",
		Flags: unit.Public,
		Methods: []unit.Method{{
			Name:     "text",
			Desc:     unit.MustDescriptor("()S"),
			Flags:    unit.Static,
			MaxStack: 1,
			Code:     []unit.Instruction{unit.StringConst("hello from foo"), unit.Insn(unit.OpVReturn)},
		}},
	})
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	z, err := resource.CreateZip(path)
	require.NoError(t, err)
	require.NoError(t, z.Put(resource.New("lib/Greeting.unit", time.Time{}, b)))
	require.NoError(t, z.Close())
}

func TestScenarioC_DescriptorArchivesJoinSearchPath(t *testing.T) {
	root := t.TempDir()
	greetingArchive(t, filepath.Join(root, "vendor", "greeting.zip"))
	writeFile(t, filepath.Join(root, "build", "foo.dependencies"), "# local artifacts\n../vendor/greeting.zip\n")
	writeFile(t, filepath.Join(root, "Build.ua"), `unit Build extends compilo/Build
requires out

method build() V {
    invoke lib/Greeting.text ()S
    invoke compilo/Console.println (S)V
    return
}
`)
	var out bytes.Buffer
	o := newOrchestrator(root, &out, nil)

	res := o.Run(context.Background())
	require.NoError(t, res.Err, out.String())
	assert.Equal(t, "build: Build.ua\nupdate:\nhello from foo\n\nBUILD SUCCESSFUL\nTotal time: 2 seconds\n", out.String())

	path, err := o.SearchPath()
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, filepath.Join(root, "lib", "foo", "greeting.zip"), path[0].String())
	assert.Equal(t, "memory:compilo-runtime", path[1].String())
}

type fakeUpdater struct {
	delay    time.Duration
	fail     map[string]bool
	done     atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeUpdater) Update(ctx context.Context, d deps.Descriptor) (deps.Result, error) {
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)
	f.inFlight.Add(-1)
	f.done.Add(1)
	if f.fail[d.Name] {
		return deps.Result{}, fmt.Errorf("%s: unreachable repository", d.Name)
	}
	return deps.Result{Name: d.Name}, nil
}

func TestUpdateBarrier(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		writeFile(t, filepath.Join(root, "build", name+".dependencies"), "")
	}
	writeFile(t, filepath.Join(root, "Build.ua"), "unit Build extends compilo/Build\nmethod build() V {\n    return\n}\n")

	up := &fakeUpdater{delay: 20 * time.Millisecond}
	doneAtCompile := int32(-1)
	var out bytes.Buffer
	o := newOrchestrator(root, &out, func(opts *Options) {
		opts.Updater = up
		opts.Workers = 2
		opts.OnState = func(s State) {
			if s == StateCompileAndLoad {
				doneAtCompile = up.done.Load()
			}
		}
	})

	res := o.Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, int32(5), doneAtCompile, "every update finished before compilation")
	assert.LessOrEqual(t, up.peak.Load(), int32(2), "pool is bounded by Workers")
	assert.Equal(t, 1, strings.Count(out.String(), "update:\n"))
}

func TestUpdateFailuresAreAggregated(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(root, "build", name+".dependencies"), "")
	}
	up := &fakeUpdater{fail: map[string]bool{"a": true, "c": true}}
	var out bytes.Buffer

	res := newOrchestrator(root, &out, func(opts *Options) { opts.Updater = up }).Run(context.Background())
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, failure.ErrDependencyUpdateFailed)
	assert.Equal(t, int32(3), up.done.Load(), "all tasks complete despite failures")
	assert.Contains(t, res.Err.Error(), "2 of 3 dependency updates failed")
	assert.Contains(t, res.Err.Error(), "a: unreachable repository")
	assert.Contains(t, res.Err.Error(), "c: unreachable repository")
	assert.Contains(t, out.String(), "BUILD FAILED: DependencyUpdateFailed")
	assert.NotContains(t, res.States, StateUseDefault)
}

func TestAmbiguousControlScript(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Build.ua"), "")
	writeFile(t, filepath.Join(root, "rebuild.ua"), "")
	writeFile(t, filepath.Join(root, "notes.ua"), "")
	var out bytes.Buffer

	res := newOrchestrator(root, &out, nil).Run(context.Background())
	assert.ErrorIs(t, res.Err, failure.ErrAmbiguousControlScript)
	assert.Equal(t, "\nBUILD FAILED: AmbiguousControlScript found 2 control scripts: Build.ua, rebuild.ua\nTotal time: 2 seconds\n", out.String())
}

func TestControlScriptNeedsAreEnforced(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Build.ua"), `unit Build extends compilo/Build
method build() V {
    sconst "no output declared"
    invoke compilo/Console.println (S)V
    return
}
`)
	var out bytes.Buffer

	res := newOrchestrator(root, &out, nil).Run(context.Background())
	require.Error(t, res.Err)
	assert.Equal(t, failure.ExecutionFailed, failure.KindOf(res.Err))
	assert.Contains(t, res.Err.Error(), "native print needs out")
	assert.NotContains(t, out.String(), "no output declared")
}

func TestControlScriptRunsConventionalBuild(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "app", "Main.ua"), "unit app/Main\nstatic method main() V {\n    return\n}\n")
	writeFile(t, filepath.Join(root, "ci", "Build.ua"), "ignored: only the root is searched")
	writeFile(t, filepath.Join(root, "Build.ua"), `unit Build extends compilo/Build
requires dir, out

method build() V {
    sconst "prepare"
    invoke compilo/Console.section (S)V
    native autobuild ()V
    return
}
`)
	var out bytes.Buffer

	res := newOrchestrator(root, &out, nil).Run(context.Background())
	require.NoError(t, res.Err, out.String())
	assert.Contains(t, out.String(), "build: Build.ua\nprepare:\ncompile:\n")
	assert.FileExists(t, filepath.Join(root, "build", "artifacts", "demo-1.0.zip"))
}

func TestScriptFailureIsReported(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Build.ua"), `unit Build extends compilo/Build
method build() V {
    sconst "tests are red"
    invoke compilo/Build.fail (S)V
    return
}
`)
	var out bytes.Buffer

	res := newOrchestrator(root, &out, nil).Run(context.Background())
	require.Error(t, res.Err)
	assert.Contains(t, out.String(), "BUILD FAILED: ExecutionFailed Build: tests are red\n")
}

type recordingType struct {
	needs unit.Needs
	got   Context
}

func (r *recordingType) Name() string      { return "test/Recording" }
func (r *recordingType) Needs() unit.Needs { return r.needs }
func (r *recordingType) New(c Context) (Build, error) {
	r.got = c
	return nil, nil
}

func TestInject(t *testing.T) {
	var out bytes.Buffer
	full := Context{WorkDir: "/work", Properties: map[string]string{"k": "v"}, Out: &out}

	rt := &recordingType{needs: unit.NeedOut}
	_, err := Inject(rt, full)
	require.NoError(t, err)
	assert.Equal(t, Context{Out: &out}, rt.got)

	rt = &recordingType{needs: unit.NeedWorkDir | unit.NeedProperties}
	_, err = Inject(rt, full)
	require.NoError(t, err)
	assert.Equal(t, Context{WorkDir: "/work", Properties: full.Properties}, rt.got)

	rt = &recordingType{needs: unit.NeedsAll}
	_, err = Inject(rt, full)
	require.NoError(t, err)
	assert.Equal(t, full, rt.got)
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "Build", ClassName("Build.ua"))
	assert.Equal(t, "my/project/Build", ClassName("my.project.Build.ua"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DISCOVER_CONTROL_SCRIPT", StateDiscover.String())
	assert.Equal(t, "State(42)", State(42).String())
}
