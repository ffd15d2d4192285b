// Package bootstrap runs one build: it finds the control script, updates
// dependencies, compiles and loads the script (or falls back to the
// conventional build), constructs the control object and runs it.
//
// Run is the single place where failures are turned into a report; every
// stage below it returns classified errors.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/compilo-build/compilo/compiler/errors"
	"github.com/compilo-build/compilo/internal/archive"
	"github.com/compilo-build/compilo/internal/compiler"
	"github.com/compilo-build/compilo/internal/compiler/asm"
	"github.com/compilo-build/compilo/internal/convention"
	"github.com/compilo-build/compilo/internal/deps"
	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/loader"
	"github.com/compilo-build/compilo/internal/resource"
	"github.com/compilo-build/compilo/internal/runtimelib"
	"github.com/compilo-build/compilo/internal/store"
	"github.com/compilo-build/compilo/internal/transform"
	"github.com/compilo-build/compilo/internal/transform/tailcall"
)

// ScriptSuffix is the name suffix of control scripts.
const ScriptSuffix = "uild" + asm.Extension

// State is a stage of a run.
type State int

const (
	StateStart State = iota
	StateDiscover
	StateUpdate
	StateCompileAndLoad
	StateUseDefault
	StateInstantiate
	StateExecute
	StateReport
	StateEnd
)

var stateNames = [...]string{
	StateStart:          "START",
	StateDiscover:       "DISCOVER_CONTROL_SCRIPT",
	StateUpdate:         "UPDATE",
	StateCompileAndLoad: "COMPILE_AND_LOAD",
	StateUseDefault:     "USE_DEFAULT",
	StateInstantiate:    "INSTANTIATE",
	StateExecute:        "EXECUTE",
	StateReport:         "REPORT",
	StateEnd:            "END",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Updater materializes one dependency descriptor.
type Updater interface {
	Update(ctx context.Context, d deps.Descriptor) (deps.Result, error)
}

// Options configures an Orchestrator.
type Options struct {
	Logger *zap.Logger
	Out    io.Writer

	// LibDir and BuildDir are relative to the root.
	LibDir   string
	BuildDir string

	// Workers bounds the concurrent dependency updates.
	Workers int
	// Verify gates every transformed unit on the structural verifier.
	Verify   bool
	Registry transform.Registry

	Properties     map[string]string
	ProjectName    string
	ProjectVersion string
	// MaxDepth bounds the interpreter call depth of control scripts.
	MaxDepth int

	// Updater defaults to a deps.Updater over LibDir.
	Updater Updater
	// Diagnostics renders compiler diagnostics before the failure report.
	// Defaults to one plain line per diagnostic.
	Diagnostics func(w io.Writer, diags errors.List)
	// OnState observes state transitions.
	OnState func(State)
	Now     func() time.Time
}

// DefaultOptions returns the default orchestrator options.
func DefaultOptions() *Options {
	return &Options{
		Logger:   zap.NewNop(),
		Out:      os.Stdout,
		LibDir:   "lib",
		BuildDir: "build",
		Workers:  runtime.NumCPU(),
		Registry: tailcall.Register(transform.NewRegistry()),
		Now:      time.Now,
	}
}

// Orchestrator runs builds rooted at one directory.
type Orchestrator struct {
	root    string
	opts    Options
	logger  *zap.Logger
	out     io.Writer
	updater Updater
	libs    archive.SearchPath
}

// New creates an orchestrator for root. Zero fields of opts take their
// defaults.
func New(root string, opts *Options) *Orchestrator {
	def := DefaultOptions()
	if opts == nil {
		opts = def
	}
	o := &Orchestrator{root: root, opts: *opts}
	if o.opts.Logger == nil {
		o.opts.Logger = def.Logger
	}
	if o.opts.Out == nil {
		o.opts.Out = def.Out
	}
	if o.opts.LibDir == "" {
		o.opts.LibDir = def.LibDir
	}
	if o.opts.BuildDir == "" {
		o.opts.BuildDir = def.BuildDir
	}
	if o.opts.Workers <= 0 {
		o.opts.Workers = def.Workers
	}
	if o.opts.Registry.Len() == 0 {
		o.opts.Registry = def.Registry
	}
	if o.opts.Now == nil {
		o.opts.Now = def.Now
	}
	if o.opts.Diagnostics == nil {
		o.opts.Diagnostics = plainDiagnostics
	}

	o.logger = o.opts.Logger
	o.out = o.opts.Out
	o.updater = o.opts.Updater
	if o.updater == nil {
		o.updater = deps.NewUpdater(o.libDir(), &deps.Options{Logger: o.logger})
	}
	return o
}

func (o *Orchestrator) libDir() string { return filepath.Join(o.root, o.opts.LibDir) }

func (o *Orchestrator) buildDir() string { return filepath.Join(o.root, o.opts.BuildDir) }

func (o *Orchestrator) layout(root string) convention.Layout {
	l := convention.DefaultLayout(root)
	l.Lib = filepath.Join(root, o.opts.LibDir)
	l.Build = filepath.Join(root, o.opts.BuildDir)
	l.Artifacts = filepath.Join(l.Build, "artifacts")
	return l
}

// Result describes a finished run.
type Result struct {
	RunID   uuid.UUID
	Control string
	States  []State
	Err     error
	Elapsed time.Duration
}

// ExitCode is the process exit status for r.
func (r Result) ExitCode() int {
	if r.Err != nil {
		return 1
	}
	return 0
}

// Run performs one build and reports it on the output sink.
func (o *Orchestrator) Run(ctx context.Context) Result {
	res := Result{RunID: uuid.New()}
	start := o.opts.Now()
	logger := o.logger
	o.logger = logger.With(zap.String("run", res.RunID.String()))
	defer func() { o.logger = logger }()

	o.enter(&res, StateStart)
	err := o.run(ctx, &res)

	o.enter(&res, StateReport)
	res.Err = err
	res.Elapsed = o.opts.Now().Sub(start)
	o.report(res)

	o.enter(&res, StateEnd)
	return res
}

func (o *Orchestrator) enter(res *Result, s State) {
	res.States = append(res.States, s)
	o.logger.Debug("state transition", zap.Stringer("state", s))
	if o.opts.OnState != nil {
		o.opts.OnState(s)
	}
}

func (o *Orchestrator) run(ctx context.Context, res *Result) error {
	o.enter(res, StateDiscover)
	script, err := o.Discover()
	if err != nil {
		return err
	}
	res.Control = runtimelib.AutoBuild
	if script != "" {
		res.Control = o.rel(script)
	}
	fmt.Fprintf(o.out, "build: %s\n", res.Control)

	o.enter(res, StateUpdate)
	if err := o.update(ctx); err != nil {
		return err
	}

	if o.libs, err = o.SearchPath(); err != nil {
		return err
	}

	var ct ControlType
	if script == "" {
		o.enter(res, StateUseDefault)
		ct = autoBuildType{o: o}
	} else {
		o.enter(res, StateCompileAndLoad)
		if ct, err = o.compileAndLoad(ctx, script); err != nil {
			return err
		}
	}

	o.enter(res, StateInstantiate)
	b, err := Inject(ct, Context{WorkDir: o.root, Properties: o.opts.Properties, Out: o.out})
	if err != nil {
		return err
	}

	o.enter(res, StateExecute)
	return b.Build(ctx)
}

// Discover returns the control script directly under the root, or "" when
// there is none. More than one candidate is an AmbiguousControlScript
// failure.
func (o *Orchestrator) Discover() (string, error) {
	entries, err := os.ReadDir(o.root)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", o.root, err)
	}

	var found []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ScriptSuffix) {
			found = append(found, e.Name())
		}
	}
	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return filepath.Join(o.root, found[0]), nil
	}
	return "", failure.New(failure.AmbiguousControlScript, "found %d control scripts: %s", len(found), strings.Join(found, ", "))
}

// SearchPath is every archive under the library root, sorted, followed by
// the runtime artifact.
func (o *Orchestrator) SearchPath() (archive.SearchPath, error) {
	paths, err := archive.FindArchives(o.libDir())
	if err != nil {
		return nil, err
	}
	libs, err := archive.OpenAll(paths)
	if err != nil {
		return nil, err
	}
	rt, err := runtimelib.Load()
	if err != nil {
		return nil, err
	}
	o.logger.Debug("library search path", zap.Stringer("path", libs.Append(rt)))
	return libs.Append(rt), nil
}

// ClassName maps a script path relative to the root to the unit it must
// declare: "Build.ua" declares Build, "ci/Build.ua" ci/Build.
func ClassName(rel string) string {
	name := strings.TrimSuffix(filepath.ToSlash(rel), asm.Extension)
	return strings.ReplaceAll(name, ".", "/")
}

func (o *Orchestrator) compileAndLoad(ctx context.Context, script string) (ControlType, error) {
	rel := o.rel(script)
	data, err := os.ReadFile(script)
	if err != nil {
		return nil, fmt.Errorf("failed to read control script: %w", err)
	}

	s := store.New("control")
	c := compiler.New(asm.Service{}, &compiler.Options{Logger: o.logger})
	if err := c.Compile(ctx, []compiler.Source{{Name: rel, Text: string(data)}}, o.libs, s); err != nil {
		return nil, err
	}

	handlers := resource.Handlers{transform.NewHandler(o.opts.Registry, &transform.HandlerOptions{
		Verify: o.opts.Verify,
		Logger: o.logger,
	})}
	if err := handlers.ProcessAll(s.Entries(), s.Outputs()); err != nil {
		return nil, err
	}

	l := loader.New(s, o.libs, nil, &loader.Options{Logger: o.logger})
	def, err := l.Resolve(ClassName(rel))
	if err != nil {
		return nil, err
	}
	return scriptType{o: o, def: def}, nil
}

func (o *Orchestrator) rel(path string) string {
	if r, err := filepath.Rel(o.root, path); err == nil {
		return filepath.ToSlash(r)
	}
	return path
}

func (o *Orchestrator) report(res Result) {
	if diags, ok := compiler.Diagnostics(res.Err); ok {
		o.opts.Diagnostics(o.out, diags)
	}

	fmt.Fprintln(o.out)
	if res.Err == nil {
		fmt.Fprintln(o.out, "BUILD SUCCESSFUL")
	} else {
		fmt.Fprintf(o.out, "BUILD FAILED: %s %s\n", failure.KindOf(res.Err), res.Err)
		o.logger.Debug("build failed", zap.Error(res.Err))
	}
	fmt.Fprintf(o.out, "Total time: %d seconds\n", int64(res.Elapsed/time.Second))
}

func plainDiagnostics(w io.Writer, diags errors.List) {
	for _, d := range diags {
		fmt.Fprintln(w, d.Error())
	}
}
