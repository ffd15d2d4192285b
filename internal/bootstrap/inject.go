package bootstrap

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/compilo-build/compilo/internal/convention"
	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/loader"
	"github.com/compilo-build/compilo/internal/runtimelib"
	"github.com/compilo-build/compilo/internal/unit"
	"github.com/compilo-build/compilo/internal/vm"
)

// Context is everything a control type can ask for at construction.
type Context struct {
	WorkDir    string
	Properties map[string]string
	Out        io.Writer
}

// Build is a constructed control object.
type Build interface {
	Build(ctx context.Context) error
}

// ControlType constructs control objects. Needs declares which Context
// fields New receives; the others are left zero.
type ControlType interface {
	Name() string
	Needs() unit.Needs
	New(c Context) (Build, error)
}

// Inject constructs ct from the fields of full it declared.
func Inject(ct ControlType, full Context) (Build, error) {
	needs := ct.Needs()
	var c Context
	if needs.Has(unit.NeedWorkDir) {
		c.WorkDir = full.WorkDir
	}
	if needs.Has(unit.NeedProperties) {
		c.Properties = full.Properties
	}
	if needs.Has(unit.NeedOut) {
		c.Out = full.Out
	}
	return ct.New(c)
}

// autoBuildType is the default control type.
type autoBuildType struct {
	o *Orchestrator
}

func (t autoBuildType) Name() string { return runtimelib.AutoBuild }

func (t autoBuildType) Needs() unit.Needs { return unit.NeedsAll }

func (t autoBuildType) New(c Context) (Build, error) {
	return t.o.autoBuild(c.WorkDir, c.Properties, c.Out), nil
}

// scriptType is a control type backed by a loaded control unit.
type scriptType struct {
	o   *Orchestrator
	def *loader.Definition
}

func (t scriptType) Name() string { return t.def.Name }

func (t scriptType) Needs() unit.Needs { return t.def.Tree.Requires }

func (t scriptType) New(c Context) (Build, error) {
	if _, _, err := t.def.FindMethod(runtimelib.EntryPoint, runtimelib.EntryDesc); err != nil {
		return nil, failure.Wrap(failure.ExecutionFailed, err, "%s has no %s%s entry point", t.def.Name, runtimelib.EntryPoint, runtimelib.EntryDesc)
	}

	env := vm.Env{
		WorkDir:    c.WorkDir,
		Properties: c.Properties,
		Out:        c.Out,
		Granted:    t.Needs(),
	}
	env.AutoBuild = func(ctx context.Context) error {
		return t.o.autoBuild(env.WorkDir, env.Properties, env.Out).Build(ctx)
	}

	machine := vm.New(env, &vm.Options{Logger: t.o.logger, MaxDepth: t.o.opts.MaxDepth})
	obj, err := machine.Instantiate(t.def)
	if err != nil {
		return nil, err
	}
	return &scriptBuild{machine: machine, def: t.def, obj: obj, logger: t.o.logger}, nil
}

type scriptBuild struct {
	machine *vm.Machine
	def     *loader.Definition
	obj     *vm.Object
	logger  *zap.Logger
}

func (b *scriptBuild) Build(ctx context.Context) error {
	b.logger.Debug("running control unit", zap.String("unit", b.def.Name), zap.String("origin", b.def.Origin))
	if _, err := b.machine.Invoke(ctx, b.def, b.obj, runtimelib.EntryPoint, runtimelib.EntryDesc); err != nil {
		return fmt.Errorf("%s: %w", b.def.Name, err)
	}
	return nil
}

// autoBuild creates the conventional build rooted at dir.
func (o *Orchestrator) autoBuild(dir string, props map[string]string, out io.Writer) *convention.AutoBuild {
	if dir == "" {
		dir = o.root
	}
	return convention.New(o.layout(dir), &convention.Options{
		Logger:     o.logger,
		Name:       o.opts.ProjectName,
		Version:    o.opts.ProjectVersion,
		Registry:   o.opts.Registry,
		Verify:     o.opts.Verify,
		Libraries:  o.libs,
		Properties: props,
		Out:        out,
	})
}
