package convention

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/loader"
	"github.com/compilo-build/compilo/internal/store"
	"github.com/compilo-build/compilo/internal/unit"
	"github.com/compilo-build/compilo/internal/vm"
)

// TestTag marks a static ()V method as a test.
const TestTag = "test"

var testDesc = unit.MustDescriptor("()V")

// test compiles the test sources against the package and runs every test
// method. Every test runs; failures are aggregated.
func (b *AutoBuild) test(ctx context.Context, pkg *store.Store) error {
	files, err := collect(b.layout.Test, true)
	if err != nil || len(files) == 0 {
		return err
	}

	libs := b.libs.Prepend(pkg)
	tests, err := b.compile(ctx, "test:", b.layout.Test, libs, "tests")
	if err != nil {
		return err
	}

	parent := loader.New(pkg, b.libs, nil, &loader.Options{Logger: b.logger})
	l := loader.New(tests, nil, parent, &loader.Options{Logger: b.logger})
	machine := vm.New(vm.Env{
		WorkDir:    b.layout.Root,
		Properties: b.props,
		Out:        b.out,
		Granted:    unit.NeedsAll,
	}, &vm.Options{Logger: b.logger})

	var errs error
	run, failed := 0, 0
	for _, name := range tests.Names() {
		def, err := l.Resolve(unit.NameOf(name))
		if err != nil {
			return err
		}
		for _, m := range testMethods(def) {
			run++
			_, err := machine.Invoke(ctx, def, nil, m.Name, m.Desc)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			status := "ok"
			if err != nil {
				failed++
				status = "FAILED"
				errs = multierr.Append(errs, fmt.Errorf("%s.%s: %w", def.Name, m.Name, err))
			}
			fmt.Fprintf(b.out, "  %s.%s ... %s\n", def.Name, m.Name, status)
			b.logger.Debug("ran test", zap.String("unit", def.Name), zap.String("method", m.Name), zap.Bool("passed", err == nil))
		}
	}

	fmt.Fprintf(b.out, "  %d run, %d failed\n", run, failed)
	if errs != nil {
		return failure.Wrap(failure.ExecutionFailed, errs, "%d of %d tests failed", failed, run)
	}
	return nil
}

// testMethods returns the static ()V methods of def carrying TestTag,
// sorted by name.
func testMethods(def *loader.Definition) []unit.Method {
	var out []unit.Method
	for _, m := range def.Methods(TestTag) {
		if m.IsStatic() && m.Desc.Equal(testDesc) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
