// Package convention implements compilo/AutoBuild, the build used when a
// project has no control script (and the one control scripts reach through
// the autobuild native).
//
// Layout:
//
//	src/              unit assembly sources and resources
//	test/             test sources, run against the packaged units
//	lib/              materialized dependencies
//	build/artifacts/  packaged output
package convention

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/compilo-build/compilo/internal/archive"
	"github.com/compilo-build/compilo/internal/compiler"
	"github.com/compilo-build/compilo/internal/compiler/asm"
	"github.com/compilo-build/compilo/internal/resource"
	"github.com/compilo-build/compilo/internal/store"
	"github.com/compilo-build/compilo/internal/transform"
	"github.com/compilo-build/compilo/internal/unit"
)

// Layout locates the conventional project directories.
type Layout struct {
	Root      string
	Src       string
	Test      string
	Lib       string
	Build     string
	Artifacts string
}

// DefaultLayout returns the conventional layout under root.
func DefaultLayout(root string) Layout {
	return Layout{
		Root:      root,
		Src:       filepath.Join(root, "src"),
		Test:      filepath.Join(root, "test"),
		Lib:       filepath.Join(root, "lib"),
		Build:     filepath.Join(root, "build"),
		Artifacts: filepath.Join(root, "build", "artifacts"),
	}
}

// Options configures an AutoBuild.
type Options struct {
	Logger *zap.Logger
	// Name and Version name the package. Name defaults to the root
	// directory's base name, Version to 0.0.0.
	Name    string
	Version string
	// Registry holds the transformers applied to compiled units.
	Registry transform.Registry
	Verify   bool
	// Libraries is the class path for compilation and tests.
	Libraries  archive.SearchPath
	Properties map[string]string
	Out        io.Writer
}

// AutoBuild is the conventional build.
type AutoBuild struct {
	layout   Layout
	name     string
	version  string
	handlers resource.Handlers
	libs     archive.SearchPath
	props    map[string]string
	out      io.Writer
	logger   *zap.Logger
}

// New creates the conventional build for layout.
func New(layout Layout, opts *Options) *AutoBuild {
	if opts == nil {
		opts = &Options{}
	}
	b := &AutoBuild{
		layout:  layout,
		name:    opts.Name,
		version: opts.Version,
		libs:    opts.Libraries,
		props:   opts.Properties,
		out:     opts.Out,
		logger:  opts.Logger,
	}
	if b.name == "" {
		b.name = filepath.Base(layout.Root)
	}
	if b.version == "" {
		b.version = "0.0.0"
	}
	if b.out == nil {
		b.out = io.Discard
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	b.handlers = resource.Handlers{transform.NewHandler(opts.Registry, &transform.HandlerOptions{
		Verify: opts.Verify,
		Suffix: unit.Suffix,
		Logger: b.logger,
	})}
	return b
}

// ArtifactPath is where the package is written.
func (b *AutoBuild) ArtifactPath() string {
	return filepath.Join(b.layout.Artifacts, fmt.Sprintf("%s-%s.zip", b.name, b.version))
}

// Build cleans, compiles, packages and tests the project.
func (b *AutoBuild) Build(ctx context.Context) error {
	if err := os.RemoveAll(b.layout.Artifacts); err != nil {
		return fmt.Errorf("failed to clean %s: %w", b.layout.Artifacts, err)
	}

	classes, err := b.compile(ctx, "compile:", b.layout.Src, b.libs, "classes")
	if err != nil {
		return err
	}

	pkg, err := b.pack(classes)
	if err != nil {
		return err
	}

	return b.test(ctx, pkg)
}

// compile compiles every source under dir into a fresh store.
func (b *AutoBuild) compile(ctx context.Context, header, dir string, libs archive.SearchPath, storeName string) (*store.Store, error) {
	fmt.Fprintln(b.out, header)
	s := store.New(storeName)

	files, err := collect(dir, true)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		fmt.Fprintln(b.out, "  nothing to compile")
		return s, nil
	}

	srcs := make([]compiler.Source, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		srcs = append(srcs, compiler.Source{Name: b.rel(path), Text: string(data)})
	}

	start := time.Now()
	if err := compiler.New(asm.Service{}, &compiler.Options{Logger: b.logger}).Compile(ctx, srcs, libs, s); err != nil {
		return nil, err
	}
	fmt.Fprintf(b.out, "  %d units from %d sources (%s)\n", s.Len(), len(srcs), time.Since(start).Round(time.Millisecond))
	return s, nil
}

// pack runs the compiled units through the handler pipeline and writes them,
// with the non-source files under src, to the package archive. The processed
// units are also returned as a store for the test stage.
func (b *AutoBuild) pack(classes *store.Store) (pkg *store.Store, err error) {
	fmt.Fprintln(b.out, "package:")

	resources := classes.Entries()
	files, err := collect(b.layout.Src, false)
	if err != nil {
		return nil, err
	}
	for _, path := range files {
		r, err := resource.FromFile(b.layout.Src, path)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}

	if err := os.MkdirAll(b.layout.Artifacts, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", b.layout.Artifacts, err)
	}
	zw, err := resource.CreateZip(b.ArtifactPath())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			zw.Abort()
			return
		}
		if err = zw.Close(); err != nil {
			pkg = nil
		}
	}()

	pkg = store.New("package")
	out := resource.OutputsFunc(func(r resource.Resource) error {
		pkg.Put(r.Name(), r)
		return zw.Put(r)
	})
	if err := b.handlers.ProcessAll(resources, out); err != nil {
		return nil, err
	}

	fmt.Fprintf(b.out, "  %s (%d entries)\n", b.rel(b.ArtifactPath()), len(zw.Members()))
	b.logger.Debug("packaged artifact", zap.String("path", b.ArtifactPath()), zap.Strings("members", zw.Members()))
	return pkg, nil
}

func (b *AutoBuild) rel(path string) string {
	if r, err := filepath.Rel(b.layout.Root, path); err == nil {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(path)
}

// collect lists files under dir in lexical order: sources (the .ua files)
// or, with sources false, everything else. A missing dir is empty.
func collect(dir string, sources bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if strings.HasSuffix(path, asm.Extension) == sources {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return out, nil
}
