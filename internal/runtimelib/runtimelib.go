// Package runtimelib provides the tool's own runtime artifact: the compilo/*
// units control scripts compile against. The units are assembled from
// embedded sources on first use.
package runtimelib

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/compilo-build/compilo/internal/compiler"
	"github.com/compilo-build/compilo/internal/compiler/asm"
	"github.com/compilo-build/compilo/internal/store"
	"github.com/compilo-build/compilo/internal/unit"
)

// Well-known runtime names.
const (
	Name        = "compilo-runtime"
	BuildUnit   = "compilo/Build"
	AutoBuild   = "compilo/AutoBuild"
	ConsoleUnit = "compilo/Console"

	// EntryPoint is the method the bootstrapper calls on a control object.
	EntryPoint = "build"
)

// EntryDesc is the descriptor of EntryPoint.
var EntryDesc = unit.MustDescriptor("()V")

//go:embed ua/*.ua
var sources embed.FS

// Sources returns the embedded runtime sources sorted by name.
func Sources() ([]compiler.Source, error) {
	names, err := fs.Glob(sources, "ua/*"+asm.Extension)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]compiler.Source, 0, len(names))
	for _, name := range names {
		data, err := sources.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading runtime source %s: %w", name, err)
		}
		out = append(out, compiler.Source{Name: path.Join("runtime", path.Base(name)), Text: string(data)})
	}
	return out, nil
}

// Build assembles the runtime units into a fresh store.
func Build(ctx context.Context, logger *zap.Logger) (*store.Store, error) {
	srcs, err := Sources()
	if err != nil {
		return nil, err
	}
	s := store.New(Name)
	if err := compiler.New(asm.Service{}, &compiler.Options{Logger: logger}).Compile(ctx, srcs, nil, s); err != nil {
		return nil, fmt.Errorf("building runtime artifact: %w", err)
	}
	return s, nil
}

var (
	once    sync.Once
	shared  *store.Store
	initErr error
)

// Load returns the process-wide runtime store, building it once. The store
// must be treated as read-only.
func Load() (*store.Store, error) {
	once.Do(func() {
		shared, initErr = Build(context.Background(), nil)
	})
	return shared, initErr
}
