// Package compiler compiles source text straight into an in-memory store.
//
// The Compiler does not know any source language. It hands sources to a
// Service together with a class path made of the destination store and the
// library search path, and stores every unit the service emits. Nothing is
// read from or written to disk.
package compiler

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/compilo-build/compilo/compiler/errors"
	"github.com/compilo-build/compilo/internal/archive"
	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/resource"
	"github.com/compilo-build/compilo/internal/store"
	"github.com/compilo-build/compilo/internal/unit"
)

// Source is one compilation input.
type Source struct {
	Name string
	Text string
}

// Sink receives serialized units from a Service, keyed by symbolic name.
type Sink interface {
	Emit(name string, data []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(name string, data []byte) error

// Emit calls f.
func (f SinkFunc) Emit(name string, data []byte) error { return f(name, data) }

// Task is one invocation of a Service.
type Task struct {
	Sources   []Source
	ClassPath archive.Finder
	Output    Sink
	Report    func(errors.CompilerError)
}

// Service is an external compiler. Source problems are reported through
// Task.Report; the returned error is reserved for faults of the service
// itself.
type Service interface {
	Compile(ctx context.Context, task Task) error
}

// Options configures a Compiler.
type Options struct {
	Logger *zap.Logger
	// Now stamps emitted resources. Defaults to time.Now.
	Now func() time.Time
}

// Compiler drives a Service into a store.
type Compiler struct {
	service Service
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a compiler over service.
func New(service Service, opts *Options) *Compiler {
	c := &Compiler{service: service, logger: zap.NewNop(), now: time.Now}
	if opts != nil {
		if opts.Logger != nil {
			c.logger = opts.Logger
		}
		if opts.Now != nil {
			c.now = opts.Now
		}
	}
	return c
}

// Compile compiles sources against dst followed by libs and puts every
// emitted unit into dst. When any diagnostic is an error the result is a
// CompilationFailed failure wrapping an errors.List with every diagnostic;
// units emitted for the sources that did compile stay in dst.
func (c *Compiler) Compile(ctx context.Context, sources []Source, libs archive.SearchPath, dst *store.Store) error {
	var diags errors.List
	emitted := 0

	task := Task{
		Sources:   sources,
		ClassPath: libs.Prepend(dst),
		Output: SinkFunc(func(name string, data []byte) error {
			key := unit.FileName(name)
			dst.Put(key, resource.New(key, c.now(), data))
			emitted++
			return nil
		}),
		Report: func(d errors.CompilerError) {
			diags = append(diags, d)
		},
	}

	start := time.Now()
	if err := c.service.Compile(ctx, task); err != nil {
		return fmt.Errorf("compiler service failed: %w", err)
	}

	for _, w := range diags.Warnings() {
		c.logger.Warn("compiler warning", zap.String("diagnostic", w.Error()))
	}
	c.logger.Debug("compiled sources",
		zap.Int("sources", len(sources)),
		zap.Int("units", emitted),
		zap.Int("diagnostics", len(diags)),
		zap.Duration("duration", time.Since(start)))

	if diags.HasErrors() {
		return failure.Wrap(failure.CompilationFailed, diags, "compilation failed")
	}
	return nil
}

// Diagnostics extracts the diagnostics from a compilation failure.
func Diagnostics(err error) (errors.List, bool) {
	var l errors.List
	if goerrors.As(err, &l) {
		return l, true
	}
	return nil, false
}
