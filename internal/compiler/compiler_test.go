package compiler

import (
	"context"
	goerrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compilo-build/compilo/compiler/errors"
	"github.com/compilo-build/compilo/internal/archive"
	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/resource"
	"github.com/compilo-build/compilo/internal/store"
)

type fakeService struct {
	emit    map[string][]byte
	diags   []errors.CompilerError
	err     error
	seen    Task
	lookups map[string]bool
}

func (f *fakeService) Compile(ctx context.Context, task Task) error {
	f.seen = task
	for name, data := range f.emit {
		if err := task.Output.Emit(name, data); err != nil {
			return err
		}
	}
	for _, d := range f.diags {
		task.Report(d)
	}
	for name := range f.lookups {
		_, ok, err := task.ClassPath.Lookup(name)
		if err != nil {
			return err
		}
		f.lookups[name] = ok
	}
	return f.err
}

func TestCompile_StoresEmittedUnits(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := &fakeService{emit: map[string][]byte{"app/Build": []byte("unit")}}
	dst := store.New("dst")

	err := New(svc, &Options{Now: func() time.Time { return ts }}).Compile(context.Background(), []Source{{Name: "Build.ua"}}, nil, dst)
	require.NoError(t, err)

	r, ok := dst.Get("app/Build.unit")
	require.True(t, ok)
	assert.Equal(t, "unit", string(r.Bytes()))
	assert.Equal(t, ts, r.Modified())
	assert.Len(t, svc.seen.Sources, 1)
}

func TestCompile_ClassPathSeesDestinationFirst(t *testing.T) {
	lib := store.New("lib")
	lib.Put("lib/A.unit", resource.New("lib/A.unit", time.Time{}, []byte("a")))
	dst := store.New("dst")
	dst.Put("app/Old.unit", resource.New("app/Old.unit", time.Time{}, []byte("o")))

	svc := &fakeService{lookups: map[string]bool{"lib/A.unit": false, "app/Old.unit": false, "app/None.unit": true}}
	require.NoError(t, New(svc, nil).Compile(context.Background(), nil, archive.SearchPath{lib}, dst))

	assert.True(t, svc.lookups["lib/A.unit"])
	assert.True(t, svc.lookups["app/Old.unit"])
	assert.False(t, svc.lookups["app/None.unit"])
}

func TestCompile_ErrorsBecomeCompilationFailure(t *testing.T) {
	warn := errors.NewCompilerError("parser", "E105", "unused", errors.SourceLocation{File: "a.ua", Line: 1, Column: 1}, errors.Warning)
	bad := errors.NewCompilerError("parser", errors.ErrUnknownMnemonic, "unknown mnemonic", errors.SourceLocation{File: "a.ua", Line: 2, Column: 5}, errors.Error)
	svc := &fakeService{
		emit:  map[string][]byte{"app/Good": []byte("g")},
		diags: []errors.CompilerError{warn, bad},
	}
	dst := store.New("dst")

	err := New(svc, nil).Compile(context.Background(), nil, nil, dst)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrCompilationFailed)
	assert.Equal(t, failure.CompilationFailed, failure.KindOf(err))

	diags, ok := Diagnostics(err)
	require.True(t, ok)
	assert.Len(t, diags, 2)
	assert.Len(t, diags.Errors(), 1)

	assert.Equal(t, 1, dst.Len(), "units emitted before the failure are kept")
}

func TestCompile_WarningsOnlySucceed(t *testing.T) {
	warn := errors.NewCompilerError("parser", "E105", "unused", errors.SourceLocation{File: "a.ua", Line: 1, Column: 1}, errors.Warning)
	err := New(&fakeService{diags: []errors.CompilerError{warn}}, nil).Compile(context.Background(), nil, nil, store.New("dst"))
	assert.NoError(t, err)
}

func TestCompile_ServiceFault(t *testing.T) {
	boom := goerrors.New("boom")
	err := New(&fakeService{err: boom}, nil).Compile(context.Background(), nil, nil, store.New("dst"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	_, ok := Diagnostics(err)
	assert.False(t, ok)
}
