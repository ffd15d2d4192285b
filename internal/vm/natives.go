package vm

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/unit"
)

// Env is what natives can reach. Granted lists the fields the running
// control unit declared; natives needing anything else fail.
type Env struct {
	WorkDir    string
	Properties map[string]string
	Out        io.Writer
	Granted    unit.Needs

	// AutoBuild runs the conventional build for the autobuild native.
	AutoBuild func(ctx context.Context) error
}

// NativeFunc implements a native. args match the native's descriptor.
type NativeFunc func(ctx context.Context, env *Env, args []Value) (Value, error)

// Native is a host function callable with the NATIVE instruction.
type Native struct {
	Name  string
	Desc  unit.Descriptor
	Needs unit.Needs
	Fn    NativeFunc
}

// Key identifies n in a Natives table.
func (n Native) Key() string { return n.Name + n.Desc.String() }

// Natives is a table of natives keyed by name and descriptor.
type Natives map[string]Native

// With returns a copy of ns with n added or replaced.
func (ns Natives) With(n Native) Natives {
	out := make(Natives, len(ns)+1)
	for k, v := range ns {
		out[k] = v
	}
	out[n.Key()] = n
	return out
}

// DefaultNatives returns the natives available to control scripts.
func DefaultNatives() Natives {
	ns := Natives{}
	for _, n := range []Native{
		{"print", unit.MustDescriptor("(S)V"), unit.NeedOut, nativePrint},
		{"property", unit.MustDescriptor("(S)S"), unit.NeedProperties, nativeProperty},
		{"workdir", unit.MustDescriptor("()S"), unit.NeedWorkDir, nativeWorkDir},
		{"exec", unit.MustDescriptor("(S)I"), unit.NeedWorkDir, nativeExec},
		{"fail", unit.MustDescriptor("(S)V"), 0, nativeFail},
		{"itoa", unit.MustDescriptor("(I)S"), 0, nativeItoa},
		{"autobuild", unit.MustDescriptor("()V"), unit.NeedWorkDir | unit.NeedOut, nativeAutoBuild},
	} {
		ns[n.Key()] = n
	}
	return ns
}

func nativePrint(_ context.Context, env *Env, args []Value) (Value, error) {
	_, err := fmt.Fprintln(env.Out, args[0].Str)
	return Value{}, err
}

func nativeProperty(_ context.Context, env *Env, args []Value) (Value, error) {
	return String(env.Properties[args[0].Str]), nil
}

func nativeWorkDir(_ context.Context, env *Env, _ []Value) (Value, error) {
	return String(env.WorkDir), nil
}

// nativeExec runs a shell command in the working directory and returns its
// exit status. Output goes to the output sink when the unit declared it.
func nativeExec(ctx context.Context, env *Env, args []Value) (Value, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", args[0].Str)
	cmd.Dir = env.WorkDir
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if env.Granted.Has(unit.NeedOut) && env.Out != nil {
		cmd.Stdout = env.Out
		cmd.Stderr = env.Out
	}

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Int(0), nil
	case goerrors.As(err, &exitErr):
		return Int(int64(exitErr.ExitCode())), nil
	default:
		return Value{}, fmt.Errorf("exec %q: %w", args[0].Str, err)
	}
}

func nativeFail(_ context.Context, _ *Env, args []Value) (Value, error) {
	return Value{}, failure.New(failure.ExecutionFailed, "%s", args[0].Str)
}

func nativeItoa(_ context.Context, _ *Env, args []Value) (Value, error) {
	return String(strconv.FormatInt(args[0].Int, 10)), nil
}

func nativeAutoBuild(ctx context.Context, env *Env, _ []Value) (Value, error) {
	if env.AutoBuild == nil {
		return Value{}, failure.New(failure.ExecutionFailed, "autobuild is not available")
	}
	return Value{}, env.AutoBuild(ctx)
}
