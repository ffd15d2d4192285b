// Package vm executes loaded units.
//
// The interpreter keeps its own frame stack instead of recursing on the Go
// stack, so call depth is bounded by Options.MaxDepth and a runaway script
// fails with ExecutionFailed rather than crashing the process. The caller's
// context is checked between instructions.
package vm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/loader"
	"github.com/compilo-build/compilo/internal/unit"
)

// ctxCheckInterval is how many instructions run between context checks.
const ctxCheckInterval = 1024

// Options configures a Machine.
type Options struct {
	Logger   *zap.Logger
	MaxDepth int
	Natives  Natives
}

// DefaultOptions returns the default machine options.
func DefaultOptions() *Options {
	return &Options{
		Logger:   zap.NewNop(),
		MaxDepth: 1024,
		Natives:  DefaultNatives(),
	}
}

// Machine runs methods of loaded units against one Env.
type Machine struct {
	env      Env
	natives  Natives
	maxDepth int
	logger   *zap.Logger
}

// New creates a machine. A nil opts uses DefaultOptions.
func New(env Env, opts *Options) *Machine {
	def := DefaultOptions()
	if opts == nil {
		opts = def
	}
	m := &Machine{env: env, natives: opts.Natives, maxDepth: opts.MaxDepth, logger: opts.Logger}
	if m.natives == nil {
		m.natives = def.Natives
	}
	if m.maxDepth <= 0 {
		m.maxDepth = def.MaxDepth
	}
	if m.logger == nil {
		m.logger = def.Logger
	}
	return m
}

// Env returns the machine's environment.
func (m *Machine) Env() Env { return m.env }

// Instantiate creates an object of def.
func (m *Machine) Instantiate(def *loader.Definition) (*Object, error) {
	if def.Tree.Flags.Has(unit.Abstract) {
		return nil, failure.New(failure.ExecutionFailed, "cannot instantiate abstract unit %s", def.Name)
	}
	return &Object{Class: def}, nil
}

// Invoke calls name/desc on def. Instance methods need recv and dispatch on
// recv's class; static methods ignore it.
func (m *Machine) Invoke(ctx context.Context, def *loader.Definition, recv *Object, name string, desc unit.Descriptor, args ...Value) (Value, error) {
	decl, meth, err := def.FindMethod(name, desc)
	if err != nil {
		return Value{}, err
	}

	var f *frame
	if meth.IsStatic() {
		f, err = m.newFrame(decl, meth, nil, args)
	} else {
		if recv == nil {
			return Value{}, failure.New(failure.ExecutionFailed, "instance method %s.%s called without a receiver", def.Name, meth.Key())
		}
		f, err = m.dispatch(recv, def.Name, name, desc, args)
	}
	if err != nil {
		return Value{}, err
	}

	m.logger.Debug("invoking method",
		zap.String("unit", f.def.Name),
		zap.String("method", f.method.Key()),
		zap.String("loader", f.def.LoaderID.String()))
	return m.run(ctx, f)
}

type frame struct {
	def    *loader.Definition
	method unit.Method
	locals []Value
	stack  []Value
	pc     int
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) popN(n int) []Value {
	args := make([]Value, n)
	copy(args, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return args
}

func (f *frame) fault(format string, args ...any) error {
	return failure.New(failure.ExecutionFailed, "%s.%s at %d: %s", f.def.Name, f.method.Key(), f.pc-1, fmt.Sprintf(format, args...))
}

func (m *Machine) newFrame(def *loader.Definition, meth unit.Method, recv *Object, args []Value) (*frame, error) {
	if meth.IsAbstract() {
		return nil, failure.New(failure.ExecutionFailed, "method %s.%s is abstract", def.Name, meth.Key())
	}
	if len(args) != len(meth.Desc.Args) {
		return nil, failure.New(failure.ExecutionFailed, "method %s.%s takes %d arguments, got %d", def.Name, meth.Key(), len(meth.Desc.Args), len(args))
	}
	for i, a := range args {
		if a.Type != meth.Desc.Args[i] {
			return nil, failure.New(failure.ExecutionFailed, "method %s.%s argument %d: expected %s, got %s", def.Name, meth.Key(), i, meth.Desc.Args[i], a.Type)
		}
	}

	f := &frame{
		def:    def,
		method: meth,
		locals: make([]Value, max(meth.MaxLocals, len(args)+meth.ArgBase())),
		stack:  make([]Value, 0, meth.MaxStack),
	}
	if !meth.IsStatic() {
		f.locals[0] = Ref(recv)
	}
	copy(f.locals[meth.ArgBase():], args)
	return f, nil
}

// dispatch selects the implementation of owner's name/desc for recv.
func (m *Machine) dispatch(recv *Object, owner, name string, desc unit.Descriptor, args []Value) (*frame, error) {
	ok, err := recv.Class.Extends(owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, failure.New(failure.ExecutionFailed, "%s is not a %s", recv.Class.Name, owner)
	}
	decl, meth, err := recv.Class.FindMethod(name, desc)
	if err != nil {
		return nil, err
	}
	return m.newFrame(decl, meth, recv, args)
}

// call prepares the frame for an INVOKE in caller. Owners resolve through the
// loader that defined the caller.
func (m *Machine) call(caller *frame, in unit.Instruction) (*frame, error) {
	owner, err := caller.def.Loader().Resolve(in.Owner)
	if err != nil {
		return nil, err
	}
	decl, meth, err := owner.FindMethod(in.Name, in.Desc)
	if err != nil {
		return nil, err
	}

	args := caller.popN(len(in.Desc.Args))
	if meth.IsStatic() {
		return m.newFrame(decl, meth, nil, args)
	}
	if caller.method.IsStatic() {
		return nil, caller.fault("instance method %s.%s called from a static method", in.Owner, meth.Key())
	}
	recv := caller.locals[0]
	if recv.Type != unit.Ref || recv.Obj == nil {
		return nil, caller.fault("receiver slot does not hold an object")
	}
	return m.dispatch(recv.Obj, owner.Name, in.Name, in.Desc, args)
}

func (m *Machine) native(ctx context.Context, f *frame, in unit.Instruction) error {
	n, ok := m.natives[in.Name+in.Desc.String()]
	if !ok {
		return f.fault("unknown native %s %s", in.Name, in.Desc)
	}
	if !m.env.Granted.Has(n.Needs) {
		return f.fault("native %s needs %s, which the build did not declare", n.Name, n.Needs&^m.env.Granted)
	}

	args := f.popN(len(in.Desc.Args))
	for i, a := range args {
		if a.Type != in.Desc.Args[i] {
			return f.fault("native %s argument %d: expected %s, got %s", n.Name, i, in.Desc.Args[i], a.Type)
		}
	}
	v, err := n.Fn(ctx, &m.env, args)
	if err != nil {
		if failure.KindOf(err) != failure.Unclassified {
			return err
		}
		return failure.Wrap(failure.ExecutionFailed, err, "native %s", n.Name)
	}
	if in.Desc.Return != unit.Void {
		f.push(v)
	}
	return nil
}

func (m *Machine) run(ctx context.Context, root *frame) (Value, error) {
	frames := []*frame{root}

	for steps := 1; ; steps++ {
		if steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Value{}, err
			}
		}

		f := frames[len(frames)-1]
		if f.pc >= len(f.method.Code) {
			return Value{}, f.fault("execution fell off the end of the code")
		}
		in := f.method.Code[f.pc]
		f.pc++

		switch in.Op {
		case unit.OpNop:
		case unit.OpIConst:
			f.push(Int(in.Int))
		case unit.OpSConst:
			f.push(String(in.Str))
		case unit.OpLoad:
			f.push(f.locals[in.Int])
		case unit.OpStore:
			f.locals[in.Int] = f.pop()
		case unit.OpPop:
			f.pop()
		case unit.OpDup:
			v := f.pop()
			f.push(v)
			f.push(v)

		case unit.OpAdd, unit.OpSub, unit.OpMul, unit.OpDiv, unit.OpMod, unit.OpLt:
			b, a := f.pop(), f.pop()
			if a.Type != unit.Int || b.Type != unit.Int {
				return Value{}, f.fault("%s needs two integers", in.Op)
			}
			v, err := arith(in.Op, a.Int, b.Int)
			if err != nil {
				return Value{}, f.fault("%v", err)
			}
			f.push(v)
		case unit.OpConcat:
			b, a := f.pop(), f.pop()
			f.push(String(a.String() + b.String()))
		case unit.OpEq:
			b, a := f.pop(), f.pop()
			f.push(Bool(a.Equal(b)))
		case unit.OpNot:
			v := f.pop()
			if v.Type != unit.Int {
				return Value{}, f.fault("not needs an integer")
			}
			f.push(Bool(v.Int == 0))

		case unit.OpJump:
			f.pc = int(in.Int)
		case unit.OpJumpIf, unit.OpJumpIfNot:
			v := f.pop()
			if v.Type != unit.Int {
				return Value{}, f.fault("%s needs an integer", in.Op)
			}
			if (v.Int != 0) == (in.Op == unit.OpJumpIf) {
				f.pc = int(in.Int)
			}

		case unit.OpInvoke:
			if len(frames) >= m.maxDepth {
				return Value{}, f.fault("call depth exceeds %d", m.maxDepth)
			}
			callee, err := m.call(f, in)
			if err != nil {
				return Value{}, err
			}
			frames = append(frames, callee)
		case unit.OpNative:
			if err := m.native(ctx, f, in); err != nil {
				return Value{}, err
			}

		case unit.OpReturn, unit.OpVReturn:
			var ret Value
			if in.Op == unit.OpVReturn {
				ret = f.pop()
				if ret.Type != f.method.Desc.Return {
					return Value{}, f.fault("returns %s from a method declared %s", ret.Type, f.method.Desc.Return)
				}
			}
			frames = frames[:len(frames)-1]
			if len(frames) == 0 {
				return ret, nil
			}
			if in.Op == unit.OpVReturn {
				frames[len(frames)-1].push(ret)
			}

		default:
			return Value{}, f.fault("unknown opcode %s", in.Op)
		}
	}
}

func arith(op unit.Opcode, a, b int64) (Value, error) {
	switch op {
	case unit.OpAdd:
		return Int(a + b), nil
	case unit.OpSub:
		return Int(a - b), nil
	case unit.OpMul:
		return Int(a * b), nil
	case unit.OpDiv, unit.OpMod:
		if b == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		if op == unit.OpDiv {
			return Int(a / b), nil
		}
		return Int(a % b), nil
	case unit.OpLt:
		return Bool(a < b), nil
	}
	return Value{}, fmt.Errorf("not an arithmetic opcode: %s", op)
}
