package vm

import (
	"strconv"

	"github.com/compilo-build/compilo/internal/loader"
	"github.com/compilo-build/compilo/internal/unit"
)

// Value is a slot or operand-stack value.
type Value struct {
	Type unit.Type
	Int  int64
	Str  string
	Obj  *Object
}

// Int wraps an integer.
func Int(v int64) Value { return Value{Type: unit.Int, Int: v} }

// String wraps a string.
func String(s string) Value { return Value{Type: unit.String, Str: s} }

// Ref wraps an object reference.
func Ref(o *Object) Value { return Value{Type: unit.Ref, Obj: o} }

// Bool encodes b as 1 or 0.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

func (v Value) String() string {
	switch v.Type {
	case unit.Int:
		return strconv.FormatInt(v.Int, 10)
	case unit.String:
		return v.Str
	case unit.Ref:
		if v.Obj == nil {
			return "<nil>"
		}
		return "<" + v.Obj.Class.Name + ">"
	}
	return ""
}

// Equal compares by type and content; references compare by identity.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case unit.Int:
		return v.Int == o.Int
	case unit.String:
		return v.Str == o.Str
	}
	return v.Obj == o.Obj
}

// Object is an instance of a loaded unit. Units carry no fields, so an
// object is only its class.
type Object struct {
	Class *loader.Definition
}
