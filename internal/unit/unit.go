// Package unit implements the compiled-unit model: a structural tree of
// declarations and methods, its binary codec, a structural verifier and a
// disassembler.
//
// Trees are values. Mutators such as WithMethod and WithoutTag return new
// values and never write through to slices shared with their receiver, so a
// tree handed to one transform cannot be observed changing by another.
package unit

import (
	"fmt"
	"strings"
)

// Suffix is the resource-name suffix of a serialized compiled unit.
const Suffix = ".unit"

// Flags is a declaration or method flag set.
type Flags uint32

const (
	Public Flags = 1 << iota
	Static
	Abstract
	Final
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{Public, "public"},
	{Static, "static"},
	{Abstract, "abstract"},
	{Final, "final"},
}

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, " ")
}

// ParseFlag maps a flag keyword to its bit.
func ParseFlag(word string) (Flags, bool) {
	for _, fn := range flagNames {
		if fn.name == word {
			return fn.flag, true
		}
	}
	return 0, false
}

// Needs is the set of construction-context fields a control unit declares.
type Needs uint8

const (
	NeedWorkDir Needs = 1 << iota
	NeedProperties
	NeedOut
)

// NeedsAll declares every context field.
const NeedsAll = NeedWorkDir | NeedProperties | NeedOut

var needNames = []struct {
	need Needs
	name string
}{
	{NeedWorkDir, "dir"},
	{NeedProperties, "props"},
	{NeedOut, "out"},
}

// Has reports whether all bits of n2 are set.
func (n Needs) Has(n2 Needs) bool { return n&n2 == n2 }

func (n Needs) String() string {
	var parts []string
	for _, nn := range needNames {
		if n.Has(nn.need) {
			parts = append(parts, nn.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseNeed maps a requires keyword (dir, props, out) to its bit.
func ParseNeed(word string) (Needs, bool) {
	for _, nn := range needNames {
		if nn.name == word {
			return nn.need, true
		}
	}
	return 0, false
}

// Type is a value type in a descriptor.
type Type byte

const (
	Void   Type = 'V'
	Int    Type = 'I'
	String Type = 'S'
	// Ref is the receiver of an instance method. It never appears in descriptors.
	Ref Type = 'L'
)

// Valid reports whether t may appear as a descriptor return type.
func (t Type) Valid() bool { return t == Void || t == Int || t == String }

func (t Type) String() string { return string(rune(t)) }

// Descriptor is a method signature: ordered argument types and a return type.
type Descriptor struct {
	Args   []Type
	Return Type
}

// ParseDescriptor parses the text form, e.g. "(IS)V".
func ParseDescriptor(s string) (Descriptor, error) {
	if len(s) < 3 || s[0] != '(' {
		return Descriptor{}, fmt.Errorf("invalid descriptor %q", s)
	}
	end := strings.IndexByte(s, ')')
	if end < 0 || end != len(s)-2 {
		return Descriptor{}, fmt.Errorf("invalid descriptor %q", s)
	}

	var d Descriptor
	for i := 1; i < end; i++ {
		t := Type(s[i])
		if t != Int && t != String {
			return Descriptor{}, fmt.Errorf("invalid argument type %q in descriptor %q", s[i], s)
		}
		d.Args = append(d.Args, t)
	}
	d.Return = Type(s[end+1])
	if !d.Return.Valid() {
		return Descriptor{}, fmt.Errorf("invalid return type %q in descriptor %q", s[end+1], s)
	}
	return d, nil
}

// MustDescriptor is ParseDescriptor for constant descriptors.
func MustDescriptor(s string) Descriptor {
	d, err := ParseDescriptor(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, a := range d.Args {
		b.WriteByte(byte(a))
	}
	b.WriteByte(')')
	b.WriteByte(byte(d.Return))
	return b.String()
}

// Equal compares descriptors by signature.
func (d Descriptor) Equal(o Descriptor) bool { return d.String() == o.String() }

// Valid reports whether every type in d is usable.
func (d Descriptor) Valid() bool {
	for _, a := range d.Args {
		if a != Int && a != String {
			return false
		}
	}
	return d.Return.Valid()
}

// LocalVar is a local-variable table entry.
type LocalVar struct {
	Index int
	Name  string
	Type  Type
}

// Tag is a metadata marker attached to a method. Dispatch compares tags by Type.
type Tag struct {
	Type  string
	Attrs map[string]string
}

// Method is one method node of a unit.
type Method struct {
	Name      string
	Desc      Descriptor
	Flags     Flags
	MaxStack  int
	MaxLocals int
	Locals    []LocalVar
	Code      []Instruction
	// RuntimeTags survive the build and can be queried after loading.
	RuntimeTags []Tag
	// BuildTags exist only for build-time processing.
	BuildTags []Tag
}

// IsStatic reports whether m has no receiver slot.
func (m Method) IsStatic() bool { return m.Flags.Has(Static) }

// IsAbstract reports whether m has no code.
func (m Method) IsAbstract() bool { return m.Flags.Has(Abstract) }

// Key identifies m within its unit.
func (m Method) Key() string { return m.Name + m.Desc.String() }

// InitialLocals returns the types occupying the first local slots on entry:
// the receiver for instance methods, followed by the arguments.
func (m Method) InitialLocals() []Type {
	types := make([]Type, 0, len(m.Desc.Args)+1)
	if !m.IsStatic() {
		types = append(types, Ref)
	}
	return append(types, m.Desc.Args...)
}

// ArgBase is the local index of the first argument.
func (m Method) ArgBase() int {
	if m.IsStatic() {
		return 0
	}
	return 1
}

// Tags returns every tag, runtime retention first.
func (m Method) Tags() []Tag {
	tags := make([]Tag, 0, len(m.RuntimeTags)+len(m.BuildTags))
	tags = append(tags, m.RuntimeTags...)
	return append(tags, m.BuildTags...)
}

// HasTag reports whether m carries a tag of the given type.
func (m Method) HasTag(tagType string) bool {
	_, ok := m.FindTag(tagType)
	return ok
}

// FindTag returns the first tag of the given type.
func (m Method) FindTag(tagType string) (Tag, bool) {
	for _, t := range m.Tags() {
		if t.Type == tagType {
			return t, true
		}
	}
	return Tag{}, false
}

// WithoutTag returns a copy of m with the first tag of tagType removed.
func (m Method) WithoutTag(tagType string) Method {
	if i := indexTag(m.RuntimeTags, tagType); i >= 0 {
		m.RuntimeTags = removeTag(m.RuntimeTags, i)
		return m
	}
	if i := indexTag(m.BuildTags, tagType); i >= 0 {
		m.BuildTags = removeTag(m.BuildTags, i)
	}
	return m
}

// WithCode returns a copy of m with a new instruction sequence.
func (m Method) WithCode(code []Instruction) Method {
	m.Code = append([]Instruction(nil), code...)
	return m
}

// Clone returns a deep copy of m.
func (m Method) Clone() Method {
	m.Desc.Args = append([]Type(nil), m.Desc.Args...)
	m.Locals = append([]LocalVar(nil), m.Locals...)
	m.Code = append([]Instruction(nil), m.Code...)
	m.RuntimeTags = cloneTags(m.RuntimeTags)
	m.BuildTags = cloneTags(m.BuildTags)
	return m
}

func indexTag(tags []Tag, tagType string) int {
	for i, t := range tags {
		if t.Type == tagType {
			return i
		}
	}
	return -1
}

func removeTag(tags []Tag, i int) []Tag {
	if len(tags) == 1 {
		return nil
	}
	out := make([]Tag, 0, len(tags)-1)
	out = append(out, tags[:i]...)
	return append(out, tags[i+1:]...)
}

func cloneTags(tags []Tag) []Tag {
	if tags == nil {
		return nil
	}
	out := make([]Tag, len(tags))
	for i, t := range tags {
		out[i] = Tag{Type: t.Type}
		if t.Attrs != nil {
			out[i].Attrs = make(map[string]string, len(t.Attrs))
			for k, v := range t.Attrs {
				out[i].Attrs[k] = v
			}
		}
	}
	return out
}

// Tree is a parsed compiled unit.
type Tree struct {
	Name     string
	Super    string
	Flags    Flags
	Requires Needs
	Methods  []Method
}

// FileName is the store key of the unit: its name plus Suffix.
func (t Tree) FileName() string { return FileName(t.Name) }

// Method finds a method by name and descriptor.
func (t Tree) Method(name string, desc Descriptor) (Method, int, bool) {
	for i, m := range t.Methods {
		if m.Name == name && m.Desc.Equal(desc) {
			return m, i, true
		}
	}
	return Method{}, -1, false
}

// WithMethod returns a copy of t with method i replaced.
func (t Tree) WithMethod(i int, m Method) Tree {
	methods := make([]Method, len(t.Methods))
	copy(methods, t.Methods)
	methods[i] = m
	t.Methods = methods
	return t
}

// Clone returns a deep copy of t.
func (t Tree) Clone() Tree {
	if t.Methods != nil {
		methods := make([]Method, len(t.Methods))
		for i, m := range t.Methods {
			methods[i] = m.Clone()
		}
		t.Methods = methods
	}
	return t
}

// FileName maps a symbolic name such as "app/Build" (or "app.Build") to
// its store key "app/Build.unit".
func FileName(name string) string {
	return strings.ReplaceAll(name, ".", "/") + Suffix
}

// NameOf maps a store key back to its symbolic name.
func NameOf(fileName string) string {
	return strings.TrimSuffix(fileName, Suffix)
}
