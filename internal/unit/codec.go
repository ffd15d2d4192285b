package unit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/compilo-build/compilo/internal/failure"
)

// Header constants
const (
	Magic   = "CUNT"
	Version = 1

	headerSize = len(Magic) + 2
)

var (
	errUnexpectedEOF = errors.New("unexpected end of unit data")
	errBadCount      = errors.New("element count exceeds remaining data")
)

var attrEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

type encoder struct {
	buf []byte
}

func (e *encoder) uvarint(v uint64) { e.buf = binary.AppendUvarint(e.buf, v) }
func (e *encoder) varint(v int64)   { e.buf = binary.AppendVarint(e.buf, v) }

func (e *encoder) bytes(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) string(s string) {
	e.uvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) count(n int) { e.uvarint(uint64(n)) }

func (e *encoder) slot(v int64, what string) error {
	if v < 0 {
		return fmt.Errorf("negative %s operand %d", what, v)
	}
	e.uvarint(uint64(v))
	return nil
}

// Serialize encodes t. Output is deterministic: every collection is written
// in slice order and tag attributes use canonical CBOR.
func Serialize(t Tree) ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 256)}
	e.buf = append(e.buf, Magic...)
	e.buf = binary.BigEndian.AppendUint16(e.buf, Version)

	e.uvarint(uint64(t.Flags))
	e.string(t.Name)
	e.string(t.Super)
	e.uvarint(uint64(t.Requires))

	e.count(len(t.Methods))
	for _, m := range t.Methods {
		if err := e.method(m); err != nil {
			return nil, fmt.Errorf("serializing %s.%s: %w", t.Name, m.Key(), err)
		}
	}
	return e.buf, nil
}

func (e *encoder) method(m Method) error {
	if m.MaxStack < 0 || m.MaxLocals < 0 {
		return fmt.Errorf("negative frame size")
	}
	e.string(m.Name)
	e.string(m.Desc.String())
	e.uvarint(uint64(m.Flags))
	e.uvarint(uint64(m.MaxStack))
	e.uvarint(uint64(m.MaxLocals))

	e.count(len(m.Locals))
	for _, lv := range m.Locals {
		if lv.Index < 0 {
			return fmt.Errorf("negative local index %d", lv.Index)
		}
		e.uvarint(uint64(lv.Index))
		e.string(lv.Name)
		e.buf = append(e.buf, byte(lv.Type))
	}

	e.count(len(m.Code))
	for i, in := range m.Code {
		if err := e.instruction(in); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}

	if err := e.tags(m.RuntimeTags); err != nil {
		return err
	}
	return e.tags(m.BuildTags)
}

func (e *encoder) instruction(in Instruction) error {
	if !in.Op.Valid() {
		return fmt.Errorf("unknown opcode %d", in.Op)
	}
	e.buf = append(e.buf, byte(in.Op))

	switch opInfo[in.Op].operand {
	case operandInt:
		e.varint(in.Int)
	case operandSlot:
		return e.slot(in.Int, in.Op.String())
	case operandString:
		e.string(in.Str)
	case operandCall:
		e.string(in.Owner)
		e.string(in.Name)
		e.string(in.Desc.String())
	case operandNative:
		e.string(in.Name)
		e.string(in.Desc.String())
	}
	return nil
}

func (e *encoder) tags(tags []Tag) error {
	e.count(len(tags))
	for _, t := range tags {
		e.string(t.Type)
		if len(t.Attrs) == 0 {
			e.bytes(nil)
			continue
		}
		b, err := attrEncMode.Marshal(t.Attrs)
		if err != nil {
			return fmt.Errorf("encoding attributes of tag %s: %w", t.Type, err)
		}
		e.bytes(b)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

type decoder struct {
	data   []byte
	offset int
}

func (d *decoder) remaining() int { return len(d.data) - d.offset }

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.offset:])
	if n <= 0 {
		return 0, errUnexpectedEOF
	}
	d.offset += n
	return v, nil
}

func (d *decoder) varint() (int64, error) {
	v, n := binary.Varint(d.data[d.offset:])
	if n <= 0 {
		return 0, errUnexpectedEOF
	}
	d.offset += n
	return v, nil
}

func (d *decoder) int() (int, error) {
	v, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("value %d out of range", v)
	}
	return int(v), nil
}

// count reads an element count, rejecting counts that could not possibly
// fit in the remaining data (every element takes at least one byte).
func (d *decoder) count() (int, error) {
	v, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(d.remaining()) {
		return 0, errBadCount
	}
	return int(v), nil
}

func (d *decoder) byte() (byte, error) {
	if d.remaining() < 1 {
		return 0, errUnexpectedEOF
	}
	b := d.data[d.offset]
	d.offset++
	return b, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := d.data[d.offset : d.offset+n]
	d.offset += n
	return b, nil
}

func (d *decoder) string() (string, error) {
	b, err := d.bytes()
	return string(b), err
}

func (d *decoder) descriptor() (Descriptor, error) {
	s, err := d.string()
	if err != nil {
		return Descriptor{}, err
	}
	return ParseDescriptor(s)
}

// Parse decodes a compiled unit. Any structural problem is reported as a
// MalformedUnit failure.
func Parse(b []byte) (Tree, error) {
	t, err := parse(b)
	if err != nil {
		return Tree{}, failure.Wrap(failure.MalformedUnit, err, "malformed unit")
	}
	return t, nil
}

func parse(b []byte) (Tree, error) {
	if len(b) < headerSize {
		return Tree{}, fmt.Errorf("corrupt header: %d bytes", len(b))
	}
	if string(b[:len(Magic)]) != Magic {
		return Tree{}, fmt.Errorf("invalid magic number %q: expected %s", b[:len(Magic)], Magic)
	}
	if v := binary.BigEndian.Uint16(b[len(Magic):]); v != Version {
		return Tree{}, fmt.Errorf("version mismatch: expected %d, got %d", Version, v)
	}

	d := &decoder{data: b, offset: headerSize}
	var t Tree

	flags, err := d.uvarint()
	if err != nil {
		return Tree{}, err
	}
	t.Flags = Flags(flags)
	if t.Name, err = d.string(); err != nil {
		return Tree{}, err
	}
	if t.Super, err = d.string(); err != nil {
		return Tree{}, err
	}
	requires, err := d.uvarint()
	if err != nil {
		return Tree{}, err
	}
	t.Requires = Needs(requires)

	n, err := d.count()
	if err != nil {
		return Tree{}, err
	}
	for i := 0; i < n; i++ {
		m, err := d.method()
		if err != nil {
			return Tree{}, fmt.Errorf("method %d: %w", i, err)
		}
		t.Methods = append(t.Methods, m)
	}

	if d.remaining() != 0 {
		return Tree{}, fmt.Errorf("%d trailing bytes", d.remaining())
	}
	return t, nil
}

func (d *decoder) method() (Method, error) {
	var m Method
	var err error

	if m.Name, err = d.string(); err != nil {
		return m, err
	}
	if m.Desc, err = d.descriptor(); err != nil {
		return m, err
	}
	flags, err := d.uvarint()
	if err != nil {
		return m, err
	}
	m.Flags = Flags(flags)
	if m.MaxStack, err = d.int(); err != nil {
		return m, err
	}
	if m.MaxLocals, err = d.int(); err != nil {
		return m, err
	}

	n, err := d.count()
	if err != nil {
		return m, err
	}
	for i := 0; i < n; i++ {
		var lv LocalVar
		if lv.Index, err = d.int(); err != nil {
			return m, err
		}
		if lv.Name, err = d.string(); err != nil {
			return m, err
		}
		typ, err := d.byte()
		if err != nil {
			return m, err
		}
		lv.Type = Type(typ)
		m.Locals = append(m.Locals, lv)
	}

	if n, err = d.count(); err != nil {
		return m, err
	}
	for i := 0; i < n; i++ {
		in, err := d.instruction()
		if err != nil {
			return m, fmt.Errorf("instruction %d: %w", i, err)
		}
		m.Code = append(m.Code, in)
	}

	if m.RuntimeTags, err = d.tags(); err != nil {
		return m, err
	}
	if m.BuildTags, err = d.tags(); err != nil {
		return m, err
	}
	return m, nil
}

func (d *decoder) instruction() (Instruction, error) {
	b, err := d.byte()
	if err != nil {
		return Instruction{}, err
	}
	in := Instruction{Op: Opcode(b)}
	if !in.Op.Valid() {
		return Instruction{}, fmt.Errorf("unknown opcode %d", b)
	}

	switch opInfo[in.Op].operand {
	case operandInt:
		in.Int, err = d.varint()
	case operandSlot:
		var v int
		v, err = d.int()
		in.Int = int64(v)
	case operandString:
		in.Str, err = d.string()
	case operandCall:
		if in.Owner, err = d.string(); err != nil {
			return in, err
		}
		if in.Name, err = d.string(); err != nil {
			return in, err
		}
		in.Desc, err = d.descriptor()
	case operandNative:
		if in.Name, err = d.string(); err != nil {
			return in, err
		}
		in.Desc, err = d.descriptor()
	}
	return in, err
}

func (d *decoder) tags() ([]Tag, error) {
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	var tags []Tag
	for i := 0; i < n; i++ {
		var t Tag
		if t.Type, err = d.string(); err != nil {
			return nil, err
		}
		raw, err := d.bytes()
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := cbor.Unmarshal(raw, &t.Attrs); err != nil {
				return nil, fmt.Errorf("decoding attributes of tag %s: %w", t.Type, err)
			}
		}
		// An empty or null map is written back as no attributes at all.
		if len(t.Attrs) == 0 {
			t.Attrs = nil
		}
		tags = append(tags, t)
	}
	return tags, nil
}
