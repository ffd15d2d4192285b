package unit

import "fmt"

// Label is a forward-referenceable position in a CodeBuilder.
type Label int

// CodeBuilder assembles an instruction sequence whose jumps refer to labels
// instead of raw indices. Build resolves every label to its instruction
// index.
type CodeBuilder struct {
	code    []Instruction
	fixups  map[int]Label
	marks   []int
	names   map[string]Label
	lastErr error
}

// NewCode returns an empty builder.
func NewCode() *CodeBuilder {
	return &CodeBuilder{fixups: make(map[int]Label), names: make(map[string]Label)}
}

// Len is the index the next emitted instruction will get.
func (b *CodeBuilder) Len() int { return len(b.code) }

// Emit appends instructions verbatim.
func (b *CodeBuilder) Emit(ins ...Instruction) *CodeBuilder {
	b.code = append(b.code, ins...)
	return b
}

// NewLabel allocates an unplaced label.
func (b *CodeBuilder) NewLabel() Label {
	b.marks = append(b.marks, -1)
	return Label(len(b.marks) - 1)
}

// Named returns the label registered under name, allocating it on first use.
func (b *CodeBuilder) Named(name string) Label {
	if l, ok := b.names[name]; ok {
		return l
	}
	l := b.NewLabel()
	b.names[name] = l
	return l
}

// Mark places l at the next instruction.
func (b *CodeBuilder) Mark(l Label) *CodeBuilder {
	if int(l) >= len(b.marks) {
		b.fail(fmt.Errorf("unknown label %d", l))
		return b
	}
	if b.marks[l] >= 0 {
		b.fail(fmt.Errorf("label %s placed twice", b.labelName(l)))
		return b
	}
	b.marks[l] = len(b.code)
	return b
}

// Jump appends a jump instruction targeting l.
func (b *CodeBuilder) Jump(op Opcode, l Label) *CodeBuilder {
	if !op.IsJump() {
		b.fail(fmt.Errorf("%s is not a jump", op))
		return b
	}
	b.fixups[len(b.code)] = l
	b.code = append(b.code, Instruction{Op: op})
	return b
}

// Build resolves labels and returns the finished code.
func (b *CodeBuilder) Build() ([]Instruction, error) {
	if b.lastErr != nil {
		return nil, b.lastErr
	}
	code := append([]Instruction(nil), b.code...)
	for at, l := range b.fixups {
		if int(l) >= len(b.marks) {
			return nil, fmt.Errorf("unknown label %d", l)
		}
		target := b.marks[l]
		if target < 0 {
			return nil, fmt.Errorf("label %s never placed", b.labelName(l))
		}
		code[at].Int = int64(target)
	}
	return code, nil
}

// MustBuild is Build for code known to be well formed.
func (b *CodeBuilder) MustBuild() []Instruction {
	code, err := b.Build()
	if err != nil {
		panic(err)
	}
	return code
}

func (b *CodeBuilder) fail(err error) {
	if b.lastErr == nil {
		b.lastErr = err
	}
}

func (b *CodeBuilder) labelName(l Label) string {
	for name, nl := range b.names {
		if nl == l {
			return name
		}
	}
	return fmt.Sprintf("L%d", l)
}
