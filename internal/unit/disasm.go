package unit

import (
	"fmt"
	"sort"
	"strings"
)

// Disassemble renders t as a human-readable listing. The layout mirrors the
// assembler's source syntax closely enough to read, but it is not meant to
// be fed back into it: jump targets are printed as instruction indices.
func Disassemble(t Tree) string {
	var b strings.Builder

	header := "unit " + t.Name
	if t.Flags != 0 {
		header = t.Flags.String() + " " + header
	}
	b.WriteString(header)
	if t.Super != "" {
		fmt.Fprintf(&b, " extends %s", t.Super)
	}
	b.WriteByte('\n')
	if t.Requires != 0 {
		fmt.Fprintf(&b, "  requires %s\n", t.Requires)
	}

	for _, m := range t.Methods {
		b.WriteByte('\n')
		writeTags(&b, "@", m.RuntimeTags)
		writeTags(&b, "@@", m.BuildTags)

		b.WriteString("  ")
		if m.Flags != 0 {
			b.WriteString(m.Flags.String())
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "method %s %s  ; stack=%d locals=%d\n", m.Name, m.Desc, m.MaxStack, m.MaxLocals)

		for _, lv := range m.Locals {
			fmt.Fprintf(&b, "    .local %d %s %s\n", lv.Index, lv.Name, lv.Type)
		}
		for i, in := range m.Code {
			fmt.Fprintf(&b, "    %4d: %s\n", i, in)
		}
	}
	return b.String()
}

func writeTags(b *strings.Builder, prefix string, tags []Tag) {
	for _, t := range tags {
		b.WriteString("  ")
		b.WriteString(prefix)
		b.WriteString(t.Type)
		if len(t.Attrs) > 0 {
			keys := make([]string, 0, len(t.Attrs))
			for k := range t.Attrs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			b.WriteByte('(')
			for i, k := range keys {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(b, "%s=%q", k, t.Attrs[k])
			}
			b.WriteByte(')')
		}
		b.WriteByte('\n')
	}
}
