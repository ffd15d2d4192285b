// Package ui renders console output for the compilo CLI.
package ui

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/compilo-build/compilo/compiler/errors"
)

// Console colors build output line by line. The text is never changed, so
// with color disabled the output is byte-identical to what it wraps.
type Console struct {
	w     io.Writer
	buf   bytes.Buffer
	ok    *color.Color
	fail  *color.Color
	stage *color.Color
}

// NewConsole wraps w.
func NewConsole(w io.Writer, noColor bool) *Console {
	c := &Console{
		w:     w,
		ok:    color.New(color.FgGreen, color.Bold),
		fail:  color.New(color.FgRed, color.Bold),
		stage: color.New(color.FgCyan),
	}
	if noColor {
		c.ok.DisableColor()
		c.fail.DisableColor()
		c.stage.DisableColor()
	}
	return c
}

// Write buffers p and emits every complete line.
func (c *Console) Write(p []byte) (int, error) {
	c.buf.Write(p)
	for {
		i := bytes.IndexByte(c.buf.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		line := string(c.buf.Next(i + 1))
		if err := c.emit(strings.TrimSuffix(line, "\n")); err != nil {
			return len(p), err
		}
	}
}

// Flush emits a trailing partial line.
func (c *Console) Flush() error {
	if c.buf.Len() == 0 {
		return nil
	}
	line := c.buf.String()
	c.buf.Reset()
	_, err := io.WriteString(c.w, c.paint(line))
	return err
}

func (c *Console) emit(line string) error {
	_, err := fmt.Fprintln(c.w, c.paint(line))
	return err
}

func (c *Console) paint(line string) string {
	if col := c.colorFor(line); col != nil {
		return col.Sprint(line)
	}
	return line
}

func (c *Console) colorFor(line string) *color.Color {
	switch {
	case strings.HasPrefix(line, "BUILD SUCCESSFUL"):
		return c.ok
	case strings.HasPrefix(line, "BUILD FAILED"):
		return c.fail
	case isStageHeader(line):
		return c.stage
	}
	return nil
}

// isStageHeader matches "build: x", "update:" and other "word:" lines.
func isStageHeader(line string) bool {
	if line == "" || line[0] == ' ' {
		return false
	}
	word, _, found := strings.Cut(line, ":")
	return found && word != "" && !strings.ContainsAny(word, " /.[")
}

// Diagnostics returns a renderer for compiler diagnostics: source excerpts
// with carets, followed by a summary.
func Diagnostics(noColor bool) func(w io.Writer, diags errors.List) {
	return func(w io.Writer, diags errors.List) {
		prev := color.NoColor
		if noColor {
			color.NoColor = true
			defer func() { color.NoColor = prev }()
		}
		for _, d := range diags {
			fmt.Fprint(w, d.FormatForTerminal())
		}
		fmt.Fprint(w, errors.FormatSummary(len(diags.Errors()), len(diags.Warnings())))
	}
}

// JSONDiagnostics returns a renderer writing diagnostics as JSON.
func JSONDiagnostics() func(w io.Writer, diags errors.List) {
	return func(w io.Writer, diags errors.List) {
		out, err := errors.FormatErrorsAsJSON(diags)
		if err != nil {
			fmt.Fprintf(w, "failed to encode diagnostics: %v\n", err)
			return
		}
		fmt.Fprintln(w, out)
	}
}
