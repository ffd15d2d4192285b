package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compilo-build/compilo/internal/archive"
	"github.com/compilo-build/compilo/internal/cli/ui"
	"github.com/compilo-build/compilo/internal/unit"
)

// NewDisasmCommand creates the disasm command
func NewDisasmCommand() *cobra.Command {
	var list, noColor bool
	cmd := &cobra.Command{
		Use:   "disasm <file.unit|archive.zip> [unit]",
		Short: "Print a readable listing of compiled units",
		Long: `Print a readable listing of a compiled unit file, or of a unit inside an
archive. Given an archive and no unit name, lists the archive's units.`,
		Example: `  # Disassemble a unit file
  compilo disasm build/classes/app/Main.unit

  # List the units packaged in an artifact
  compilo disasm build/artifacts/demo-1.0.zip --list

  # Disassemble one unit from an artifact
  compilo disasm build/artifacts/demo-1.0.zip app/Main`,
		Args:              cobra.RangeArgs(1, 2),
		ValidArgsFunction: completeDisasm,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := args[0]

			if !strings.EqualFold(filepath.Ext(path), ".zip") {
				if len(args) > 1 {
					return fmt.Errorf("a unit name is only accepted with an archive")
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read unit: %w", err)
				}
				t, err := unit.Parse(data)
				if err != nil {
					return err
				}
				fmt.Fprint(out, unit.Disassemble(t))
				return nil
			}

			z, err := archive.OpenZip(path)
			if err != nil {
				return err
			}
			if list || len(args) == 1 {
				return listUnits(cmd, z, noColor)
			}

			name := strings.TrimSuffix(args[1], unit.Suffix)
			r, ok, err := z.Lookup(unit.FileName(name))
			if err != nil {
				return err
			}
			if !ok {
				ui.WriteError(cmd.ErrOrStderr(), ui.ErrorOptions{
					Context:     "unit not found",
					Problem:     name,
					Suggestions: ui.Suggest(name, unitNames(z), ui.DefaultMaxDistance, 3),
					Help:        []string{fmt.Sprintf("List units: compilo disasm %s --list", path)},
					NoColor:     noColor,
				})
				return reported("unit %s not found in %s", name, path)
			}
			t, err := unit.Parse(r.Bytes())
			if err != nil {
				return fmt.Errorf("%s: %w", r.Name(), err)
			}
			fmt.Fprint(out, unit.Disassemble(t))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List the units in an archive")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}

func listUnits(cmd *cobra.Command, z *archive.Zip, noColor bool) error {
	tbl := ui.NewTable(cmd.OutOrStdout(), noColor, "UNIT", "METHODS", "BYTES")
	for _, name := range z.Names() {
		if !strings.HasSuffix(name, unit.Suffix) {
			continue
		}
		r, _, err := z.Lookup(name)
		if err != nil {
			return err
		}
		t, err := unit.Parse(r.Bytes())
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		tbl.AddRow(t.Name, strconv.Itoa(len(t.Methods)), strconv.Itoa(len(r.Bytes())))
	}
	tbl.Render()
	return nil
}

func unitNames(z *archive.Zip) []string {
	var names []string
	for _, n := range z.Names() {
		if strings.HasSuffix(n, unit.Suffix) {
			names = append(names, unit.NameOf(n))
		}
	}
	return names
}
