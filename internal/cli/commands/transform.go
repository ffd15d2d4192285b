package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/compilo-build/compilo/internal/cli/ui"
	"github.com/compilo-build/compilo/internal/resource"
	"github.com/compilo-build/compilo/internal/transform"
	"github.com/compilo-build/compilo/internal/transform/tailcall"
)

// NewTransformCommand creates the transform command
func NewTransformCommand() *cobra.Command {
	var (
		output  string
		verify  bool
		noColor bool
	)
	cmd := &cobra.Command{
		Use:   "transform <in.unit>",
		Short: "Apply the build-time transformers to a compiled unit",
		Long: `Run a compiled unit through the transformer registry (tail-call
elimination for methods tagged compilo/tailrec) and write the result.`,
		Example: `  # Rewrite in place
  compilo transform build/classes/app/Math.unit

  # Write elsewhere and verify the result
  compilo transform app/Math.unit -o out/Math.unit --verify`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeTransform,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			if output == "" {
				output = in
			}

			r, err := resource.FromFile(filepath.Dir(in), in)
			if err != nil {
				return err
			}

			h := transform.NewHandler(tailcall.Register(transform.NewRegistry()), &transform.HandlerOptions{Verify: verify})
			if !h.Matches(r.Name()) {
				return fmt.Errorf("%s is not a compiled unit", in)
			}
			out, err := h.Handle(r)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			if err := os.WriteFile(output, out.Bytes(), 0644); err != nil {
				return fmt.Errorf("failed to write unit: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("%s -> %s", in, output), noColor))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output unit path (default: rewrite in place)")
	cmd.Flags().BoolVar(&verify, "verify", false, "Verify the transformed unit")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}
