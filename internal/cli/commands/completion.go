package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/compilo-build/compilo/internal/archive"
	"github.com/compilo-build/compilo/internal/unit"
)

// NewCompletionCommand creates the completion command for shell completions
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion script",
		Long: `Generate a shell completion script for compilo. Besides commands and flags,
disasm completes unit names from the archive given as its first argument.

  bash:        source <(compilo completion bash)
  zsh:         compilo completion zsh > "${fpath[1]}/_compilo"
  fish:        compilo completion fish > ~/.config/fish/completions/compilo.fish
  powershell:  compilo completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			root := cmd.Root()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			default:
				return root.GenPowerShellCompletionWithDesc(out)
			}
		},
	}
}

// completeUnitFiles completes compiled unit files, and archives when
// withArchives is set.
func completeUnitFiles(withArchives bool) []string {
	exts := []string{strings.TrimPrefix(unit.Suffix, ".")}
	if withArchives {
		exts = append(exts, "zip")
	}
	return exts
}

// completeDisasm completes the file argument, then the unit names inside an
// archive.
func completeDisasm(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		return completeUnitFiles(true), cobra.ShellCompDirectiveFilterFileExt
	case 1:
		if !strings.HasSuffix(strings.ToLower(args[0]), ".zip") {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		z, err := archive.OpenZip(args[0])
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		var names []string
		for _, n := range unitNames(z) {
			if strings.HasPrefix(n, toComplete) {
				names = append(names, n)
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func completeTransform(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return completeUnitFiles(false), cobra.ShellCompDirectiveFilterFileExt
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}
