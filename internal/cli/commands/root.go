package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// errReported marks a failure whose message the command already printed.
var errReported = errors.New("failure already reported")

// NewRootCommand creates the root command. Run without a subcommand it
// builds the project in the current directory.
func NewRootCommand() *cobra.Command {
	flags := &buildFlags{}
	rootCmd := &cobra.Command{
		Use:   "compilo",
		Short: "Self-describing build bootstrapper",
		Long: color.CyanString(`compilo - build bootstrapper

compilo finds the project's control script (*uild.ua), refreshes the
dependencies listed in build/*.dependencies, compiles and loads the script
and runs it. Projects without a script get the convention build:
compile src/, package build/artifacts/<name>-<version>.zip, run test/.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, flags)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addBuildFlags(rootCmd, flags)

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewBuildCommand())
	rootCmd.AddCommand(NewDisasmCommand())
	rootCmd.AddCommand(NewTransformCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the compilo version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			out := cmd.OutOrStdout()
			titleColor := color.New(color.FgCyan, color.Bold)
			valueColor := color.New(color.FgWhite)

			titleColor.Fprint(out, "compilo version: ")
			valueColor.Fprintln(out, Version)

			titleColor.Fprint(out, "Git commit: ")
			valueColor.Fprintln(out, GitCommit)

			titleColor.Fprint(out, "Build date: ")
			valueColor.Fprintln(out, BuildDate)

			titleColor.Fprint(out, "Go version: ")
			valueColor.Fprintln(out, goVer)
		},
	}
}

// Execute runs the root command with args and returns the process exit
// code. Cancelling ctx stops a running build or watch.
func Execute(ctx context.Context, args []string) int {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			errorColor := color.New(color.FgRed, color.Bold)
			errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func reported(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errReported}, args...)...)
}
