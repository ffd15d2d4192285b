package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/compilo-build/compilo/internal/bootstrap"
	"github.com/compilo-build/compilo/internal/cli/config"
	"github.com/compilo-build/compilo/internal/cli/ui"
	"github.com/compilo-build/compilo/internal/compiler/asm"
	"github.com/compilo-build/compilo/internal/deps"
	"github.com/compilo-build/compilo/internal/watch"
)

type buildFlags struct {
	root    string
	verify  bool
	workers int
	defines []string
	verbose bool
	json    bool
	noColor bool
	watch   bool
}

// NewBuildCommand creates the build command
func NewBuildCommand() *cobra.Command {
	flags := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the project's build",
		Long: `Run the project's build. Equivalent to running compilo without a subcommand.

The build process:
  1. Discover the control script (*uild.ua in the project root)
  2. Update dependencies listed in build/*.dependencies into lib/
  3. Compile and load the control script, or use compilo/AutoBuild
  4. Instantiate the control type and execute it
  5. Report BUILD SUCCESSFUL or BUILD FAILED with the total time`,
		Example: `  # Build the project in the current directory
  compilo build

  # Build another project with unit verification and two update workers
  compilo build --root ../app --verify --workers 2

  # Pass properties to the control script
  compilo build -D target=release -D channel=beta

  # Report compile diagnostics as JSON (useful for tooling)
  compilo build --json

  # Rebuild on every change until interrupted
  compilo build --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, flags)
		},
	}
	addBuildFlags(cmd, flags)
	return cmd
}

func addBuildFlags(cmd *cobra.Command, f *buildFlags) {
	cmd.Flags().StringVar(&f.root, "root", ".", "Project root directory")
	cmd.Flags().BoolVar(&f.verify, "verify", false, "Verify every transformed unit")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Concurrent dependency updates (default: number of CPUs)")
	cmd.Flags().StringArrayVarP(&f.defines, "define", "D", nil, "Set a build property (key=value)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log build internals to stderr")
	cmd.Flags().BoolVar(&f.json, "json", false, "Output compile diagnostics in JSON format")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "Rebuild whenever project files change")
}

func runBuild(cmd *cobra.Command, f *buildFlags) error {
	root, err := filepath.Abs(f.root)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("verify") {
		cfg.Verify = f.verify
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = f.workers
	}

	props, err := properties(cfg.Properties, f.defines)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, f.verbose)
	defer logger.Sync() //nolint:errcheck
	if cfg.File != "" {
		logger.Debug("loaded configuration", zap.String("file", cfg.File))
	}

	noColor := f.noColor || color.NoColor
	console := ui.NewConsole(cmd.OutOrStdout(), noColor)

	opts := bootstrap.DefaultOptions()
	opts.Logger = logger
	opts.Out = console
	opts.LibDir = cfg.LibDir
	opts.BuildDir = cfg.BuildDir
	opts.Workers = cfg.Workers
	opts.Verify = cfg.Verify
	opts.Properties = props
	opts.ProjectName = cfg.Project.Name
	opts.ProjectVersion = cfg.Project.Version
	opts.Diagnostics = ui.Diagnostics(noColor)
	if f.json {
		opts.Diagnostics = ui.JSONDiagnostics()
	}

	orch := bootstrap.New(root, opts)
	res := orch.Run(cmd.Context())
	if err := console.Flush(); err != nil {
		return err
	}
	if f.watch {
		return watchBuild(cmd.Context(), root, cfg, logger, console, orch)
	}
	if res.Err != nil {
		return reported("build failed: %v", res.Err)
	}
	return nil
}

// watchPatterns are the files whose changes can alter a build's outcome.
var watchPatterns = []string{"*" + asm.Extension, "*" + deps.Suffix, "*.zip", config.FileName + ".yml", config.FileName + ".yaml"}

func watchBuild(ctx context.Context, root string, cfg *config.Config, logger *zap.Logger, console *ui.Console, orch *bootstrap.Orchestrator) error {
	w, err := watch.New(root, &watch.Options{
		Logger:   logger,
		Patterns: watchPatterns,
		Ignore:   []string{cfg.LibDir, filepath.Join(cfg.BuildDir, "artifacts")},
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(console, "\nwatching for changes (Ctrl+C to stop)")
	console.Flush() //nolint:errcheck
	return w.Run(ctx, func(ctx context.Context, files []string) {
		rel := make([]string, len(files))
		for i, f := range files {
			if r, err := filepath.Rel(root, f); err == nil {
				f = filepath.ToSlash(r)
			}
			rel[i] = f
		}
		fmt.Fprintf(console, "\nchanged: %s\n", strings.Join(rel, ", "))
		orch.Run(ctx)
		console.Flush() //nolint:errcheck
	})
}

// properties layers -D definitions over the configured properties.
func properties(base map[string]string, defines []string) (map[string]string, error) {
	props := make(map[string]string, len(base)+len(defines))
	for k, v := range base {
		props[k] = v
	}
	for _, d := range defines {
		k, v, ok := strings.Cut(d, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property %q: expected key=value", d)
		}
		props[k] = v
	}
	return props, nil
}

func newLogger(cfg *config.Config, verbose bool) *zap.Logger {
	lvl, err := cfg.LogLevel()
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
