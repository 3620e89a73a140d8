package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/google/wireit-go/internal/cache"
	"github.com/google/wireit-go/internal/cliconfig"
	"github.com/google/wireit-go/internal/diagnostic"
	"github.com/google/wireit-go/internal/executor"
	"github.com/google/wireit-go/internal/graph"
	"github.com/google/wireit-go/internal/manifest"
	"github.com/google/wireit-go/internal/script"
)

// exitError carries a process exit code through cobra's error-returning
// RunE convention.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// newRootCmd builds the single-command CLI: `wireit [script] [-- extraArgs...]`.
// A bare invocation (no positional script name) resolves the script from
// npm_lifecycle_event, matching how a package manager invokes a script
// whose command is literally "wireit".
func newRootCmd(forceKill <-chan struct{}) *cobra.Command {
	var cwd string

	cmd := &cobra.Command{
		Use:           "wireit [script] [-- extraArgs...]",
		Short:         "incremental build orchestrator for package-based scripts",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dash := cmd.ArgsLenAtDash()
			scriptArgs, extraArgs := splitArgs(args, dash)
			return runScript(cmd.Context(), cmd, scriptArgs, extraArgs, cwd, forceKill)
		},
	}
	cmd.Flags().StringVar(&cwd, "cwd", "", "package directory to run in (default: current directory)")
	cliconfig.RegisterFlags(cmd.Flags())
	return cmd
}

func runScript(ctx context.Context, cmd *cobra.Command, args, extraArgs []string, cwd string, forceKill <-chan struct{}) error {
	scriptName, err := resolveScriptName(args)
	if err != nil {
		return err
	}
	packageDir, err := resolvePackageDir(cwd)
	if err != nil {
		return err
	}

	cfg, err := cliconfig.Load(cmd.Flags(), isCI())
	if err != nil {
		return err
	}
	logger := buildLogger(cfg.Logger)

	reader := manifest.NewReader()
	root := script.NewReference(packageDir, scriptName)
	analyzed, diags := graph.Analyze(reader, root, extraArgs)
	if len(diags) > 0 {
		diagnostic.NewPrinter(cmd.ErrOrStderr()).Print(diags)
	}
	if diags.HasErrors() {
		return &exitError{1}
	}

	var cacheBackend cache.Cache
	if cfg.Cache == cliconfig.CacheLocal {
		cacheBackend = cache.NewLocal()
	}

	result, runErr := executor.Run(ctx, analyzed, executor.Options{
		Parallelism: cfg.Parallelism,
		FailureMode: cfg.Failures,
		Cache:       cacheBackend,
		Logger:      logger,
		Runtime:     executor.HostRuntime(),
		ForceKill:   forceKill,
	})
	printResult(cmd.OutOrStdout(), result)

	if ctx.Err() != nil {
		return &exitError{130}
	}
	if runErr != nil {
		return &exitError{1}
	}
	return nil
}

// resolveScriptName takes the single positional script name if given,
// else falls back to npm_lifecycle_event, the variable the ecosystem
// sets to the name of the script currently executing.
func resolveScriptName(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if name := os.Getenv("npm_lifecycle_event"); name != "" {
		return name, nil
	}
	return "", fmt.Errorf("no script name given: pass one as an argument or invoke from an npm_lifecycle_event context")
}

func resolvePackageDir(cwd string) (string, error) {
	if cwd != "" {
		return cwd, nil
	}
	return os.Getwd()
}

// splitArgs divides cobra's full positional-args slice at the "--"
// marker (dash, or -1 if absent) into the leading script-name argument
// and the trailing pass-through arguments, which are forwarded to the
// script's command unexpanded.
func splitArgs(args []string, dash int) (scriptArgs, extraArgs []string) {
	if dash < 0 {
		return args, nil
	}
	return args[:dash], args[dash:]
}

func isCI() bool {
	return strings.TrimSpace(os.Getenv("CI")) != ""
}

func buildLogger(selector string) hclog.Logger {
	level := hclog.Info
	switch strings.ToLower(selector) {
	case "quiet":
		level = hclog.Error
	case "debug", "verbose":
		level = hclog.Debug
	case "trace":
		level = hclog.Trace
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "wireit",
		Level:  level,
		Output: os.Stderr,
		Color:  hclog.AutoColor,
	})
}
