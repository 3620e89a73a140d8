// Command wireit is the CLI entry point: resolve run configuration, build
// a dependency graph, and drive it to completion, mapping the result to
// a process exit code (0 success, 1 reported failure, 130 SIGINT).
//
// cobra.Command.ExecuteContext runs under a context tied to a two-tier
// signal watcher. A first SIGINT cancels the run's context for a graceful
// shutdown; a second SIGINT closes a ForceKill channel for an
// unconditional one.
package main

import (
	"context"
	"os"

	"github.com/google/wireit-go/internal/signals"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := signals.NewWatcher()
	forceKill := make(chan struct{})
	watcher.AddOnClose(cancel)
	go func() {
		select {
		case <-watcher.Second():
			close(forceKill)
		case <-ctx.Done():
		}
	}()

	root := newRootCmd(forceKill)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		if ee, ok := err.(*exitError); ok {
			return ee.code
		}
		root.PrintErrln(err)
		return 1
	}
	return 0
}
