// Package executor drives one invocation: it walks the DAG an Analyzer
// produced, computing fingerprints, consulting the cache, and spawning
// child processes for scripts that need to run.
//
// dag.AcyclicGraph's Walk is the topological driver; on top of it the
// executor layers a per-script state machine, a semaphore bounding
// concurrent child spawns, service lifecycle, and failure-mode
// propagation.
package executor

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Runtime encapsulates process-wide state — the environment and
// TTY-ness — passed explicitly rather than read ambiently, so tests can
// supply a fake rather than depending on the real process environment.
type Runtime struct {
	Environ func() []string
	Getenv  func(string) string
	IsTTY   bool
}

// HostRuntime returns the Runtime of the process actually running.
func HostRuntime() Runtime {
	return Runtime{
		Environ: os.Environ,
		Getenv:  os.Getenv,
		IsTTY:   isatty.IsTerminal(os.Stdout.Fd()),
	}
}

// getenv is a defensive accessor: a zero-value Runtime (as tests may
// construct) still behaves like an environment with nothing set rather
// than panicking.
func (r Runtime) getenv(name string) string {
	if r.Getenv == nil {
		return ""
	}
	return r.Getenv(name)
}

func (r Runtime) environ() []string {
	if r.Environ == nil {
		return nil
	}
	return r.Environ()
}
