// Package script defines the core data model shared by the analyzer,
// fingerprint engine, cache, and executor: the concrete notion of a
// script, its dependencies, and the validated configuration produced by
// analysis.
package script

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// Reference identifies a concrete script: a package directory plus a
// script name within it. It is the node identity used throughout the
// DAG, the fingerprint cache keys, and persisted state paths.
type Reference struct {
	PackageDir string // absolute, cleaned
	Name       string
}

// NewReference returns a Reference with a cleaned, absolute package
// directory.
func NewReference(packageDir, name string) Reference {
	abs, err := filepath.Abs(packageDir)
	if err != nil {
		abs = packageDir
	}
	return Reference{PackageDir: filepath.Clean(abs), Name: name}
}

// String returns the canonical string form used as a map key and in
// diagnostics: "<packageDir>#<name>".
func (r Reference) String() string {
	return fmt.Sprintf("%s#%s", r.PackageDir, r.Name)
}

// StateDir returns the persisted-state directory for this script:
// "<packageDir>/.wireit/<hex(scriptName)>/". Hex-encoding the name makes
// it filesystem-safe on every platform regardless of the characters the
// script name itself contains.
func (r Reference) StateDir() string {
	return filepath.Join(r.PackageDir, ".wireit", hex.EncodeToString([]byte(r.Name)))
}

// CleanMode controls what happens to a script's declared outputs before
// it runs.
type CleanMode int

const (
	// CleanAlways deletes all glob-matched outputs before every run.
	CleanAlways CleanMode = iota
	// CleanNever never deletes outputs.
	CleanNever
	// CleanIfFileDeleted deletes outputs only when the previous run's
	// input-file set is not a subset of the current one.
	CleanIfFileDeleted
)

// Dependency is a scheduling edge from a ScriptConfig to a Target. A
// non-cascading dependency must still run first, but its fingerprint is
// excluded from the parent's fingerprint.
type Dependency struct {
	Target  Reference
	Cascade bool
}

// ReadyWhen configures how a service script signals readiness.
type ReadyWhen struct {
	// LineMatches, if non-nil, is regexp source tested against every
	// line of the service's captured output; the first match is Ready.
	// If nil, the service is Ready as soon as it is spawned.
	LineMatches *string
}

// ServiceConfig marks a script as a long-running service and configures
// its readiness gate.
type ServiceConfig struct {
	ReadyWhen ReadyWhen
}

// SourceLocation is a byte range inside DeclaringFile, for diagnostics.
type SourceLocation struct {
	DeclaringFile string
	Start, End    int
}

// Config is a single validated node in the dependency DAG, as produced
// by the analyzer. It is immutable for the lifetime of one invocation.
type Config struct {
	Ref Reference

	// Command is absent for an "aggregator" script: one with no work of
	// its own beyond sequencing its dependencies.
	Command   *string
	ExtraArgs []string

	Dependencies []Dependency

	// Files is nil when inputs are not declared ("unknown inputs").
	Files []string
	// Output is nil when outputs are not declared ("unknown outputs").
	Output []string

	Clean CleanMode

	// Service is non-nil if this script is a long-running service.
	Service *ServiceConfig

	// Env maps each env var name this script's fingerprint and child
	// process observe to its declared default value ("" when none).
	Env map[string]string

	Location SourceLocation
}

// IsAggregator reports whether this script has no command of its own.
func (c *Config) IsAggregator() bool {
	return c.Command == nil
}

// IsService reports whether this script is a long-running service.
func (c *Config) IsService() bool {
	return c.Service != nil
}

// CascadingDependencies returns the subset of Dependencies whose
// fingerprint is inherited by this script.
func (c *Config) CascadingDependencies() []Dependency {
	out := make([]Dependency, 0, len(c.Dependencies))
	for _, d := range c.Dependencies {
		if d.Cascade {
			out = append(out, d)
		}
	}
	return out
}
