// Package manifest reads the subset of a package manifest file the core
// consumes: `scripts`, a `wireit` block per script, and `workspaces`.
// Parsing the rest of an npm-style manifest is out of scope.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the manifest file the core looks for in every package
// directory.
const FileName = "package.json"

// EnvVarSpec declares how one environment variable passes through into a
// script's fingerprint: either fully external (any value acceptable, but
// the key is part of the fingerprint) or with a default used when unset.
type EnvVarSpec struct {
	External bool    `json:"-"`
	Default  *string `json:"-"`
}

// UnmarshalJSON accepts either `true` (external) or `{"default": "..."}`.
func (e *EnvVarSpec) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		e.External = asBool
		return nil
	}
	var asObj struct {
		Default *string `json:"default"`
	}
	if err := json.Unmarshal(data, &asObj); err != nil {
		return fmt.Errorf("env var spec must be a bool or {default: string}: %w", err)
	}
	e.Default = asObj.Default
	return nil
}

// ServiceSpec is the raw `service` field of a wireit script block. It is
// either a bare boolean or an object with a readiness gate.
type ServiceSpec struct {
	Enabled     bool
	LineMatches *string
}

// UnmarshalJSON accepts `true`/`false` or `{"readyWhen": {"lineMatches": "..."}}`.
func (s *ServiceSpec) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		s.Enabled = asBool
		return nil
	}
	var asObj struct {
		ReadyWhen struct {
			LineMatches *string `json:"lineMatches"`
		} `json:"readyWhen"`
	}
	if err := json.Unmarshal(data, &asObj); err != nil {
		return fmt.Errorf("service spec must be a bool or {readyWhen: {...}}: %w", err)
	}
	s.Enabled = true
	s.LineMatches = asObj.ReadyWhen.LineMatches
	return nil
}

// Clean is the raw `clean` field: a bool or the string "if-file-deleted".
type Clean struct {
	Always         bool
	Never          bool
	IfFileDeleted  bool
	wasSpecified   bool
}

// UnmarshalJSON accepts `true`, `false`, or `"if-file-deleted"`.
func (c *Clean) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		c.Always = asBool
		c.Never = !asBool
		c.wasSpecified = true
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return fmt.Errorf("clean must be a bool or \"if-file-deleted\": %w", err)
	}
	if asString != "if-file-deleted" {
		return fmt.Errorf("clean string value must be \"if-file-deleted\", got %q", asString)
	}
	c.IfFileDeleted = true
	c.wasSpecified = true
	return nil
}

// WasSpecified reports whether the manifest declared a clean value at
// all, versus leaving it to default to "always".
func (c Clean) WasSpecified() bool { return c.wasSpecified }

// ScriptBlock is one script's `wireit` configuration block, exactly as
// declared in the manifest (before default-exclusion application or
// dependency-specifier expansion, both of which are analyzer concerns).
type ScriptBlock struct {
	Command                  string                 `json:"command,omitempty"`
	Dependencies              []string              `json:"dependencies,omitempty"`
	Files                     *[]string              `json:"files,omitempty"`
	Output                    *[]string              `json:"output,omitempty"`
	Clean                     *Clean                 `json:"clean,omitempty"`
	Service                   *ServiceSpec            `json:"service,omitempty"`
	PackageLocks              []string                `json:"packageLocks,omitempty"`
	AllowUsuallyExcludedPaths bool                    `json:"allowUsuallyExcludedPaths,omitempty"`
	Env                       map[string]EnvVarSpec   `json:"env,omitempty"`
}

// Manifest is the subset of one package.json the core reads.
type Manifest struct {
	// Dir is the absolute directory this manifest was read from.
	Dir string `json:"-"`

	Name       string                 `json:"name,omitempty"`
	Scripts    map[string]string      `json:"scripts,omitempty"`
	Wireit     map[string]ScriptBlock `json:"wireit,omitempty"`
	Workspaces []string               `json:"workspaces,omitempty"`
	// Dependencies and DevDependencies are read only to resolve
	// <dependencies> specifiers.
	Dependencies    map[string]string `json:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"devDependencies,omitempty"`
}

// DelegatesToWireit reports whether the named npm script delegates to
// the core ("scripts": {"name": "wireit"}).
func (m *Manifest) DelegatesToWireit(name string) bool {
	return m.Scripts[name] == "wireit"
}

// Reader reads and memoizes manifests by package directory.
type Reader struct {
	mu    sync.Mutex
	cache map[string]*readResult
}

type readResult struct {
	manifest *Manifest
	err      error
}

// NewReader returns a Reader with an empty memoization cache.
func NewReader() *Reader {
	return &Reader{cache: make(map[string]*readResult)}
}

// Read reads and parses the manifest in packageDir, memoized by the
// cleaned absolute directory. A parse or I/O error is returned as-is;
// callers convert it to a diagnostic with location info.
func (r *Reader) Read(packageDir string) (*Manifest, error) {
	abs, err := filepath.Abs(packageDir)
	if err != nil {
		abs = packageDir
	}
	abs = filepath.Clean(abs)

	r.mu.Lock()
	if cached, ok := r.cache[abs]; ok {
		r.mu.Unlock()
		return cached.manifest, cached.err
	}
	r.mu.Unlock()

	m, err := readManifestFile(abs)

	r.mu.Lock()
	r.cache[abs] = &readResult{manifest: m, err: err}
	r.mu.Unlock()

	return m, err
}

func readManifestFile(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	m.Dir = dir
	return &m, nil
}
