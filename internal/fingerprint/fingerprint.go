// Package fingerprint computes the canonical, deterministic content
// fingerprint of a script: a fixed-field-order JSON object hashed with
// SHA-256.
//
// File hashing fans out across a worker pool via golang.org/x/sync/errgroup,
// and a dependency's fingerprint hash feeds into its consumer's own
// fingerprint, composing hash-of-a-hash across the dependency graph.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/google/wireit-go/internal/globs"
	"github.com/google/wireit-go/internal/script"
)

// Platform captures the OS/arch/runtime determinants of a fingerprint,
// passed in explicitly (rather than read from runtime.GOOS et al. deep
// inside this package) so tests can supply a fake value.
type Platform struct {
	OS             string
	Arch           string
	RuntimeVersion string
}

// HostPlatform returns the Platform of the process actually running.
func HostPlatform() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH, RuntimeVersion: runtime.Version()}
}

// serviceFingerprint is the canonical `service` field: null, or an
// object naming the readiness regex.
type serviceFingerprint struct {
	LineMatches *string `json:"lineMatches"`
}

// canonical is the fixed-field-order JSON object hashed to produce a
// fingerprint. Field order here is the serialization order: changing it
// changes every existing fingerprint, so it must never be reordered
// casually.
type canonical struct {
	FullyTracked   bool                `json:"fullyTracked"`
	Platform       string              `json:"platform"`
	Arch           string              `json:"arch"`
	RuntimeVersion string              `json:"runtimeVersion"`
	Command        string              `json:"command"`
	ExtraArgs      []string            `json:"extraArgs"`
	Clean          string              `json:"clean"`
	Files          map[string]string   `json:"files"`
	Output         []string            `json:"output"`
	Dependencies   map[string]string   `json:"dependencies"`
	Service        *serviceFingerprint `json:"service"`
	Env            map[string]string   `json:"env"`
}

// Dependency is one cascading dependency's already-computed result, fed
// into Compute for the parent script.
type Dependency struct {
	Ref         script.Reference
	Hash        string
	FullyTracked bool
}

// Result is the outcome of computing one script's fingerprint.
type Result struct {
	Canonical string // the exact JSON string that was hashed
	Hash      string // SHA-256 hex of Canonical

	FullyTracked          bool
	NotFullyTrackedReason string
}

// InputFileDeletedError is returned when a file matched by `files`
// vanishes between the glob and the read.
type InputFileDeletedError struct {
	Paths []string
}

func (e *InputFileDeletedError) Error() string {
	return fmt.Sprintf("input-file-deleted-unexpectedly: %v", e.Paths)
}

// cleanString renders a script.CleanMode the way it appears in the
// canonical fingerprint.
func cleanString(c script.CleanMode) string {
	switch c {
	case script.CleanAlways:
		return "always"
	case script.CleanNever:
		return "never"
	case script.CleanIfFileDeleted:
		return "if-file-deleted"
	default:
		return "always"
	}
}

// Compute builds the canonical fingerprint for cfg given the already
// computed fingerprints of its dependencies and the resolved values of
// its declared env passthrough. Only cascading dependencies affect the
// result; cfg.Dependencies with Cascade=false never reach Compute's deps
// argument — callers filter those out before calling in.
func Compute(cfg *script.Config, deps []Dependency, platform Platform, envValues map[string]string) (*Result, error) {
	reason := ""
	switch {
	case cfg.Files == nil:
		reason = "files not declared"
	case cfg.Output == nil && !cfg.IsAggregator() && !(cfg.IsService() && cfg.Files != nil):
		reason = "output not declared"
	}
	for _, d := range deps {
		if !d.FullyTracked && reason == "" {
			reason = fmt.Sprintf("cascading dependency %s is not fully tracked", d.Ref.String())
		}
	}
	fullyTracked := reason == ""

	depHashes := make(map[string]string, len(deps))
	for _, d := range deps {
		depHashes[d.Ref.String()] = d.Hash
	}

	fileHashes, err := hashFiles(cfg.Ref.PackageDir, cfg.Files)
	if err != nil {
		return nil, err
	}

	var svc *serviceFingerprint
	if cfg.Service != nil {
		svc = &serviceFingerprint{LineMatches: cfg.Service.ReadyWhen.LineMatches}
	}

	command := ""
	if cfg.Command != nil {
		command = *cfg.Command
	}

	env := make(map[string]string, len(envValues))
	for k, v := range envValues {
		env[k] = v
	}

	c := canonical{
		FullyTracked:   fullyTracked,
		Platform:       platform.OS,
		Arch:           platform.Arch,
		RuntimeVersion: platform.RuntimeVersion,
		Command:        command,
		ExtraArgs:      nonNilStrings(cfg.ExtraArgs),
		Clean:          cleanString(cfg.Clean),
		Files:          fileHashes,
		Output:         nonNilStrings(cfg.Output),
		Dependencies:   depHashes,
		Service:        svc,
		Env:            env,
	}

	canonicalJSON, err := marshalCanonical(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling fingerprint: %w", err)
	}

	sum := sha256.Sum256(canonicalJSON)
	return &Result{
		Canonical:             string(canonicalJSON),
		Hash:                  hex.EncodeToString(sum[:]),
		FullyTracked:          fullyTracked,
		NotFullyTrackedReason: reason,
	}, nil
}

// marshalCanonical serializes v with HTML-escaping disabled so a
// command string containing '<', '>', or '&' hashes identically to how
// it reads, keeping the fingerprint a faithful, inspectable artifact.
func marshalCanonical(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; trim it so the
	// hashed string matches what Marshal would have produced.
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// hashFiles globs patterns against packageDir and SHA-256s every regular
// file match in parallel on an errgroup, at most runtime.NumCPU reads at
// a time.
// A file that vanishes between the glob and the read is reported via
// InputFileDeletedError, listing every such path rather than just the
// first.
func hashFiles(packageDir string, patterns []string) (map[string]string, error) {
	if patterns == nil {
		return nil, nil
	}
	entries, err := globs.Match(packageDir, patterns)
	if err != nil {
		return nil, err
	}

	type result struct {
		rel  string
		hash string
	}

	results := make([]result, len(entries))
	var (
		mu      sync.Mutex
		missing []string
	)

	g := new(errgroup.Group)
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	for i, e := range entries {
		i, e := i, e
		if e.Kind != globs.File {
			continue
		}
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			h, err := hashOneFile(packageDir, e.RelPath)
			if err != nil {
				mu.Lock()
				missing = append(missing, e.RelPath)
				mu.Unlock()
				return nil
			}
			results[i] = result{rel: e.RelPath, hash: h}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &InputFileDeletedError{Paths: missing}
	}

	out := make(map[string]string, len(results))
	for _, r := range results {
		if r.rel != "" {
			out[r.rel] = r.hash
		}
	}
	return out, nil
}

func hashOneFile(packageDir, rel string) (string, error) {
	f, err := os.Open(filepath.Join(packageDir, rel))
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
