// Package cache implements a Cache interface and its local filesystem
// backend: a content-addressed directory tree keyed by (script,
// fingerprint hash), storing the script's declared output paths and its
// stdout/stderr replay logs.
//
// The local backend stores each entry as a plain, symlink-preserving
// directory tree rather than a compressed archive, built on
// internal/fsutil.CopyTree.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/wireit-go/internal/fsutil"
	"github.com/google/wireit-go/internal/script"
)

const outputsDirName = "outputs"

// Hit is a cache entry found for a (script, fingerprint) pair. Apply
// materializes it: outputs into packageDir, replay logs into stateDir.
type Hit struct {
	entryDir string
}

// Apply restores this hit's outputs into packageDir and its stdout/stderr
// replay logs (if any were saved) into stateDir.
func (h *Hit) Apply(packageDir, stateDir string) error {
	outputs := filepath.Join(h.entryDir, outputsDirName)
	if _, err := os.Lstat(outputs); err == nil {
		if err := fsutil.CopyTree(outputs, packageDir); err != nil {
			return fmt.Errorf("restoring cached outputs: %w", err)
		}
	}
	for _, name := range []string{"stdout", "stderr"} {
		src := filepath.Join(h.entryDir, name)
		if _, err := os.Lstat(src); err != nil {
			continue
		}
		if err := fsutil.CopyTree(src, filepath.Join(stateDir, name)); err != nil {
			return fmt.Errorf("restoring cached %s: %w", name, err)
		}
	}
	return nil
}

// Cache stores and retrieves cache artifacts keyed by a script reference
// and its fingerprint hash.
type Cache interface {
	// Get looks up the entry for (ref, fingerprintHash). A nil, nil result
	// means a miss.
	Get(ref script.Reference, fingerprintHash string) (*Hit, error)
	// Set stores relPaths (each relative to packageDir, file or
	// directory, copied recursively and symlink-preserving) plus the
	// stateDir's stdout/stderr replay logs, if present, under a new entry
	// for (ref, fingerprintHash). It fails if that entry already exists —
	// the cache is write-once per key.
	Set(ref script.Reference, fingerprintHash, packageDir, stateDir string, relPaths []string) error
}

// Local is the on-disk cache backend: entries live at
// "<packageDir>/.wireit/<hex(name)>/cache/<fingerprintHash>/".
type Local struct{}

// NewLocal returns the local filesystem cache backend.
func NewLocal() *Local { return &Local{} }

func (l *Local) entryDir(ref script.Reference, fingerprintHash string) string {
	return filepath.Join(ref.StateDir(), "cache", fingerprintHash)
}

// Get implements Cache.
func (l *Local) Get(ref script.Reference, fingerprintHash string) (*Hit, error) {
	dir := l.entryDir(ref, fingerprintHash)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &Hit{entryDir: dir}, nil
}

// Set implements Cache. It populates a temporary sibling directory and
// renames it into place, so a concurrent reader never observes a
// partially written entry, and fails outright if the entry already
// exists (the executor is expected to have checked first via Get).
func (l *Local) Set(ref script.Reference, fingerprintHash, packageDir, stateDir string, relPaths []string) error {
	final := l.entryDir(ref, fingerprintHash)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("cache entry already exists: %s", final)
	}

	parent := filepath.Dir(final)
	if err := os.MkdirAll(parent, fsutil.DirPermissions); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, "tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = fsutil.RemoveAll(tmp) }()

	outputs := filepath.Join(tmp, outputsDirName)
	for _, rel := range relPaths {
		src := filepath.Join(packageDir, rel)
		if _, err := os.Lstat(src); err != nil {
			continue
		}
		if err := fsutil.CopyTree(src, filepath.Join(outputs, rel)); err != nil {
			return fmt.Errorf("caching output %s: %w", rel, err)
		}
	}

	for _, name := range []string{"stdout", "stderr"} {
		src := filepath.Join(stateDir, name)
		if _, err := os.Lstat(src); err != nil {
			continue
		}
		if err := fsutil.CopyTree(src, filepath.Join(tmp, name)); err != nil {
			return fmt.Errorf("caching %s: %w", name, err)
		}
	}

	if err := os.Rename(tmp, final); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("cache entry already exists: %s", final)
		}
		return err
	}
	return nil
}

var _ Cache = (*Local)(nil)
