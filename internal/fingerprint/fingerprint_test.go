package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/wireit-go/internal/script"
)

var testPlatform = Platform{OS: "linux", Arch: "amd64", RuntimeVersion: "go1.21"}

func newTestConfig(t *testing.T, command string, files, output []string) *script.Config {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, f)), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(f), 0644))
	}
	cmd := command
	return &script.Config{
		Ref:     script.NewReference(dir, "build"),
		Command: &cmd,
		Files:   files,
		Output:  output,
		Clean:   script.CleanAlways,
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	cfg := newTestConfig(t, "tsc", []string{"a.ts", "b.ts"}, []string{"lib/**"})
	r1, err := Compute(cfg, nil, testPlatform, nil)
	require.NoError(t, err)
	r2, err := Compute(cfg, nil, testPlatform, nil)
	require.NoError(t, err)
	assert.Equal(t, r1.Hash, r2.Hash)
	assert.Equal(t, r1.Canonical, r2.Canonical)
	assert.True(t, r1.FullyTracked)
}

func TestComputeOutputOrderIsSemantic(t *testing.T) {
	cfg1 := newTestConfig(t, "tsc", []string{"a.ts"}, []string{"lib/**", "dist/**"})
	cfg2 := &script.Config{Ref: cfg1.Ref, Command: cfg1.Command, Files: cfg1.Files, Output: []string{"dist/**", "lib/**"}, Clean: script.CleanAlways}

	r1, err := Compute(cfg1, nil, testPlatform, nil)
	require.NoError(t, err)
	r2, err := Compute(cfg2, nil, testPlatform, nil)
	require.NoError(t, err)
	assert.NotEqual(t, r1.Hash, r2.Hash)
}

func TestComputeNotFullyTrackedWithoutFiles(t *testing.T) {
	cmd := "tsc"
	cfg := &script.Config{
		Ref:     script.NewReference(t.TempDir(), "build"),
		Command: &cmd,
		Output:  []string{"lib/**"},
	}
	r, err := Compute(cfg, nil, testPlatform, nil)
	require.NoError(t, err)
	assert.False(t, r.FullyTracked)
	assert.Contains(t, r.NotFullyTrackedReason, "files")
}

func TestComputeAggregatorDoesNotNeedOutput(t *testing.T) {
	cfg := &script.Config{
		Ref:   script.NewReference(t.TempDir(), "build"),
		Files: []string{},
	}
	r, err := Compute(cfg, nil, testPlatform, nil)
	require.NoError(t, err)
	assert.True(t, r.FullyTracked)
}

func TestComputeCascadingUntrackedDependencyIsNotFullyTracked(t *testing.T) {
	cfg := newTestConfig(t, "tsc", []string{"a.ts"}, []string{"lib/**"})
	deps := []Dependency{{Ref: script.NewReference(t.TempDir(), "dep"), Hash: "abc", FullyTracked: false}}
	r, err := Compute(cfg, deps, testPlatform, nil)
	require.NoError(t, err)
	assert.False(t, r.FullyTracked)
}

func TestComputeWithNoMatchingFilesDoesNotError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ts"), []byte("x"), 0644))
	cmd := "tsc"
	cfg := &script.Config{
		Ref:     script.NewReference(dir, "build"),
		Command: &cmd,
		Files:   []string{"a.ts", "missing.ts"},
		Output:  []string{"lib/**"},
	}
	// a.ts exists but missing.ts never did, and the glob engine simply
	// won't report a non-existent match, so instead we remove a.ts
	// after confirming the pattern would have matched it.
	require.NoError(t, os.Remove(filepath.Join(dir, "a.ts")))
	_, err := Compute(cfg, nil, testPlatform, nil)
	// a.ts no longer exists so glob produces no entries for it; only a
	// genuinely racing deletion (file present at glob time, gone at read
	// time) produces InputFileDeletedError, which requires a race we
	// can't simulate deterministically in a unit test. We simply assert
	// that computing the fingerprint of a directory with no matching
	// files at all does not error.
	require.NoError(t, err)
}

func TestDifferenceDetectsCommandChange(t *testing.T) {
	cfg1 := newTestConfig(t, "tsc", []string{"a.ts"}, []string{"lib/**"})
	cmd2 := "tsc --strict"
	cfg2 := &script.Config{Ref: cfg1.Ref, Command: &cmd2, Files: cfg1.Files, Output: cfg1.Output, Clean: script.CleanAlways}

	r1, err := Compute(cfg1, nil, testPlatform, nil)
	require.NoError(t, err)
	r2, err := Compute(cfg2, nil, testPlatform, nil)
	require.NoError(t, err)

	msg, differs := Difference(r1.Canonical, r2.Canonical)
	require.True(t, differs)
	assert.Contains(t, msg, "command changed")
}

func TestDifferenceNoneWhenEqual(t *testing.T) {
	cfg := newTestConfig(t, "tsc", []string{"a.ts"}, []string{"lib/**"})
	r, err := Compute(cfg, nil, testPlatform, nil)
	require.NoError(t, err)
	_, differs := Difference(r.Canonical, r.Canonical)
	assert.False(t, differs)
}
