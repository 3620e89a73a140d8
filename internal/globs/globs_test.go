package globs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

func relPaths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RelPath
	}
	return out
}

func TestMatchBasicInclude(t *testing.T) {
	dir := fs.NewDir(t, "globs-test",
		fs.WithFile("a.ts", ""),
		fs.WithFile("b.js", ""),
		fs.WithDir("sub", fs.WithFile("c.ts", "")),
	)
	defer dir.Remove()

	entries, err := Match(dir.Path(), []string{"**/*.ts"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.ts", filepath.ToSlash(filepath.Join("sub", "c.ts"))}, relPaths(entries))
}

func TestMatchBraceAlternatives(t *testing.T) {
	dir := fs.NewDir(t, "globs-brace-test",
		fs.WithFile("a.css", ""),
		fs.WithFile("a.less", ""),
		fs.WithFile("a.js", ""),
	)
	defer dir.Remove()

	entries, err := Match(dir.Path(), []string{"*.{css,less}"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.css", "a.less"}, relPaths(entries))
}

func TestMatchExclusionOrderIsSemantic(t *testing.T) {
	dir := fs.NewDir(t, "globs-order-test",
		fs.WithDir("src", fs.WithFile("a.ts", ""), fs.WithFile("a.test.ts", "")),
	)
	defer dir.Remove()

	// Exclude everything under src, then re-include .test.ts files:
	// later inclusions can restore paths an earlier exclusion removed.
	entries, err := Match(dir.Path(), []string{"src/**", "!src/**", "src/**/*.test.ts"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.ToSlash(filepath.Join("src", "a.test.ts"))}, relPaths(entries))
}

func TestMatchDirectoryExclusionTrailingSlash(t *testing.T) {
	dir := fs.NewDir(t, "globs-dirsuffix-test",
		fs.WithFile("keep.txt", ""),
		fs.WithDir("node_modules", fs.WithFile("dep.js", "")),
	)
	defer dir.Remove()

	entries, err := Match(dir.Path(), []string{"**", "!node_modules/"})
	require.NoError(t, err)
	paths := relPaths(entries)
	assert.Contains(t, paths, "keep.txt")
	assert.NotContains(t, paths, "node_modules")
	assert.NotContains(t, paths, filepath.ToSlash(filepath.Join("node_modules", "dep.js")))
}

func TestMatchEmptyPatternsReturnsNothing(t *testing.T) {
	dir := fs.NewDir(t, "globs-empty-test", fs.WithFile("a.ts", ""))
	defer dir.Remove()

	entries, err := Match(dir.Path(), nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
