package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/wireit-go/internal/script"
)

func TestLocalCacheMissThenRoundTrip(t *testing.T) {
	packageDir := t.TempDir()
	ref := script.NewReference(packageDir, "build")
	stateDir := ref.StateDir()
	require.NoError(t, os.MkdirAll(stateDir, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(packageDir, "dist"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(packageDir, "dist", "out.js"), []byte("v0"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "stdout"), []byte("built\n"), 0644))

	c := NewLocal()

	hit, err := c.Get(ref, "abc123")
	require.NoError(t, err)
	assert.Nil(t, hit)

	require.NoError(t, c.Set(ref, "abc123", packageDir, stateDir, []string{"dist"}))

	// A second Set for the same key must fail: write-once per key.
	err = c.Set(ref, "abc123", packageDir, stateDir, []string{"dist"})
	assert.Error(t, err)

	// Mutate the source to prove Apply restores the originally cached
	// bytes, not whatever is currently on disk.
	require.NoError(t, os.WriteFile(filepath.Join(packageDir, "dist", "out.js"), []byte("v1"), 0644))

	hit, err = c.Get(ref, "abc123")
	require.NoError(t, err)
	require.NotNil(t, hit)

	restoreDir := t.TempDir()
	restoreState := filepath.Join(restoreDir, ".wireit", "state")
	require.NoError(t, os.MkdirAll(restoreState, 0755))
	require.NoError(t, hit.Apply(restoreDir, restoreState))

	data, err := os.ReadFile(filepath.Join(restoreDir, "dist", "out.js"))
	require.NoError(t, err)
	assert.Equal(t, "v0", string(data))

	stdout, err := os.ReadFile(filepath.Join(restoreState, "stdout"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(stdout))
}
