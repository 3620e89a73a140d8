package fsutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyTreePreservesSymlinksAndEmptyDirs(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")

	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "empty"), 0755))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))

	require.NoError(t, CopyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := os.Lstat(filepath.Join(dst, "empty"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	linkInfo, err := os.Lstat(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.True(t, linkInfo.Mode()&os.ModeSymlink != 0)
	target, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", target)
}

func TestDirEnsurerSkipsRepeatMkdir(t *testing.T) {
	base := t.TempDir()
	e := NewDirEnsurer()
	d := filepath.Join(base, "a", "b", "c")
	require.NoError(t, e.EnsureDir(d))
	require.True(t, e.made[d])
	// Second call should be a cheap no-op hit, not error even though the
	// directory already exists.
	require.NoError(t, e.EnsureDir(d))
}

func TestLockExcludesConcurrentAcquire(t *testing.T) {
	dataDir := t.TempDir()

	l1, err := Acquire(context.Background(), dataDir, nil)
	require.NoError(t, err)

	waited := false
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = Acquire(ctx, dataDir, func() { waited = true })
	assert.Error(t, err) // times out, since l1 still holds it
	assert.True(t, waited)

	require.NoError(t, l1.Release())

	l2, err := Acquire(context.Background(), dataDir, nil)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestLockStealsStaleLock(t *testing.T) {
	dataDir := t.TempDir()
	lockDir := filepath.Join(dataDir, "lock.d")
	require.NoError(t, os.MkdirAll(lockDir, DirPermissions))
	old := time.Now().Add(-1 * time.Hour)
	require.NoError(t, os.Chtimes(lockDir, old, old))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l, err := Acquire(ctx, dataDir, nil)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}
