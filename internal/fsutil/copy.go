// Package fsutil provides path and filesystem utilities: recursive tree
// copy/delete preserving symlinks, mkdir-minimization, and the
// cross-process scoped lock used to guard a script's persisted-state
// directory.
package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
)

// DirPermissions are the default permission bits applied to directories
// this package creates.
const DirPermissions = 0775

// CopyTree recursively copies src onto dst, preserving symlinks verbatim
// (not following them) and empty directories. src may be a single file
// or a directory.
func CopyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyEntry(src, dst, info)
	}
	if err := os.MkdirAll(dst, DirPermissions); err != nil {
		return err
	}
	return godirwalk.Walk(src, &godirwalk.Options{
		Unsorted:           true,
		AllowNonDirectory:  true,
		FollowSymbolicLinks: false,
		Callback: func(name string, dirent *godirwalk.Dirent) error {
			if name == src {
				return nil
			}
			rel, err := filepath.Rel(src, name)
			if err != nil {
				return err
			}
			dest := filepath.Join(dst, rel)
			if dirent.IsDir() {
				return os.MkdirAll(dest, DirPermissions)
			}
			entryInfo, err := os.Lstat(name)
			if err != nil {
				return err
			}
			return copyEntry(name, dest, entryInfo)
		},
	})
}

func copyEntry(src, dst string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return err
		}
		return os.Symlink(target, dst)
	}
	if err := EnsureDir(dst); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RemoveAll deletes path (file, symlink, or directory tree). A missing
// path is not an error.
func RemoveAll(path string) error {
	err := os.RemoveAll(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// EnsureDir creates the parent directory of filename if it does not
// already exist.
func EnsureDir(filename string) error {
	return os.MkdirAll(filepath.Dir(filename), DirPermissions)
}

// WriteFileAtomic writes data to filename via a temp file in the same
// directory followed by a rename, so a concurrent reader never observes
// a torn write.
func WriteFileAtomic(filename string, data []byte) error {
	if err := EnsureDir(filename); err != nil {
		return err
	}
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filename)
}

// DirEnsurer memoizes which directories have already been created
// during one process's run, avoiding a redundant stat+mkdir syscall pair
// for every output file in a directory with many siblings. Not safe for
// concurrent use without external synchronization; callers that fan out
// across goroutines should use one DirEnsurer per goroutine or guard it
// with a mutex.
type DirEnsurer struct {
	made map[string]bool
}

// NewDirEnsurer returns an empty DirEnsurer.
func NewDirEnsurer() *DirEnsurer {
	return &DirEnsurer{made: make(map[string]bool)}
}

// EnsureDir creates dir and all missing ancestors, skipping the
// mkdir syscall entirely if this DirEnsurer already created dir (or an
// ancestor walk already proved it exists) earlier in the same run.
func (e *DirEnsurer) EnsureDir(dir string) error {
	if e.made[dir] {
		return nil
	}
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return err
	}
	for d := dir; d != "." && d != string(filepath.Separator) && d != ""; d = filepath.Dir(d) {
		if e.made[d] {
			break
		}
		e.made[d] = true
	}
	return nil
}
