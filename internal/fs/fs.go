// Package fs collects the small set of filesystem primitives shared by the
// archive cache, the replica fetcher and the container writer: opening and
// creating files, making directories, setting file times, and removing
// finished work. It does not attempt restic's
// full tree-walking/symlink/xattr metadata capture — this module never scans
// a live source tree, it only reads and writes individual regular files
// named by the catalog, so that machinery has no job here.
package fs

import (
	"os"
	"time"
)

// OpenFile is like os.OpenFile, wrapped so call sites never import "os"
// just for this one call and so a future retry/backoff layer has a single
// seam to intercept.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

// Open is like os.Open.
func Open(name string) (*os.File, error) {
	return os.Open(name)
}

// Create is like os.Create.
func Create(name string) (*os.File, error) {
	return os.Create(name)
}

// Stat is like os.Stat.
func Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

// Lstat is like os.Lstat.
func Lstat(name string) (os.FileInfo, error) {
	return os.Lstat(name)
}

// Mkdir is like os.Mkdir.
func Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(name, perm)
}

// MkdirAll is like os.MkdirAll.
func MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Remove is like os.Remove.
func Remove(name string) error {
	return os.Remove(name)
}

// RemoveAll is like os.RemoveAll.
func RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// RemoveIfExists removes name, ignoring the error if it is already gone.
func RemoveIfExists(name string) error {
	err := os.Remove(name)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Rename is like os.Rename.
func Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Chtimes is like os.Chtimes. The archive cache does not use it: idle
// eviction there is driven by an in-memory TTL index, not by file times.
func Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(name, atime, mtime)
}

// Readdirnames returns the names of n entries of dir, or all of them if n
// is <= 0.
func Readdirnames(dir string, n int) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(n)
}

// TempFile creates a temporary file in dir with the given name pattern. The
// status writer stages each status file under this before the atomic
// rename that makes it visible to readers.
func TempFile(dir, pattern string) (*os.File, error) {
	return os.CreateTemp(dir, pattern)
}

// IsNotExist reports whether err indicates that a file does not exist.
func IsNotExist(err error) bool {
	return os.IsNotExist(err)
}
