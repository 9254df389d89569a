// Package localfs is the local file-system side of a transfer: it opens
// sources and destinations and describes files for upload.
package localfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// FileDescriptor describes a local file to transfer. It is an immutable value.
type FileDescriptor struct {
	FullPath     string
	RelativePath string
	SizeInBytes  int64
	// LastWriteTimeUTC is the file's modification time in UTC.
	LastWriteTimeUTC time.Time
}

// FileSystem wraps an afero.Fs with the operations transfers need.
type FileSystem struct {
	fs       afero.Fs
	dirPerms os.FileMode
}

// New returns a FileSystem over fs.
func New(fs afero.Fs) *FileSystem {
	return &FileSystem{fs: fs, dirPerms: 0o755}
}

// OS returns a FileSystem over the host file system.
func OS() *FileSystem {
	return New(afero.NewOsFs())
}

// Fs exposes the underlying afero.Fs.
func (f *FileSystem) Fs() afero.Fs {
	return f.fs
}

// OpenRead opens path for reading.
func (f *FileSystem) OpenRead(path string) (io.ReadCloser, error) {
	file, err := f.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, nil
}

// OpenWrite creates or truncates path for writing, creating parent
// directories as needed.
func (f *FileSystem) OpenWrite(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := f.fs.MkdirAll(dir, f.dirPerms); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	file, err := f.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return file, nil
}

// Chtimes sets the access and modification times of path.
func (f *FileSystem) Chtimes(path string, atime, mtime time.Time) error {
	if err := f.fs.Chtimes(path, atime, mtime); err != nil {
		return fmt.Errorf("chtimes %s: %w", path, err)
	}
	return nil
}

// Describe returns the descriptor of a regular file. RelativePath is path
// relative to root, using forward slashes.
func (f *FileSystem) Describe(root, path string) (FileDescriptor, error) {
	info, err := f.fs.Stat(path)
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return FileDescriptor{}, fmt.Errorf("stat %s: not a regular file", path)
	}
	return describe(root, path, info)
}

// Walk calls fn for every regular file under root, in lexical order.
// If root is itself a file, fn is called once with its base name as the
// relative path.
func (f *FileSystem) Walk(root string, fn func(FileDescriptor) error) error {
	info, err := f.fs.Stat(root)
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}
	if info.Mode().IsRegular() {
		fd, err := describe(filepath.Dir(root), root, info)
		if err != nil {
			return err
		}
		return fn(fd)
	}

	return afero.Walk(f.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		fd, err := describe(root, path, info)
		if err != nil {
			return err
		}
		return fn(fd)
	})
}

func describe(root, path string, info fs.FileInfo) (FileDescriptor, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("relative path of %s: %w", path, err)
	}
	return FileDescriptor{
		FullPath:         path,
		RelativePath:     filepath.ToSlash(rel),
		SizeInBytes:      info.Size(),
		LastWriteTimeUTC: info.ModTime().UTC(),
	}, nil
}
