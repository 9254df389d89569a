// Package fs provides a filesystem-backed object store.
//
// Committed objects live under <path>/objects/<key>. Staged blocks are
// written to <path>/staging/<generation>/ and concatenated into place on
// commit with an atomic rename.
package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gezibash/blobsync/internal/objectstore"
	"github.com/gezibash/blobsync/internal/storage"
)

const (
	KeyPath            = "path"
	KeyDirPermissions  = "dir_permissions"
	KeyFilePermissions = "file_permissions"
)

const (
	objectsDir = "objects"
	stagingDir = "staging"
)

func init() {
	objectstore.Register("fs", NewFactory, Defaults)
}

// Defaults returns the default configuration for the filesystem backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:            "~/.blobsync/objects-fs",
		KeyDirPermissions:  "0700",
		KeyFilePermissions: "0600",
	}
}

// NewFactory creates a new filesystem backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (objectstore.Backend, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("fs", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	dirPerms, err := parseFileMode(config[KeyDirPermissions], 0o700)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("fs", KeyDirPermissions, config[KeyDirPermissions], "must be an octal permission string (e.g. 0700)")
	}

	filePerms, err := parseFileMode(config[KeyFilePermissions], 0o600)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("fs", KeyFilePermissions, config[KeyFilePermissions], "must be an octal permission string (e.g. 0600)")
	}

	for _, dir := range []string{objectsDir, stagingDir} {
		if err := os.MkdirAll(filepath.Join(path, dir), dirPerms); err != nil {
			return nil, storage.NewConfigErrorWithCause("fs", KeyPath, "failed to create directory", err)
		}
	}

	slog.Info("fs objectstore initialized", "path", path, "dir_permissions", fmt.Sprintf("%04o", dirPerms), "file_permissions", fmt.Sprintf("%04o", filePerms))

	return &Backend{
		rootPath:  path,
		dirPerms:  dirPerms,
		filePerms: filePerms,
	}, nil
}

func parseFileMode(s string, defaultMode os.FileMode) (os.FileMode, error) {
	if s == "" {
		return defaultMode, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	return os.FileMode(v), nil
}

// Backend is a filesystem implementation of objectstore.Backend.
type Backend struct {
	rootPath  string
	dirPerms  os.FileMode
	filePerms os.FileMode
	closed    atomic.Bool
}

// Blob returns a handle for ref.
func (b *Backend) Blob(ref objectstore.Ref) objectstore.Blob {
	return &blob{backend: b, ref: ref, generation: uuid.NewString()}
}

// Stats returns the total size of committed objects.
func (b *Backend) Stats(_ context.Context) (*objectstore.Stats, error) {
	if b.closed.Load() {
		return nil, objectstore.ErrClosed
	}

	var totalSize int64
	err := filepath.WalkDir(filepath.Join(b.rootPath, objectsDir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if name := d.Name(); len(name) > 0 && name[0] == '.' {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fs stats: %w", err)
	}

	return &objectstore.Stats{
		SizeBytes:   totalSize,
		BackendType: "fs",
	}, nil
}

// Close marks the backend as closed.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *Backend) objectPath(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(b.rootPath, objectsDir, rel), nil
}

type blob struct {
	backend    *Backend
	ref        objectstore.Ref
	generation string
}

func (o *blob) stagingPath() string {
	return filepath.Join(o.backend.rootPath, stagingDir, o.generation)
}

// Block ids are hex-encoded so any id is a valid file name.
func (o *blob) blockPath(id string) string {
	return filepath.Join(o.stagingPath(), hex.EncodeToString([]byte(id)))
}

// PutBlock writes data to the handle's staging directory.
func (o *blob) PutBlock(_ context.Context, id string, data []byte, contentMD5 []byte) error {
	if o.backend.closed.Load() {
		return objectstore.ErrClosed
	}
	if err := objectstore.VerifyMD5(data, contentMD5); err != nil {
		return fmt.Errorf("fs put block %s: %w", id, err)
	}

	if err := os.MkdirAll(o.stagingPath(), o.backend.dirPerms); err != nil {
		return fmt.Errorf("fs put block %s: %w", id, err)
	}
	if err := os.WriteFile(o.blockPath(id), data, o.backend.filePerms); err != nil {
		return fmt.Errorf("fs put block %s: %w", id, err)
	}
	return nil
}

// CommitBlockList concatenates the staged blocks into a temporary file and
// renames it over the object.
func (o *blob) CommitBlockList(_ context.Context, ids []string) error {
	if o.backend.closed.Load() {
		return objectstore.ErrClosed
	}

	for _, id := range ids {
		if _, err := os.Stat(o.blockPath(id)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("fs commit: %w: %s", objectstore.ErrBlockNotStaged, id)
			}
			return fmt.Errorf("fs commit: %w", err)
		}
	}

	err := o.writeObject(func(w io.Writer) error {
		for _, id := range ids {
			if err := appendFile(w, o.blockPath(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fs commit: %w", err)
	}

	if err := os.RemoveAll(o.stagingPath()); err != nil {
		slog.Warn("fs: failed to remove staging directory", "key", o.ref.Key, "error", err)
	}
	return nil
}

func appendFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// Put stores data using atomic rename.
func (o *blob) Put(_ context.Context, data []byte) error {
	if o.backend.closed.Load() {
		return objectstore.ErrClosed
	}

	err := o.writeObject(func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("fs put: %w", err)
	}
	return nil
}

func (o *blob) writeObject(fill func(io.Writer) error) error {
	path, err := o.backend.objectPath(o.ref.Key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, o.backend.dirPerms); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	fillErr := fill(tmp)
	closeErr := tmp.Close()
	if fillErr != nil {
		_ = os.Remove(tmpName)
		return fillErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return closeErr
	}

	if err := os.Chmod(tmpName, o.backend.filePerms); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if !o.ref.LastModified.IsZero() {
		if err := os.Chtimes(tmpName, time.Time{}, o.ref.LastModified); err != nil {
			_ = os.Remove(tmpName)
			return err
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Get opens the committed object.
func (o *blob) Get(_ context.Context) (io.ReadCloser, error) {
	f, _, err := o.open()
	if err != nil {
		return nil, fmt.Errorf("fs get: %w", err)
	}
	return f, nil
}

// RangedGet returns a section reader over [start, endInclusive].
func (o *blob) RangedGet(_ context.Context, start, endInclusive int64) (io.ReadCloser, error) {
	f, info, err := o.open()
	if err != nil {
		return nil, fmt.Errorf("fs ranged get: %w", err)
	}
	if err := objectstore.CheckRange(start, endInclusive, info.Size()); err != nil {
		f.Close()
		return nil, fmt.Errorf("fs ranged get: %w", err)
	}
	return sectionReadCloser{
		SectionReader: io.NewSectionReader(f, start, endInclusive-start+1),
		Closer:        f,
	}, nil
}

// Stat returns the committed object's size and modification time.
func (o *blob) Stat(_ context.Context) (objectstore.Attributes, error) {
	if o.backend.closed.Load() {
		return objectstore.Attributes{}, objectstore.ErrClosed
	}
	path, err := o.backend.objectPath(o.ref.Key)
	if err != nil {
		return objectstore.Attributes{}, fmt.Errorf("fs stat: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return objectstore.Attributes{}, fmt.Errorf("fs stat: %w", objectstore.ErrNotFound)
		}
		return objectstore.Attributes{}, fmt.Errorf("fs stat: %w", err)
	}
	return objectstore.Attributes{Size: info.Size(), LastModified: info.ModTime().UTC()}, nil
}

func (o *blob) open() (*os.File, os.FileInfo, error) {
	if o.backend.closed.Load() {
		return nil, nil, objectstore.ErrClosed
	}
	path, err := o.backend.objectPath(o.ref.Key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, objectstore.ErrNotFound
		}
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	io.Closer
}
