// Package media downloads message attachments into the media store.
package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store persists attachment bytes under a relative path.
type Store interface {
	// Put writes data at path, replacing any previous content, and returns
	// the stored location.
	Put(path string, data []byte) (string, error)
}

// FSStore is a Store on an afero filesystem rooted at a directory.
type FSStore struct {
	fs   afero.Fs
	root string
}

// NewFSStore creates a store under root.
func NewFSStore(fs afero.Fs, root string) *FSStore {
	return &FSStore{fs: fs, root: root}
}

// NewOSStore creates a store on the local disk.
func NewOSStore(root string) *FSStore {
	return NewFSStore(afero.NewOsFs(), root)
}

// Root returns the store root directory.
func (s *FSStore) Root() string { return s.root }

// Put writes to a temp file next to the target and renames it into place.
func (s *FSStore) Put(path string, data []byte) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	dir := filepath.Dir(full)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return "", fmt.Errorf("write media: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return "", fmt.Errorf("close media: %w", err)
	}
	if err := s.fs.Chmod(tmpName, 0644); err != nil && !os.IsNotExist(err) {
		_ = s.fs.Remove(tmpName)
		return "", fmt.Errorf("chmod media: %w", err)
	}
	if err := s.fs.Rename(tmpName, full); err != nil {
		_ = s.fs.Remove(tmpName)
		return "", fmt.Errorf("rename media: %w", err)
	}
	return full, nil
}
