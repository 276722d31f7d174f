// Package storage persists small settings files through an afero filesystem.
package storage

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/afero"
)

// Storage reads and writes files on an afero filesystem.
type Storage struct {
	fs afero.Fs
}

// New wraps an existing filesystem.
func New(fs afero.Fs) *Storage {
	return &Storage{fs: fs}
}

// NewOS returns storage rooted at dir on the host filesystem. Paths passed to
// its methods are relative to dir even when they start with "/".
func NewOS(dir string) *Storage {
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// NewMemory returns storage backed by an in-memory filesystem.
func NewMemory() *Storage {
	return New(afero.NewMemMapFs())
}

// Fs exposes the underlying filesystem.
func (s *Storage) Fs() afero.Fs { return s.fs }

// Exists reports whether a regular file exists at p.
func (s *Storage) Exists(p string) bool {
	info, err := s.fs.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// EnsureDir creates dir and any missing parents.
func (s *Storage) EnsureDir(dir string) error {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// ReadFile returns the contents of p.
func (s *Storage) ReadFile(p string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// WriteFile replaces p with data. The data is written to a sibling
// temporary file first and renamed into place.
func (s *Storage) WriteFile(p string, data []byte) error {
	if err := s.EnsureDir(path.Dir(p)); err != nil {
		return err
	}

	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", p, err)
	}
	return nil
}

// Remove deletes p. A missing file is not an error.
func (s *Storage) Remove(p string) error {
	err := s.fs.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}
