// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-phygital.
//
// go-phygital is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package file implements storage.Backend on an afero filesystem. Each key
// maps to one file below a root directory. Production uses the OS
// filesystem; tests use an in-memory afero.Fs.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/jeremyhahn/go-phygital/pkg/storage"
)

const (
	dirPerms  = 0700
	filePerms = 0600
)

// Storage is a file-per-key backend.
type Storage struct {
	mu     sync.RWMutex
	fs     afero.Fs
	root   string
	closed bool
}

// New returns a backend rooted at root on fs, creating root if needed.
// A nil fs selects the OS filesystem.
func New(fsys afero.Fs, root string) (*Storage, error) {
	if root == "" {
		return nil, errors.New("file storage: root directory cannot be empty")
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if err := fsys.MkdirAll(root, dirPerms); err != nil {
		return nil, fmt.Errorf("file storage: create root %s: %w", root, err)
	}
	return &Storage{fs: fsys, root: root}, nil
}

// Get returns the contents of the file for key.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("file storage: read %q: %w", key, err)
	}
	return data, nil
}

// Put writes value to a temporary file and renames it over the key's file,
// so a crash never leaves a half-written image behind.
func (s *Storage) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(p), dirPerms); err != nil {
		return fmt.Errorf("file storage: create directory for %q: %w", key, err)
	}
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, value, filePerms); err != nil {
		return fmt.Errorf("file storage: write %q: %w", key, err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("file storage: commit %q: %w", key, err)
	}
	return nil
}

// Delete removes the file for key.
func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("file storage: delete %q: %w", key, err)
	}
	return nil
}

// List returns the sorted keys beginning with prefix.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	keys := make([]string, 0)
	err := afero.Walk(s.fs, s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file storage: list: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether a file exists for key.
func (s *Storage) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, p)
	if err != nil {
		return false, fmt.Errorf("file storage: stat %q: %w", key, err)
	}
	return ok, nil
}

// Close marks the backend closed. Files are left in place.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// path maps a key to a file below root, rejecting traversal. Callers hold mu.
func (s *Storage) path(key string) (string, error) {
	if s.closed {
		return "", storage.ErrClosed
	}
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", storage.ErrInvalidKey)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: contains NUL", storage.ErrInvalidKey)
	}
	if filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: absolute path", storage.ErrInvalidKey)
	}
	for _, part := range strings.Split(filepath.ToSlash(key), "/") {
		if part == ".." {
			return fmt.Errorf("%w: path traversal", storage.ErrInvalidKey)
		}
	}
	return nil
}
