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

package eeprom

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-phygital/pkg/storage"
)

// Image is an EEPROM image persisted in a storage.Backend under one key.
// Reads are served from a cached copy; every write commits the whole image.
// A failed commit rolls the cache back so memory never diverges from what
// is stored.
type Image struct {
	mu      sync.RWMutex
	backend storage.Backend
	key     string
	data    []byte
}

// Open loads the image stored under key, or starts an erased image of size
// bytes when none exists. A stored image shorter than size is padded with
// erased bytes; a longer one is rejected.
func Open(backend storage.Backend, key string, size int) (*Image, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	data := erased(size)
	stored, err := backend.Get(key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("eeprom: load %s: %w", key, err)
	case len(stored) > size:
		return nil, fmt.Errorf("%w: stored image is %d bytes, configured %d", ErrInvalidSize, len(stored), size)
	default:
		copy(data, stored)
	}

	return &Image{backend: backend, key: key, data: data}, nil
}

// ByteAt implements Store.
func (img *Image) ByteAt(addr int) (byte, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()
	if addr < 0 || addr >= len(img.data) {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, addr)
	}
	return img.data[addr], nil
}

// SetByte implements Store.
func (img *Image) SetByte(addr int, b byte) error {
	return img.writeRange(addr, []byte{b})
}

// Size implements Store.
func (img *Image) Size() int {
	return len(img.data)
}

func (img *Image) writeRange(addr int, data []byte) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if addr < 0 || addr+len(data) > len(img.data) {
		return fmt.Errorf("%w: [%d,%d)", ErrOutOfRange, addr, addr+len(data))
	}

	prev := append([]byte(nil), img.data[addr:addr+len(data)]...)
	copy(img.data[addr:], data)
	if err := img.backend.Put(img.key, img.data); err != nil {
		copy(img.data[addr:], prev)
		return fmt.Errorf("eeprom: commit %s: %w", img.key, err)
	}
	return nil
}
