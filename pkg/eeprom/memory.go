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
	"fmt"
	"sync"
)

// Memory is a volatile image.
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemory returns an erased image of size bytes.
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return &Memory{data: erased(size)}, nil
}

// ByteAt implements Store.
func (m *Memory) ByteAt(addr int) (byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if addr < 0 || addr >= len(m.data) {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, addr)
	}
	return m.data[addr], nil
}

// SetByte implements Store.
func (m *Memory) SetByte(addr int, b byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < 0 || addr >= len(m.data) {
		return fmt.Errorf("%w: %d", ErrOutOfRange, addr)
	}
	m.data[addr] = b
	return nil
}

// Size implements Store.
func (m *Memory) Size() int {
	return len(m.data)
}

// Bytes returns a copy of the image.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}

func erased(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = Erased
	}
	return b
}
