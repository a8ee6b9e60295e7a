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

// Package eeprom models byte-addressable persistent memory: the MCU EEPROM
// holding the key record and configuration markers, and the NFC tag's user
// memory. Images start erased (every byte 0xFF).
package eeprom

import (
	"errors"
	"fmt"
)

// Erased is the value of a never-written EEPROM cell.
const Erased = 0xFF

var (
	// ErrOutOfRange is returned for addresses outside the image.
	ErrOutOfRange = errors.New("eeprom: address out of range")

	// ErrInvalidSize is returned when an image size is not positive.
	ErrInvalidSize = errors.New("eeprom: invalid size")
)

// Store is byte-addressable persistent memory.
type Store interface {
	// ByteAt returns the byte stored at addr.
	ByteAt(addr int) (byte, error)

	// SetByte stores b at addr and commits it.
	SetByte(addr int, b byte) error

	// Size returns the number of addressable bytes.
	Size() int
}

// ReadRange reads n consecutive bytes starting at addr.
func ReadRange(s Store, addr, n int) ([]byte, error) {
	if addr < 0 || n < 0 || addr+n > s.Size() {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, addr, addr+n, s.Size())
	}
	out := make([]byte, n)
	for i := range out {
		b, err := s.ByteAt(addr + i)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// WriteRange writes data starting at addr. Stores that batch commits
// (see Image) persist the whole range at once.
func WriteRange(s Store, addr int, data []byte) error {
	if addr < 0 || addr+len(data) > s.Size() {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, addr, addr+len(data), s.Size())
	}
	if bw, ok := s.(rangeWriter); ok {
		return bw.writeRange(addr, data)
	}
	for i, b := range data {
		if err := s.SetByte(addr+i, b); err != nil {
			return err
		}
	}
	return nil
}

type rangeWriter interface {
	writeRange(addr int, data []byte) error
}
