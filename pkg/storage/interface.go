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

// Package storage provides the key-value persistence layer behind the
// device's byte images (the MCU EEPROM and the tag user memory). Backends
// store opaque blobs under slash-separated keys.
package storage

// Backend is a key-value store for device images.
// All implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error

	// Delete removes key, or returns ErrNotFound.
	Delete(key string) error

	// List returns the keys beginning with prefix; an empty prefix lists all.
	List(prefix string) ([]string, error)

	// Exists reports whether key is present.
	Exists(key string) (bool, error)

	// Close releases the backend. Further calls return ErrClosed.
	Close() error
}
