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

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_PutGet(t *testing.T) {
	m := NewMemory()
	defer func() { _ = m.Close() }()

	value := []byte{0xaa, 0x01}
	require.NoError(t, m.Put(EEPROMKey, value))

	// Stored values are isolated from caller mutation.
	value[0] = 0x00
	got, err := m.Get(EEPROMKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0x01}, got)

	got[1] = 0xff
	again, err := m.Get(EEPROMKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0x01}, again)
}

func TestMemoryBackend_NotFound(t *testing.T) {
	m := NewMemory()

	_, err := m.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.Delete("missing"), ErrNotFound)

	ok, err := m.Exists("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackend_ListAndDelete(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(TagMemoryKey, []byte{1}))
	require.NoError(t, m.Put(EEPROMKey, []byte{2}))
	require.NoError(t, m.Put("other", []byte{3}))

	keys, err := m.List(ImagePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{EEPROMKey, TagMemoryKey}, keys)

	all, err := m.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, m.Delete("other"))
	ok, err := m.Exists("other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackend_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Put("k", nil), ErrClosed)
	_, err = m.List("")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Exists("k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBackend_InvalidKey(t *testing.T) {
	assert.ErrorIs(t, NewMemory().Put("", []byte{1}), ErrInvalidKey)
}

func TestImageKey(t *testing.T) {
	assert.Equal(t, "images/eeprom.bin", EEPROMKey)
	assert.Equal(t, "images/backup.bin", ImageKey("backup"))
	assert.Equal(t, "images/passwd.bin", ImageKey("../../etc/passwd"))
}
