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

package file

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-phygital/pkg/storage"
)

func newTestStorage(t *testing.T) (*Storage, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/var/lib/phygital")
	require.NoError(t, err)
	return s, fs
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), "")
	require.Error(t, err)
}

func TestStorage_PutGet(t *testing.T) {
	s, fs := newTestStorage(t)

	require.NoError(t, s.Put(storage.EEPROMKey, []byte{0xaa, 0x01, 0x02}))

	got, err := s.Get(storage.EEPROMKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0x01, 0x02}, got)

	onDisk, err := afero.ReadFile(fs, "/var/lib/phygital/images/eeprom.bin")
	require.NoError(t, err)
	assert.Equal(t, got, onDisk)

	tmpExists, err := afero.Exists(fs, "/var/lib/phygital/images/eeprom.bin.tmp")
	require.NoError(t, err)
	assert.False(t, tmpExists)
}

func TestStorage_Overwrite(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Put("images/tag.bin", []byte{1, 2, 3}))
	require.NoError(t, s.Put("images/tag.bin", []byte{4}))

	got, err := s.Get("images/tag.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, got)
}

func TestStorage_NotFound(t *testing.T) {
	s, _ := newTestStorage(t)

	_, err := s.Get("images/missing.bin")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, s.Delete("images/missing.bin"), storage.ErrNotFound)

	ok, err := s.Exists("images/missing.bin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorage_ListDelete(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Put(storage.TagMemoryKey, []byte{1}))
	require.NoError(t, s.Put(storage.EEPROMKey, []byte{2}))
	require.NoError(t, s.Put("notes.txt", []byte{3}))

	keys, err := s.List(storage.ImagePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{storage.EEPROMKey, storage.TagMemoryKey}, keys)

	require.NoError(t, s.Delete("notes.txt"))
	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStorage_InvalidKeys(t *testing.T) {
	s, _ := newTestStorage(t)

	for _, key := range []string{"", "../escape", "images/../../escape", "/etc/passwd", "nul\x00byte"} {
		t.Run(key, func(t *testing.T) {
			assert.ErrorIs(t, s.Put(key, []byte{1}), storage.ErrInvalidKey)
			_, err := s.Get(key)
			assert.ErrorIs(t, err, storage.ErrInvalidKey)
		})
	}
}

func TestStorage_Closed(t *testing.T) {
	s, _ := newTestStorage(t)
	require.NoError(t, s.Close())

	_, err := s.Get(storage.EEPROMKey)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Put(storage.EEPROMKey, nil), storage.ErrClosed)
	_, err = s.List("")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestStorage_ImplementsBackend(t *testing.T) {
	s, _ := newTestStorage(t)
	var _ storage.Backend = s
}
