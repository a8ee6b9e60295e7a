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

package wallet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-phygital/pkg/address"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/entropy"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/keccak"
	"github.com/jeremyhahn/go-phygital/pkg/eeprom"
)

const (
	testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress    = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

// flakyStore fails SetByte once failAfter writes have succeeded.
type flakyStore struct {
	*eeprom.Memory
	writes    int
	failAfter int
	failReads bool
}

func (s *flakyStore) ByteAt(addr int) (byte, error) {
	if s.failReads {
		return 0, errors.New("bus timeout")
	}
	return s.Memory.ByteAt(addr)
}

func (s *flakyStore) SetByte(addr int, b byte) error {
	if s.failAfter >= 0 && s.writes >= s.failAfter {
		return errors.New("bus timeout")
	}
	s.writes++
	return s.Memory.SetByte(addr, b)
}

func newMemory(t *testing.T) *eeprom.Memory {
	t.Helper()
	mem, err := eeprom.NewMemory(eeprom.DefaultSize)
	require.NoError(t, err)
	return mem
}

func testKeyBytes(t *testing.T) []byte {
	t.Helper()
	b, err := keccak.DecodeHex(testPrivateKey)
	require.NoError(t, err)
	return b
}

func newManager(t *testing.T, store eeprom.Store, src entropy.Source) *Manager {
	t.Helper()
	m, err := NewManager(&Config{Store: store, Entropy: src})
	require.NoError(t, err)
	return m
}

func TestNewManager(t *testing.T) {
	_, err := NewManager(nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	small, err := eeprom.NewMemory(eeprom.RecordLength - 1)
	require.NoError(t, err)
	_, err = NewManager(&Config{Store: small})
	require.ErrorIs(t, err, ErrInvalidConfig)

	m, err := NewManager(&Config{})
	require.NoError(t, err)
	assert.False(t, m.IsInitialized())
	assert.Empty(t, m.Address())
	assert.Nil(t, m.PublicKey())
}

func TestInitialize_CreatesAndPersists(t *testing.T) {
	mem := newMemory(t)
	m := newManager(t, mem, entropy.NewReaderSource(bytes.NewReader(testKeyBytes(t))))

	require.NoError(t, m.Initialize())
	assert.True(t, m.IsInitialized())
	assert.Equal(t, testAddress, m.Address())

	img := mem.Bytes()
	assert.Equal(t, byte(eeprom.MarkerValue), img[eeprom.KeysMarkerAddr])
	assert.Equal(t, testKeyBytes(t), img[eeprom.PrivateKeyAddr:eeprom.PublicKeyAddr])
	assert.Equal(t, m.PublicKey(), img[eeprom.PublicKeyAddr:eeprom.ConfiguredMarkerAddr])
	assert.Equal(t, byte(eeprom.Erased), img[eeprom.ConfiguredMarkerAddr])
}

func TestInitialize_ReloadsExistingRecord(t *testing.T) {
	mem := newMemory(t)
	first := newManager(t, mem, entropy.NewReaderSource(bytes.NewReader(testKeyBytes(t))))
	require.NoError(t, first.Initialize())

	// A second boot must not consume entropy.
	second := newManager(t, mem, entropy.NewReaderSource(bytes.NewReader(nil)))
	require.NoError(t, second.Initialize())

	assert.Equal(t, first.Address(), second.Address())
	assert.Equal(t, first.Keypair(), second.Keypair())
}

func TestInitialize_SoftwareEntropy(t *testing.T) {
	src, err := entropy.New(&entropy.Config{Mode: entropy.ModeSoftware})
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	mem := newMemory(t)
	m := newManager(t, mem, src)
	require.NoError(t, m.Initialize())
	assert.True(t, address.IsChecksummed(m.Address()))

	reloaded := newManager(t, mem, nil)
	require.NoError(t, reloaded.Initialize())
	assert.Equal(t, m.Address(), reloaded.Address())
}

func TestInitialize_RetriesOutOfRangeScalar(t *testing.T) {
	seed := append(bytes.Repeat([]byte{0xFF}, PrivateKeyLength), make([]byte, PrivateKeyLength)...)
	seed = append(seed, testKeyBytes(t)...)

	m := newManager(t, newMemory(t), entropy.NewReaderSource(bytes.NewReader(seed)))
	require.NoError(t, m.Initialize())
	assert.Equal(t, testAddress, m.Address())
}

func TestInitialize_EntropyFailure(t *testing.T) {
	tests := []struct {
		name string
		src  entropy.Source
	}{
		{"nil source", nil},
		{"short read", entropy.NewReaderSource(bytes.NewReader([]byte{1, 2, 3}))},
		{"never valid", entropy.NewReaderSource(bytes.NewReader(bytes.Repeat([]byte{0xFF}, PrivateKeyLength*maxKeyAttempts)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newMemory(t)
			m := newManager(t, mem, tt.src)

			err := m.Initialize()
			require.ErrorIs(t, err, ErrEntropyFailure)
			assert.False(t, m.IsInitialized())
			assert.Equal(t, byte(eeprom.Erased), mem.Bytes()[eeprom.KeysMarkerAddr])
		})
	}
}

func TestInitialize_StorageFailure(t *testing.T) {
	t.Run("write", func(t *testing.T) {
		store := &flakyStore{Memory: newMemory(t), failAfter: 0}
		m := newManager(t, store, entropy.NewReaderSource(bytes.NewReader(testKeyBytes(t))))

		require.ErrorIs(t, m.Initialize(), ErrStorageFailure)
		assert.False(t, m.IsInitialized())
		assert.Empty(t, m.Address())
	})

	t.Run("read", func(t *testing.T) {
		store := &flakyStore{Memory: newMemory(t), failAfter: -1, failReads: true}
		m := newManager(t, store, entropy.NewReaderSource(bytes.NewReader(testKeyBytes(t))))

		require.ErrorIs(t, m.Initialize(), ErrStorageFailure)
		assert.False(t, m.IsInitialized())
	})

	t.Run("no store", func(t *testing.T) {
		m := newManager(t, nil, nil)
		require.ErrorIs(t, m.Initialize(), ErrStorageFailure)
		require.ErrorIs(t, m.LoadKeys(), ErrStorageFailure)
	})
}

func TestInitialize_InterruptedCommitRetriesSetup(t *testing.T) {
	mem := newMemory(t)
	store := &flakyStore{Memory: mem, failAfter: 1}
	first := newManager(t, store, entropy.NewReaderSource(bytes.NewReader(testKeyBytes(t))))

	require.ErrorIs(t, first.Initialize(), ErrStorageFailure)
	assert.Equal(t, byte(eeprom.Erased), mem.Bytes()[eeprom.KeysMarkerAddr])

	stored, err := first.HasStoredKeys()
	require.NoError(t, err)
	assert.False(t, stored)

	second := newManager(t, mem, entropy.NewReaderSource(bytes.NewReader(testKeyBytes(t))))
	require.NoError(t, second.Initialize())
	assert.Equal(t, testAddress, second.Address())

	reloaded := newManager(t, mem, nil)
	require.NoError(t, reloaded.Initialize())
	assert.Equal(t, testAddress, reloaded.Address())
}

func TestSaveKeys_ReplacesStoredKeys(t *testing.T) {
	mem := newMemory(t)
	first := newManager(t, mem, entropy.NewReaderSource(bytes.NewReader(testKeyBytes(t))))
	require.NoError(t, first.Initialize())

	other := bytes.Repeat([]byte{0x11}, PrivateKeyLength)
	replaced := newManager(t, mem, nil)
	require.NoError(t, replaced.InitializeFromHexPrivateKey(keccak.EncodeHex(other)))
	require.NoError(t, replaced.SaveKeys())
	assert.Equal(t, byte(eeprom.MarkerValue), mem.Bytes()[eeprom.KeysMarkerAddr])

	loaded := newManager(t, mem, nil)
	require.NoError(t, loaded.Initialize())
	assert.Equal(t, replaced.Address(), loaded.Address())
	assert.NotEqual(t, testAddress, loaded.Address())
}

func TestSaveKeys_InterruptedOverwriteLeavesRecordUnmarked(t *testing.T) {
	mem := newMemory(t)
	first := newManager(t, mem, entropy.NewReaderSource(bytes.NewReader(testKeyBytes(t))))
	require.NoError(t, first.Initialize())

	store := &flakyStore{Memory: mem, failAfter: 3}
	replaced := newManager(t, store, nil)
	require.NoError(t, replaced.InitializeFromHexPrivateKey(keccak.EncodeHex(bytes.Repeat([]byte{0x11}, PrivateKeyLength))))
	require.ErrorIs(t, replaced.SaveKeys(), ErrStorageFailure)

	stored, err := newManager(t, mem, nil).HasStoredKeys()
	require.NoError(t, err)
	assert.False(t, stored, "a half-written record must not be loaded")
}

func TestLoadKeys_CorruptRecord(t *testing.T) {
	mem := newMemory(t)
	m := newManager(t, mem, entropy.NewReaderSource(bytes.NewReader(testKeyBytes(t))))
	require.NoError(t, m.Initialize())

	require.NoError(t, mem.SetByte(eeprom.PublicKeyAddr+5, mem.Bytes()[eeprom.PublicKeyAddr+5]^0x01))

	reloaded := newManager(t, mem, nil)
	require.ErrorIs(t, reloaded.Initialize(), ErrStorageFailure)
	assert.False(t, reloaded.IsInitialized())
}

func TestLoadKeys_MarkerWithErasedKey(t *testing.T) {
	mem := newMemory(t)
	require.NoError(t, eeprom.SetMarker(mem, eeprom.KeysMarkerAddr))

	m := newManager(t, mem, nil)
	require.ErrorIs(t, m.Initialize(), ErrStorageFailure)
}

func TestInitializeFromHexPrivateKey(t *testing.T) {
	mem := newMemory(t)
	m := newManager(t, mem, nil)

	require.NoError(t, m.InitializeFromHexPrivateKey("0x"+testPrivateKey))
	assert.Equal(t, testAddress, m.Address())

	// No storage access.
	assert.Equal(t, byte(eeprom.Erased), mem.Bytes()[eeprom.KeysMarkerAddr])

	key, err := crypto.HexToECDSA(testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSAPub(&key.PublicKey)[1:], m.PublicKey())
}

func TestInitializeFromHexPrivateKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		hex  string
	}{
		{"not hex", "zz"},
		{"odd length", "abc"},
		{"short", "0x0102"},
		{"zero scalar", "0x" + string(bytes.Repeat([]byte("00"), 32))},
		{"above curve order", string(bytes.Repeat([]byte("ff"), 32))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, nil, nil)
			require.ErrorIs(t, m.InitializeFromHexPrivateKey(tt.hex), ErrInvalidPrivateKey)
			assert.False(t, m.IsInitialized())
		})
	}
}

func TestSaveKeys_LoadKeysRoundTrip(t *testing.T) {
	mem := newMemory(t)
	imported := newManager(t, mem, nil)
	require.NoError(t, imported.InitializeFromHexPrivateKey(testPrivateKey))

	stored, err := imported.HasStoredKeys()
	require.NoError(t, err)
	assert.False(t, stored, "importing alone must not touch storage")

	require.NoError(t, imported.SaveKeys())

	stored, err = imported.HasStoredKeys()
	require.NoError(t, err)
	assert.True(t, stored)

	loaded := newManager(t, mem, nil)
	require.NoError(t, loaded.LoadKeys())

	assert.Equal(t, imported.Address(), loaded.Address())
	assert.Equal(t, imported.Keypair(), loaded.Keypair())

	// The persisted marker means Initialize now loads instead of generating.
	booted := newManager(t, mem, nil)
	require.NoError(t, booted.Initialize())
	assert.Equal(t, testAddress, booted.Address())
}

func TestSaveKeys_NotInitialized(t *testing.T) {
	m := newManager(t, newMemory(t), nil)
	require.ErrorIs(t, m.SaveKeys(), ErrNotInitialized)
}

func TestSignHash(t *testing.T) {
	m := newManager(t, nil, nil)

	hash := keccak.Sum256([]byte("phygital"))
	_, err := m.SignHash(hash[:])
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, m.InitializeFromHexPrivateKey(testPrivateKey))

	for _, n := range []int{0, 31, 33, 64} {
		_, err := m.SignHash(make([]byte, n))
		require.ErrorIs(t, err, ErrInvalidHashLength)
	}

	sig, err := m.SignHash(hash[:])
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	assert.Contains(t, []byte{0, 1}, sig[64])

	again, err := m.SignHash(hash[:])
	require.NoError(t, err)
	assert.Equal(t, sig, again, "signatures are deterministic")

	recovered, err := crypto.SigToPub(hash[:], sig)
	require.NoError(t, err)
	assert.Equal(t, m.PublicKey(), crypto.FromECDSAPub(recovered)[1:])
	assert.Equal(t, m.Address(), crypto.PubkeyToAddress(*recovered).Hex())
	assert.True(t, crypto.VerifySignature(crypto.FromECDSAPub(recovered), hash[:], sig[:64]))
}

func TestSignHash_ManyHashes(t *testing.T) {
	m := newManager(t, nil, nil)
	require.NoError(t, m.InitializeFromHexPrivateKey(testPrivateKey))
	pub := append([]byte{0x04}, m.PublicKey()...)

	for i := 0; i < 32; i++ {
		hash := keccak.Sum256([]byte{byte(i)})
		sig, err := m.SignHash(hash[:])
		require.NoError(t, err)
		require.Len(t, sig, SignatureLength)
		assert.True(t, crypto.VerifySignature(pub, hash[:], sig[:64]))
	}
}

func TestSignText(t *testing.T) {
	m := newManager(t, nil, nil)
	_, _, err := m.SignText("hello")
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, m.InitializeFromHexPrivateKey(testPrivateKey))

	hash, sig, err := m.SignText("hello")
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256([]byte("hello")), hash[:])

	recovered, err := crypto.SigToPub(hash[:], sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, crypto.PubkeyToAddress(*recovered).Hex())
}

func TestPublicKeyIsCopy(t *testing.T) {
	m := newManager(t, nil, nil)
	require.NoError(t, m.InitializeFromHexPrivateKey(testPrivateKey))

	pub := m.PublicKey()
	pub[0] ^= 0xFF
	assert.NotEqual(t, pub, m.PublicKey())
}
