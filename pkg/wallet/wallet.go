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

// Package wallet is the device's key manager. It owns the single secp256k1
// keypair: generated once from the entropy source, persisted to the EEPROM
// record, reloaded on every later boot, and used for recoverable signatures.
package wallet

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/address"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/entropy"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/keccak"
	"github.com/jeremyhahn/go-phygital/pkg/eeprom"
)

const (
	// PrivateKeyLength is the size of a raw secp256k1 scalar.
	PrivateKeyLength = eeprom.PrivateKeyLength

	// PublicKeyLength is the size of an uncompressed point without its 0x04 prefix.
	PublicKeyLength = eeprom.PublicKeyLength

	// SignatureLength is R || S || V.
	SignatureLength = crypto.SignatureLength

	// maxKeyAttempts bounds retries when the entropy source yields a
	// scalar of zero or one at or above the curve order.
	maxKeyAttempts = 16
)

// Keypair is the device's signing identity.
type Keypair struct {
	PrivateKey [PrivateKeyLength]byte
	PublicKey  [PublicKeyLength]byte
}

// Config wires the manager's collaborators.
type Config struct {
	// Store holds the persistent key record. Required for Initialize,
	// LoadKeys and SaveKeys.
	Store eeprom.Store

	// Entropy supplies private key material on first boot.
	Entropy entropy.Source

	Logger logger.Logger
}

// Manager owns the keypair and the derived address.
type Manager struct {
	mu      sync.RWMutex
	store   eeprom.Store
	entropy entropy.Source
	logger  logger.Logger

	keypair     Keypair
	key         *ecdsa.PrivateKey
	address     string
	initialized bool
}

// NewManager creates an uninitialized manager.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if cfg.Store != nil && cfg.Store.Size() < eeprom.RecordLength {
		return nil, fmt.Errorf("%w: store holds %d bytes, need %d",
			ErrInvalidConfig, cfg.Store.Size(), eeprom.RecordLength)
	}
	return &Manager{
		store:   cfg.Store,
		entropy: cfg.Entropy,
		logger:  logger.OrNoOp(cfg.Logger).With(logger.String("component", "wallet")),
	}, nil
}

// Initialize loads the persisted keypair, or creates and persists one when
// the keys-initialized marker is absent. On failure the manager stays
// uninitialized.
func (m *Manager) Initialize() error {
	if m.store == nil {
		return fmt.Errorf("%w: no store configured", ErrStorageFailure)
	}

	present, err := eeprom.HasMarker(m.store, eeprom.KeysMarkerAddr)
	if err != nil {
		return fmt.Errorf("%w: read keys marker: %v", ErrStorageFailure, err)
	}
	if present {
		m.logger.Debug("keys marker present, loading keypair")
		return m.LoadKeys()
	}

	m.logger.Info("no keypair on record, generating")
	key, err := m.generate()
	if err != nil {
		return err
	}
	kp, addr, err := derive(key)
	if err != nil {
		return err
	}

	// Staged so that a failed commit leaves the manager uninitialized.
	if err := m.persist(kp); err != nil {
		return err
	}
	m.set(key, kp, addr)
	m.logger.Info("keypair created", logger.String("address", addr))
	return nil
}

// InitializeFromHexPrivateKey imports a private key for provisioning and
// test flows. It does not touch persistent storage.
func (m *Manager) InitializeFromHexPrivateKey(hexKey string) error {
	raw, err := keccak.DecodeHex(hexKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if len(raw) != PrivateKeyLength {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPrivateKey, len(raw), PrivateKeyLength)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	kp, addr, err := derive(key)
	if err != nil {
		return err
	}
	m.set(key, kp, addr)
	m.logger.Debug("keypair imported", logger.Hex("public_key", kp.PublicKey[:]), logger.String("address", addr))
	return nil
}

// LoadKeys reads the keypair from its fixed offsets and re-derives the
// address. A record whose public key does not match its private key is
// reported as a storage failure.
func (m *Manager) LoadKeys() error {
	if m.store == nil {
		return fmt.Errorf("%w: no store configured", ErrStorageFailure)
	}

	priv, err := eeprom.ReadRange(m.store, eeprom.PrivateKeyAddr, PrivateKeyLength)
	if err != nil {
		return fmt.Errorf("%w: read private key: %v", ErrStorageFailure, err)
	}
	pub, err := eeprom.ReadRange(m.store, eeprom.PublicKeyAddr, PublicKeyLength)
	if err != nil {
		return fmt.Errorf("%w: read public key: %v", ErrStorageFailure, err)
	}

	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return fmt.Errorf("%w: stored private key: %v", ErrStorageFailure, err)
	}
	kp, _, err := derive(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if !bytes.Equal(kp.PublicKey[:], pub) {
		return fmt.Errorf("%w: stored public key does not match private key", ErrStorageFailure)
	}

	addr, err := address.FromPublicKey(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	m.set(key, kp, addr)
	m.logger.Debug("keypair loaded", logger.Hex("public_key", pub), logger.String("address", addr))
	return nil
}

// HasStoredKeys reports whether the keys-initialized marker is set.
func (m *Manager) HasStoredKeys() (bool, error) {
	if m.store == nil {
		return false, fmt.Errorf("%w: no store configured", ErrStorageFailure)
	}
	present, err := eeprom.HasMarker(m.store, eeprom.KeysMarkerAddr)
	if err != nil {
		return false, fmt.Errorf("%w: read keys marker: %v", ErrStorageFailure, err)
	}
	return present, nil
}

// SaveKeys writes the current keypair and then the marker to the store,
// and recomputes the address.
func (m *Manager) SaveKeys() error {
	m.mu.RLock()
	kp, ok := m.keypair, m.initialized
	m.mu.RUnlock()
	if !ok {
		return ErrNotInitialized
	}
	if m.store == nil {
		return fmt.Errorf("%w: no store configured", ErrStorageFailure)
	}
	if err := m.persist(kp); err != nil {
		return err
	}

	addr, err := address.FromPublicKey(kp.PublicKey[:])
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.address = addr
	m.mu.Unlock()
	return nil
}

// SignHash returns a 65-byte recoverable signature R || S || V over hash,
// with V in {0, 1}. Signatures are deterministic (RFC 6979).
func (m *Manager) SignHash(hash []byte) ([]byte, error) {
	m.mu.RLock()
	key, ok := m.key, m.initialized
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotInitialized
	}
	if len(hash) != keccak.Size {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHashLength, len(hash))
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign: %w", err)
	}
	return sig, nil
}

// SignText hashes text with Keccak-256 and signs the digest. Both are
// returned so callers can verify against the hash.
func (m *Manager) SignText(text string) ([keccak.Size]byte, []byte, error) {
	hash := keccak.Sum256([]byte(text))
	sig, err := m.SignHash(hash[:])
	if err != nil {
		return hash, nil, err
	}
	return hash, sig, nil
}

// Address returns the checksummed address, or "" before initialization.
func (m *Manager) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.address
}

// PublicKey returns a copy of the 64-byte public key, or nil before
// initialization.
func (m *Manager) PublicKey() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil
	}
	out := make([]byte, PublicKeyLength)
	copy(out, m.keypair.PublicKey[:])
	return out
}

// Keypair returns a copy of the keypair.
func (m *Manager) Keypair() Keypair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keypair
}

// IsInitialized reports whether a keypair is loaded.
func (m *Manager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

func (m *Manager) generate() (*ecdsa.PrivateKey, error) {
	if m.entropy == nil {
		return nil, fmt.Errorf("%w: no entropy source configured", ErrEntropyFailure)
	}
	for attempt := 1; attempt <= maxKeyAttempts; attempt++ {
		seed, err := m.entropy.Rand(PrivateKeyLength)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEntropyFailure, err)
		}
		key, err := crypto.ToECDSA(seed)
		if err == nil {
			return key, nil
		}
		m.logger.Warn("discarding out-of-range scalar", logger.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("%w: no valid scalar after %d attempts", ErrEntropyFailure, maxKeyAttempts)
}

// persist commits the key record with the marker written last, so an
// interrupted commit leaves the record unmarked and the next boot starts
// setup again. A marker already present is erased before the keys change.
func (m *Manager) persist(kp Keypair) error {
	present, err := eeprom.HasMarker(m.store, eeprom.KeysMarkerAddr)
	if err != nil {
		return fmt.Errorf("%w: read keys marker: %v", ErrStorageFailure, err)
	}
	if present {
		if err := m.store.SetByte(eeprom.KeysMarkerAddr, eeprom.Erased); err != nil {
			return fmt.Errorf("%w: clear keys marker: %v", ErrStorageFailure, err)
		}
	}
	if err := eeprom.WriteRange(m.store, eeprom.PrivateKeyAddr, kp.PrivateKey[:]); err != nil {
		return fmt.Errorf("%w: write private key: %v", ErrStorageFailure, err)
	}
	if err := eeprom.WriteRange(m.store, eeprom.PublicKeyAddr, kp.PublicKey[:]); err != nil {
		return fmt.Errorf("%w: write public key: %v", ErrStorageFailure, err)
	}
	if err := eeprom.SetMarker(m.store, eeprom.KeysMarkerAddr); err != nil {
		return fmt.Errorf("%w: write keys marker: %v", ErrStorageFailure, err)
	}
	return nil
}

func (m *Manager) set(key *ecdsa.PrivateKey, kp Keypair, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = key
	m.keypair = kp
	m.address = addr
	m.initialized = true
}

func derive(key *ecdsa.PrivateKey) (Keypair, string, error) {
	var kp Keypair
	copy(kp.PrivateKey[:], crypto.FromECDSA(key))

	pub := crypto.FromECDSAPub(&key.PublicKey)
	if len(pub) != PublicKeyLength+1 {
		return kp, "", fmt.Errorf("%w: cannot derive public key", ErrInvalidPrivateKey)
	}
	copy(kp.PublicKey[:], pub[1:])

	addr, err := address.FromPublicKey(kp.PublicKey[:])
	if err != nil {
		return kp, "", err
	}
	return kp, addr, nil
}
