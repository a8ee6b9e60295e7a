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

// Layout of the MCU EEPROM record.
const (
	// MarkerValue flags an initialized region. Any other value, including
	// Erased, means the region still needs its one-time setup.
	MarkerValue = 0xAA

	// KeysMarkerAddr holds the keys-initialized marker.
	KeysMarkerAddr = 0

	// PrivateKeyAddr is the start of the 32-byte private key.
	PrivateKeyAddr = 1

	// PrivateKeyLength is the private key size.
	PrivateKeyLength = 32

	// PublicKeyAddr is the start of the 64-byte public key.
	PublicKeyAddr = PrivateKeyAddr + PrivateKeyLength

	// PublicKeyLength is the public key size.
	PublicKeyLength = 64

	// ConfiguredMarkerAddr holds the device-configured marker.
	ConfiguredMarkerAddr = PublicKeyAddr + PublicKeyLength

	// RecordLength is the minimum image size able to hold the record.
	RecordLength = ConfiguredMarkerAddr + 1

	// DefaultSize is the emulated EEPROM size.
	DefaultSize = 1024
)

// HasMarker reports whether the byte at addr equals MarkerValue.
func HasMarker(s Store, addr int) (bool, error) {
	b, err := s.ByteAt(addr)
	if err != nil {
		return false, err
	}
	return b == MarkerValue, nil
}

// SetMarker writes MarkerValue at addr.
func SetMarker(s Store, addr int) error {
	return s.SetByte(addr, MarkerValue)
}
