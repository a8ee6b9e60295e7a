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

// Package address derives the device's checksummed account address from its
// public key and validates externally supplied (linked) addresses.
//
// An address is the low 20 bytes of the Keccak-256 digest of the 64-byte
// uncompressed public key, rendered as "0x" followed by 40 hex digits. The
// letters are cased by a checksum: the lowercase hex string is hashed again
// and every letter whose matching digest nibble is greater than 7 is
// uppercased.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-phygital/pkg/crypto/keccak"
)

const (
	// PublicKeyLength is the length of an uncompressed secp256k1 point
	// without the leading 0x04 tag.
	PublicKeyLength = 64

	// Length is the length of the raw address in bytes.
	Length = 20

	// StringLength is the length of the textual address including "0x".
	StringLength = 2 + 2*Length
)

var (
	// ErrInvalidPublicKey is returned when the public key is not 64 bytes.
	ErrInvalidPublicKey = errors.New("address: invalid public key length")

	// ErrInvalidLength is returned when an address string is not 42 bytes.
	ErrInvalidLength = errors.New("address: invalid length")

	// ErrInvalidFormat is returned when an address string does not start
	// with 0x/0X or its body is not alphanumeric.
	ErrInvalidFormat = errors.New("address: invalid format")
)

// FromPublicKey returns the checksummed address for a 64-byte public key.
func FromPublicKey(pub []byte) (string, error) {
	if len(pub) != PublicKeyLength {
		return "", fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(pub))
	}
	digest := keccak.Sum256(pub)
	return Checksum(hex.EncodeToString(digest[32-Length:])), nil
}

// Checksum applies the checksum casing to a 40 digit hex body (lowercase or
// mixed, no prefix) and returns the 0x-prefixed result.
func Checksum(body string) string {
	lower := []byte(strings.ToLower(body))
	ref := keccak.Sum256Hex(lower)

	out := make([]byte, 0, 2+len(lower))
	out = append(out, '0', 'x')
	for i, c := range lower {
		if c >= 'a' && c <= 'f' && nibble(ref[i]) > 7 {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// IsChecksummed reports whether s is a 0x-prefixed address whose casing
// matches the checksum of its body.
func IsChecksummed(s string) bool {
	if len(s) != StringLength || s[0] != '0' || s[1] != 'x' {
		return false
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return false
	}
	return Checksum(s[2:]) == s
}

// ValidateLinked checks the shape of an externally supplied address: exactly
// 42 bytes, a "0x" or "0X" prefix and an alphanumeric body. The body is not
// checksum-validated.
func ValidateLinked(s string) error {
	if len(s) != StringLength {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(s), StringLength)
	}
	if s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return fmt.Errorf("%w: missing 0x prefix", ErrInvalidFormat)
	}
	for i := 2; i < len(s); i++ {
		if !isAlphanumeric(s[i]) {
			return fmt.Errorf("%w: unexpected character %q at offset %d", ErrInvalidFormat, s[i], i)
		}
	}
	return nil
}

func isAlphanumeric(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func nibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
