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

// Package keccak wraps the legacy Keccak-256 sponge (the pre-standard
// variant used for account addresses and message hashes) together with the
// hex helpers needed to move digests and keys in and out of text form.
package keccak

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Size is the length of a Keccak-256 digest in bytes.
const Size = 32

var (
	// ErrOddLength is returned when a hex string has an odd number of digits.
	ErrOddLength = errors.New("keccak: odd length hex string")

	// ErrInvalidHex is returned when a hex string contains a non-hex digit.
	ErrInvalidHex = errors.New("keccak: invalid hex character")
)

// Sum256 returns the legacy Keccak-256 digest of data.
func Sum256(data []byte) [Size]byte {
	var out [Size]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(out[:0])
	return out
}

// Sum256Hex returns the lowercase hex form of the Keccak-256 digest of data,
// without a 0x prefix.
func Sum256Hex(data []byte) string {
	sum := Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DecodeHex decodes a hex string. A leading 0x or 0X is accepted and
// stripped. Upper and lower case digits are both accepted.
func DecodeHex(s string) ([]byte, error) {
	s = TrimPrefix(s)
	if len(s)%2 != 0 {
		return nil, ErrOddLength
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}

// EncodeHex returns the 0x-prefixed lowercase hex form of b.
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// TrimPrefix strips a single leading 0x or 0X.
func TrimPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
