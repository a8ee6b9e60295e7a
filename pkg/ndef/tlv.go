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

package ndef

import (
	"errors"
	"fmt"
)

// TLV tags used in tag user memory.
const (
	TLVNull        byte = 0x00
	TLVNDEF        byte = 0x03
	TLVProprietary byte = 0xFD
	TLVTerminator  byte = 0xFE
)

// ErrNoMessage is returned by UnwrapTLV when the area holds no NDEF TLV.
var ErrNoMessage = errors.New("ndef: no NDEF message TLV")

// WrapTLV frames msg as an NDEF message TLV followed by a terminator TLV.
// Lengths of 0xFF and above use the three-byte form.
func WrapTLV(msg []byte) []byte {
	out := make([]byte, 0, len(msg)+5)
	out = append(out, TLVNDEF)
	out = appendTLVLength(out, len(msg))
	out = append(out, msg...)
	return append(out, TLVTerminator)
}

// TLVHeaderLength returns the size of the tag and length fields that
// precede an NDEF message of n bytes.
func TLVHeaderLength(n int) int {
	if n >= 0xFF {
		return 4
	}
	return 2
}

func appendTLVLength(out []byte, n int) []byte {
	if n >= 0xFF {
		return append(out, 0xFF, byte(n>>8), byte(n))
	}
	return append(out, byte(n))
}

// UnwrapTLV scans a user memory area and returns the value of the first
// NDEF message TLV. NULL and unrelated TLVs are skipped.
func UnwrapTLV(area []byte) ([]byte, error) {
	for i := 0; i < len(area); {
		tag := area[i]
		i++
		switch tag {
		case TLVNull:
			continue
		case TLVTerminator:
			return nil, ErrNoMessage
		}

		if i >= len(area) {
			return nil, fmt.Errorf("%w: TLV length", ErrTruncated)
		}
		n := int(area[i])
		i++
		if n == 0xFF {
			if i+2 > len(area) {
				return nil, fmt.Errorf("%w: TLV length", ErrTruncated)
			}
			n = int(area[i])<<8 | int(area[i+1])
			i += 2
		}
		if i+n > len(area) {
			return nil, fmt.Errorf("%w: TLV value", ErrTruncated)
		}
		if tag == TLVNDEF {
			return area[i : i+n], nil
		}
		i += n
	}
	return nil, ErrNoMessage
}
