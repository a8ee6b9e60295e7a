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

package keccak

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum256_KnownVectors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
		{"abc", "abc", "4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sum256Hex([]byte(tt.input)))
		})
	}
}

func TestSum256_MatchesGoEthereum(t *testing.T) {
	inputs := [][]byte{
		[]byte("hello"),
		make([]byte, 64),
		[]byte("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"),
	}
	for _, in := range inputs {
		sum := Sum256(in)
		assert.Equal(t, crypto.Keccak256(in), sum[:])
	}
}

func TestDecodeHex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr error
	}{
		{"plain", "00ff10", []byte{0x00, 0xff, 0x10}, nil},
		{"lower prefix", "0xABcd", []byte{0xab, 0xcd}, nil},
		{"upper prefix", "0X01", []byte{0x01}, nil},
		{"empty", "", []byte{}, nil},
		{"odd", "abc", nil, ErrOddLength},
		{"not hex", "zz", nil, ErrInvalidHex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHex(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeHex(t *testing.T) {
	assert.Equal(t, "0x00ab", EncodeHex([]byte{0x00, 0xab}))
	assert.Equal(t, "0x", EncodeHex(nil))
}
