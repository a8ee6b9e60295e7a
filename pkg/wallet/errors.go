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

import "errors"

var (
	// ErrNotInitialized is returned when signing before a key is loaded.
	ErrNotInitialized = errors.New("wallet: not initialized")

	// ErrStorageFailure is returned when the key record cannot be read,
	// written, or is corrupt.
	ErrStorageFailure = errors.New("wallet: storage failure")

	// ErrEntropyFailure is returned when the entropy source cannot produce
	// a usable private key.
	ErrEntropyFailure = errors.New("wallet: entropy failure")

	// ErrInvalidPrivateKey is returned for malformed hex or an out-of-range scalar.
	ErrInvalidPrivateKey = errors.New("wallet: invalid private key")

	// ErrInvalidHashLength is returned when SignHash is given anything but 32 bytes.
	ErrInvalidHashLength = errors.New("wallet: hash must be 32 bytes")

	// ErrInvalidConfig is returned by NewManager.
	ErrInvalidConfig = errors.New("wallet: invalid configuration")
)
