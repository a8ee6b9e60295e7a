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

package entropy

import (
	"crypto/rand"
	"os"
)

// newAutoSource picks the best available source.
// Preference order: PKCS#11 > TPM2 > hardware RNG device > software.
func newAutoSource(cfg *Config) Source {
	if pkcs11Available() && cfg.PKCS11 != nil {
		if s, err := newPKCS11Source(cfg.PKCS11); err == nil {
			if s.Available() {
				return s
			}
			_ = s.Close()
		}
	}

	if tpm2Available() {
		if s, err := newTPM2Source(cfg.TPM2); err == nil {
			if s.Available() {
				return s
			}
			_ = s.Close()
		}
	}

	path := cfg.DevicePath
	if path == "" {
		path = DefaultDevicePath
	}
	if _, err := os.Stat(path); err == nil {
		if s, err := openDevice(path); err == nil {
			return s
		}
	}

	return NewReaderSource(rand.Reader)
}
