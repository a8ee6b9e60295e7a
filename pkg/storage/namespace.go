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

package storage

import "path"

const (
	// ImagePrefix groups all persisted byte images.
	ImagePrefix = "images/"

	// EEPROMKey holds the microcontroller EEPROM image (key record and
	// configuration markers).
	EEPROMKey = ImagePrefix + "eeprom.bin"

	// TagMemoryKey holds the NFC tag user memory (capability container and
	// NDEF area).
	TagMemoryKey = ImagePrefix + "tag.bin"
)

// ImageKey returns the storage key for a named image.
func ImageKey(name string) string {
	return ImagePrefix + path.Base(name) + ".bin"
}
