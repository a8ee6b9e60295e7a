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

package protocol

import "errors"

var (
	ErrNotInitialized       = errors.New("protocol: not initialized")
	ErrInvalidMessageLength = errors.New("protocol: invalid message length")
	ErrInvalidMessageFormat = errors.New("protocol: invalid message format")
	ErrUnknownMessage       = errors.New("protocol: unknown message")
	ErrUnknownError         = errors.New("protocol: unknown error")

	// ErrReplyTooLarge is returned when a reply would overflow the mailbox.
	ErrReplyTooLarge = errors.New("protocol: reply exceeds mailbox capacity")

	// ErrInvalidTransition is returned by SetState for a backward move.
	ErrInvalidTransition = errors.New("protocol: invalid state transition")

	// ErrInvalidConfig is returned by NewDispatcher.
	ErrInvalidConfig = errors.New("protocol: invalid configuration")
)

// StatusFor maps a per-message error to its status byte. Errors outside
// the protocol taxonomy map to StatusUnknownError.
func StatusFor(err error) Status {
	switch {
	case errors.Is(err, ErrInvalidMessageLength):
		return StatusInvalidMessageLength
	case errors.Is(err, ErrInvalidMessageFormat):
		return StatusInvalidMessageFormat
	case errors.Is(err, ErrUnknownMessage):
		return StatusUnknownMessage
	default:
		return StatusUnknownError
	}
}
