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

// Package protocol implements the one-byte command protocol answered over
// the fast transfer mailbox.
//
// Every inbound message is a command byte followed by its payload. Every
// non-empty message gets exactly one reply: the command echoed with its
// result, or a single status byte.
package protocol

import "fmt"

// Command is the first byte of an inbound message.
type Command byte

const (
	// CommandSign carries a 32-byte hash. Reply: 0x00 followed by a
	// 65-byte recoverable signature.
	CommandSign Command = 0x00

	// CommandContractAddress carries a 42-character address to bind.
	// Reply: 0x01.
	CommandContractAddress Command = 0x01
)

// Payload sizes.
const (
	SignPayloadLength            = 32
	ContractAddressPayloadLength = 42
	SignReplyLength              = 1 + 65
)

func (c Command) String() string {
	switch c {
	case CommandSign:
		return "sign"
	case CommandContractAddress:
		return "contract_address"
	default:
		return fmt.Sprintf("0x%02x", byte(c))
	}
}

// Status is a single-byte error reply.
type Status byte

const (
	StatusInvalidMessageFormat Status = 0xFC
	StatusInvalidMessageLength Status = 0xFD
	StatusUnknownError         Status = 0xFE
	StatusUnknownMessage       Status = 0xFF
)

func (s Status) String() string {
	switch s {
	case StatusInvalidMessageFormat:
		return "invalid_message_format"
	case StatusInvalidMessageLength:
		return "invalid_message_length"
	case StatusUnknownError:
		return "unknown_error"
	case StatusUnknownMessage:
		return "unknown_message"
	default:
		return fmt.Sprintf("0x%02x", byte(s))
	}
}
