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

// Package mailbox is the bounded half-duplex byte channel between an RF
// reader and the device task, modelled on the ST25DV fast transfer mode
// mailbox.
package mailbox

import (
	"errors"
	"fmt"
	"sync"
)

// MaxMessageLength is the mailbox capacity in bytes.
const MaxMessageLength = 256

var (
	// ErrMessageTooLong is returned for messages larger than MaxMessageLength.
	ErrMessageTooLong = errors.New("mailbox: message exceeds capacity")

	// ErrInactive is returned while delivery is disabled.
	ErrInactive = errors.New("mailbox: delivery disabled")

	// ErrBusy is returned when the mailbox still holds an unread message.
	ErrBusy = errors.New("mailbox: busy")

	// ErrEmpty is returned by ReadMessage when nothing is pending.
	ErrEmpty = errors.New("mailbox: no pending message")
)

// Mailbox is the device side of the channel.
type Mailbox interface {
	// HasPendingMessage reports whether the RF side has written a message
	// the device has not yet read.
	HasPendingMessage() bool

	// ReadMessage consumes the pending message.
	ReadMessage() ([]byte, error)

	// WriteMessage places a reply for the RF side.
	WriteMessage(msg []byte) error

	// SetDeliveryActive enables or disables the mailbox.
	SetDeliveryActive(active bool) error
}

type direction int

const (
	empty direction = iota
	toDevice
	toReader
)

// FastTransfer emulates a single-buffer mailbox. The buffer holds either a
// message from the reader or a reply from the device, never both.
type FastTransfer struct {
	mu     sync.Mutex
	active bool
	buf    []byte
	dir    direction
	notify chan struct{}
}

// NewFastTransfer returns an inactive, empty mailbox.
func NewFastTransfer() *FastTransfer {
	return &FastTransfer{notify: make(chan struct{}, 1)}
}

// Deliver places msg from the RF side.
func (f *FastTransfer) Deliver(msg []byte) error {
	if len(msg) > MaxMessageLength {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLong, len(msg))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.active {
		return ErrInactive
	}
	if f.dir != empty {
		return ErrBusy
	}
	f.buf = append([]byte(nil), msg...)
	f.dir = toDevice

	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

// TakeReply consumes the device's reply, if one is waiting.
func (f *FastTransfer) TakeReply() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dir != toReader {
		return nil, false
	}
	reply := f.buf
	f.buf = nil
	f.dir = empty
	return reply, true
}

// Notify signals each message arrival. Signals coalesce.
func (f *FastTransfer) Notify() <-chan struct{} {
	return f.notify
}

// HasPendingMessage implements Mailbox.
func (f *FastTransfer) HasPendingMessage() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active && f.dir == toDevice
}

// ReadMessage implements Mailbox.
func (f *FastTransfer) ReadMessage() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.active {
		return nil, ErrInactive
	}
	if f.dir != toDevice {
		return nil, ErrEmpty
	}
	msg := f.buf
	f.buf = nil
	f.dir = empty
	return msg, nil
}

// WriteMessage implements Mailbox.
func (f *FastTransfer) WriteMessage(msg []byte) error {
	if len(msg) > MaxMessageLength {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLong, len(msg))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.active {
		return ErrInactive
	}
	if f.dir != empty {
		return ErrBusy
	}
	f.buf = append([]byte(nil), msg...)
	f.dir = toReader
	return nil
}

// SetDeliveryActive implements Mailbox. Disabling clears the buffer.
func (f *FastTransfer) SetDeliveryActive(active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.active = active
	if !active {
		f.buf = nil
		f.dir = empty
	}
	return nil
}

// Active reports whether delivery is enabled.
func (f *FastTransfer) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}
