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

// Package tag emulates a dynamic NFC tag: a fast transfer mailbox for the
// command protocol plus user memory holding a capability container and an
// NDEF message TLV that phones read without talking to the device.
package tag

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/eeprom"
	"github.com/jeremyhahn/go-phygital/pkg/mailbox"
	"github.com/jeremyhahn/go-phygital/pkg/ndef"
)

const (
	// CCLength is the size of the capability container at the start of
	// user memory.
	CCLength = 4

	// CCMagic marks a Type 5 tag capability container.
	CCMagic = 0xE1

	// CCVersion is mapping version 1.0, read/write access.
	CCVersion = 0x40

	// MinMemorySize is the smallest user memory the emulator accepts.
	MinMemorySize = 64

	// DefaultMemorySize is the emulated user memory size.
	DefaultMemorySize = 512
)

var (
	// ErrNotDetected is returned when the tag's memory is missing or too small.
	ErrNotDetected = errors.New("tag: not detected")

	// ErrNotConfigured is returned when user memory has no capability container.
	ErrNotConfigured = errors.New("tag: capability container missing")

	// ErrNoSpace is returned when an NDEF message does not fit user memory.
	ErrNoSpace = errors.New("tag: NDEF message exceeds user memory")

	// ErrNoMessageBegin is returned when a record is appended before a
	// record flagged MessageBegin has been written.
	ErrNoMessageBegin = errors.New("tag: no message in progress")
)

// RecordWriter is the part of the tag the advertisement builder drives.
type RecordWriter interface {
	WriteRecord(rec ndef.Record) error
	SetDeliveryActive(active bool) error
}

// Config configures a Tag.
type Config struct {
	// Memory is the tag's user memory.
	Memory eeprom.Store

	// Mailbox defaults to a new FastTransfer.
	Mailbox *mailbox.FastTransfer

	Logger logger.Logger
}

// Tag is an emulated dynamic NFC tag.
type Tag struct {
	mu      sync.Mutex
	memory  eeprom.Store
	mailbox *mailbox.FastTransfer
	logger  logger.Logger

	// message is the NDEF message being assembled by WriteRecord.
	message []byte
	started bool

	// extent is how many bytes past the CC the last write touched.
	extent int
}

// New returns a Tag over cfg.Memory.
func New(cfg *Config) (*Tag, error) {
	if cfg == nil || cfg.Memory == nil {
		return nil, fmt.Errorf("%w: no user memory", ErrNotDetected)
	}
	mb := cfg.Mailbox
	if mb == nil {
		mb = mailbox.NewFastTransfer()
	}
	return &Tag{
		memory:  cfg.Memory,
		mailbox: mb,
		logger:  logger.OrNoOp(cfg.Logger).With(logger.String("component", "tag")),
	}, nil
}

// Detect checks that user memory is present and large enough.
func (t *Tag) Detect() error {
	if t.memory.Size() < MinMemorySize {
		return fmt.Errorf("%w: user memory is %d bytes, need %d", ErrNotDetected, t.memory.Size(), MinMemorySize)
	}
	if _, err := t.memory.ByteAt(0); err != nil {
		return fmt.Errorf("%w: %v", ErrNotDetected, err)
	}
	return nil
}

// Configure writes the capability container and an empty NDEF message.
func (t *Tag) Configure() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := t.memory.Size() / 8
	if size > 0xFF {
		size = 0xFF
	}
	cc := []byte{CCMagic, CCVersion, byte(size), 0x00}
	if err := eeprom.WriteRange(t.memory, 0, cc); err != nil {
		return fmt.Errorf("tag: write capability container: %w", err)
	}

	t.message = nil
	t.started = false
	if err := t.flush(nil); err != nil {
		return err
	}
	t.logger.Debug("capability container written", logger.Int("size", t.memory.Size()))
	return nil
}

// Configured reports whether user memory holds a capability container.
func (t *Tag) Configured() (bool, error) {
	b, err := t.memory.ByteAt(0)
	if err != nil {
		return false, err
	}
	return b == CCMagic, nil
}

// WriteRecord appends rec to the NDEF message and rewrites the TLV area.
// A record with MessageBegin set starts a new message.
func (t *Tag) WriteRecord(rec ndef.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.MessageBegin {
		t.message = nil
		t.started = true
	} else if !t.started {
		return ErrNoMessageBegin
	}

	b, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("tag: %w", err)
	}
	msg := append(append([]byte(nil), t.message...), b...)
	if err := t.flush(msg); err != nil {
		return err
	}
	t.message = msg
	if rec.MessageEnd {
		t.started = false
	}
	return nil
}

// flush writes msg as an NDEF TLV after the capability container. Bytes
// left over from a longer previous message are zeroed.
func (t *Tag) flush(msg []byte) error {
	area := ndef.WrapTLV(msg)
	if CCLength+len(area) > t.memory.Size() {
		return fmt.Errorf("%w: %d bytes, %d available", ErrNoSpace, len(area), t.memory.Size()-CCLength)
	}
	n := len(area)
	if t.extent > n {
		area = append(area, make([]byte, t.extent-n)...)
	}
	if err := eeprom.WriteRange(t.memory, CCLength, area); err != nil {
		return fmt.Errorf("tag: write NDEF area: %w", err)
	}
	t.extent = n
	return nil
}

// SetDeliveryActive enables or disables the mailbox.
func (t *Tag) SetDeliveryActive(active bool) error {
	return t.mailbox.SetDeliveryActive(active)
}

// Mailbox returns the tag's fast transfer mailbox.
func (t *Tag) Mailbox() *mailbox.FastTransfer {
	return t.mailbox
}

// ReadNDEF returns the raw NDEF message as a phone would read it.
func (t *Tag) ReadNDEF() ([]byte, error) {
	ok, err := t.Configured()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotConfigured
	}
	area, err := eeprom.ReadRange(t.memory, CCLength, t.memory.Size()-CCLength)
	if err != nil {
		return nil, err
	}
	msg, err := ndef.UnwrapTLV(area)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), msg...), nil
}

// ReadRecords decodes the NDEF message in user memory.
func (t *Tag) ReadRecords() ([]ndef.Record, error) {
	msg, err := t.ReadNDEF()
	if err != nil {
		return nil, err
	}
	return ndef.Unmarshal(msg)
}
