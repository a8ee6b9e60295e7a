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

// Package advertise maintains the discoverable record set on the tag: the
// identifier URI, the wallet's address and the optional linked address.
package advertise

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/address"
	"github.com/jeremyhahn/go-phygital/pkg/ndef"
	"github.com/jeremyhahn/go-phygital/pkg/tag"
)

const (
	// DefaultIdentifier is the resolvable host written as the first record.
	DefaultIdentifier = "phygital.tuszy.com"

	// DefaultPrefix abbreviates "https://www." in the identifier record.
	DefaultPrefix = ndef.URIPrefixHTTPSWWW

	// Language is the language code of the address text records.
	Language = "en"
)

var (
	// ErrInvalidConfig is returned by NewBuilder.
	ErrInvalidConfig = errors.New("advertise: invalid configuration")

	// ErrNoAddress is returned when the wallet has no address yet.
	ErrNoAddress = errors.New("advertise: wallet address unavailable")
)

// AddressProvider supplies the wallet's own address.
type AddressProvider interface {
	Address() string
}

// Advertisement is the identity currently published.
type Advertisement struct {
	Identifier string `json:"identifier"`
	Address    string `json:"address"`
	Linked     string `json:"linked,omitempty"`
}

// Config configures a Builder.
type Config struct {
	Writer tag.RecordWriter
	Wallet AddressProvider

	// Identifier defaults to DefaultIdentifier.
	Identifier string

	// Prefix is a URI identifier code. Zero defaults to DefaultPrefix.
	Prefix byte

	Logger logger.Logger

	// OnRebuild, when set, observes every rebuild outcome.
	OnRebuild func(err error)
}

// Builder rewrites the record set.
type Builder struct {
	mu         sync.Mutex
	writer     tag.RecordWriter
	wallet     AddressProvider
	identifier string
	prefix     byte
	linked     string
	logger     logger.Logger
	onRebuild  func(error)
}

// NewBuilder returns a Builder with no linked address.
func NewBuilder(cfg *Config) (*Builder, error) {
	if cfg == nil || cfg.Writer == nil || cfg.Wallet == nil {
		return nil, fmt.Errorf("%w: writer and wallet are required", ErrInvalidConfig)
	}
	b := &Builder{
		writer:     cfg.Writer,
		wallet:     cfg.Wallet,
		identifier: cfg.Identifier,
		prefix:     cfg.Prefix,
		logger:     logger.OrNoOp(cfg.Logger).With(logger.String("component", "advertise")),
		onRebuild:  cfg.OnRebuild,
	}
	if b.identifier == "" {
		b.identifier = DefaultIdentifier
	}
	if b.prefix == ndef.URIPrefixNone {
		b.prefix = DefaultPrefix
	}
	if _, ok := ndef.URIPrefix(b.prefix); !ok {
		return nil, fmt.Errorf("%w: unknown URI prefix 0x%02x", ErrInvalidConfig, b.prefix)
	}
	return b, nil
}

// Rebuild rewrites the record set with linked as the optional third
// record. Mailbox delivery is disabled for the duration and re-enabled
// even when a write fails.
func (b *Builder) Rebuild(linked string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.rebuild(linked)
	if b.onRebuild != nil {
		b.onRebuild(err)
	}
	return err
}

func (b *Builder) rebuild(linked string) (err error) {
	own := b.wallet.Address()
	if own == "" {
		return ErrNoAddress
	}

	if err := b.writer.SetDeliveryActive(false); err != nil {
		return fmt.Errorf("advertise: disable mailbox: %w", err)
	}
	defer func() {
		if enableErr := b.writer.SetDeliveryActive(true); enableErr != nil && err == nil {
			err = fmt.Errorf("advertise: enable mailbox: %w", enableErr)
		}
	}()

	id := ndef.NewURIRecord(b.identifier, b.prefix)
	id.MessageBegin = true
	if err := b.writer.WriteRecord(id); err != nil {
		return fmt.Errorf("advertise: identifier record: %w", err)
	}

	self := ndef.NewTextRecord(own, Language)
	self.MessageEnd = linked == ""
	if err := b.writer.WriteRecord(self); err != nil {
		return fmt.Errorf("advertise: address record: %w", err)
	}

	if linked != "" {
		rec := ndef.NewTextRecord(linked, Language)
		rec.MessageEnd = true
		if err := b.writer.WriteRecord(rec); err != nil {
			return fmt.Errorf("advertise: linked address record: %w", err)
		}
	}

	b.logger.Debug("advertisement rebuilt",
		logger.String("address", own),
		logger.String("linked", linked))
	return nil
}

// Bind validates linked, makes it the linked address and rebuilds the
// record set. The previous binding is kept when validation fails.
func (b *Builder) Bind(linked string) error {
	if err := address.ValidateLinked(linked); err != nil {
		return err
	}

	b.mu.Lock()
	b.linked = linked
	b.mu.Unlock()

	b.logger.Info("linked address bound", logger.String("linked", linked))
	return b.Rebuild(linked)
}

// Restore adopts the linked address found in records read back from the
// tag, and reports whether records match what Rebuild would write for the
// current identifier and wallet address.
func (b *Builder) Restore(records []ndef.Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.linked = ""
	if len(records) == 3 {
		if text, err := records[2].Text(); err == nil && address.ValidateLinked(text) == nil {
			b.linked = text
		}
	}

	if len(records) < 2 || len(records) > 3 {
		return false
	}
	prefix, _ := ndef.URIPrefix(b.prefix)
	if uri, err := records[0].URI(); err != nil || uri != prefix+b.identifier {
		return false
	}
	if own, err := records[1].Text(); err != nil || own != b.wallet.Address() {
		return false
	}
	return len(records) == 2 || b.linked != ""
}

// Linked returns the bound linked address, or "".
func (b *Builder) Linked() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.linked
}

// Snapshot returns the identity the builder publishes.
func (b *Builder) Snapshot() Advertisement {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix, _ := ndef.URIPrefix(b.prefix)
	return Advertisement{
		Identifier: prefix + b.identifier,
		Address:    b.wallet.Address(),
		Linked:     b.linked,
	}
}
