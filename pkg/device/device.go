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

// Package device assembles the signing device from its parts and runs it:
// the boot sequence that loads or creates the key and publishes the
// advertisement, then a cooperative loop answering one mailbox message at
// a time.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeremyhahn/go-phygital/pkg/adapters/audit"
	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/advertise"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/entropy"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/keccak"
	"github.com/jeremyhahn/go-phygital/pkg/eeprom"
	"github.com/jeremyhahn/go-phygital/pkg/health"
	"github.com/jeremyhahn/go-phygital/pkg/metrics"
	"github.com/jeremyhahn/go-phygital/pkg/protocol"
	"github.com/jeremyhahn/go-phygital/pkg/tag"
	"github.com/jeremyhahn/go-phygital/pkg/wallet"
)

// DefaultPollInterval is how often Run checks the mailbox when no
// notification arrives.
const DefaultPollInterval = 50 * time.Millisecond

var (
	// ErrInvalidConfig is returned by New.
	ErrInvalidConfig = errors.New("device: invalid configuration")

	// ErrNotBooted is returned by Run before a successful Boot.
	ErrNotBooted = errors.New("device: not booted")

	// ErrAlreadyBooted is returned by a second Boot.
	ErrAlreadyBooted = errors.New("device: already booted")
)

// Config wires a Device.
type Config struct {
	// EEPROM holds the key record and configuration marker.
	EEPROM eeprom.Store

	// TagMemory is the NFC tag's user memory.
	TagMemory eeprom.Store

	Entropy entropy.Source

	// Identifier and URIPrefix form the first advertised record.
	Identifier string
	URIPrefix  byte

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// MaxCommandsPerSecond caps how fast messages are answered. Zero
	// means unlimited.
	MaxCommandsPerSecond int

	// Health, when set, receives the device's readiness checks.
	Health *health.Checker

	// Audit, when set, records key creation, boots and answered messages.
	Audit audit.AuditAdapter

	Logger logger.Logger
}

// Device is the explicit context holding every component. There is one
// per process; nothing is global.
type Device struct {
	eeprom     eeprom.Store
	tag        *tag.Tag
	wallet     *wallet.Manager
	advertiser *advertise.Builder
	dispatcher *protocol.Dispatcher
	health     *health.Checker
	audit      audit.AuditAdapter
	limiter    *rate.Limiter
	interval   time.Duration
	logger     logger.Logger
}

// New wires a Device. Nothing touches storage until Boot.
func New(cfg *Config) (*Device, error) {
	if cfg == nil || cfg.EEPROM == nil || cfg.TagMemory == nil {
		return nil, fmt.Errorf("%w: EEPROM and tag memory are required", ErrInvalidConfig)
	}
	if cfg.MaxCommandsPerSecond < 0 {
		return nil, fmt.Errorf("%w: negative command rate", ErrInvalidConfig)
	}
	log := logger.OrNoOp(cfg.Logger)

	t, err := tag.New(&tag.Config{Memory: cfg.TagMemory, Logger: log})
	if err != nil {
		return nil, err
	}

	w, err := wallet.NewManager(&wallet.Config{Store: cfg.EEPROM, Entropy: cfg.Entropy, Logger: log})
	if err != nil {
		return nil, err
	}

	b, err := advertise.NewBuilder(&advertise.Config{
		Writer:     t,
		Wallet:     w,
		Identifier: cfg.Identifier,
		Prefix:     cfg.URIPrefix,
		Logger:     log,
		OnRebuild:  metrics.RecordRebuild,
	})
	if err != nil {
		return nil, err
	}

	d, err := protocol.NewDispatcher(&protocol.Config{
		Mailbox: t.Mailbox(),
		Signer:  w,
		Binder:  b,
		Logger:  log,
		Audit:   cfg.Audit,
	})
	if err != nil {
		return nil, err
	}

	dev := &Device{
		eeprom:     cfg.EEPROM,
		tag:        t,
		wallet:     w,
		advertiser: b,
		dispatcher: d,
		health:     cfg.Health,
		audit:      cfg.Audit,
		interval:   cfg.PollInterval,
		logger:     log.With(logger.String("component", "device")),
	}
	if dev.interval <= 0 {
		dev.interval = DefaultPollInterval
	}
	if cfg.MaxCommandsPerSecond > 0 {
		dev.limiter = rate.NewLimiter(rate.Limit(cfg.MaxCommandsPerSecond), cfg.MaxCommandsPerSecond)
	}
	if dev.health != nil {
		dev.registerChecks(dev.health)
	}
	return dev, nil
}

// Boot runs the startup sequence. Any error is fatal: the dispatcher never
// reaches Ready and no command will be served.
func (d *Device) Boot(ctx context.Context) (err error) {
	if d.dispatcher.State() == protocol.StateReady {
		return ErrAlreadyBooted
	}
	defer func() { metrics.RecordBoot(err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.tag.Detect(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	stored, err := d.wallet.HasStoredKeys()
	if err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if err := d.wallet.Initialize(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if !stored {
		d.record(ctx, audit.EventKeyGenerate)
	}
	d.logger.Info("wallet ready",
		logger.String("address", d.wallet.Address()),
		logger.Hex("public_key", d.wallet.PublicKey()))

	if err := d.configure(); err != nil {
		return err
	}

	if err := d.tag.SetDeliveryActive(true); err != nil {
		return fmt.Errorf("device: enable mailbox: %w", err)
	}
	if err := d.dispatcher.SetState(protocol.StateReady); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if d.health != nil {
		d.health.MarkStarted()
	}
	d.record(ctx, audit.EventSystemStart)
	d.logger.Info("device ready")
	return nil
}

// configure performs the one-time tag setup when the configured marker is
// absent, or when the tag has lost its capability container.
func (d *Device) configure() error {
	configured, err := eeprom.HasMarker(d.eeprom, eeprom.ConfiguredMarkerAddr)
	if err != nil {
		return fmt.Errorf("device: %w: read configured marker: %v", wallet.ErrStorageFailure, err)
	}
	hasCC, err := d.tag.Configured()
	if err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if configured && hasCC {
		return d.reconcile()
	}
	if configured {
		d.logger.Warn("tag memory lost its capability container, reconfiguring")
	}

	if err := d.dispatcher.SetState(protocol.StateConfiguring); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	d.logger.Info("configuring tag")

	if err := d.tag.Configure(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if err := d.advertiser.Rebuild(""); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if err := eeprom.SetMarker(d.eeprom, eeprom.ConfiguredMarkerAddr); err != nil {
		return fmt.Errorf("device: %w: write configured marker: %v", wallet.ErrStorageFailure, err)
	}
	return nil
}

// reconcile restores the linked address from the tag and rewrites the
// record set when it no longer matches the wallet, e.g. after the key was
// re-provisioned.
func (d *Device) reconcile() error {
	records, err := d.tag.ReadRecords()
	if err != nil {
		d.logger.Warn("stored advertisement unreadable, rewriting", logger.Error(err))
	}
	if err == nil && d.advertiser.Restore(records) {
		return nil
	}

	linked := d.advertiser.Linked()
	d.logger.Info("advertisement out of date, rewriting",
		logger.String("address", d.wallet.Address()),
		logger.String("linked", linked))
	if err := d.advertiser.Rebuild(linked); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	return nil
}

// Poll runs one dispatch cycle and reports whether a reply was written.
func (d *Device) Poll(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if d.limiter != nil && d.tag.Mailbox().HasPendingMessage() && !d.limiter.Allow() {
		return false, nil
	}
	return d.dispatcher.HandleMessage(ctx)
}

// Run serves messages until ctx is cancelled, waking on mailbox
// notifications or every poll interval. Per-message errors are logged and
// never stop the loop.
func (d *Device) Run(ctx context.Context) error {
	if d.dispatcher.State() != protocol.StateReady {
		return ErrNotBooted
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	notify := d.tag.Mailbox().Notify()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("device stopping")
			if d.health != nil {
				d.health.MarkNotStarted()
			}
			return nil
		case <-notify:
		case <-ticker.C:
		}

		msgCtx, id := newExchangeContext(ctx)
		if _, err := d.Poll(msgCtx); err != nil && ctx.Err() == nil {
			d.logger.Warn("message handling failed",
				logger.String("correlation_id", id),
				logger.Error(err))
		}
	}
}

// Identity describes what the device currently publishes.
type Identity struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	Identifier string `json:"identifier"`
	Linked     string `json:"linked,omitempty"`
	State      string `json:"state"`
}

// Identity returns the published identity.
func (d *Device) Identity() Identity {
	snap := d.advertiser.Snapshot()
	id := Identity{
		Address:    snap.Address,
		Identifier: snap.Identifier,
		Linked:     snap.Linked,
		State:      d.dispatcher.State().String(),
	}
	if pub := d.wallet.PublicKey(); pub != nil {
		id.PublicKey = keccak.EncodeHex(pub)
	}
	return id
}

// Wallet returns the key manager.
func (d *Device) Wallet() *wallet.Manager { return d.wallet }

// Tag returns the emulated NFC tag.
func (d *Device) Tag() *tag.Tag { return d.tag }

// Dispatcher returns the protocol dispatcher.
func (d *Device) Dispatcher() *protocol.Dispatcher { return d.dispatcher }

// Advertiser returns the advertisement builder.
func (d *Device) Advertiser() *advertise.Builder { return d.advertiser }
