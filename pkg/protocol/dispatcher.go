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

import (
	"context"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-phygital/pkg/adapters/audit"
	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/address"
	"github.com/jeremyhahn/go-phygital/pkg/correlation"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/keccak"
	"github.com/jeremyhahn/go-phygital/pkg/mailbox"
	"github.com/jeremyhahn/go-phygital/pkg/metrics"
)

// Signer signs 32-byte hashes.
type Signer interface {
	SignHash(hash []byte) ([]byte, error)
}

// Binder binds a linked address and republishes the advertisement.
type Binder interface {
	Bind(linked string) error
}

// Config wires a Dispatcher.
type Config struct {
	Mailbox mailbox.Mailbox
	Signer  Signer
	Binder  Binder
	Logger  logger.Logger

	// Audit, when set, receives one event per answered message.
	Audit audit.AuditAdapter
}

// Dispatcher validates inbound messages and writes one reply per message.
type Dispatcher struct {
	mailbox mailbox.Mailbox
	signer  Signer
	binder  Binder
	logger  logger.Logger
	audit   audit.AuditAdapter
	state   stateMachine
}

// NewDispatcher returns a Dispatcher in StateUninitialized.
func NewDispatcher(cfg *Config) (*Dispatcher, error) {
	if cfg == nil || cfg.Mailbox == nil || cfg.Signer == nil || cfg.Binder == nil {
		return nil, fmt.Errorf("%w: mailbox, signer and binder are required", ErrInvalidConfig)
	}
	d := &Dispatcher{
		mailbox: cfg.Mailbox,
		signer:  cfg.Signer,
		binder:  cfg.Binder,
		logger:  logger.OrNoOp(cfg.Logger).With(logger.String("component", "protocol")),
		audit:   cfg.Audit,
	}
	metrics.SetDeviceState(int(StateUninitialized))
	return d, nil
}

// State returns the current state.
func (d *Dispatcher) State() State {
	return d.state.load()
}

// SetState moves the dispatcher forward. There is no way back to
// StateUninitialized.
func (d *Dispatcher) SetState(s State) error {
	from := d.state.load()
	if err := d.state.advance(s); err != nil {
		return err
	}
	metrics.SetDeviceState(int(s))
	if from != s {
		d.logger.Info("state changed", logger.String("from", from.String()), logger.String("to", s.String()))
	}
	return nil
}

// HandleMessage runs one dispatch cycle. It reports whether a reply was
// written. Nothing happens unless the dispatcher is Ready and a message
// is pending.
func (d *Dispatcher) HandleMessage(ctx context.Context) (bool, error) {
	if d.State() != StateReady {
		return false, nil
	}
	if !d.mailbox.HasPendingMessage() {
		return false, nil
	}

	log := logger.FromContext(ctx, d.logger)

	msg, err := d.mailbox.ReadMessage()
	if err != nil {
		return false, fmt.Errorf("protocol: read message: %w", err)
	}

	reply, ok := d.Process(msg)
	if !ok {
		log.Debug("ignoring empty message")
		return false, nil
	}
	if len(reply) > mailbox.MaxMessageLength {
		return false, fmt.Errorf("%w: %d bytes", ErrReplyTooLarge, len(reply))
	}

	if err := d.mailbox.WriteMessage(reply); err != nil {
		log.Warn("reply not delivered", logger.Byte("reply", reply[0]), logger.Error(err))
		return false, fmt.Errorf("protocol: write reply: %w", err)
	}
	log.Debug("reply written",
		logger.Byte("command", msg[0]),
		logger.Byte("reply", reply[0]),
		logger.Int("length", len(reply)))
	d.record(ctx, log, msg, reply)
	return true, nil
}

// record writes the audit event for an answered message.
func (d *Dispatcher) record(ctx context.Context, log logger.Logger, msg, reply []byte) {
	if d.audit == nil {
		return
	}

	event := &audit.AuditEvent{
		Outcome:   audit.OutcomeSuccess,
		RequestID: correlation.GetCorrelationID(ctx),
		Metadata:  map[string]interface{}{"command": Command(msg[0]).String()},
	}
	switch {
	case len(reply) == 1 && reply[0] >= byte(StatusInvalidMessageFormat):
		event.EventType = audit.EventReject
		event.Outcome = audit.OutcomeFailure
		event.Result = Status(reply[0]).String()
	case Command(msg[0]) == CommandSign:
		event.EventType = audit.EventSign
		event.Metadata["hash"] = keccak.EncodeHex(msg[1:])
	default:
		event.EventType = audit.EventBind
		event.Metadata["linked"] = string(msg[1:])
	}

	if err := d.audit.LogEvent(ctx, event); err != nil {
		log.Warn("audit event dropped", logger.Error(err))
	}
}

// Process computes the reply to msg without touching the mailbox. ok is
// false only for an empty message, which gets no reply.
func (d *Dispatcher) Process(msg []byte) ([]byte, bool) {
	if len(msg) == 0 {
		return nil, false
	}

	reply, err := d.dispatch(msg)
	command := Command(msg[0]).String()
	if err != nil {
		status := StatusFor(err)
		d.logger.Debug("message rejected",
			logger.String("command", command),
			logger.String("status", status.String()),
			logger.Error(err))
		metrics.RecordMessage(command, status.String())
		return []byte{byte(status)}, true
	}
	metrics.RecordMessage(command, "ok")
	return reply, true
}

func (d *Dispatcher) dispatch(msg []byte) ([]byte, error) {
	if len(msg) == 1 {
		return nil, fmt.Errorf("%w: no payload", ErrInvalidMessageLength)
	}

	cmd, payload := Command(msg[0]), msg[1:]
	switch cmd {
	case CommandSign:
		return d.sign(payload)
	case CommandContractAddress:
		return d.bind(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, cmd)
	}
}

func (d *Dispatcher) sign(payload []byte) ([]byte, error) {
	if len(payload) != SignPayloadLength {
		return nil, fmt.Errorf("%w: sign payload is %d bytes", ErrInvalidMessageLength, len(payload))
	}

	start := time.Now()
	sig, err := d.signer.SignHash(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownError, err)
	}
	metrics.ObserveSign(time.Since(start).Seconds())

	reply := make([]byte, 0, 1+len(sig))
	reply = append(reply, byte(CommandSign))
	return append(reply, sig...), nil
}

func (d *Dispatcher) bind(payload []byte) ([]byte, error) {
	if len(payload) != ContractAddressPayloadLength {
		return nil, fmt.Errorf("%w: address payload is %d bytes", ErrInvalidMessageLength, len(payload))
	}

	linked := string(payload)
	if err := address.ValidateLinked(linked); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessageFormat, err)
	}
	if err := d.binder.Bind(linked); err != nil {
		return nil, fmt.Errorf("%w: bind: %v", ErrUnknownError, err)
	}
	return []byte{byte(CommandContractAddress)}, nil
}
