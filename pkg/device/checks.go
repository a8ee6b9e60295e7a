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

package device

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-phygital/pkg/adapters/audit"
	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/correlation"
	"github.com/jeremyhahn/go-phygital/pkg/health"
	"github.com/jeremyhahn/go-phygital/pkg/protocol"
	"github.com/jeremyhahn/go-phygital/pkg/wallet"
)

func (d *Device) registerChecks(c *health.Checker) {
	c.RegisterCheck("wallet", health.FromError("wallet", func(context.Context) error {
		if !d.wallet.IsInitialized() {
			return wallet.ErrNotInitialized
		}
		return nil
	}))
	c.RegisterCheck("dispatcher", health.FromError("dispatcher", func(context.Context) error {
		if s := d.dispatcher.State(); s != protocol.StateReady {
			return fmt.Errorf("dispatcher is %s", s)
		}
		return nil
	}))
	c.RegisterCheck("tag", health.FromError("tag", func(context.Context) error {
		return d.tag.Detect()
	}))
}

func newExchangeContext(ctx context.Context) (context.Context, string) {
	id := correlation.NewID()
	return correlation.WithCorrelationID(ctx, id), id
}

// record logs a device-level audit event carrying the current address.
func (d *Device) record(ctx context.Context, t audit.EventType) {
	if d.audit == nil {
		return
	}
	event := &audit.AuditEvent{
		EventType: t,
		Outcome:   audit.OutcomeSuccess,
		Metadata:  map[string]interface{}{"address": d.wallet.Address()},
	}
	if err := d.audit.LogEvent(ctx, event); err != nil {
		d.logger.Warn("audit event dropped", logger.Error(err))
	}
}
