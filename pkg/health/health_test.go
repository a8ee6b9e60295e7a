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

package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLive(t *testing.T) {
	c := NewChecker()
	result := c.Live(context.Background())
	assert.Equal(t, "liveness", result.Name)
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestStartup(t *testing.T) {
	c := NewChecker()
	assert.False(t, c.IsStarted())
	assert.Equal(t, StatusUnhealthy, c.Startup(context.Background()).Status)

	c.MarkStarted()
	assert.True(t, c.IsStarted())
	assert.Equal(t, StatusHealthy, c.Startup(context.Background()).Status)

	c.MarkNotStarted()
	assert.Equal(t, StatusUnhealthy, c.Startup(context.Background()).Status)
}

func TestReady_Default(t *testing.T) {
	c := NewChecker()
	results := c.Ready(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, "default", results[0].Name)
	assert.True(t, c.IsHealthy(context.Background()))
}

func TestReady_RegisteredChecks(t *testing.T) {
	c := NewChecker()
	c.RegisterCheck("wallet", func(context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	c.RegisterCheck("dispatcher", FromError("dispatcher", func(context.Context) error {
		return errors.New("state uninitialized")
	}))
	c.RegisterCheck("ignored", nil)

	assert.Equal(t, []string{"dispatcher", "wallet"}, c.GetAllChecks())

	results := c.Ready(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "dispatcher", results[0].Name)
	assert.Equal(t, StatusUnhealthy, results[0].Status)
	assert.Equal(t, "state uninitialized", results[0].Error)
	assert.Equal(t, "wallet", results[1].Name)
	assert.False(t, c.IsHealthy(context.Background()))

	c.UnregisterCheck("dispatcher")
	assert.True(t, c.IsHealthy(context.Background()))
}

func TestFromError_Healthy(t *testing.T) {
	check := FromError("tag", func(context.Context) error { return nil })
	result := check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Empty(t, result.Error)
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name    string
		results []CheckResult
		want    Status
	}{
		{"empty", nil, StatusHealthy},
		{"healthy", []CheckResult{{Status: StatusHealthy}}, StatusHealthy},
		{"degraded", []CheckResult{{Status: StatusHealthy}, {Status: StatusDegraded}}, StatusDegraded},
		{"unhealthy wins", []CheckResult{{Status: StatusDegraded}, {Status: StatusUnhealthy}}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateStatus(tt.results))
		})
	}
}

func TestUptime(t *testing.T) {
	c := NewChecker()
	assert.GreaterOrEqual(t, c.Uptime().Nanoseconds(), int64(0))
}
