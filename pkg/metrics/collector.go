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


package metrics

import (
	"context"
	"runtime"
	"time"
)

// Probe samples one piece of device state into a gauge. Probes run on the
// collector goroutine.
type Probe func()

// ResourceCollector periodically samples process and device gauges.
type ResourceCollector struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	started  time.Time
	probes   []Probe
}

// NewResourceCollector returns a collector that samples every interval
// until ctx is done or Stop is called.
func NewResourceCollector(ctx context.Context, interval time.Duration, probes ...Probe) *ResourceCollector {
	collectorCtx, cancel := context.WithCancel(ctx)
	return &ResourceCollector{
		ctx:      collectorCtx,
		cancel:   cancel,
		interval: interval,
		started:  time.Now(),
		probes:   probes,
	}
}

// Start samples immediately and then on every tick. It blocks.
func (rc *ResourceCollector) Start() {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.collect()
	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-ticker.C:
			rc.collect()
		}
	}
}

// Stop ends the sampling loop.
func (rc *ResourceCollector) Stop() {
	rc.cancel()
}

func (rc *ResourceCollector) collect() {
	if !IsEnabled() {
		return
	}
	CollectOnce()
	Uptime.Set(time.Since(rc.started).Seconds())
	for _, probe := range rc.probes {
		probe()
	}
}

// CollectOnce samples the runtime gauges.
func CollectOnce() {
	if !IsEnabled() {
		return
	}
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	MemoryAllocBytes.Set(float64(memStats.Alloc))
}

// StartResourceCollector starts a collector in its own goroutine.
func StartResourceCollector(ctx context.Context, interval time.Duration, probes ...Probe) *ResourceCollector {
	collector := NewResourceCollector(ctx, interval, probes...)
	go collector.Start()
	return collector
}
