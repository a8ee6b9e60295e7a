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

// Package metrics provides Prometheus instrumentation for the signing
// device: protocol exchanges, signing latency, advertisement rewrites,
// boot outcomes and the device state.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all device metrics
	Namespace = "phygital"

	// Label names
	LabelCommand    = "command"
	LabelStatus     = "status"
	LabelMethod     = "method"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"
	LabelProtocol   = "protocol"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// MessagesTotal counts answered mailbox messages by command and reply status.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_total",
			Help:      "Total number of mailbox messages answered, by command and reply status",
		},
		[]string{LabelCommand, LabelStatus},
	)

	// SignDuration tracks the latency of SIGN requests.
	SignDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "sign_duration_seconds",
			Help:      "Duration of hash signing in seconds",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	// AdvertisementRebuildsTotal counts record set rewrites.
	AdvertisementRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "advertisement_rebuilds_total",
			Help:      "Total number of NDEF record set rewrites by status",
		},
		[]string{LabelStatus},
	)

	// DeviceState exposes the dispatcher state (0 uninitialized, 1 configuring, 2 ready).
	DeviceState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "device_state",
			Help:      "Dispatcher state: 0 uninitialized, 1 configuring, 2 ready",
		},
	)

	// BootTotal counts boot attempts by status.
	BootTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "boot_total",
			Help:      "Total number of boot sequences by status",
		},
		[]string{LabelStatus},
	)

	// ReaderRejectedTotal counts RF bridge requests refused by the rate limiter.
	ReaderRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reader",
			Name:      "rejected_total",
			Help:      "Total number of reader requests rejected by the rate limiter",
		},
	)

	// ActiveConnections tracks open connections by protocol (http, reader).
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of active connections by protocol",
		},
		[]string{LabelProtocol},
	)

	// HTTPRequestsTotal tracks diagnostics server requests by method, route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route and status code",
		},
		[]string{LabelMethod, LabelRoute, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of diagnostics requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelRoute},
	)

	// MailboxPending is 1 while a reader message waits for the device.
	MailboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "mailbox",
			Name:      "pending",
			Help:      "1 while a mailbox message is waiting to be answered",
		},
	)

	// AuditEventsTotal mirrors the number of audit events logged since boot.
	AuditEventsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "audit_events",
			Help:      "Number of audit events logged since startup",
		},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// Uptime tracks seconds since the collector started.
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "uptime_seconds",
			Help:      "Device uptime in seconds since startup",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordMessage records one answered message. command and status are the
// names of the protocol codes, e.g. "sign" and "ok".
func RecordMessage(command, status string) {
	if !enabled.Load() {
		return
	}
	MessagesTotal.WithLabelValues(command, status).Inc()
}

// ObserveSign records the duration of a signing operation in seconds.
func ObserveSign(seconds float64) {
	if !enabled.Load() {
		return
	}
	SignDuration.Observe(seconds)
}

// RecordRebuild records an advertisement rewrite outcome.
func RecordRebuild(err error) {
	if !enabled.Load() {
		return
	}
	AdvertisementRebuildsTotal.WithLabelValues(statusOf(err)).Inc()
}

// RecordBoot records a boot sequence outcome.
func RecordBoot(err error) {
	if !enabled.Load() {
		return
	}
	BootTotal.WithLabelValues(statusOf(err)).Inc()
}

// SetDeviceState publishes the numeric dispatcher state.
func SetDeviceState(state int) {
	if !enabled.Load() {
		return
	}
	DeviceState.Set(float64(state))
}

// RecordReaderRejected counts a rate-limited reader request.
func RecordReaderRejected() {
	if !enabled.Load() {
		return
	}
	ReaderRejectedTotal.Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, route, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration)
}

// SetMailboxPending publishes whether a mailbox message is waiting.
func SetMailboxPending(pending bool) {
	if !enabled.Load() {
		return
	}
	if pending {
		MailboxPending.Set(1)
		return
	}
	MailboxPending.Set(0)
}

// SetAuditEvents publishes the audit trail size.
func SetAuditEvents(n int64) {
	if !enabled.Load() {
		return
	}
	AuditEventsTotal.Set(float64(n))
}

// IncrementActiveConnections increments the active connection count for a protocol.
func IncrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Inc()
}

// DecrementActiveConnections decrements the active connection count for a protocol.
func DecrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Dec()
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
