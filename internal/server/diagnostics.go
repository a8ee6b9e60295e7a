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

package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-phygital/pkg/adapters/audit"
	"github.com/jeremyhahn/go-phygital/pkg/correlation"
	"github.com/jeremyhahn/go-phygital/pkg/device"
	"github.com/jeremyhahn/go-phygital/pkg/health"
	"github.com/jeremyhahn/go-phygital/pkg/metrics"
	"github.com/jeremyhahn/go-phygital/pkg/ratelimit"
)

type healthResponse struct {
	Status  health.Status        `json:"status"`
	Message string               `json:"message,omitempty"`
	Checks  []health.CheckResult `json:"checks,omitempty"`
	Uptime  string               `json:"uptime,omitempty"`
}

// diagnostics serves the read-only HTTP view of a device.
type diagnostics struct {
	device  *device.Device
	checker *health.Checker
	trail   audit.AuditAdapter
}

// NewDiagnosticsHandler returns the diagnostics router for a stack: health
// probes, the published identity, recent audit events and Prometheus
// metrics at metricsPath.
func NewDiagnosticsHandler(stack *Stack, metricsPath string, limiter *ratelimit.Limiter) http.Handler {
	h := &diagnostics{device: stack.Device, checker: stack.Health}
	if stack.Audit != nil {
		h.trail = stack.Audit
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlation.Middleware)
	r.Use(metrics.HTTPMiddleware)
	if limiter != nil && limiter.IsEnabled() {
		r.Use(ratelimit.Middleware(limiter))
	}

	r.Get("/health", h.handleHealth)
	r.Get("/health/live", h.handleLive)
	r.Get("/health/ready", h.handleReady)
	r.Get("/health/startup", h.handleStartup)
	r.Get("/identity", h.handleIdentity)
	r.Get("/audit", h.handleAudit)
	if metricsPath != "" {
		r.Handle(metricsPath, promhttp.Handler())
	}
	return r
}

func (h *diagnostics) handleHealth(w http.ResponseWriter, r *http.Request) {
	results := h.checker.Ready(r.Context())
	results = append(results, h.checker.Startup(r.Context()))
	writeHealth(w, healthResponse{
		Status: health.AggregateStatus(results),
		Checks: results,
		Uptime: h.checker.Uptime().String(),
	})
}

func (h *diagnostics) handleLive(w http.ResponseWriter, r *http.Request) {
	result := h.checker.Live(r.Context())
	writeHealth(w, healthResponse{Status: result.Status, Message: result.Message})
}

func (h *diagnostics) handleReady(w http.ResponseWriter, r *http.Request) {
	results := h.checker.Ready(r.Context())
	writeHealth(w, healthResponse{Status: health.AggregateStatus(results), Checks: results})
}

func (h *diagnostics) handleStartup(w http.ResponseWriter, r *http.Request) {
	result := h.checker.Startup(r.Context())
	writeHealth(w, healthResponse{Status: result.Status, Message: result.Message})
}

func (h *diagnostics) handleIdentity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.device.Identity())
}

// handleAudit lists recent audit events. Optional query parameters: limit,
// type (repeatable) and outcome.
func (h *diagnostics) handleAudit(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit trail disabled"})
		return
	}

	query := &audit.EventQuery{}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		query.Limit = limit
	}
	for _, t := range r.URL.Query()["type"] {
		query.EventTypes = append(query.EventTypes, audit.EventType(t))
	}
	if v := r.URL.Query().Get("outcome"); v != "" {
		query.Outcomes = []audit.EventOutcome{audit.EventOutcome(v)}
	}

	events, err := h.trail.GetEvents(r.Context(), query)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []*audit.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeHealth(w http.ResponseWriter, resp healthResponse) {
	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
