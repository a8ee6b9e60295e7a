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
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	ProtocolHTTP   = "http"
	ProtocolReader = "reader"

	// unmatchedRoute labels requests no chi route matched, keeping the
	// route label bounded.
	unmatchedRoute = "unmatched"
)

// HTTPMiddleware records diagnostics requests by method, chi route pattern
// and status code.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		IncrementActiveConnections(ProtocolHTTP)
		defer DecrementActiveConnections(ProtocolHTTP)

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		RecordHTTPRequest(r.Method, routePattern(r), strconv.Itoa(rw.status), time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// ConnectionTracker counts one open connection until Close.
type ConnectionTracker struct {
	protocol string
	started  time.Time
}

func NewConnectionTracker(protocol string) *ConnectionTracker {
	IncrementActiveConnections(protocol)
	return &ConnectionTracker{protocol: protocol, started: time.Now()}
}

func (ct *ConnectionTracker) Close() {
	DecrementActiveConnections(ct.protocol)
}

// Duration is how long the connection has been open.
func (ct *ConnectionTracker) Duration() time.Duration {
	return time.Since(ct.started)
}
