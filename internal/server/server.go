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

// Package server runs the device process: it boots the device, drives its
// poll loop, and serves the RF bridge and the diagnostics endpoints around
// it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-phygital/internal/config"
	"github.com/jeremyhahn/go-phygital/internal/reader"
	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/metrics"
	"github.com/jeremyhahn/go-phygital/pkg/ratelimit"
)

const shutdownTimeout = 10 * time.Second

// Server owns one device stack and the servers exposing it.
type Server struct {
	config *config.Config
	logger logger.Logger
	stack  *Stack

	reader        *reader.Server
	readerLimiter *ratelimit.Limiter

	diagnostics *http.Server
	diagLimiter *ratelimit.Limiter
	collector   *metrics.ResourceCollector

	wg sync.WaitGroup
}

// New opens the device stack described by cfg.
func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	log = logger.OrNoOp(log)

	stack, err := OpenStack(cfg, log)
	if err != nil {
		return nil, err
	}
	return newServer(cfg, log, stack), nil
}

func newServer(cfg *config.Config, log logger.Logger, stack *Stack) *Server {
	log = logger.OrNoOp(log)
	if cfg.Diagnostics.Metrics {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	s := &Server{config: cfg, logger: log, stack: stack}

	if cfg.Reader.Enabled {
		s.readerLimiter = ratelimit.New(&ratelimit.Config{
			Enabled:           cfg.Reader.RequestsPerMin > 0,
			RequestsPerMinute: cfg.Reader.RequestsPerMin,
		})
	}
	if cfg.Diagnostics.Enabled {
		s.diagLimiter = ratelimit.New(&ratelimit.Config{
			Enabled:           cfg.Diagnostics.RequestsPerMin > 0,
			RequestsPerMinute: cfg.Diagnostics.RequestsPerMin,
		})
	}
	return s
}

// Stack returns the device stack.
func (s *Server) Stack() *Stack {
	return s.stack
}

// Run boots the device and serves until ctx is cancelled. A boot failure
// is returned immediately and nothing is served.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting phygital device", logger.String("version", BuildVersion()))

	d := s.stack.Device
	if err := d.Boot(ctx); err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	id := d.Identity()
	s.logger.Info("Device ready",
		logger.String("address", id.Address),
		logger.String("identifier", id.Identifier))

	if metrics.IsEnabled() {
		s.collector = metrics.StartResourceCollector(ctx, 30*time.Second, s.probes()...)
	}
	if s.config.Reader.Enabled {
		if err := s.startReader(); err != nil {
			s.shutdown()
			return err
		}
	}
	if s.config.Diagnostics.Enabled {
		s.startDiagnostics()
	}

	err := d.Run(ctx)
	s.shutdown()
	return err
}

// probes publishes device gauges from the collector goroutine.
func (s *Server) probes() []metrics.Probe {
	mb := s.stack.Device.Tag().Mailbox()
	probes := []metrics.Probe{
		func() { metrics.SetMailboxPending(mb.HasPendingMessage()) },
	}
	if s.stack.Audit != nil {
		trail := s.stack.Audit
		probes = append(probes, func() { metrics.SetAuditEvents(trail.Total()) })
	}
	return probes
}

func (s *Server) startReader() error {
	t := s.stack.Device.Tag()
	rs, err := reader.NewServer(&reader.Config{
		SocketPath: s.config.Reader.Socket,
		Field:      t.Mailbox(),
		Tag:        t,
		Limiter:    s.readerLimiter,
		Logger:     s.logger.With(logger.String("component", "reader")),
	})
	if err != nil {
		return err
	}
	s.reader = rs

	limits := s.readerLimiter.Stats()
	s.logger.Info("Starting RF bridge",
		logger.String("socket", rs.SocketPath()),
		logger.Bool("rate_limited", limits.Enabled),
		logger.Int("requests_per_min", int(limits.RatePerMinute)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := rs.Start(); err != nil {
			s.logger.Error("RF bridge error", logger.Error(err))
		}
	}()
	return nil
}

func (s *Server) startDiagnostics() {
	metricsPath := ""
	if s.config.Diagnostics.Metrics {
		metricsPath = s.config.Diagnostics.MetricsPath
	}
	s.diagnostics = &http.Server{
		Addr:              s.config.Diagnostics.Address,
		Handler:           NewDiagnosticsHandler(s.stack, metricsPath, s.diagLimiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("Starting diagnostics server",
			logger.String("address", s.config.Diagnostics.Address),
			logger.String("metrics", metricsPath))
		if err := s.diagnostics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Diagnostics server error", logger.Error(err))
		}
	}()
}

func (s *Server) shutdown() {
	s.logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.collector != nil {
		s.collector.Stop()
	}
	if s.reader != nil {
		if err := s.reader.Stop(ctx); err != nil {
			s.logger.Error("Error stopping RF bridge", logger.Error(err))
		}
	}
	if s.diagnostics != nil {
		if err := s.diagnostics.Shutdown(ctx); err != nil {
			s.logger.Error("Error stopping diagnostics server", logger.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	for _, l := range []*ratelimit.Limiter{s.readerLimiter, s.diagLimiter} {
		if l != nil {
			l.Stop()
		}
	}
	if err := s.stack.Close(); err != nil {
		s.logger.Error("Error closing device stack", logger.Error(err))
	}
	s.logger.Info("Shutdown complete")
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// BuildVersion returns the module version or VCS revision the binary was
// built from.
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
