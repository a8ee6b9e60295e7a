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

// Package reader bridges an emulated RF field onto a Unix domain socket.
// Local tools play the role of a phone tapping the device: they exchange
// mailbox messages and read the tag's NDEF message over HTTP.
package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/correlation"
	"github.com/jeremyhahn/go-phygital/pkg/metrics"
	"github.com/jeremyhahn/go-phygital/pkg/ratelimit"
)

// DefaultSocketPath is the default path for the bridge socket.
const DefaultSocketPath = "/run/phygital/reader.sock"

// ReaderIDHeader identifies a reader for rate limiting. Requests without
// it share the "local" bucket.
const ReaderIDHeader = "X-Reader-ID"

const (
	defaultReplyTimeout = 2 * time.Second
	replyPollInterval   = 2 * time.Millisecond
)

// ErrInvalidConfig is returned by NewServer.
var ErrInvalidConfig = errors.New("reader: invalid configuration")

// Field is the RF side of the mailbox.
type Field interface {
	Deliver(msg []byte) error
	TakeReply() ([]byte, bool)
}

// NDEFSource exposes the tag's NDEF message as a reader sees it.
type NDEFSource interface {
	ReadNDEF() ([]byte, error)
}

// Config holds the bridge configuration
type Config struct {
	// SocketPath is the path to the Unix socket file
	SocketPath string

	// SocketMode is the file mode for the socket (default: 0660)
	SocketMode os.FileMode

	Field Field
	Tag   NDEFSource

	// Limiter throttles readers by ReaderIDHeader. Nil disables limiting.
	Limiter *ratelimit.Limiter

	// ReplyTimeout bounds how long an exchange waits for the device.
	ReplyTimeout time.Duration

	Logger logger.Logger
}

// Server serves the RF bridge.
type Server struct {
	config   Config
	router   chi.Router
	logger   logger.Logger
	server   *http.Server
	listener net.Listener
	mu       sync.RWMutex

	// exchangeMu serializes exchanges over the single mailbox buffer.
	exchangeMu sync.Mutex

	connMu sync.Mutex
	conns  map[net.Conn]*metrics.ConnectionTracker
}

// NewServer creates the bridge. Call Start to listen.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Field == nil || cfg.Tag == nil {
		return nil, fmt.Errorf("%w: field and tag are required", ErrInvalidConfig)
	}

	c := *cfg
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.SocketMode == 0 {
		c.SocketMode = 0660
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = defaultReplyTimeout
	}

	s := &Server{
		config: c,
		router: chi.NewRouter(),
		logger: logger.OrNoOp(c.Logger),
		conns:  make(map[net.Conn]*metrics.ConnectionTracker),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(correlation.Middleware)
	s.router.Use(ratelimit.Middleware(s.config.Limiter,
		ratelimit.WithKey(ratelimit.HeaderKey(ReaderIDHeader, "local")),
		ratelimit.WithReject(func(w http.ResponseWriter, _ *http.Request) {
			metrics.RecordReaderRejected()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	))

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/exchange", s.handleExchange)
		r.Get("/ndef", s.handleNDEF)
	})
}

// Handler returns the bridge's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the socket and serves until Stop. It blocks.
func (s *Server) Start() error {
	socketDir := filepath.Dir(s.config.SocketPath)
	if err := os.MkdirAll(socketDir, 0750); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Remove a stale socket left by an unclean shutdown
	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket listener: %w", err)
	}

	if err := os.Chmod(s.config.SocketPath, s.config.SocketMode); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.config.ReplyTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		ConnState:         s.trackConn,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("RF bridge listening", logger.String("socket", s.config.SocketPath))

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("reader: serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the bridge and removes the socket.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("Error shutting down RF bridge", logger.Error(err))
			return err
		}
	}

	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove socket file", logger.Error(err))
	}
	s.logger.Info("RF bridge stopped")
	return nil
}

// SocketPath returns the path to the Unix socket
func (s *Server) SocketPath() string {
	return s.config.SocketPath
}

// trackConn keeps one ConnectionTracker per open bridge connection.
func (s *Server) trackConn(conn net.Conn, state http.ConnState) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	switch state {
	case http.StateNew:
		s.conns[conn] = metrics.NewConnectionTracker(metrics.ProtocolReader)
	case http.StateClosed, http.StateHijacked:
		if tracker, ok := s.conns[conn]; ok {
			tracker.Close()
			delete(s.conns, conn)
			s.logger.Debug("reader disconnected", logger.Duration("connected", tracker.Duration()))
		}
	}
}
