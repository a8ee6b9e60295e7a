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

package reader

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/mailbox"
)

const contentTypeBinary = "application/octet-stream"

type errorResponse struct {
	Error string `json:"error"`
}

// handleExchange handles POST /v1/exchange. The body is delivered to the
// mailbox as one message and the device's reply is returned verbatim.
func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	msg, err := io.ReadAll(io.LimitReader(r.Body, mailbox.MaxMessageLength+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read message")
		return
	}
	if len(msg) == 0 {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}
	if len(msg) > mailbox.MaxMessageLength {
		writeError(w, http.StatusRequestEntityTooLarge, mailbox.ErrMessageTooLong.Error())
		return
	}

	reply, err := s.exchange(r.Context(), msg)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", contentTypeBinary)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(reply)
	case errors.Is(err, mailbox.ErrMessageTooLong):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, mailbox.ErrInactive):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, mailbox.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "no reply from device")
	default:
		logger.FromContext(r.Context(), s.logger).Warn("exchange failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// exchange delivers msg and waits for the reply. A reply that arrives
// after its exchange timed out is discarded, here or at the start of the
// next exchange, so it is never returned to a later caller and never
// leaves the mailbox busy.
func (s *Server) exchange(ctx context.Context, msg []byte) ([]byte, error) {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()

	s.dropStaleReply()
	if err := s.config.Field.Deliver(msg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ReplyTimeout)
	defer cancel()

	ticker := time.NewTicker(replyPollInterval)
	defer ticker.Stop()

	for {
		if reply, ok := s.config.Field.TakeReply(); ok {
			return reply, nil
		}
		select {
		case <-ctx.Done():
			s.dropStaleReply()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) dropStaleReply() {
	if reply, ok := s.config.Field.TakeReply(); ok {
		s.logger.Warn("discarding late reply", logger.Int("length", len(reply)))
	}
}

// handleNDEF handles GET /v1/ndef.
func (s *Server) handleNDEF(w http.ResponseWriter, r *http.Request) {
	msg, err := s.config.Tag.ReadNDEF()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentTypeBinary)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
