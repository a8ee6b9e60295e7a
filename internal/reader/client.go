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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/jeremyhahn/go-phygital/pkg/ndef"
	"github.com/jeremyhahn/go-phygital/pkg/protocol"
)

var (
	// ErrRateLimited is returned when the bridge throttled the reader.
	ErrRateLimited = errors.New("reader: rate limited")

	// ErrNoReply is returned when the device did not answer in time.
	ErrNoReply = errors.New("reader: no reply from device")

	// ErrBusy is returned when the mailbox still holds another message.
	ErrBusy = errors.New("reader: mailbox busy")

	// ErrUnavailable is returned when the device is not accepting messages.
	ErrUnavailable = errors.New("reader: device unavailable")

	// ErrUnexpectedReply is returned for a reply that matches no command.
	ErrUnexpectedReply = errors.New("reader: unexpected reply")
)

// StatusError is a single status byte returned by the device.
type StatusError struct {
	Status protocol.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reader: device replied %s (0x%02X)", e.Status, byte(e.Status))
}

// Client taps the device through the bridge socket.
type Client struct {
	http     *http.Client
	readerID string
}

// NewClient returns a client dialing socketPath. readerID selects the
// rate limit bucket and may be empty.
func NewClient(socketPath, readerID string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		http:     &http.Client{Transport: transport},
		readerID: readerID,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Exchange sends one raw mailbox message and returns the raw reply.
func (c *Client) Exchange(ctx context.Context, msg []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/v1/exchange", msg)
}

// Sign asks the device to sign a 32-byte hash and returns the 65-byte
// recoverable signature.
func (c *Client) Sign(ctx context.Context, hash []byte) ([]byte, error) {
	msg := append([]byte{byte(protocol.CommandSign)}, hash...)
	reply, err := c.Exchange(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := statusOf(reply); err != nil {
		return nil, err
	}
	if len(reply) != protocol.SignReplyLength || reply[0] != byte(protocol.CommandSign) {
		return nil, fmt.Errorf("%w: % X", ErrUnexpectedReply, reply)
	}
	return reply[1:], nil
}

// Bind links a contract address to the device's advertisement.
func (c *Client) Bind(ctx context.Context, contract string) error {
	msg := append([]byte{byte(protocol.CommandContractAddress)}, contract...)
	reply, err := c.Exchange(ctx, msg)
	if err != nil {
		return err
	}
	if err := statusOf(reply); err != nil {
		return err
	}
	if len(reply) != 1 || reply[0] != byte(protocol.CommandContractAddress) {
		return fmt.Errorf("%w: % X", ErrUnexpectedReply, reply)
	}
	return nil
}

// ReadNDEF returns the raw NDEF message stored on the tag.
func (c *Client) ReadNDEF(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/v1/ndef", nil)
}

// Records reads and decodes the tag's NDEF message.
func (c *Client) Records(ctx context.Context) ([]ndef.Record, error) {
	msg, err := c.ReadNDEF(ctx)
	if err != nil {
		return nil, err
	}
	return ndef.Unmarshal(msg)
}

// statusOf returns a StatusError for single-byte status replies.
func statusOf(reply []byte) error {
	if len(reply) != 1 {
		return nil
	}
	switch s := protocol.Status(reply[0]); s {
	case protocol.StatusInvalidMessageFormat, protocol.StatusInvalidMessageLength,
		protocol.StatusUnknownError, protocol.StatusUnknownMessage:
		return &StatusError{Status: s}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	// The host is ignored by the unix dialer.
	req, err := http.NewRequestWithContext(ctx, method, "http://reader"+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentTypeBinary)
	}
	if c.readerID != "" {
		req.Header.Set(ReaderIDHeader, c.readerID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reader: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reader: read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return data, nil
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusGatewayTimeout:
		return nil, ErrNoReply
	case http.StatusConflict:
		return nil, ErrBusy
	case http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, errorMessage(data))
	default:
		return nil, fmt.Errorf("reader: server returned status %d: %s", resp.StatusCode, errorMessage(data))
	}
}

func errorMessage(data []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return string(data)
}
