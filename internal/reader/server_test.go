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
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-phygital/pkg/correlation"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/entropy"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/keccak"
	"github.com/jeremyhahn/go-phygital/pkg/device"
	"github.com/jeremyhahn/go-phygital/pkg/eeprom"
	"github.com/jeremyhahn/go-phygital/pkg/mailbox"
	"github.com/jeremyhahn/go-phygital/pkg/protocol"
	"github.com/jeremyhahn/go-phygital/pkg/ratelimit"
	"github.com/jeremyhahn/go-phygital/pkg/tag"
)

const (
	testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress    = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	linkedAddress  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

// echoField answers every delivered message with a fixed reply.
type echoField struct {
	reply   []byte
	pending bool
	err     error
}

func (f *echoField) Deliver([]byte) error {
	if f.err != nil {
		return f.err
	}
	f.pending = true
	return nil
}

func (f *echoField) TakeReply() ([]byte, bool) {
	if !f.pending || f.reply == nil {
		return nil, false
	}
	f.pending = false
	return f.reply, true
}

type staticNDEF struct {
	msg []byte
	err error
}

func (s staticNDEF) ReadNDEF() ([]byte, error) { return s.msg, s.err }

// socketPath returns a short path; unix socket paths are length limited.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "rdr")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "r.sock")
}

func startServer(t *testing.T, cfg *Config) *Client {
	t.Helper()
	cfg.SocketPath = socketPath(t)
	s, err := NewServer(cfg)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.SocketPath)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	client := NewClient(cfg.SocketPath, "test")
	t.Cleanup(func() {
		_ = client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
		require.NoError(t, <-errCh)
	})
	return client
}

// bootDevice returns a booted device running its poll loop.
func bootDevice(t *testing.T) *device.Device {
	t.Helper()
	ee, err := eeprom.NewMemory(eeprom.DefaultSize)
	require.NoError(t, err)
	mem, err := eeprom.NewMemory(tag.DefaultMemorySize)
	require.NoError(t, err)
	key, err := keccak.DecodeHex(testPrivateKey)
	require.NoError(t, err)

	d, err := device.New(&device.Config{
		EEPROM:       ee,
		TagMemory:    mem,
		Entropy:      entropy.NewReaderSource(bytes.NewReader(key)),
		PollInterval: 2 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, d.Boot(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return d
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewServer(&Config{Field: &echoField{}})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBridge_SignAndBind(t *testing.T) {
	d := bootDevice(t)
	client := startServer(t, &Config{Field: d.Tag().Mailbox(), Tag: d.Tag()})
	ctx := context.Background()

	hash := keccak.Sum256([]byte("tap"))
	sig, err := client.Sign(ctx, hash[:])
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := crypto.SigToPub(hash[:], sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, crypto.PubkeyToAddress(*pub).Hex())

	require.NoError(t, client.Bind(ctx, linkedAddress))

	records, err := client.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	text, err := records[2].Text()
	require.NoError(t, err)
	assert.Equal(t, linkedAddress, text)
}

func TestBridge_StatusReplies(t *testing.T) {
	d := bootDevice(t)
	client := startServer(t, &Config{Field: d.Tag().Mailbox(), Tag: d.Tag()})
	ctx := context.Background()

	_, err := client.Sign(ctx, []byte{1, 2, 3})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, protocol.StatusInvalidMessageLength, statusErr.Status)

	err = client.Bind(ctx, "0x"+strings.Repeat("!", 40))
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, protocol.StatusInvalidMessageFormat, statusErr.Status)

	reply, err := client.Exchange(ctx, []byte{0x7F, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(protocol.StatusUnknownMessage)}, reply)
}

func TestBridge_ReadNDEF(t *testing.T) {
	d := bootDevice(t)
	client := startServer(t, &Config{Field: d.Tag().Mailbox(), Tag: d.Tag()})

	records, err := client.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	uri, err := records[0].URI()
	require.NoError(t, err)
	assert.Equal(t, "https://www.phygital.tuszy.com", uri)
}

func TestBridge_NoReply(t *testing.T) {
	client := startServer(t, &Config{
		Field:        &echoField{},
		Tag:          staticNDEF{},
		ReplyTimeout: 20 * time.Millisecond,
	})

	_, err := client.Exchange(context.Background(), []byte{0x00, 0x01})
	require.ErrorIs(t, err, ErrNoReply)
}

func TestBridge_MailboxErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"busy", mailbox.ErrBusy, ErrBusy},
		{"inactive", mailbox.ErrInactive, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := startServer(t, &Config{Field: &echoField{err: tt.err}, Tag: staticNDEF{}})
			_, err := client.Exchange(context.Background(), []byte{0x00})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBridge_RateLimited(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, RequestsPerMinute: 1, Burst: 1})
	defer limiter.Stop()

	client := startServer(t, &Config{
		Field:   &echoField{reply: []byte{0x01}},
		Tag:     staticNDEF{msg: []byte{0xD0, 0x00, 0x00}},
		Limiter: limiter,
	})

	_, err := client.ReadNDEF(context.Background())
	require.NoError(t, err)

	_, err = client.ReadNDEF(context.Background())
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestHandler_RejectsEmptyAndOversized(t *testing.T) {
	s, err := NewServer(&Config{Field: &echoField{reply: []byte{0x01}}, Tag: staticNDEF{err: errors.New("absent")}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/exchange", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	body := bytes.NewReader(make([]byte, mailbox.MaxMessageLength+1))
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/exchange", body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ndef", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_EchoesCorrelationID(t *testing.T) {
	s, err := NewServer(&Config{Field: &echoField{reply: []byte{0x01}}, Tag: staticNDEF{msg: []byte{0xd1}}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/ndef", nil)
	req.Header.Set(correlation.CorrelationIDHeader, "phone-tap-7")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "phone-tap-7", rec.Header().Get(correlation.CorrelationIDHeader))
}

// slowDevice answers each message on a real mailbox after the next delay
// in delays; later messages are answered at once.
func slowDevice(t *testing.T, mb *mailbox.FastTransfer, delays ...time.Duration) (answered <-chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	out := make(chan struct{}, 16)
	t.Cleanup(func() { close(done) })

	go func() {
		for n := 0; ; n++ {
			select {
			case <-done:
				return
			case <-mb.Notify():
			}
			msg, err := mb.ReadMessage()
			if err != nil {
				continue
			}
			if n < len(delays) {
				time.Sleep(delays[n])
			}
			_ = mb.WriteMessage([]byte{msg[0] + 0x10})
			out <- struct{}{}
		}
	}()
	return out
}

func TestBridge_LateReplyDoesNotWedgeMailbox(t *testing.T) {
	mb := mailbox.NewFastTransfer()
	require.NoError(t, mb.SetDeliveryActive(true))
	answered := slowDevice(t, mb, 200*time.Millisecond)

	client := startServer(t, &Config{
		Field:        mb,
		Tag:          staticNDEF{},
		ReplyTimeout: 50 * time.Millisecond,
	})

	_, err := client.Exchange(context.Background(), []byte{0x01})
	require.ErrorIs(t, err, ErrNoReply)

	select {
	case <-answered:
	case <-time.After(time.Second):
		t.Fatal("device never answered")
	}

	for i := 0; i < 3; i++ {
		reply, err := client.Exchange(context.Background(), []byte{byte(0x02 + i)})
		require.NoError(t, err, "exchange %d", i)
		assert.Equal(t, []byte{byte(0x12 + i)}, reply, "late reply must not leak into exchange %d", i)
	}
}
