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

// Package entropy supplies the random bytes used to create the device key.
//
// The key manager only needs "n uniformly random bytes on demand"; where
// they come from is a deployment decision:
//   - software: crypto/rand
//   - device:   a character device such as /dev/hwrng
//   - tpm2:     TPM2_GetRandom (requires the tpm2 build tag)
//   - pkcs11:   C_GenerateRandom on an HSM slot (requires the pkcs11 build tag)
//   - auto:     the first available hardware source, else software
//
// A fallback mode may be configured; it is consulted whenever the primary
// source fails.
package entropy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Mode selects the entropy source.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeSoftware Mode = "software"
	ModeDevice   Mode = "device"
	ModeTPM2     Mode = "tpm2"
	ModePKCS11   Mode = "pkcs11"
)

// DefaultDevicePath is the Linux hardware RNG character device.
const DefaultDevicePath = "/dev/hwrng"

var (
	// ErrShortRead is returned when a source yields fewer bytes than requested.
	ErrShortRead = errors.New("entropy: short read")

	// ErrClosed is returned when reading from a closed source.
	ErrClosed = errors.New("entropy: source closed")

	// ErrNotCompiled is returned for hardware modes whose build tag is absent.
	ErrNotCompiled = errors.New("entropy: support not compiled")
)

// Config selects and parameterises the entropy source.
type Config struct {
	// Mode is the primary source. Defaults to ModeAuto.
	Mode Mode

	// FallbackMode is used when the primary source fails. Empty disables
	// fallback.
	FallbackMode Mode

	// DevicePath is the character device read in ModeDevice.
	DevicePath string

	// TPM2 configures ModeTPM2. Nil uses defaults.
	TPM2 *TPM2Config

	// PKCS11 configures ModePKCS11.
	PKCS11 *PKCS11Config
}

// TPM2Config configures the TPM2 source.
type TPM2Config struct {
	// Device is the TPM character device (default /dev/tpmrm0).
	Device string

	// MaxRequestSize caps the bytes requested per TPM2_GetRandom call.
	MaxRequestSize int
}

// PKCS11Config configures the PKCS#11 source.
type PKCS11Config struct {
	// Module is the path of the PKCS#11 shared library.
	Module string

	// SlotID is the slot whose RNG is used.
	SlotID uint

	// PIN logs the session in when non-empty.
	PIN string
}

// Source is a random byte source. Implementations are safe for concurrent use.
type Source interface {
	// Rand returns exactly n random bytes or an error.
	Rand(n int) ([]byte, error)

	// Read implements io.Reader.
	Read(p []byte) (int, error)

	// Available reports whether the source can currently produce bytes.
	Available() bool

	// Close releases the source.
	Close() error
}

// New returns the source described by cfg. A nil cfg selects ModeAuto.
func New(cfg *Config) (Source, error) {
	if cfg == nil {
		cfg = &Config{Mode: ModeAuto}
	}
	primary, err := newSource(cfg, cfg.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.FallbackMode == "" || cfg.FallbackMode == cfg.Mode {
		return primary, nil
	}
	fallback, err := newSource(cfg, cfg.FallbackMode)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("entropy: fallback %s: %w", cfg.FallbackMode, err)
	}
	return &fallbackSource{primary: primary, fallback: fallback}, nil
}

func newSource(cfg *Config, mode Mode) (Source, error) {
	switch mode {
	case "", ModeAuto:
		return newAutoSource(cfg), nil
	case ModeSoftware:
		return NewReaderSource(rand.Reader), nil
	case ModeDevice:
		return openDevice(cfg.DevicePath)
	case ModeTPM2:
		return newTPM2Source(cfg.TPM2)
	case ModePKCS11:
		return newPKCS11Source(cfg.PKCS11)
	default:
		return nil, fmt.Errorf("entropy: unknown mode %q", mode)
	}
}

// readerSource adapts any io.Reader. It backs the software and device
// modes and lets tests inject deterministic or failing readers.
type readerSource struct {
	mu     sync.Mutex
	r      io.Reader
	closer io.Closer
}

// NewReaderSource returns a Source that draws bytes from r.
func NewReaderSource(r io.Reader) Source {
	s := &readerSource{r: r}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func openDevice(path string) (Source, error) {
	if path == "" {
		path = DefaultDevicePath
	}
	f, err := os.Open(path) // #nosec G304 -- operator supplied device path
	if err != nil {
		return nil, fmt.Errorf("entropy: open %s: %w", path, err)
	}
	return NewReaderSource(f), nil
}

func (s *readerSource) Rand(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := s.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *readerSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == nil {
		return 0, ErrClosed
	}
	n, err := io.ReadFull(s.r, p)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return n, fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, n, len(p))
		}
		return n, fmt.Errorf("entropy: read: %w", err)
	}
	return n, nil
}

func (s *readerSource) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r != nil
}

func (s *readerSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r = nil
	if s.closer != nil {
		err := s.closer.Close()
		s.closer = nil
		return err
	}
	return nil
}

// fallbackSource retries on a secondary source when the primary fails.
type fallbackSource struct {
	primary  Source
	fallback Source
}

func (f *fallbackSource) Rand(n int) ([]byte, error) {
	b, err := f.primary.Rand(n)
	if err == nil {
		return b, nil
	}
	return f.fallback.Rand(n)
}

func (f *fallbackSource) Read(p []byte) (int, error) {
	n, err := f.primary.Read(p)
	if err == nil {
		return n, nil
	}
	return f.fallback.Read(p)
}

func (f *fallbackSource) Available() bool {
	return f.primary.Available() || f.fallback.Available()
}

func (f *fallbackSource) Close() error {
	return errors.Join(f.primary.Close(), f.fallback.Close())
}
