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

//go:build tpm2

package entropy

import (
	"fmt"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpmutil"
)

const defaultTPM2Device = "/dev/tpmrm0"

// tpm2Source draws bytes with TPM2_GetRandom, chunked to MaxRequestSize.
type tpm2Source struct {
	mu     sync.Mutex
	tpm    transport.TPMCloser
	config TPM2Config
}

func newTPM2Source(cfg *TPM2Config) (Source, error) {
	c := TPM2Config{Device: defaultTPM2Device, MaxRequestSize: 32}
	if cfg != nil {
		if cfg.Device != "" {
			c.Device = cfg.Device
		}
		if cfg.MaxRequestSize > 0 {
			c.MaxRequestSize = cfg.MaxRequestSize
		}
	}

	dev, err := tpmutil.OpenTPM(c.Device)
	if err != nil {
		return nil, fmt.Errorf("entropy: open TPM2 device %s: %w", c.Device, err)
	}

	return &tpm2Source{
		tpm:    transport.FromReadWriteCloser(dev),
		config: c,
	}, nil
}

func tpm2Available() bool {
	return true
}

func (t *tpm2Source) Rand(n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tpm == nil {
		return nil, ErrClosed
	}

	out := make([]byte, 0, n)
	for len(out) < n {
		chunk := n - len(out)
		if chunk > t.config.MaxRequestSize {
			chunk = t.config.MaxRequestSize
		}
		getRandom := tpm2.GetRandom{BytesRequested: uint16(chunk)}
		rsp, err := getRandom.Execute(t.tpm)
		if err != nil {
			return nil, fmt.Errorf("entropy: TPM2_GetRandom: %w", err)
		}
		if len(rsp.RandomBytes.Buffer) == 0 {
			return nil, fmt.Errorf("%w: TPM returned no bytes", ErrShortRead)
		}
		out = append(out, rsp.RandomBytes.Buffer...)
	}
	return out[:n], nil
}

func (t *tpm2Source) Read(p []byte) (int, error) {
	b, err := t.Rand(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, b), nil
}

func (t *tpm2Source) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tpm != nil
}

func (t *tpm2Source) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tpm == nil {
		return nil
	}
	err := t.tpm.Close()
	t.tpm = nil
	return err
}
