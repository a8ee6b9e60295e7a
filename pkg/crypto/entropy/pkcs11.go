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

//go:build pkcs11

package entropy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// pkcs11Source draws bytes with C_GenerateRandom on a single session.
type pkcs11Source struct {
	mu       sync.Mutex
	ctx      *pkcs11.Ctx
	session  pkcs11.SessionHandle
	loggedIn bool
}

func newPKCS11Source(cfg *PKCS11Config) (Source, error) {
	if cfg == nil || cfg.Module == "" {
		return nil, errors.New("entropy: PKCS#11 module path is required")
	}

	ctx := pkcs11.New(cfg.Module)
	if ctx == nil {
		return nil, fmt.Errorf("entropy: load PKCS#11 module %s", cfg.Module)
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("entropy: initialize PKCS#11: %w", err)
	}

	// Some tokens only expose their slots after C_GetSlotList.
	if _, err := ctx.GetSlotList(true); err != nil {
		_ = ctx.Finalize()
		ctx.Destroy()
		return nil, fmt.Errorf("entropy: PKCS#11 slot list: %w", err)
	}

	session, err := ctx.OpenSession(cfg.SlotID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		_ = ctx.Finalize()
		ctx.Destroy()
		return nil, fmt.Errorf("entropy: PKCS#11 open session: %w", err)
	}

	s := &pkcs11Source{ctx: ctx, session: session}
	if cfg.PIN != "" {
		if err := ctx.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("entropy: PKCS#11 login: %w", err)
		}
		s.loggedIn = true
	}
	return s, nil
}

func pkcs11Available() bool {
	return true
}

func (p *pkcs11Source) Rand(n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		return nil, ErrClosed
	}
	b, err := p.ctx.GenerateRandom(p.session, n)
	if err != nil {
		return nil, fmt.Errorf("entropy: C_GenerateRandom: %w", err)
	}
	if len(b) != n {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, len(b), n)
	}
	return b, nil
}

func (p *pkcs11Source) Read(b []byte) (int, error) {
	data, err := p.Rand(len(b))
	if err != nil {
		return 0, err
	}
	return copy(b, data), nil
}

func (p *pkcs11Source) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx != nil
}

func (p *pkcs11Source) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		return nil
	}
	if p.loggedIn {
		_ = p.ctx.Logout(p.session)
	}
	_ = p.ctx.CloseSession(p.session)
	_ = p.ctx.Finalize()
	p.ctx.Destroy()
	p.ctx = nil
	return nil
}
