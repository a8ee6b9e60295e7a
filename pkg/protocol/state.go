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

package protocol

import (
	"fmt"
	"sync/atomic"
)

// State is the dispatcher lifecycle state.
type State int32

const (
	// StateUninitialized rejects all commands.
	StateUninitialized State = iota

	// StateConfiguring is the transient first-boot tag setup.
	StateConfiguring

	// StateReady accepts commands.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

// advance moves forward only. Re-entering the current state is allowed.
func (m *stateMachine) advance(to State) error {
	if to < StateUninitialized || to > StateReady {
		return fmt.Errorf("%w: unknown state %d", ErrInvalidTransition, int32(to))
	}
	for {
		from := m.load()
		if to < from {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if m.v.CompareAndSwap(int32(from), int32(to)) {
			return nil
		}
	}
}
