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

package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of events a MemoryAuditAdapter retains.
const DefaultCapacity = 1024

// MemoryAuditAdapter implements AuditAdapter with a bounded in-memory ring.
// The oldest events are dropped once capacity is reached and everything
// is lost on restart.
type MemoryAuditAdapter struct {
	mu     sync.RWMutex
	events []*AuditEvent
	next   int
	full   bool
	total  int64
}

// NewMemoryAuditAdapter creates an adapter keeping the last capacity
// events. A non-positive capacity selects DefaultCapacity.
func NewMemoryAuditAdapter(capacity int) *MemoryAuditAdapter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryAuditAdapter{events: make([]*AuditEvent, capacity)}
}

// LogEvent records an audit event in memory
func (m *MemoryAuditAdapter) LogEvent(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return errors.New("audit: event cannot be nil")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[m.next] = event
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	m.total++
	return nil
}

// GetEvents returns matching events, newest first
func (m *MemoryAuditAdapter) GetEvents(ctx context.Context, query *EventQuery) ([]*AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.next
	if m.full {
		n = len(m.events)
	}

	results := make([]*AuditEvent, 0, n)
	for i := 1; i <= n; i++ {
		event := m.events[(m.next-i+len(m.events))%len(m.events)]
		if !query.Matches(event) {
			continue
		}
		results = append(results, event)
		if query != nil && query.Limit > 0 && len(results) == query.Limit {
			break
		}
	}
	return results, nil
}

// Total returns the number of events ever logged, including dropped ones.
func (m *MemoryAuditAdapter) Total() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}
