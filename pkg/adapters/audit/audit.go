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

// Package audit provides an adapter interface for the device's audit
// trail: every signature handed out, every address bound, every key
// created or imported.
//
// This follows the same pattern as the logger adapter: components accept
// an AuditAdapter and do nothing when none is given.
package audit

import (
	"context"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Key Management Events
	EventKeyGenerate EventType = "key.generate"
	EventKeyImport   EventType = "key.import"

	// Protocol Events
	EventSign   EventType = "crypto.sign"
	EventBind   EventType = "advertise.bind"
	EventReject EventType = "protocol.reject"

	// System Events
	EventSystemStart EventType = "system.start"
)

// EventOutcome indicates the result of an operation
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// ID is a unique identifier for this audit event
	ID string `json:"id"`

	// Timestamp when the event occurred
	Timestamp time.Time `json:"timestamp"`

	EventType EventType    `json:"event_type"`
	Outcome   EventOutcome `json:"outcome"`

	// Result holds the status or error for failed operations
	Result string `json:"result,omitempty"`

	// Metadata stores additional context, e.g. the signed hash
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// RequestID is the correlation ID of the exchange
	RequestID string `json:"request_id,omitempty"`
}

// AuditAdapter provides audit logging capabilities.
type AuditAdapter interface {
	// LogEvent records an audit event
	LogEvent(ctx context.Context, event *AuditEvent) error

	// GetEvents retrieves audit events, newest first
	GetEvents(ctx context.Context, query *EventQuery) ([]*AuditEvent, error)
}

// EventQuery provides parameters for querying audit events
type EventQuery struct {
	// EventTypes filters by event type
	EventTypes []EventType

	// Outcomes filters by outcome
	Outcomes []EventOutcome

	// RequestID filters by correlation ID
	RequestID string

	// Limit limits the number of results
	Limit int
}

// Matches reports whether event satisfies the query.
func (q *EventQuery) Matches(event *AuditEvent) bool {
	if q == nil {
		return true
	}
	if len(q.EventTypes) > 0 && !contains(q.EventTypes, event.EventType) {
		return false
	}
	if len(q.Outcomes) > 0 && !contains(q.Outcomes, event.Outcome) {
		return false
	}
	if q.RequestID != "" && q.RequestID != event.RequestID {
		return false
	}
	return true
}

func contains[T comparable](items []T, v T) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
