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

package logger

// NoOp discards everything. It is the default sink for library components.
type NoOp struct{}

// NewNoOp returns a Logger that discards all entries.
func NewNoOp() Logger {
	return NoOp{}
}

func (NoOp) Debug(string, ...Field) {}
func (NoOp) Info(string, ...Field) {}
func (NoOp) Warn(string, ...Field) {}
func (NoOp) Error(string, ...Field) {}
func (NoOp) Fatal(string, ...Field) {}
func (n NoOp) With(...Field) Logger { return n }
func (n NoOp) WithError(error) Logger { return n }

// OrNoOp returns l, or a NoOp when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOp{}
	}
	return l
}
