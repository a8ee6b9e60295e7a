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

// Package ndef encodes and decodes NFC Forum NDEF short records and the
// Type 5 tag TLV framing that wraps an NDEF message in user memory.
package ndef

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Type name formats.
const (
	TNFEmpty     byte = 0x00
	TNFWellKnown byte = 0x01
	TNFMedia     byte = 0x02
	TNFAbsurl    byte = 0x03
	TNFExternal  byte = 0x04
	TNFUnknown   byte = 0x05
	TNFUnchanged byte = 0x06
)

// Record header flags.
const (
	flagMB  byte = 0x80
	flagME  byte = 0x40
	flagCF  byte = 0x20
	flagSR  byte = 0x10
	flagIL  byte = 0x08
	tnfMask byte = 0x07
)

// MaxShortPayload is the largest payload a short record can carry.
const MaxShortPayload = 0xFF

var (
	// ErrPayloadTooLarge is returned when a payload does not fit a short record.
	ErrPayloadTooLarge = errors.New("ndef: payload exceeds short record limit")

	// ErrTruncated is returned when a record extends past the input.
	ErrTruncated = errors.New("ndef: truncated record")

	// ErrChunked is returned for chunked records, which are not supported.
	ErrChunked = errors.New("ndef: chunked records not supported")

	// ErrWrongType is returned by the decode helpers for a record of another type.
	ErrWrongType = errors.New("ndef: unexpected record type")

	// ErrMalformed is returned for payloads that violate the record type definition.
	ErrMalformed = errors.New("ndef: malformed payload")
)

var (
	typeURI  = []byte("U")
	typeText = []byte("T")
)

// Record is a single NDEF record.
type Record struct {
	TNF     byte
	Type    []byte
	ID      []byte
	Payload []byte

	// MessageBegin marks the first record of a message.
	MessageBegin bool

	// MessageEnd marks the terminal record of a message.
	MessageEnd bool
}

// NewURIRecord returns a well-known URI record. prefix is one of the
// URIPrefix codes and is not repeated in uri.
func NewURIRecord(uri string, prefix byte) Record {
	payload := make([]byte, 0, len(uri)+1)
	payload = append(payload, prefix)
	payload = append(payload, uri...)
	return Record{TNF: TNFWellKnown, Type: typeURI, Payload: payload}
}

// NewTextRecord returns a well-known UTF-8 text record.
func NewTextRecord(text, lang string) Record {
	payload := make([]byte, 0, 1+len(lang)+len(text))
	payload = append(payload, byte(len(lang)&0x3F))
	payload = append(payload, lang...)
	payload = append(payload, text...)
	return Record{TNF: TNFWellKnown, Type: typeText, Payload: payload}
}

// IsURI reports whether r is a well-known URI record.
func (r Record) IsURI() bool {
	return r.TNF == TNFWellKnown && string(r.Type) == string(typeURI)
}

// IsText reports whether r is a well-known text record.
func (r Record) IsText() bool {
	return r.TNF == TNFWellKnown && string(r.Type) == string(typeText)
}

// URI returns the full URI of a URI record, with its prefix expanded.
func (r Record) URI() (string, error) {
	if !r.IsURI() {
		return "", ErrWrongType
	}
	if len(r.Payload) == 0 {
		return "", fmt.Errorf("%w: empty URI payload", ErrMalformed)
	}
	prefix, ok := URIPrefix(r.Payload[0])
	if !ok {
		return "", fmt.Errorf("%w: unknown URI prefix 0x%02x", ErrMalformed, r.Payload[0])
	}
	return prefix + string(r.Payload[1:]), nil
}

// Text returns the text of a text record. Only UTF-8 text is supported.
func (r Record) Text() (string, error) {
	text, _, err := r.decodeText()
	return text, err
}

// Language returns the IANA language code of a text record.
func (r Record) Language() (string, error) {
	_, lang, err := r.decodeText()
	return lang, err
}

func (r Record) decodeText() (string, string, error) {
	if !r.IsText() {
		return "", "", ErrWrongType
	}
	if len(r.Payload) == 0 {
		return "", "", fmt.Errorf("%w: empty text payload", ErrMalformed)
	}
	status := r.Payload[0]
	if status&0x80 != 0 {
		return "", "", fmt.Errorf("%w: UTF-16 text", ErrMalformed)
	}
	n := int(status & 0x3F)
	if 1+n > len(r.Payload) {
		return "", "", fmt.Errorf("%w: language code overruns payload", ErrMalformed)
	}
	text := r.Payload[1+n:]
	if !utf8.Valid(text) {
		return "", "", fmt.Errorf("%w: invalid UTF-8", ErrMalformed)
	}
	return string(text), string(r.Payload[1 : 1+n]), nil
}

// Marshal encodes r as a short record.
func (r Record) Marshal() ([]byte, error) {
	if len(r.Payload) > MaxShortPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(r.Payload))
	}
	if len(r.Type) > 0xFF || len(r.ID) > 0xFF {
		return nil, fmt.Errorf("%w: type or id longer than 255 bytes", ErrMalformed)
	}

	header := flagSR | (r.TNF & tnfMask)
	if r.MessageBegin {
		header |= flagMB
	}
	if r.MessageEnd {
		header |= flagME
	}
	if len(r.ID) > 0 {
		header |= flagIL
	}

	out := make([]byte, 0, 4+len(r.Type)+len(r.ID)+len(r.Payload))
	out = append(out, header, byte(len(r.Type)), byte(len(r.Payload)))
	if len(r.ID) > 0 {
		out = append(out, byte(len(r.ID)))
	}
	out = append(out, r.Type...)
	out = append(out, r.ID...)
	out = append(out, r.Payload...)
	return out, nil
}

// Marshal encodes records as one message, setting MB on the first and ME
// on the last record.
func Marshal(records ...Record) ([]byte, error) {
	var out []byte
	for i, r := range records {
		r.MessageBegin = i == 0
		r.MessageEnd = i == len(records)-1
		b, err := r.Marshal()
		if err != nil {
			return nil, fmt.Errorf("ndef: record %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// Unmarshal parses a concatenated record sequence. Both short and long
// records are accepted; parsing stops after a record with ME set.
func Unmarshal(b []byte) ([]Record, error) {
	var records []Record
	for len(b) > 0 {
		r, n, err := parseRecord(b)
		if err != nil {
			return nil, fmt.Errorf("ndef: record %d: %w", len(records), err)
		}
		records = append(records, r)
		b = b[n:]
		if r.MessageEnd {
			break
		}
	}
	return records, nil
}

func parseRecord(b []byte) (Record, int, error) {
	if len(b) < 3 {
		return Record{}, 0, ErrTruncated
	}
	header := b[0]
	if header&flagCF != 0 {
		return Record{}, 0, ErrChunked
	}

	typeLen := int(b[1])
	off := 2
	var payloadLen int
	if header&flagSR != 0 {
		payloadLen = int(b[off])
		off++
	} else {
		if len(b) < off+4 {
			return Record{}, 0, ErrTruncated
		}
		payloadLen = int(b[off])<<24 | int(b[off+1])<<16 | int(b[off+2])<<8 | int(b[off+3])
		off += 4
	}
	idLen := 0
	if header&flagIL != 0 {
		if len(b) < off+1 {
			return Record{}, 0, ErrTruncated
		}
		idLen = int(b[off])
		off++
	}

	end := off + typeLen + idLen + payloadLen
	if payloadLen < 0 || end > len(b) {
		return Record{}, 0, ErrTruncated
	}

	r := Record{
		TNF:          header & tnfMask,
		MessageBegin: header&flagMB != 0,
		MessageEnd:   header&flagME != 0,
	}
	r.Type = append([]byte(nil), b[off:off+typeLen]...)
	off += typeLen
	if idLen > 0 {
		r.ID = append([]byte(nil), b[off:off+idLen]...)
		off += idLen
	}
	r.Payload = append([]byte(nil), b[off:end]...)
	return r, end, nil
}

// String renders r for diagnostics.
func (r Record) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "tnf=%d type=%q", r.TNF, r.Type)
	if s, err := r.URI(); err == nil {
		fmt.Fprintf(&sb, " uri=%q", s)
	} else if s, err := r.Text(); err == nil {
		fmt.Fprintf(&sb, " text=%q", s)
	} else {
		fmt.Fprintf(&sb, " payload=%d bytes", len(r.Payload))
	}
	if r.MessageBegin {
		sb.WriteString(" MB")
	}
	if r.MessageEnd {
		sb.WriteString(" ME")
	}
	return sb.String()
}
