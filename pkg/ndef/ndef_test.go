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

package ndef

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURIRecord_Marshal(t *testing.T) {
	r := NewURIRecord("phygital.tuszy.com", URIPrefixHTTPSWWW)
	r.MessageBegin = true

	b, err := r.Marshal()
	require.NoError(t, err)

	want := []byte{0x91, 0x01, 0x13, 'U', 0x02}
	want = append(want, "phygital.tuszy.com"...)
	assert.Equal(t, want, b)

	uri, err := r.URI()
	require.NoError(t, err)
	assert.Equal(t, "https://www.phygital.tuszy.com", uri)
}

func TestTextRecord_Marshal(t *testing.T) {
	r := NewTextRecord("0xabc", "en")
	r.MessageEnd = true

	b, err := r.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x51, 0x01, 0x08, 'T', 0x02, 'e', 'n', '0', 'x', 'a', 'b', 'c'}, b)

	text, err := r.Text()
	require.NoError(t, err)
	assert.Equal(t, "0xabc", text)

	lang, err := r.Language()
	require.NoError(t, err)
	assert.Equal(t, "en", lang)
}

func TestMarshal_PayloadTooLarge(t *testing.T) {
	r := NewTextRecord(string(bytes.Repeat([]byte{'a'}, 300)), "en")
	_, err := r.Marshal()
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Marshal(NewURIRecord("x", URIPrefixNone), r)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestMarshalUnmarshal_Message(t *testing.T) {
	msg, err := Marshal(
		NewURIRecord("phygital.tuszy.com", URIPrefixHTTPSWWW),
		NewTextRecord("own", "en"),
		NewTextRecord("linked", "en"),
	)
	require.NoError(t, err)

	records, err := Unmarshal(msg)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.True(t, records[0].MessageBegin)
	assert.False(t, records[0].MessageEnd)
	assert.False(t, records[1].MessageBegin)
	assert.False(t, records[1].MessageEnd)
	assert.True(t, records[2].MessageEnd)

	text, err := records[2].Text()
	require.NoError(t, err)
	assert.Equal(t, "linked", text)
}

func TestUnmarshal_StopsAtMessageEnd(t *testing.T) {
	msg, err := Marshal(NewTextRecord("only", "en"))
	require.NoError(t, err)

	records, err := Unmarshal(append(msg, 0xDE, 0xAD))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestUnmarshal_LongRecordAndID(t *testing.T) {
	// MB|ME|IL, TNF well-known, long payload length form.
	b := []byte{0xC9, 0x01, 0x00, 0x00, 0x00, 0x03, 0x02, 'T', 'i', 'd', 0x00, 'h', 'i'}
	records, err := Unmarshal(b)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("id"), records[0].ID)

	text, err := records[0].Text()
	require.NoError(t, err)
	assert.Equal(t, "hi", text)

	// ID survives a re-encode as a short record.
	short, err := records[0].Marshal()
	require.NoError(t, err)
	again, err := Unmarshal(short)
	require.NoError(t, err)
	assert.Equal(t, records, again)
}

func TestUnmarshal_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"header only", []byte{0xD1, 0x01}, ErrTruncated},
		{"payload overrun", []byte{0xD1, 0x01, 0x05, 'T', 0x00}, ErrTruncated},
		{"long length overrun", []byte{0xC1, 0x01, 0x00}, ErrTruncated},
		{"chunked", []byte{0xB1, 0x01, 0x00, 'T'}, ErrChunked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeHelpers_Errors(t *testing.T) {
	_, err := NewTextRecord("x", "en").URI()
	require.ErrorIs(t, err, ErrWrongType)

	_, err = NewURIRecord("x", URIPrefixNone).Text()
	require.ErrorIs(t, err, ErrWrongType)

	_, err = NewURIRecord("x", 0x99).URI()
	require.ErrorIs(t, err, ErrMalformed)

	bad := Record{TNF: TNFWellKnown, Type: []byte("T"), Payload: []byte{0x05, 'e'}}
	_, err = bad.Text()
	require.ErrorIs(t, err, ErrMalformed)

	utf16 := Record{TNF: TNFWellKnown, Type: []byte("T"), Payload: []byte{0x80}}
	_, err = utf16.Text()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestURIPrefixTable(t *testing.T) {
	p, ok := URIPrefix(URIPrefixHTTPSWWW)
	require.True(t, ok)
	assert.Equal(t, "https://www.", p)

	code, ok := ParseURIPrefix("https://www.")
	require.True(t, ok)
	assert.Equal(t, URIPrefixHTTPSWWW, code)

	code, ok = ParseURIPrefix("urn:nfc:")
	require.True(t, ok)
	assert.Equal(t, URIPrefixURNNFC, code)

	_, ok = URIPrefix(0x24)
	assert.False(t, ok)
	_, ok = ParseURIPrefix("gopher://")
	assert.False(t, ok)
}

func TestWrapUnwrapTLV(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		header []byte
	}{
		{"empty", 0, []byte{0x03, 0x00}},
		{"short", 20, []byte{0x03, 20}},
		{"max short", 0xFE, []byte{0x03, 0xFE}},
		{"long", 0xFF, []byte{0x03, 0xFF, 0x00, 0xFF}},
		{"longer", 300, []byte{0x03, 0xFF, 0x01, 0x2C}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := bytes.Repeat([]byte{0x42}, tt.size)
			wrapped := WrapTLV(msg)

			assert.Equal(t, tt.header, wrapped[:len(tt.header)])
			assert.Equal(t, len(tt.header), TLVHeaderLength(tt.size))
			assert.Equal(t, TLVTerminator, wrapped[len(wrapped)-1])
			assert.Len(t, wrapped, len(tt.header)+tt.size+1)

			got, err := UnwrapTLV(wrapped)
			require.NoError(t, err)
			assert.Equal(t, msg, got)
		})
	}
}

func TestUnwrapTLV_SkipsOtherTLVs(t *testing.T) {
	area := []byte{TLVNull, TLVProprietary, 0x02, 0xAA, 0xBB, TLVNDEF, 0x01, 0x7F, TLVTerminator}
	got, err := UnwrapTLV(area)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7F}, got)
}

func TestUnwrapTLV_Errors(t *testing.T) {
	_, err := UnwrapTLV([]byte{TLVTerminator, TLVNDEF, 0x00})
	require.ErrorIs(t, err, ErrNoMessage)

	_, err = UnwrapTLV([]byte{0xFF, 0xFF, 0xFF})
	require.Error(t, err)

	_, err = UnwrapTLV([]byte{TLVNDEF, 0x05, 0x01})
	require.ErrorIs(t, err, ErrTruncated)

	_, err = UnwrapTLV(nil)
	require.ErrorIs(t, err, ErrNoMessage)
}
