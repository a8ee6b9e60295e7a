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

package advertise

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-phygital/pkg/address"
	"github.com/jeremyhahn/go-phygital/pkg/eeprom"
	"github.com/jeremyhahn/go-phygital/pkg/ndef"
	"github.com/jeremyhahn/go-phygital/pkg/tag"
)

const (
	ownAddress    = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	linkedAddress = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

type staticWallet string

func (w staticWallet) Address() string { return string(w) }

// recorder logs every call made by the builder.
type recorder struct {
	calls    []string
	failOn   int
	failWith error
}

func (r *recorder) WriteRecord(rec ndef.Record) error {
	r.calls = append(r.calls, describe(rec))
	if r.failOn > 0 && len(r.calls) == r.failOn {
		return r.failWith
	}
	return nil
}

func (r *recorder) SetDeliveryActive(active bool) error {
	r.calls = append(r.calls, fmt.Sprintf("active=%t", active))
	return nil
}

func describe(rec ndef.Record) string {
	var s string
	if uri, err := rec.URI(); err == nil {
		s = "uri:" + uri
	} else if text, err := rec.Text(); err == nil {
		s = "text:" + text
	}
	if rec.MessageBegin {
		s += " MB"
	}
	if rec.MessageEnd {
		s += " ME"
	}
	return s
}

func newBuilder(t *testing.T, w tag.RecordWriter) *Builder {
	t.Helper()
	b, err := NewBuilder(&Config{Writer: w, Wallet: staticWallet(ownAddress)})
	require.NoError(t, err)
	return b
}

func TestNewBuilder_Validation(t *testing.T) {
	_, err := NewBuilder(nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBuilder(&Config{Writer: &recorder{}})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBuilder(&Config{Writer: &recorder{}, Wallet: staticWallet(ownAddress), Prefix: 0x99})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRebuild_WithoutLinked(t *testing.T) {
	r := &recorder{}
	require.NoError(t, newBuilder(t, r).Rebuild(""))

	assert.Equal(t, []string{
		"active=false",
		"uri:https://www.phygital.tuszy.com MB",
		"text:" + ownAddress + " ME",
		"active=true",
	}, r.calls)
}

func TestRebuild_WithLinked(t *testing.T) {
	r := &recorder{}
	require.NoError(t, newBuilder(t, r).Rebuild(linkedAddress))

	assert.Equal(t, []string{
		"active=false",
		"uri:https://www.phygital.tuszy.com MB",
		"text:" + ownAddress,
		"text:" + linkedAddress + " ME",
		"active=true",
	}, r.calls)
}

func TestRebuild_FailureStillReenables(t *testing.T) {
	boom := errors.New("i2c nack")
	r := &recorder{failOn: 3, failWith: boom}

	var observed error
	b, err := NewBuilder(&Config{
		Writer:    r,
		Wallet:    staticWallet(ownAddress),
		OnRebuild: func(err error) { observed = err },
	})
	require.NoError(t, err)

	err = b.Rebuild(linkedAddress)
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, observed, boom)
	assert.Equal(t, "active=true", r.calls[len(r.calls)-1])
	assert.Len(t, r.calls, 4)
}

func TestRebuild_NoWalletAddress(t *testing.T) {
	r := &recorder{}
	b, err := NewBuilder(&Config{Writer: r, Wallet: staticWallet("")})
	require.NoError(t, err)

	require.ErrorIs(t, b.Rebuild(""), ErrNoAddress)
	assert.Empty(t, r.calls)
}

func TestBind(t *testing.T) {
	r := &recorder{}
	b := newBuilder(t, r)

	require.NoError(t, b.Bind(linkedAddress))
	assert.Equal(t, linkedAddress, b.Linked())
	assert.Equal(t, Advertisement{
		Identifier: "https://www.phygital.tuszy.com",
		Address:    ownAddress,
		Linked:     linkedAddress,
	}, b.Snapshot())

	other := "0X" + strings.Repeat("a", 40)
	require.NoError(t, b.Bind(other))
	assert.Equal(t, other, b.Linked())
}

func TestBind_Invalid(t *testing.T) {
	r := &recorder{}
	b := newBuilder(t, r)
	require.NoError(t, b.Bind(linkedAddress))
	r.calls = nil

	require.ErrorIs(t, b.Bind(linkedAddress[:41]), address.ErrInvalidLength)
	require.ErrorIs(t, b.Bind(linkedAddress+"0"), address.ErrInvalidLength)
	require.ErrorIs(t, b.Bind("0x"+strings.Repeat("!", 40)), address.ErrInvalidFormat)

	assert.Empty(t, r.calls)
	assert.Equal(t, linkedAddress, b.Linked())
}

func newTagWriter(t *testing.T) (*tag.Tag, *eeprom.Memory) {
	t.Helper()
	mem, err := eeprom.NewMemory(tag.DefaultMemorySize)
	require.NoError(t, err)
	tg, err := tag.New(&tag.Config{Memory: mem})
	require.NoError(t, err)
	require.NoError(t, tg.Configure())
	return tg, mem
}

func TestBind_Idempotent(t *testing.T) {
	onceTag, onceMem := newTagWriter(t)
	once := newBuilder(t, onceTag)
	require.NoError(t, once.Bind(linkedAddress))

	twiceTag, twiceMem := newTagWriter(t)
	twice := newBuilder(t, twiceTag)
	require.NoError(t, twice.Bind(linkedAddress))
	require.NoError(t, twice.Bind(linkedAddress))

	assert.Equal(t, onceMem.Bytes(), twiceMem.Bytes())
	assert.Equal(t, once.Snapshot(), twice.Snapshot())
	assert.True(t, twiceTag.Mailbox().Active())
}

func TestBind_PublishedRecords(t *testing.T) {
	tg, _ := newTagWriter(t)
	b := newBuilder(t, tg)
	require.NoError(t, b.Rebuild(""))

	records, err := tg.ReadRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NoError(t, b.Bind(linkedAddress))
	records, err = tg.ReadRecords()
	require.NoError(t, err)
	require.Len(t, records, 3)

	uri, err := records[0].URI()
	require.NoError(t, err)
	assert.Equal(t, "https://www.phygital.tuszy.com", uri)

	own, err := records[1].Text()
	require.NoError(t, err)
	assert.Equal(t, ownAddress, own)
	assert.False(t, records[1].MessageEnd)

	linked, err := records[2].Text()
	require.NoError(t, err)
	assert.Equal(t, linkedAddress, linked)
	assert.True(t, records[2].MessageEnd)

	lang, err := records[2].Language()
	require.NoError(t, err)
	assert.Equal(t, Language, lang)
}

func TestRestore_MatchingRecords(t *testing.T) {
	tg, _ := newTagWriter(t)
	b := newBuilder(t, tg)
	require.NoError(t, b.Bind(linkedAddress))
	records, err := tg.ReadRecords()
	require.NoError(t, err)

	fresh := newBuilder(t, tg)
	assert.True(t, fresh.Restore(records))
	assert.Equal(t, linkedAddress, fresh.Linked())
	assert.Equal(t, linkedAddress, fresh.Snapshot().Linked)
}

func TestRestore_WithoutLinked(t *testing.T) {
	tg, _ := newTagWriter(t)
	b := newBuilder(t, tg)
	require.NoError(t, b.Rebuild(""))
	records, err := tg.ReadRecords()
	require.NoError(t, err)

	assert.True(t, b.Restore(records))
	assert.Empty(t, b.Linked())
}

func TestRestore_StaleRecords(t *testing.T) {
	uri := ndef.NewURIRecord(DefaultIdentifier, DefaultPrefix)
	own := ndef.NewTextRecord(ownAddress, Language)
	other := ndef.NewTextRecord(linkedAddress, Language)

	tests := []struct {
		name    string
		records []ndef.Record
		linked  string
	}{
		{"empty", nil, ""},
		{"identifier only", []ndef.Record{uri}, ""},
		{"wrong address", []ndef.Record{uri, other}, ""},
		{"wrong identifier", []ndef.Record{ndef.NewURIRecord("example.com", DefaultPrefix), own}, ""},
		{"address first", []ndef.Record{own, uri}, ""},
		{"wrong address keeps linked", []ndef.Record{uri, other, other}, linkedAddress},
		{"invalid linked", []ndef.Record{uri, own, ndef.NewTextRecord("not-an-address", Language)}, ""},
		{"too many", []ndef.Record{uri, own, other, other}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(t, &recorder{})
			assert.False(t, b.Restore(tt.records))
			assert.Equal(t, tt.linked, b.Linked())
		})
	}
}
