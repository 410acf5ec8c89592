package record

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_SetGet(t *testing.T) {
	s := NewStatus()
	a, b := NewHostID(), NewHostID()

	s.Set(a, TagHistory, 4)
	s.Set(a, TagKV, 0)
	s.Set(b, TagHistory, 9)

	idx, ok := s.Get(a, TagHistory)
	require.True(t, ok)
	assert.Equal(t, Idx(4), idx)

	_, ok = s.Get(b, TagKV)
	assert.False(t, ok)
	assert.Len(t, s.Streams(), 3)
}

func TestStatus_Equal(t *testing.T) {
	a := NewHostID()
	s1, s2 := NewStatus(), NewStatus()
	s1.Set(a, TagHistory, 1)
	s2.Set(a, TagHistory, 1)
	assert.True(t, s1.Equal(s2))

	s2.Set(a, TagKV, 0)
	assert.False(t, s1.Equal(s2))
	assert.False(t, s2.Equal(s1))
}

func TestStatus_JSONRoundTrip(t *testing.T) {
	s := NewStatus()
	host := NewHostID()
	s.Set(host, TagAlias, 12)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), host.String())

	var back Status
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, s.Equal(back))
}

func TestRecord_JSONShape(t *testing.T) {
	parent := NewRecordID()
	r := Record[Encrypted]{
		ID:        NewRecordID(),
		Host:      NewHostID(),
		Parent:    &parent,
		Version:   "v1",
		Tag:       TagHistory,
		Idx:       1,
		Timestamp: 1700000000000000000,
		Data:      Encrypted{Scheme: "v1", Nonce: []byte{1, 2}, Ciphertext: []byte{3}},
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var back Record[Encrypted]
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r, back)
	assert.Equal(t, 3, back.Data.Size())
}

func TestSortForBuild_TieBreak(t *testing.T) {
	h1 := MustHostID("00000000-0000-0000-0000-000000000001")
	h2 := MustHostID("00000000-0000-0000-0000-000000000002")

	recs := []Record[Decrypted]{
		{Host: h2, Idx: 0, Timestamp: 10},
		{Host: h1, Idx: 1, Timestamp: 10},
		{Host: h1, Idx: 0, Timestamp: 10},
		{Host: h2, Idx: 1, Timestamp: 5},
	}
	SortForBuild(recs)

	assert.Equal(t, int64(5), recs[0].Timestamp)
	assert.Equal(t, h1, recs[1].Host)
	assert.Equal(t, Idx(0), recs[1].Idx)
	assert.Equal(t, h1, recs[2].Host)
	assert.Equal(t, Idx(1), recs[2].Idx)
	assert.Equal(t, h2, recs[3].Host)
}

func TestWithData_PreservesIdentity(t *testing.T) {
	parent := NewRecordID()
	r := Record[Decrypted]{ID: NewRecordID(), Host: NewHostID(), Parent: &parent, Version: "v1", Tag: TagKV, Idx: 3, Timestamp: 7}

	out := WithData(r, Encrypted{Scheme: "v1"})
	assert.Equal(t, r.Key(), out.Key())
	assert.Equal(t, r.Parent, out.Parent)
	assert.Equal(t, r.Timestamp, out.Timestamp)
}

func TestAssociatedData_Deterministic(t *testing.T) {
	k := Key{ID: NewRecordID(), Host: NewHostID(), Tag: TagHistory, Idx: 3}

	a := AssociatedData(k)
	b := AssociatedData(k)
	assert.Equal(t, a, b)
	assert.True(t, bytes.HasPrefix(a, []byte(adDomain+"\x00")))
	assert.Contains(t, string(a), `"idx":3`)

	k.Idx = 4
	assert.NotEqual(t, a, AssociatedData(k))
}

func TestAssociatedData_NFC(t *testing.T) {
	host, id := NewHostID(), NewRecordID()
	// "é" precomposed vs. e + combining acute accent.
	a := AssociatedData(Key{ID: id, Host: host, Tag: Tag("caf\u00e9"), Idx: 0})
	b := AssociatedData(Key{ID: id, Host: host, Tag: Tag("cafe\u0301"), Idx: 0})
	assert.Equal(t, a, b)
}

func TestMarshalCanonicalString_NoHTMLEscape(t *testing.T) {
	out, err := marshalCanonicalString("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(out))
}

func TestLoadOrCreateHostID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "host_id")

	first, err := LoadOrCreateHostID(path)
	require.NoError(t, err)

	second, err := LoadOrCreateHostID(path)
	require.NoError(t, err)
	assert.Equal(t, first, second, "host id must be stable across runs")
}

func TestLoadOrCreateHostID_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_id")
	require.NoError(t, os.WriteFile(path, []byte("not-a-uuid"), 0o600))

	_, err := LoadOrCreateHostID(path)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not-a-uuid", string(data), "corrupt host id must not be replaced")
}

func TestTag_Valid(t *testing.T) {
	for _, tag := range []Tag{TagHistory, TagKV, "custom.tag", "caf\u00e9"} {
		assert.True(t, tag.Valid(), tag)
	}
	for _, tag := range []Tag{"", " history", "not a tag", "nul\x00tag", "tab\t", "cafe\u0301", "bad\xff"} {
		assert.False(t, tag.Valid(), "%q", tag)
	}
}
