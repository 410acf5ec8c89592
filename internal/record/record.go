package record

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Tag names a logical stream such as "history" or "kv".
type Tag string

// Tags with a builder in this module. The store accepts any non-empty tag.
const (
	TagHistory Tag = "history"
	TagAlias   Tag = "alias"
	TagScript  Tag = "script"
	TagKV      Tag = "kv"
	TagEvent   Tag = "event"
)

// Valid reports whether t can name a stream: non-empty NFC UTF-8, without
// spaces or control characters. Associated data is NFC-normalized, so a
// non-NFC tag would share it with its normalized twin.
func (t Tag) Valid() bool {
	s := string(t)
	if s == "" || !utf8.ValidString(s) || !norm.NFC.IsNormalString(s) {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) < 0
}

// Idx is the per-(host, tag) sequence number. It orders records within one
// stream only and says nothing about order across devices.
type Idx uint64

// Record is one immutable entry of a (Host, Tag) stream.
type Record[T any] struct {
	ID        RecordID  `json:"id"`
	Host      HostID    `json:"host"`
	Parent    *RecordID `json:"parent,omitempty"`
	Version   string    `json:"version"`
	Tag       Tag       `json:"tag"`
	Idx       Idx       `json:"idx"`
	Timestamp int64     `json:"timestamp"` // nanoseconds since epoch
	Data      T         `json:"data"`
}

// Encrypted is the opaque envelope that is stored and sent to the relay.
// Ciphertext carries the AEAD authentication tag as its suffix.
type Encrypted struct {
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Size is the encrypted payload length checked against relay quotas.
func (e Encrypted) Size() int {
	return len(e.Nonce) + len(e.Ciphertext)
}

// Decrypted is a plaintext payload, still in its serialized form.
type Decrypted []byte

// Stream identifies one append-only sequence.
type Stream struct {
	Host HostID `json:"host"`
	Tag  Tag    `json:"tag"`
}

// Stream returns the stream the record belongs to.
func (r Record[T]) Stream() Stream {
	return Stream{Host: r.Host, Tag: r.Tag}
}

// Key returns the slot identity (host, tag, idx) used to bind ciphertext.
func (r Record[T]) Key() Key {
	return Key{ID: r.ID, Host: r.Host, Tag: r.Tag, Idx: r.Idx}
}

// Key is the key-independent identity of a record slot.
type Key struct {
	ID   RecordID
	Host HostID
	Tag  Tag
	Idx  Idx
}

// WithData returns a copy of r carrying a different payload representation.
// Identity and chain metadata are preserved unchanged.
func WithData[T, U any](r Record[T], data U) Record[U] {
	return Record[U]{
		ID:        r.ID,
		Host:      r.Host,
		Parent:    r.Parent,
		Version:   r.Version,
		Tag:       r.Tag,
		Idx:       r.Idx,
		Timestamp: r.Timestamp,
		Data:      data,
	}
}

// Status maps host → tag → last idx. It summarises a store and drives sync.
type Status map[HostID]map[Tag]Idx

// NewStatus returns an empty status.
func NewStatus() Status {
	return Status{}
}

// Set records last as the last idx of (host, tag).
func (s Status) Set(host HostID, tag Tag, last Idx) {
	tags, ok := s[host]
	if !ok {
		tags = map[Tag]Idx{}
		s[host] = tags
	}
	tags[tag] = last
}

// Get returns the last idx for (host, tag) and whether the stream is known.
func (s Status) Get(host HostID, tag Tag) (Idx, bool) {
	tags, ok := s[host]
	if !ok {
		return 0, false
	}
	idx, ok := tags[tag]
	return idx, ok
}

// Streams returns every stream in s, sorted by host then tag.
func (s Status) Streams() []Stream {
	var out []Stream
	for host, tags := range s {
		for tag := range tags {
			out = append(out, Stream{Host: host, Tag: tag})
		}
	}
	SortStreams(out)
	return out
}

// Equal reports whether two status snapshots describe the same streams.
func (s Status) Equal(o Status) bool {
	if len(s.Streams()) != len(o.Streams()) {
		return false
	}
	for _, st := range s.Streams() {
		a, _ := s.Get(st.Host, st.Tag)
		b, ok := o.Get(st.Host, st.Tag)
		if !ok || a != b {
			return false
		}
	}
	return true
}

// SortStreams orders streams by host string then tag.
func SortStreams(streams []Stream) {
	sort.Slice(streams, func(i, j int) bool {
		hi, hj := streams[i].Host.String(), streams[j].Host.String()
		if hi != hj {
			return hi < hj
		}
		return streams[i].Tag < streams[j].Tag
	})
}

// SortForBuild orders records by timestamp, breaking ties by host and idx so
// that every device folds a merged stream in the same order.
func SortForBuild[T any](recs []Record[T]) {
	sort.SliceStable(recs, func(i, j int) bool {
		return LessForBuild(recs[i], recs[j])
	})
}

// LessForBuild is the ordering used by SortForBuild.
func LessForBuild[T any](a, b Record[T]) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if ha, hb := a.Host.String(), b.Host.String(); ha != hb {
		return ha < hb
	}
	return a.Idx < b.Idx
}
