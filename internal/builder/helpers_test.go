package builder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
)

// chain seals operations into a valid chain for one host. Timestamps are the
// slice position unless overridden afterwards.
type chain struct {
	t    *testing.T
	key  envelope.Key
	host record.HostID
	recs []record.Record[record.Encrypted]
}

func newChain(t *testing.T, key envelope.Key, host record.HostID) *chain {
	return &chain{t: t, key: key, host: host}
}

func (c *chain) add(op payload.Operation) *chain {
	c.t.Helper()
	tag, version, data, err := payload.Encode(op)
	require.NoError(c.t, err)
	return c.addRaw(tag, version, data, c.key)
}

// addRaw appends a record with arbitrary version and plaintext, sealed with key.
func (c *chain) addRaw(tag record.Tag, version string, data []byte, key envelope.Key) *chain {
	c.t.Helper()
	r := record.Record[record.Decrypted]{
		ID:        record.NewRecordID(),
		Host:      c.host,
		Version:   version,
		Tag:       tag,
		Timestamp: int64(len(c.recs) + 1),
		Data:      data,
	}
	if n := len(c.recs); n > 0 {
		id := c.recs[n-1].ID
		r.Parent = &id
		r.Idx = c.recs[n-1].Idx + 1
	}
	sealed, err := envelope.Seal(r, key)
	require.NoError(c.t, err)
	c.recs = append(c.recs, sealed)
	return c
}

func testKey(t *testing.T) envelope.Key {
	t.Helper()
	k, err := envelope.GenerateKey()
	require.NoError(t, err)
	return k
}
