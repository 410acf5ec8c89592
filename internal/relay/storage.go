package relay

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/roach88/histsync/internal/record"
)

// Storage holds every user's encrypted streams. The relay never sees
// plaintext; it only enforces the chain contract.
type Storage interface {
	// Append stores r at the tail of its stream for user.
	Append(ctx context.Context, user string, r record.Record[record.Encrypted]) (record.Decision, error)

	// Status returns the last idx of every stream user owns.
	Status(ctx context.Context, user string) (record.Status, error)

	// Range returns up to count records of a stream starting at idx start.
	Range(ctx context.Context, user string, host record.HostID, tag record.Tag, start record.Idx, count int) ([]record.Record[record.Encrypted], error)

	Close() error
}

// Key layout:
//
//	'r' user 0x00 host 0x00 tag 0x00 idx(8, big endian) -> record JSON
//	't' user 0x00 host 0x00 tag                         -> tail JSON
const (
	prefixRecord = 'r'
	prefixTail   = 't'
	sep          = 0x00
)

type tail struct {
	Idx record.Idx      `json:"idx"`
	ID  record.RecordID `json:"id"`
}

// LevelStorage is a Storage on goleveldb.
type LevelStorage struct {
	db    *leveldb.DB
	locks sync.Map // user -> *sync.Mutex
}

// OpenLevelStorage opens or creates the database directory at path.
func OpenLevelStorage(path string) (*LevelStorage, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing: false,
	})
	if err != nil {
		return nil, fmt.Errorf("open relay storage %s: %w", path, err)
	}
	return NewLevelStorage(db), nil
}

// NewLevelStorage wraps an open database.
func NewLevelStorage(db *leveldb.DB) *LevelStorage {
	return &LevelStorage{db: db}
}

func (l *LevelStorage) Close() error {
	return l.db.Close()
}

func (l *LevelStorage) userLock(user string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(user, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (l *LevelStorage) Append(ctx context.Context, user string, r record.Record[record.Encrypted]) (record.Decision, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	mu := l.userLock(user)
	mu.Lock()
	defer mu.Unlock()

	st := r.Stream()
	last, err := l.tail(user, st)
	if err != nil {
		return 0, err
	}

	var (
		lastRec  *record.Record[record.Encrypted]
		existing *record.Record[record.Encrypted]
	)
	if last != nil {
		lastRec = &record.Record[record.Encrypted]{ID: last.ID, Host: st.Host, Tag: st.Tag, Idx: last.Idx}
		if r.Idx <= last.Idx {
			existing, err = l.get(recordKey(user, st, r.Idx))
			if err != nil {
				return 0, err
			}
		}
	}

	decision, err := record.CheckAppend(lastRec, existing, r)
	if err != nil || decision == record.AlreadyApplied {
		return decision, err
	}

	value, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}
	tailValue, err := json.Marshal(tail{Idx: r.Idx, ID: r.ID})
	if err != nil {
		return 0, fmt.Errorf("encode tail: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(recordKey(user, st, r.Idx), value)
	batch.Put(tailKey(user, st), tailValue)
	if err := l.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("append: %w: %w", record.ErrStorageUnavailable, err)
	}
	return record.Append, nil
}

func (l *LevelStorage) Status(ctx context.Context, user string) (record.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status := record.NewStatus()
	prefix := append([]byte{prefixTail}, userPrefix(user)...)
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		var t tail
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("decode tail: %w", err)
		}
		host, tag, err := splitStream(iter.Key()[len(prefix):])
		if err != nil {
			return nil, err
		}
		status.Set(host, tag, t.Idx)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("status: %w: %w", record.ErrStorageUnavailable, err)
	}
	return status, nil
}

func (l *LevelStorage) Range(ctx context.Context, user string, host record.HostID, tag record.Tag, start record.Idx, count int) ([]record.Record[record.Encrypted], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := record.Stream{Host: host, Tag: tag}
	bounds := util.BytesPrefix(streamPrefix(user, st))
	bounds.Start = recordKey(user, st, start)

	iter := l.db.NewIterator(bounds, nil)
	defer iter.Release()

	recs := []record.Record[record.Encrypted]{}
	for iter.Next() {
		if count > 0 && len(recs) >= count {
			break
		}
		var r record.Record[record.Encrypted]
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		recs = append(recs, r)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("range: %w: %w", record.ErrStorageUnavailable, err)
	}
	return recs, nil
}

func (l *LevelStorage) tail(user string, st record.Stream) (*tail, error) {
	value, err := l.db.Get(tailKey(user, st), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tail: %w: %w", record.ErrStorageUnavailable, err)
	}
	var t tail
	if err := json.Unmarshal(value, &t); err != nil {
		return nil, fmt.Errorf("decode tail: %w", err)
	}
	return &t, nil
}

func (l *LevelStorage) get(key []byte) (*record.Record[record.Encrypted], error) {
	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w: %w", record.ErrStorageUnavailable, err)
	}
	var r record.Record[record.Encrypted]
	if err := json.Unmarshal(value, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

func userPrefix(user string) []byte {
	return append([]byte(user), sep)
}

func streamSuffix(st record.Stream) []byte {
	b := append([]byte(st.Host.String()), sep)
	return append(b, string(st.Tag)...)
}

func streamPrefix(user string, st record.Stream) []byte {
	b := append([]byte{prefixRecord}, userPrefix(user)...)
	b = append(b, streamSuffix(st)...)
	return append(b, sep)
}

func recordKey(user string, st record.Stream, idx record.Idx) []byte {
	return binary.BigEndian.AppendUint64(streamPrefix(user, st), uint64(idx))
}

func tailKey(user string, st record.Stream) []byte {
	b := append([]byte{prefixTail}, userPrefix(user)...)
	return append(b, streamSuffix(st)...)
}

func splitStream(b []byte) (record.HostID, record.Tag, error) {
	for i, c := range b {
		if c == sep {
			host, err := record.ParseHostID(string(b[:i]))
			if err != nil {
				return record.HostID{}, "", err
			}
			return host, record.Tag(b[i+1:]), nil
		}
	}
	return record.HostID{}, "", fmt.Errorf("malformed tail key %q", b)
}
