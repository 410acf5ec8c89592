// Package journal turns local mutations into records.
//
// Every Append reads the tail of the device's own stream for the operation's
// tag, chains a new record onto it, seals it with the user key and pushes
// it into the local store. Only the owning device ever appends to a stream,
// so the journal is the single writer for (host, tag).
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
	"github.com/roach88/histsync/internal/store"
)

// Journal appends operations for one host.
type Journal struct {
	store  *store.Store
	host   record.HostID
	key    envelope.Key
	now    func() time.Time
	newID  func() record.RecordID
	logger *slog.Logger

	mu sync.Mutex
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock sets the timestamp source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// WithIDs sets the record id source. Default: record.NewRecordID.
func WithIDs(next func() record.RecordID) Option {
	return func(j *Journal) {
		j.newID = next
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = l
	}
}

// New creates a Journal writing host's streams into s.
func New(s *store.Store, host record.HostID, key envelope.Key, opts ...Option) *Journal {
	j := &Journal{
		store:  s,
		host:   host,
		key:    key,
		now:    time.Now,
		newID:  record.NewRecordID,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Host returns the host this journal writes for.
func (j *Journal) Host() record.HostID {
	return j.host
}

// Append records op at the tail of its stream and returns the stored record.
func (j *Journal) Append(ctx context.Context, op payload.Operation) (record.Record[record.Encrypted], error) {
	tag, version, data, err := payload.Encode(op)
	if err != nil {
		return record.Record[record.Encrypted]{}, fmt.Errorf("append: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	last, err := j.store.Last(ctx, j.host, tag)
	if err != nil {
		return record.Record[record.Encrypted]{}, fmt.Errorf("append %s: %w", tag, err)
	}

	plain := record.Record[record.Decrypted]{
		ID:        j.newID(),
		Host:      j.host,
		Version:   version,
		Tag:       tag,
		Timestamp: j.now().UnixNano(),
		Data:      data,
	}
	if last != nil {
		id := last.ID
		plain.Parent = &id
		plain.Idx = last.Idx + 1
	}

	sealed, err := envelope.Seal(plain, j.key)
	if err != nil {
		return record.Record[record.Encrypted]{}, fmt.Errorf("append %s: %w", tag, err)
	}
	if _, err := j.store.Push(ctx, sealed); err != nil {
		return record.Record[record.Encrypted]{}, fmt.Errorf("append %s: %w", tag, err)
	}

	j.logger.Debug("record appended",
		"tag", tag,
		"idx", sealed.Idx,
		"id", sealed.ID.String(),
	)
	return sealed, nil
}
