package harness

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/roach88/histsync/internal/builder"
	"github.com/roach88/histsync/internal/client"
	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/history"
	"github.com/roach88/histsync/internal/journal"
	"github.com/roach88/histsync/internal/lock"
	"github.com/roach88/histsync/internal/maintenance"
	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
	"github.com/roach88/histsync/internal/store"
	"github.com/roach88/histsync/internal/syncer"
	"github.com/roach88/histsync/internal/testutil"
)

// device is one simulated machine.
type device struct {
	name    string
	host    record.HostID
	key     envelope.Key
	dbPath  string
	store   *store.Store
	history *history.DB
	ids     *testutil.SequentialIDs
	clock   *testutil.DeterministicClock
	journal *journal.Journal
	engine  *syncer.Engine
	entries int
}

func openDevice(dir string, n int, spec DeviceSpec, key envelope.Key, clock *testutil.DeterministicClock, remote *client.Client) (*device, error) {
	dbPath := filepath.Join(dir, spec.Name, "records.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", spec.Name, err)
	}
	hist, err := history.Open(filepath.Join(dir, spec.Name, "history.db"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("device %s: %w", spec.Name, err)
	}

	d := &device{
		name:    spec.Name,
		host:    testutil.HostID(n),
		dbPath:  dbPath,
		store:   st,
		history: hist,
		ids:     testutil.NewSequentialIDs(uint16(n)),
		clock:   clock,
		engine: syncer.New(st, remote, syncer.Options{
			PageSize: spec.PageSize,
			Retries:  -1,
		}),
	}
	d.setKey(key)
	return d, nil
}

func (d *device) setKey(key envelope.Key) {
	d.key = key
	d.journal = journal.New(d.store, d.host, key,
		journal.WithClock(d.clock.Now),
		journal.WithIDs(d.ids.Next),
	)
}

func (d *device) close() {
	d.history.Close()
	d.store.Close()
}

func (d *device) maintenance() *maintenance.Service {
	return maintenance.New(d.store, d.key, builder.NewSet(
		builder.NewHistoryBuilder(d.history),
		builder.NewAliasBuilder(),
		builder.NewScriptBuilder(),
		builder.NewKVBuilder(),
		builder.NewEventBuilder(),
	), lock.PathFor(d.dbPath))
}

// append writes op and keeps the history table current.
func (d *device) append(ctx context.Context, op payload.Operation) (record.Record[record.Encrypted], error) {
	rec, err := d.journal.Append(ctx, op)
	if err != nil {
		return rec, err
	}
	if rec.Tag == record.TagHistory {
		if _, err := builder.Extend(ctx, d.key, builder.NewHistoryBuilder(d.history), []record.Record[record.Encrypted]{rec}); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// appendRaw writes a record whose payload is size filler bytes under an
// arbitrary tag and version. It bypasses payload encoding.
func (d *device) appendRaw(ctx context.Context, tag record.Tag, version string, size int) (record.Record[record.Encrypted], error) {
	last, err := d.store.Last(ctx, d.host, tag)
	if err != nil {
		return record.Record[record.Encrypted]{}, err
	}
	plain := record.Record[record.Decrypted]{
		ID:        d.ids.Next(),
		Host:      d.host,
		Version:   version,
		Tag:       tag,
		Timestamp: d.clock.Now().UnixNano(),
		Data:      bytes.Repeat([]byte("x"), size),
	}
	if last != nil {
		id := last.ID
		plain.Parent = &id
		plain.Idx = last.Idx + 1
	}
	sealed, err := envelope.Seal(plain, d.key)
	if err != nil {
		return record.Record[record.Encrypted]{}, err
	}
	if _, err := d.store.Push(ctx, sealed); err != nil {
		return record.Record[record.Encrypted]{}, err
	}
	return sealed, nil
}

func (d *device) nextEntryID() string {
	d.entries++
	return fmt.Sprintf("%s-%d", d.name, d.entries)
}
