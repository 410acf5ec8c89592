package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/histsync/internal/record"
)

const recordColumns = `id, host, tag, idx, parent, version, timestamp, scheme, nonce, ciphertext`

// Range returns up to count records of (host, tag) starting at idx start,
// ordered by idx. count <= 0 reads to the end of the stream.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Range(ctx context.Context, host record.HostID, tag record.Tag, start record.Idx, count int) ([]record.Record[record.Encrypted], error) {
	limit := int64(count)
	if count <= 0 {
		limit = -1
	}
	return s.query(ctx, "range", `
		SELECT `+recordColumns+` FROM records
		WHERE host = ? AND tag = ? AND idx >= ?
		ORDER BY idx ASC
		LIMIT ?
	`, host.String(), string(tag), int64(start), limit)
}

// First returns the record at the head of (host, tag), or nil if the stream
// is empty or unknown.
func (s *Store) First(ctx context.Context, host record.HostID, tag record.Tag) (*record.Record[record.Encrypted], error) {
	return s.queryOne(ctx, "first", `
		SELECT `+recordColumns+` FROM records
		WHERE host = ? AND tag = ?
		ORDER BY idx ASC LIMIT 1
	`, host.String(), string(tag))
}

// Last returns the record at the tail of (host, tag), or nil if the stream
// is empty or unknown.
func (s *Store) Last(ctx context.Context, host record.HostID, tag record.Tag) (*record.Record[record.Encrypted], error) {
	return s.queryOne(ctx, "last", `
		SELECT `+recordColumns+` FROM records
		WHERE host = ? AND tag = ?
		ORDER BY idx DESC LIMIT 1
	`, host.String(), string(tag))
}

// Get returns the record with the given id, or record.ErrNotFound.
func (s *Store) Get(ctx context.Context, id record.RecordID) (record.Record[record.Encrypted], error) {
	r, err := s.queryOne(ctx, "get", `
		SELECT `+recordColumns+` FROM records WHERE id = ?
	`, id.String())
	if err != nil {
		return record.Record[record.Encrypted]{}, err
	}
	if r == nil {
		return record.Record[record.Encrypted]{}, fmt.Errorf("get %s: %w", id, record.ErrNotFound)
	}
	return *r, nil
}

// Status returns the last idx of every known stream.
func (s *Store) Status(ctx context.Context) (record.Status, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, tag, last_idx FROM streams`)
	if err != nil {
		return nil, unavailable("status", err)
	}
	defer rows.Close()

	status := record.NewStatus()
	for rows.Next() {
		var (
			host, tag string
			idx       int64
		)
		if err := rows.Scan(&host, &tag, &idx); err != nil {
			return nil, unavailable("status: scan", err)
		}
		h, err := record.ParseHostID(host)
		if err != nil {
			return nil, unavailable("status: scan", err)
		}
		status.Set(h, record.Tag(tag), record.Idx(idx))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("status: iterate", err)
	}
	return status, nil
}

// AllTagged returns every record of tag across all hosts, ordered by
// timestamp, then host, then idx. This is the input of builders.
func (s *Store) AllTagged(ctx context.Context, tag record.Tag) ([]record.Record[record.Encrypted], error) {
	return s.query(ctx, "all tagged", `
		SELECT `+recordColumns+` FROM records
		WHERE tag = ?
		ORDER BY timestamp ASC, host ASC, idx ASC
	`, string(tag))
}

// All returns every stored record ordered by host, tag, idx.
func (s *Store) All(ctx context.Context) ([]record.Record[record.Encrypted], error) {
	return s.query(ctx, "all", `
		SELECT `+recordColumns+` FROM records
		ORDER BY host ASC, tag ASC, idx ASC
	`)
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// StreamInfo summarises one stream for operator output.
type StreamInfo struct {
	Stream record.Stream
	Count  int
	First  record.Record[record.Encrypted]
	Last   record.Record[record.Encrypted]
}

// Streams returns a summary of every stream, sorted by host then tag.
func (s *Store) Streams(ctx context.Context) ([]StreamInfo, error) {
	status, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}

	infos := []StreamInfo{}
	for _, st := range status.Streams() {
		first, err := s.First(ctx, st.Host, st.Tag)
		if err != nil {
			return nil, err
		}
		last, err := s.Last(ctx, st.Host, st.Tag)
		if err != nil {
			return nil, err
		}
		if first == nil || last == nil {
			continue
		}

		var n int
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM records WHERE host = ? AND tag = ?
		`, st.Host.String(), string(st.Tag)).Scan(&n)
		if err != nil {
			return nil, unavailable("streams: count", err)
		}

		infos = append(infos, StreamInfo{Stream: st, Count: n, First: *first, Last: *last})
	}
	return infos, nil
}

func (s *Store) query(ctx context.Context, op, q string, args ...any) ([]record.Record[record.Encrypted], error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	recs := []record.Record[record.Encrypted]{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable(op+": scan", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op+": iterate", err)
	}
	return recs, nil
}

func (s *Store) queryOne(ctx context.Context, op, q string, args ...any) (*record.Record[record.Encrypted], error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(op, err)
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (record.Record[record.Encrypted], error) {
	var (
		r             record.Record[record.Encrypted]
		id, host, tag string
		idx           int64
		parent        sql.NullString
	)
	if err := row.Scan(
		&id, &host, &tag, &idx, &parent, &r.Version, &r.Timestamp,
		&r.Data.Scheme, &r.Data.Nonce, &r.Data.Ciphertext,
	); err != nil {
		return r, err
	}

	var err error
	if r.ID, err = record.ParseRecordID(id); err != nil {
		return r, err
	}
	if r.Host, err = record.ParseHostID(host); err != nil {
		return r, err
	}
	if parent.Valid {
		p, err := record.ParseRecordID(parent.String)
		if err != nil {
			return r, err
		}
		r.Parent = &p
	}
	r.Tag = record.Tag(tag)
	r.Idx = record.Idx(idx)
	return r, nil
}
