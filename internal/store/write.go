package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/histsync/internal/record"
)

// Push appends one record to its stream and returns its idx.
//
// A record already stored at its idx with the same id is reported as success
// without writing anything. Any other contract violation is returned as an
// *record.AppendError wrapping ErrNonContiguousIdx or ErrChainMismatch.
func (s *Store) Push(ctx context.Context, r record.Record[record.Encrypted]) (record.Idx, error) {
	if _, err := s.PushBatch(ctx, []record.Record[record.Encrypted]{r}); err != nil {
		return 0, err
	}
	return r.Idx, nil
}

// PushBatch appends records in order inside one transaction. Either every
// record is applied (or recognised as already applied) or none is.
// Returns the number of records newly inserted.
func (s *Store) PushBatch(ctx context.Context, recs []record.Record[record.Encrypted]) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	// Lock every touched stream in a fixed order.
	seen := map[record.Stream]bool{}
	var streams []record.Stream
	for _, r := range recs {
		if !seen[r.Stream()] {
			seen[r.Stream()] = true
			streams = append(streams, r.Stream())
		}
	}
	record.SortStreams(streams)
	for _, st := range streams {
		mu := s.streamLock(st)
		mu.Lock()
		defer mu.Unlock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("push: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	inserted := 0
	for _, r := range recs {
		ok, err := pushTx(ctx, tx, r)
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, unavailable("push: commit", err)
	}
	return inserted, nil
}

// pushTx checks r against its stream tail and inserts it. Returns false when
// r was already stored.
func pushTx(ctx context.Context, tx *sql.Tx, r record.Record[record.Encrypted]) (bool, error) {
	last, err := tailTx(ctx, tx, r.Stream())
	if err != nil {
		return false, err
	}

	var existing *record.Record[record.Encrypted]
	if last != nil && r.Idx <= last.Idx {
		existing, err = slotTx(ctx, tx, r.Stream(), r.Idx)
		if err != nil {
			return false, err
		}
	}

	decision, err := record.CheckAppend(last, existing, r)
	if err != nil {
		return false, err
	}
	if decision == record.AlreadyApplied {
		return false, nil
	}
	if err := idFreeTx(ctx, tx, r); err != nil {
		return false, err
	}

	var parent sql.NullString
	if r.Parent != nil {
		parent = sql.NullString{String: r.Parent.String(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records
		(id, host, tag, idx, parent, version, timestamp, scheme, nonce, ciphertext)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID.String(),
		r.Host.String(),
		string(r.Tag),
		int64(r.Idx),
		parent,
		r.Version,
		r.Timestamp,
		r.Data.Scheme,
		r.Data.Nonce,
		r.Data.Ciphertext,
	)
	if err != nil {
		return false, unavailable("push: insert", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO streams (host, tag, last_idx, last_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(host, tag) DO UPDATE SET last_idx = excluded.last_idx, last_id = excluded.last_id
	`, r.Host.String(), string(r.Tag), int64(r.Idx), r.ID.String())
	if err != nil {
		return false, unavailable("push: update stream", err)
	}

	return true, nil
}

// tailTx returns the stream's last record identity, or nil for an empty stream.
func tailTx(ctx context.Context, tx *sql.Tx, st record.Stream) (*record.Record[record.Encrypted], error) {
	var (
		idx int64
		id  string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT last_idx, last_id FROM streams WHERE host = ? AND tag = ?
	`, st.Host.String(), string(st.Tag)).Scan(&idx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("push: read tail", err)
	}

	rid, err := record.ParseRecordID(id)
	if err != nil {
		return nil, unavailable("push: read tail", err)
	}
	return &record.Record[record.Encrypted]{ID: rid, Host: st.Host, Tag: st.Tag, Idx: record.Idx(idx)}, nil
}

// slotTx returns the identity of the record at idx, or nil if the slot is empty.
func slotTx(ctx context.Context, tx *sql.Tx, st record.Stream, idx record.Idx) (*record.Record[record.Encrypted], error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM records WHERE host = ? AND tag = ? AND idx = ?
	`, st.Host.String(), string(st.Tag), int64(idx)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("push: read slot", err)
	}

	rid, err := record.ParseRecordID(id)
	if err != nil {
		return nil, unavailable("push: read slot", err)
	}
	return &record.Record[record.Encrypted]{ID: rid, Host: st.Host, Tag: st.Tag, Idx: idx}, nil
}

// idFreeTx fails with ErrChainMismatch when r's id is already stored in
// another slot. Ids are unique across the whole store.
func idFreeTx(ctx context.Context, tx *sql.Tx, r record.Record[record.Encrypted]) error {
	var (
		host, tag string
		idx       int64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT host, tag, idx FROM records WHERE id = ?
	`, r.ID.String()).Scan(&host, &tag, &idx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return unavailable("push: read id", err)
	}
	return &record.AppendError{
		Err:    record.ErrChainMismatch,
		Stream: r.Stream(),
		Idx:    r.Idx,
		Detail: fmt.Sprintf("id %s already stored at %s/%s@%d", r.ID, host, tag, idx),
	}
}

// Delete removes records by id and refreshes the tails of the affected
// streams. Used by purge only; log entries are otherwise immutable.
// Returns the number of rows removed.
func (s *Store) Delete(ctx context.Context, ids []record.RecordID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("delete: begin tx", err)
	}
	defer tx.Rollback()

	touched := map[record.Stream]bool{}
	deleted := 0
	for _, id := range ids {
		var host, tag string
		err := tx.QueryRowContext(ctx, `SELECT host, tag FROM records WHERE id = ?`, id.String()).Scan(&host, &tag)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, unavailable("delete: lookup", err)
		}
		h, err := record.ParseHostID(host)
		if err != nil {
			return 0, unavailable("delete: lookup", err)
		}
		touched[record.Stream{Host: h, Tag: record.Tag(tag)}] = true

		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id.String()); err != nil {
			return 0, unavailable("delete", err)
		}
		deleted++
	}

	for st := range touched {
		if err := refreshTailTx(ctx, tx, st); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, unavailable("delete: commit", err)
	}
	return deleted, nil
}

func refreshTailTx(ctx context.Context, tx *sql.Tx, st record.Stream) error {
	var (
		idx int64
		id  string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT idx, id FROM records WHERE host = ? AND tag = ? ORDER BY idx DESC LIMIT 1
	`, st.Host.String(), string(st.Tag)).Scan(&idx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx, `DELETE FROM streams WHERE host = ? AND tag = ?`, st.Host.String(), string(st.Tag))
		if err != nil {
			return unavailable("delete: drop stream", err)
		}
		return nil
	}
	if err != nil {
		return unavailable("delete: read tail", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE streams SET last_idx = ?, last_id = ? WHERE host = ? AND tag = ?
	`, idx, id, st.Host.String(), string(st.Tag))
	if err != nil {
		return unavailable("delete: update stream", err)
	}
	return nil
}

// ReplaceEnvelopes swaps the stored envelope of each record in one
// transaction. The (id, host, tag, idx) of every input must match a stored
// row; identity, parent, version and timestamp are never modified.
func (s *Store) ReplaceEnvelopes(ctx context.Context, recs []record.Record[record.Encrypted]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("replace: begin tx", err)
	}
	defer tx.Rollback()

	for _, r := range recs {
		res, err := tx.ExecContext(ctx, `
			UPDATE records SET scheme = ?, nonce = ?, ciphertext = ?
			WHERE id = ? AND host = ? AND tag = ? AND idx = ?
		`,
			r.Data.Scheme, r.Data.Nonce, r.Data.Ciphertext,
			r.ID.String(), r.Host.String(), string(r.Tag), int64(r.Idx),
		)
		if err != nil {
			return unavailable("replace", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return unavailable("replace: rows affected", err)
		}
		if n != 1 {
			return fmt.Errorf("replace %s: %w", r.ID, record.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("replace: commit", err)
	}
	return nil
}
