// Package maintenance implements the operator actions on the record store:
// rebuild, verify, purge and rekey.
//
// Every action holds the store's exclusive lock, so none of them can observe
// a sync pass halfway through a page.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/histsync/internal/builder"
	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/lock"
	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
	"github.com/roach88/histsync/internal/store"
)

// Service runs maintenance against one store.
type Service struct {
	store    *store.Store
	key      envelope.Key
	builders builder.Set
	lockPath string
}

// New creates a Service. An empty lockPath disables locking.
func New(s *store.Store, key envelope.Key, builders builder.Set, lockPath string) *Service {
	return &Service{store: s, key: key, builders: builders, lockPath: lockPath}
}

// VerifyReport counts records by decryptability under the current key.
type VerifyReport struct {
	OK     int               `json:"ok"`
	Failed int               `json:"failed"`
	IDs    []record.RecordID `json:"failed_ids"`
}

func (m *Service) exclusive() (func(), error) {
	if m.lockPath == "" {
		return func() {}, nil
	}
	l, err := lock.Exclusive(m.lockPath)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := l.Release(); err != nil {
			slog.Error("release lock", "path", m.lockPath, "error", err)
		}
	}, nil
}

// Rebuild drops and recomputes the materialized state of tag.
func (m *Service) Rebuild(ctx context.Context, tag record.Tag) (builder.Report, error) {
	b, ok := m.builders[tag]
	if !ok {
		return builder.Report{}, fmt.Errorf("rebuild: %w: %s", payload.ErrUnknownTag, tag)
	}
	release, err := m.exclusive()
	if err != nil {
		return builder.Report{}, fmt.Errorf("rebuild: %w", err)
	}
	defer release()

	report, err := builder.Build(ctx, m.store, m.key, b)
	if err != nil {
		return report, fmt.Errorf("rebuild: %w", err)
	}
	slog.Info("rebuilt materialized state", "tag", tag, "applied", report.Applied, "skipped", len(report.Skipped))
	return report, nil
}

// Verify tries to open every record with the current key. Nothing is
// modified.
func (m *Service) Verify(ctx context.Context) (VerifyReport, error) {
	release, err := m.exclusive()
	if err != nil {
		return VerifyReport{}, fmt.Errorf("verify: %w", err)
	}
	defer release()

	report, err := m.verify(ctx, m.key)
	if err != nil {
		return report, fmt.Errorf("verify: %w", err)
	}
	return report, nil
}

func (m *Service) verify(ctx context.Context, key envelope.Key) (VerifyReport, error) {
	recs, err := m.store.All(ctx)
	if err != nil {
		return VerifyReport{}, err
	}
	report := VerifyReport{IDs: []record.RecordID{}}
	for _, r := range recs {
		if _, err := envelope.Open(r, key); err != nil {
			slog.Debug("record failed verification", "id", r.ID.String(), "tag", r.Tag, "error", err)
			report.Failed++
			report.IDs = append(report.IDs, r.ID)
			continue
		}
		report.OK++
	}
	return report, nil
}

// Purge deletes every record the current key cannot open and returns how
// many were removed.
func (m *Service) Purge(ctx context.Context) (int, error) {
	release, err := m.exclusive()
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	defer release()

	report, err := m.verify(ctx, m.key)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	if report.Failed == 0 {
		return 0, nil
	}
	n, err := m.store.Delete(ctx, report.IDs)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	slog.Warn("purged undecryptable records", "count", n)
	return n, nil
}

// Rekey re-encrypts every record from oldKey to newKey. Identity and chain
// fields are untouched. If any record fails to open with oldKey nothing is
// written. On success the service uses newKey from then on.
func (m *Service) Rekey(ctx context.Context, oldKey, newKey envelope.Key) (int, error) {
	release, err := m.exclusive()
	if err != nil {
		return 0, fmt.Errorf("rekey: %w", err)
	}
	defer release()

	recs, err := m.store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("rekey: %w", err)
	}

	plain := make([]record.Record[record.Decrypted], 0, len(recs))
	for _, r := range recs {
		p, err := envelope.Open(r, oldKey)
		if err != nil {
			return 0, fmt.Errorf("rekey: record %s (%s/%s@%d): %w", r.ID, r.Host, r.Tag, r.Idx, err)
		}
		plain = append(plain, p)
	}

	sealed := make([]record.Record[record.Encrypted], 0, len(plain))
	for _, p := range plain {
		s, err := envelope.Seal(p, newKey)
		if err != nil {
			return 0, fmt.Errorf("rekey: %w", err)
		}
		sealed = append(sealed, s)
	}

	if err := m.store.ReplaceEnvelopes(ctx, sealed); err != nil {
		return 0, fmt.Errorf("rekey: %w", err)
	}
	m.key = newKey
	slog.Info("rekeyed record store", "records", len(sealed))
	return len(sealed), nil
}
