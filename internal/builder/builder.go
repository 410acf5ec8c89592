// Package builder folds record logs into materialized state.
//
// A Builder owns the derived state for one tag. Build resets it and replays
// every record of the tag in causal order; Extend applies only records that
// were just received. Records that cannot be opened or decoded are skipped
// and reported, never fatal: a device running an older build must still
// materialize everything it understands.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
)

// Builder maintains the materialized state of one tag.
type Builder interface {
	// Tag is the stream tag this builder consumes.
	Tag() record.Tag

	// Reset discards all derived state.
	Reset(ctx context.Context) error

	// Apply folds one decoded record. Updates and deletes of entities that
	// do not exist are no-ops.
	Apply(ctx context.Context, rec record.Record[payload.Operation]) error
}

// Source provides a tag's records in build order.
type Source interface {
	AllTagged(ctx context.Context, tag record.Tag) ([]record.Record[record.Encrypted], error)
}

// Skip codes.
const (
	SkipAuthentication       = "AUTHENTICATION"
	SkipUnknownScheme        = "UNKNOWN_SCHEME"
	SkipUnknownSchemaVersion = "UNKNOWN_SCHEMA_VERSION"
	SkipUnknownTag           = "UNKNOWN_TAG"
	SkipCorrupt              = "CORRUPT_PAYLOAD"
)

// Skip describes a record left out of a fold.
type Skip struct {
	ID   record.RecordID `json:"id"`
	Host record.HostID   `json:"host"`
	Idx  record.Idx      `json:"idx"`
	Code string          `json:"code"`
	Err  error           `json:"-"`
}

// Report summarizes a fold.
type Report struct {
	Tag     record.Tag `json:"tag"`
	Applied int        `json:"applied"`
	Skipped []Skip     `json:"skipped"`
}

// Fold opens, decodes and applies recs to b in the order given. Records of
// other tags are ignored. Per-record decryption and decoding failures end up
// in the report; an error from Apply or the context aborts the fold.
func Fold(ctx context.Context, key envelope.Key, b Builder, recs []record.Record[record.Encrypted]) (Report, error) {
	report := Report{Tag: b.Tag(), Skipped: []Skip{}}

	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if r.Tag != b.Tag() {
			continue
		}

		op, err := decode(r, key)
		if err != nil {
			skip := Skip{ID: r.ID, Host: r.Host, Idx: r.Idx, Code: skipCode(err), Err: err}
			slog.Warn("skipping record",
				"tag", r.Tag,
				"id", r.ID.String(),
				"host", r.Host.String(),
				"idx", r.Idx,
				"code", skip.Code,
			)
			report.Skipped = append(report.Skipped, skip)
			continue
		}

		if err := b.Apply(ctx, op); err != nil {
			return report, fmt.Errorf("apply %s record %s: %w", r.Tag, r.ID, err)
		}
		report.Applied++
	}
	return report, nil
}

// Build resets b and folds every record of its tag.
func Build(ctx context.Context, src Source, key envelope.Key, b Builder) (Report, error) {
	recs, err := src.AllTagged(ctx, b.Tag())
	if err != nil {
		return Report{Tag: b.Tag()}, fmt.Errorf("build %s: %w", b.Tag(), err)
	}
	if err := b.Reset(ctx); err != nil {
		return Report{Tag: b.Tag()}, fmt.Errorf("build %s: reset: %w", b.Tag(), err)
	}
	report, err := Fold(ctx, key, b, recs)
	if err != nil {
		return report, fmt.Errorf("build %s: %w", b.Tag(), err)
	}
	slog.Debug("build complete", "tag", b.Tag(), "applied", report.Applied, "skipped", len(report.Skipped))
	return report, nil
}

// Extend folds newly received records into b without resetting it. pulled
// may hold records of any tag and in any order.
func Extend(ctx context.Context, key envelope.Key, b Builder, pulled []record.Record[record.Encrypted]) (Report, error) {
	var recs []record.Record[record.Encrypted]
	for _, r := range pulled {
		if r.Tag == b.Tag() {
			recs = append(recs, r)
		}
	}
	record.SortForBuild(recs)
	return Fold(ctx, key, b, recs)
}

func decode(r record.Record[record.Encrypted], key envelope.Key) (record.Record[payload.Operation], error) {
	plain, err := envelope.Open(r, key)
	if err != nil {
		return record.Record[payload.Operation]{}, err
	}
	return payload.DecodeRecord(plain)
}

func skipCode(err error) string {
	switch {
	case errors.Is(err, envelope.ErrAuthentication):
		return SkipAuthentication
	case errors.Is(err, envelope.ErrUnknownScheme):
		return SkipUnknownScheme
	case errors.Is(err, payload.ErrUnknownSchemaVersion):
		return SkipUnknownSchemaVersion
	case errors.Is(err, payload.ErrUnknownTag):
		return SkipUnknownTag
	default:
		return SkipCorrupt
	}
}

// Set maps tags to their builders.
type Set map[record.Tag]Builder

// NewSet indexes builders by tag.
func NewSet(builders ...Builder) Set {
	s := Set{}
	for _, b := range builders {
		s[b.Tag()] = b
	}
	return s
}

// Tags returns the tags in s, sorted.
func (s Set) Tags() []record.Tag {
	tags := make([]record.Tag, 0, len(s))
	for t := range s {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

func unexpected(b Builder, op payload.Operation) error {
	return fmt.Errorf("%s builder: unexpected operation %T", b.Tag(), op)
}
