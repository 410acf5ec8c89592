package builder

import (
	"context"

	"github.com/roach88/histsync/internal/history"
	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
)

// HistoryBuilder materializes the history tag into a history table.
type HistoryBuilder struct {
	db *history.DB
}

// NewHistoryBuilder writes into db.
func NewHistoryBuilder(db *history.DB) *HistoryBuilder {
	return &HistoryBuilder{db: db}
}

func (b *HistoryBuilder) Tag() record.Tag { return record.TagHistory }

func (b *HistoryBuilder) Reset(ctx context.Context) error {
	return b.db.Reset(ctx)
}

func (b *HistoryBuilder) Apply(ctx context.Context, rec record.Record[payload.Operation]) error {
	switch op := rec.Data.(type) {
	case payload.HistoryCreate:
		return b.db.Save(ctx, op.Entry)
	case payload.HistoryDelete:
		_, err := b.db.Delete(ctx, op.ID)
		return err
	default:
		return unexpected(b, op)
	}
}
