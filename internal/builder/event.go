package builder

import (
	"context"
	"sort"

	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
)

// EventStat aggregates emitted events of one name.
type EventStat struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Last  int64  `json:"last"` // record timestamp, ns
}

// EventBuilder counts events per name.
type EventBuilder struct {
	stats map[string]*EventStat
}

func NewEventBuilder() *EventBuilder {
	return &EventBuilder{stats: map[string]*EventStat{}}
}

func (b *EventBuilder) Tag() record.Tag { return record.TagEvent }

func (b *EventBuilder) Reset(context.Context) error {
	b.stats = map[string]*EventStat{}
	return nil
}

func (b *EventBuilder) Apply(_ context.Context, rec record.Record[payload.Operation]) error {
	op, ok := rec.Data.(payload.EventEmit)
	if !ok {
		return unexpected(b, rec.Data)
	}
	st, ok := b.stats[op.Name]
	if !ok {
		st = &EventStat{Name: op.Name}
		b.stats[op.Name] = st
	}
	st.Count++
	if rec.Timestamp > st.Last {
		st.Last = rec.Timestamp
	}
	return nil
}

// Stats returns per-name aggregates sorted by name.
func (b *EventBuilder) Stats() []EventStat {
	out := make([]EventStat, 0, len(b.stats))
	for _, st := range b.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
