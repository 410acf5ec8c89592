package builder

import (
	"context"
	"sort"

	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
)

// ScriptBuilder keeps the script catalog in memory, keyed by script id.
// A create for an id that already exists is ignored.
type ScriptBuilder struct {
	scripts map[string]payload.Script
}

func NewScriptBuilder() *ScriptBuilder {
	return &ScriptBuilder{scripts: map[string]payload.Script{}}
}

func (b *ScriptBuilder) Tag() record.Tag { return record.TagScript }

func (b *ScriptBuilder) Reset(context.Context) error {
	b.scripts = map[string]payload.Script{}
	return nil
}

func (b *ScriptBuilder) Apply(_ context.Context, rec record.Record[payload.Operation]) error {
	switch op := rec.Data.(type) {
	case payload.ScriptCreate:
		if _, ok := b.scripts[op.Script.ID]; !ok {
			b.scripts[op.Script.ID] = op.Script
		}
	case payload.ScriptUpdate:
		if _, ok := b.scripts[op.Script.ID]; ok {
			b.scripts[op.Script.ID] = op.Script
		}
	case payload.ScriptDelete:
		delete(b.scripts, op.ID)
	default:
		return unexpected(b, op)
	}
	return nil
}

// Get returns the script with id.
func (b *ScriptBuilder) Get(id string) (payload.Script, bool) {
	s, ok := b.scripts[id]
	return s, ok
}

// List returns every script ordered by name, then id.
func (b *ScriptBuilder) List() []payload.Script {
	out := make([]payload.Script, 0, len(b.scripts))
	for _, s := range b.scripts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
