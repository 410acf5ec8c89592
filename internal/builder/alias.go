package builder

import (
	"context"
	"sort"

	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
)

// Alias is one materialized shell alias.
type Alias struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AliasBuilder keeps the alias set in memory. Not safe for concurrent use.
type AliasBuilder struct {
	aliases map[string]string
}

func NewAliasBuilder() *AliasBuilder {
	return &AliasBuilder{aliases: map[string]string{}}
}

func (b *AliasBuilder) Tag() record.Tag { return record.TagAlias }

func (b *AliasBuilder) Reset(context.Context) error {
	b.aliases = map[string]string{}
	return nil
}

func (b *AliasBuilder) Apply(_ context.Context, rec record.Record[payload.Operation]) error {
	switch op := rec.Data.(type) {
	case payload.AliasCreate:
		b.aliases[op.Name] = op.Value
	case payload.AliasDelete:
		delete(b.aliases, op.Name)
	default:
		return unexpected(b, op)
	}
	return nil
}

// Get returns the value of alias name.
func (b *AliasBuilder) Get(name string) (string, bool) {
	v, ok := b.aliases[name]
	return v, ok
}

// List returns every alias sorted by name.
func (b *AliasBuilder) List() []Alias {
	out := make([]Alias, 0, len(b.aliases))
	for name, value := range b.aliases {
		out = append(out, Alias{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
