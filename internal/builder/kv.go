package builder

import (
	"context"
	"sort"

	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
)

// KVBuilder keeps namespaced key/value pairs in memory. The last write in
// build order wins.
type KVBuilder struct {
	data map[string]map[string]string
}

func NewKVBuilder() *KVBuilder {
	return &KVBuilder{data: map[string]map[string]string{}}
}

func (b *KVBuilder) Tag() record.Tag { return record.TagKV }

func (b *KVBuilder) Reset(context.Context) error {
	b.data = map[string]map[string]string{}
	return nil
}

func (b *KVBuilder) Apply(_ context.Context, rec record.Record[payload.Operation]) error {
	switch op := rec.Data.(type) {
	case payload.KVWrite:
		ns, ok := b.data[op.Namespace]
		if !ok {
			ns = map[string]string{}
			b.data[op.Namespace] = ns
		}
		ns[op.Key] = op.Value
	case payload.KVDelete:
		ns := b.data[op.Namespace]
		delete(ns, op.Key)
		if len(ns) == 0 {
			delete(b.data, op.Namespace)
		}
	default:
		return unexpected(b, op)
	}
	return nil
}

// Get returns the value stored under namespace/key.
func (b *KVBuilder) Get(namespace, key string) (string, bool) {
	v, ok := b.data[namespace][key]
	return v, ok
}

// Keys returns the keys of namespace, sorted.
func (b *KVBuilder) Keys(namespace string) []string {
	keys := make([]string, 0, len(b.data[namespace]))
	for k := range b.data[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
