package payload

import "github.com/roach88/histsync/internal/record"

// KVWrite sets namespace/key to value.
type KVWrite struct {
	Namespace string
	Key       string
	Value     string
}

// KVDelete removes namespace/key.
type KVDelete struct {
	Namespace string
	Key       string
}

func (KVWrite) Tag() record.Tag  { return record.TagKV }
func (KVDelete) Tag() record.Tag { return record.TagKV }
func (KVWrite) operation()       {}
func (KVDelete) operation()      {}

type kvV1 struct {
	Op        string  `json:"op"`
	Namespace string  `json:"namespace"`
	Key       string  `json:"key"`
	Value     *string `json:"value,omitempty"`
}

func encodeKV(op Operation) (kvV1, error) {
	switch o := op.(type) {
	case KVWrite:
		if o.Key == "" {
			return kvV1{}, corrupt(record.TagKV, "write without key")
		}
		v := o.Value
		return kvV1{Op: "write", Namespace: o.Namespace, Key: o.Key, Value: &v}, nil
	case KVDelete:
		if o.Key == "" {
			return kvV1{}, corrupt(record.TagKV, "delete without key")
		}
		return kvV1{Op: "delete", Namespace: o.Namespace, Key: o.Key}, nil
	}
	panic("unreachable")
}

func decodeKVV1(data []byte) (Operation, error) {
	var w kvV1
	if err := unmarshal(record.TagKV, data, &w); err != nil {
		return nil, err
	}
	if w.Key == "" {
		return nil, corrupt(record.TagKV, "missing key")
	}
	switch w.Op {
	case "write":
		if w.Value == nil {
			return nil, corrupt(record.TagKV, "write without value")
		}
		return KVWrite{Namespace: w.Namespace, Key: w.Key, Value: *w.Value}, nil
	case "delete":
		return KVDelete{Namespace: w.Namespace, Key: w.Key}, nil
	default:
		return nil, corrupt(record.TagKV, "unknown op %q", w.Op)
	}
}
