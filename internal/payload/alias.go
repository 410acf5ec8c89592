package payload

import "github.com/roach88/histsync/internal/record"

// AliasCreate defines or redefines a shell alias.
type AliasCreate struct {
	Name  string
	Value string
}

// AliasDelete removes a shell alias.
type AliasDelete struct {
	Name string
}

func (AliasCreate) Tag() record.Tag { return record.TagAlias }
func (AliasDelete) Tag() record.Tag { return record.TagAlias }
func (AliasCreate) operation()      {}
func (AliasDelete) operation()      {}

type aliasV1 struct {
	Op    string `json:"op"`
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

func encodeAlias(op Operation) (aliasV1, error) {
	switch o := op.(type) {
	case AliasCreate:
		if o.Name == "" {
			return aliasV1{}, corrupt(record.TagAlias, "create without name")
		}
		return aliasV1{Op: "create", Name: o.Name, Value: o.Value}, nil
	case AliasDelete:
		if o.Name == "" {
			return aliasV1{}, corrupt(record.TagAlias, "delete without name")
		}
		return aliasV1{Op: "delete", Name: o.Name}, nil
	}
	panic("unreachable")
}

func decodeAliasV1(data []byte) (Operation, error) {
	var w aliasV1
	if err := unmarshal(record.TagAlias, data, &w); err != nil {
		return nil, err
	}
	if w.Name == "" {
		return nil, corrupt(record.TagAlias, "missing name")
	}
	switch w.Op {
	case "create":
		return AliasCreate{Name: w.Name, Value: w.Value}, nil
	case "delete":
		return AliasDelete{Name: w.Name}, nil
	default:
		return nil, corrupt(record.TagAlias, "unknown op %q", w.Op)
	}
}
