// Package payload defines the typed operations carried inside record
// envelopes and their serialized forms.
//
// The set of operations is closed. Each tag has one wire struct per schema
// version, and Decode dispatches on (tag, version). A version that is not
// listed here is rejected with ErrUnknownSchemaVersion rather than guessed at.
//
//	tag      version  operations
//	history  v1       Create, Delete
//	alias    v1       Create, Delete
//	script   v1       Create, Update, Delete
//	kv       v1       Write, Delete
//	event    v1       Emit
//
// Adding a tag means adding its wire struct, a case in Encode and a case in
// Decode.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/histsync/internal/record"
)

// V1 is the only schema version in use for every tag.
const V1 = "v1"

var (
	// ErrUnknownSchemaVersion is returned for a version this build cannot decode.
	ErrUnknownSchemaVersion = errors.New("unknown schema version")

	// ErrUnknownTag is returned for a tag with no operation vocabulary.
	ErrUnknownTag = errors.New("unknown tag")

	// ErrCorrupt is returned when plaintext does not parse as its schema.
	ErrCorrupt = errors.New("corrupt payload")
)

// Operation is one typed mutation. Only types in this package implement it.
type Operation interface {
	Tag() record.Tag
	operation()
}

// Encode serializes op and returns the tag and version it must be recorded under.
func Encode(op Operation) (record.Tag, string, []byte, error) {
	var (
		w   any
		err error
	)
	switch o := op.(type) {
	case HistoryCreate, HistoryDelete:
		w, err = encodeHistory(o)
	case AliasCreate, AliasDelete:
		w, err = encodeAlias(o)
	case ScriptCreate, ScriptUpdate, ScriptDelete:
		w, err = encodeScript(o)
	case KVWrite, KVDelete:
		w, err = encodeKV(o)
	case EventEmit:
		w, err = encodeEvent(o)
	default:
		return "", "", nil, fmt.Errorf("encode: unsupported operation %T", op)
	}
	if err != nil {
		return "", "", nil, err
	}

	data, err := json.Marshal(w)
	if err != nil {
		return "", "", nil, fmt.Errorf("encode %s: %w", op.Tag(), err)
	}
	return op.Tag(), V1, data, nil
}

// Decode parses plaintext recorded under (tag, version).
func Decode(tag record.Tag, version string, data []byte) (Operation, error) {
	switch tag {
	case record.TagHistory:
		if version != V1 {
			return nil, unknownVersion(tag, version)
		}
		return decodeHistoryV1(data)
	case record.TagAlias:
		if version != V1 {
			return nil, unknownVersion(tag, version)
		}
		return decodeAliasV1(data)
	case record.TagScript:
		if version != V1 {
			return nil, unknownVersion(tag, version)
		}
		return decodeScriptV1(data)
	case record.TagKV:
		if version != V1 {
			return nil, unknownVersion(tag, version)
		}
		return decodeKVV1(data)
	case record.TagEvent:
		if version != V1 {
			return nil, unknownVersion(tag, version)
		}
		return decodeEventV1(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
}

// DecodeRecord decodes the payload of a decrypted record.
func DecodeRecord(r record.Record[record.Decrypted]) (record.Record[Operation], error) {
	op, err := Decode(r.Tag, r.Version, r.Data)
	if err != nil {
		return record.Record[Operation]{}, err
	}
	return record.WithData(r, op), nil
}

func unknownVersion(tag record.Tag, version string) error {
	return fmt.Errorf("%w: tag=%s version=%q", ErrUnknownSchemaVersion, tag, version)
}

func corrupt(tag record.Tag, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrCorrupt, tag, fmt.Sprintf(format, args...))
}

// unmarshal wraps json errors as ErrCorrupt.
func unmarshal(tag record.Tag, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return corrupt(tag, "%v", err)
	}
	return nil
}
