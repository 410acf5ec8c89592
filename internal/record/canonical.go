package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// adDomain separates record associated data from any other use of the key.
const adDomain = "histsync/record-ad/v1"

// AssociatedData returns the bytes an envelope is bound to. Ciphertext sealed
// for one slot fails to open in any other slot, so the relay cannot splice a
// payload into a different stream or position.
//
// Format: domain + 0x00 + canonical JSON of {host, id, idx, tag}.
func AssociatedData(k Key) []byte {
	obj, err := marshalCanonicalObject(map[string]any{
		"host": k.Host.String(),
		"id":   k.ID.String(),
		"idx":  uint64(k.Idx),
		"tag":  string(k.Tag),
	})
	if err != nil {
		// Only strings and integers are passed above.
		panic(fmt.Sprintf("associated data: %v", err))
	}

	var buf bytes.Buffer
	buf.WriteString(adDomain)
	buf.WriteByte(0x00)
	buf.Write(obj)
	return buf.Bytes()
}

// marshalCanonicalObject writes a flat object with sorted keys, NFC-normalised
// strings and no HTML escaping. Keys here are ASCII so byte order equals the
// UTF-16 order RFC 8785 asks for.
func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')

		switch v := obj[k].(type) {
		case string:
			vb, err := marshalCanonicalString(v)
			if err != nil {
				return nil, fmt.Errorf("value for key %q: %w", k, err)
			}
			buf.Write(vb)
		case uint64:
			buf.WriteString(strconv.FormatUint(v, 10))
		case int64:
			buf.WriteString(strconv.FormatInt(v, 10))
		default:
			return nil, fmt.Errorf("unsupported type for key %q: %T", k, v)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
