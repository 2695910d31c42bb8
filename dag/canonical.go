package dag

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
)

// CanonicalJSON re-encodes an arbitrary JSON document into the repository's
// canonical form: object keys sorted lexicographically, no insignificant
// whitespace, numbers emitted with their original lexical form.
//
// Node envelopes never pass through here; their canonical bytes come from
// struct marshalling with alphabetically declared fields. This function
// exists for free-form Json payload documents supplied by callers.
func CanonicalJSON(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, wrapError(KindParse, "MESH-DAG-001", "invalid JSON document", err)
	}
	// Reject trailing content after the top-level value.
	if err := ensureEOF(dec); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ensureEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return newError(KindCanonical, "MESH-DAG-002", "trailing data after JSON document")
	}
	return nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return wrapError(KindInternal, "MESH-DAG-003", "string encoding failed", err)
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return wrapError(KindInternal, "MESH-DAG-003", "key encoding failed", err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return newError(KindCanonical, "MESH-DAG-004", "unsupported JSON value type")
	}
	return nil
}
