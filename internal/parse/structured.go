package parse

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// ParseStructured parses JSON content shaped as an array of objects, an
// object with a "data" array, or a single object. Object key order is kept.
// Scalars are rendered as text; nested values as compact JSON.
func ParseStructured(content []byte) (*Result, error) {
	content = bytes.TrimSpace(Clean(content))
	if len(content) == 0 {
		return nil, formatErr("empty structured content")
	}
	if !json.Valid(content) {
		return nil, formatErr("malformed structured content")
	}

	var items []json.RawMessage
	switch content[0] {
	case '[':
		if err := json.Unmarshal(content, &items); err != nil {
			return nil, formatErr("decode array: %v", err)
		}
	case '{':
		obj, err := decodeObject(content)
		if err != nil {
			return nil, err
		}
		if data, ok := obj.get("data"); ok && firstByte(data) == '[' {
			if err := json.Unmarshal(data, &items); err != nil {
				return nil, formatErr("decode data array: %v", err)
			}
		} else {
			items = []json.RawMessage{content}
		}
	default:
		return nil, formatErr("structured content must be an object or array")
	}

	if len(items) == 0 {
		return nil, formatErr("no data rows")
	}

	var headers []string
	seen := make(map[string]bool)
	rows := make([]record.Row, 0, len(items))
	for i, item := range items {
		if firstByte(item) != '{' {
			return nil, formatErr("element %d is not an object", i)
		}
		obj, err := decodeObject(item)
		if err != nil {
			return nil, err
		}
		fields := make([]record.Field, len(obj.keys))
		for j, k := range obj.keys {
			fields[j] = record.Field{Name: k, Value: rawToString(obj.values[j])}
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}
		rows = append(rows, record.Row{Fields: fields})
	}
	return &Result{Headers: headers, Rows: rows}, nil
}

type orderedObject struct {
	keys   []string
	values []json.RawMessage
}

func (o orderedObject) get(key string) (json.RawMessage, bool) {
	for i, k := range o.keys {
		if k == key {
			return o.values[i], true
		}
	}
	return nil, false
}

func decodeObject(raw []byte) (orderedObject, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj orderedObject
	tok, err := dec.Token()
	if err != nil {
		return obj, formatErr("decode object: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return obj, formatErr("expected object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return obj, formatErr("decode key: %v", err)
		}
		key, ok := tok.(string)
		if !ok {
			return obj, formatErr("expected object key")
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return obj, formatErr("decode value for %q: %v", key, err)
		}
		obj.keys = append(obj.keys, key)
		obj.values = append(obj.values, val)
	}
	return obj, nil
}

func rawToString(raw json.RawMessage) string {
	switch firstByte(raw) {
	case 'n':
		return ""
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return buf.String()
		}
	}
	return strings.TrimSpace(string(raw))
}

func firstByte(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}
