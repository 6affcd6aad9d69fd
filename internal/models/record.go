package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Field is a single key/value pair of a Record.
type Field struct {
	Key   string
	Value any
}

// Record is an insertion-ordered mapping from field name to value. It is the
// unit every auditor emits per flagged resource and the unit the reporters
// render. JSON encoding preserves field order; decoding restores it.
//
// The zero value is an empty record ready for use.
type Record struct {
	fields []Field
	index  map[string]int
}

// NewRecord returns a record populated with the given key/value pairs.
// kv must alternate string keys and values; a trailing key without a value
// is stored with a nil value.
func NewRecord(kv ...any) *Record {
	r := &Record{}
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var val any
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		r.Set(key, val)
	}
	return r
}

// Set stores value under key. An existing key keeps its position; a new key
// is appended. Set returns the record so calls can be chained.
func (r *Record) Set(key string, value any) *Record {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[key]; ok {
		r.fields[i].Value = value
		return r
	}
	r.index[key] = len(r.fields)
	r.fields = append(r.fields, Field{Key: key, Value: value})
	return r
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (any, bool) {
	if r == nil || r.index == nil {
		return nil, false
	}
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

// Keys returns the field names in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the record's fields in insertion order.
func (r *Record) Fields() []Field {
	if r == nil {
		return nil
	}
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len reports the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.fields)
}

// MarshalJSON encodes the record as a JSON object whose keys appear in
// insertion order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the record, keeping the key order
// of the input. Integral numbers decode as int, other numbers as float64, at
// any nesting depth; everything else follows encoding/json defaults.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected JSON object, got %v", tok)
	}

	*r = Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected string key, got %v", tok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("record: field %q: %w", key, err)
		}
		r.Set(key, fromNumbers(val))
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// fromNumbers replaces the json.Number values produced by UseNumber.
func fromNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 0); err == nil {
			return int(i)
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for k, e := range v {
			v[k] = fromNumbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = fromNumbers(e)
		}
		return v
	default:
		return v
	}
}
