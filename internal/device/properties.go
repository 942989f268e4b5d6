package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidProperties is returned when a properties payload is not a JSON object.
var ErrInvalidProperties = errors.New("device: properties must be a JSON object")

// Properties is an ordered map of the loosely-typed values a device reports.
// Numbers are kept as json.Number so they round-trip unchanged.
//
// The zero value is an empty, usable map.
type Properties struct {
	keys   []string
	values map[string]any
}

// NewProperties builds Properties from alternating key/value pairs.
func NewProperties(kv ...any) Properties {
	var p Properties
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			p.Set(k, kv[i+1])
		}
	}
	return p
}

// Len returns the number of keys.
func (p Properties) Len() int { return len(p.keys) }

// Keys returns the keys in insertion order.
func (p Properties) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Get returns the value for key.
func (p Properties) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Set inserts or replaces key. Replacing keeps the original position.
func (p *Properties) Set(key string, value any) {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Range calls fn for each pair in order until fn returns false.
func (p Properties) Range(fn func(key string, value any) bool) {
	for _, k := range p.keys {
		if !fn(k, p.values[k]) {
			return
		}
	}
}

// Clone returns a copy that shares no key slice or map with p.
func (p Properties) Clone() Properties {
	out := Properties{keys: p.Keys()}
	if p.values != nil {
		out.values = make(map[string]any, len(p.values))
		for k, v := range p.values {
			out.values[k] = v
		}
	}
	return out
}

// Map returns an unordered copy for callers that need a plain map.
func (p Properties) Map() map[string]any {
	m := make(map[string]any, len(p.keys))
	p.Range(func(k string, v any) bool {
		m[k] = v
		return true
	})
	return m
}

// String returns the value for key if it is a string.
func (p Properties) String(key string) (string, bool) {
	s, ok := p.values[key].(string)
	return s, ok
}

// Int64 returns the value for key as an integer when it is numeric or a
// numeric string.
func (p Properties) Int64(key string) (int64, bool) {
	switch v := p.values[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// MarshalJSON writes the object with keys in insertion order.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("encoding property %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping key order. JSON null yields
// empty Properties.
func (p *Properties) UnmarshalJSON(data []byte) error {
	*p = Properties{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrInvalidProperties
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return ErrInvalidProperties
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decoding property %q: %w", key, err)
		}
		p.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
