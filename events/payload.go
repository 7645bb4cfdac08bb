package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is an event's data: a JSON object whose top-level key order is
// preserved through serialization. Values are arbitrary JSON-compatible
// values; numbers decode as json.Number so round trips are lossless.
type Payload struct {
	keys   []string
	values map[string]any
}

// NewPayload returns an empty payload.
func NewPayload() *Payload {
	return &Payload{values: make(map[string]any)}
}

// Set stores a value under key, appending the key to the order if new and
// keeping its position if it already exists. Returns the payload for
// chaining during construction.
func (p *Payload) Set(key string, value any) *Payload {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Get returns the value stored under key.
func (p *Payload) Get(key string) (any, bool) {
	if p == nil || p.values == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Len returns the number of keys.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Keys returns the keys in insertion order.
func (p *Payload) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// MarshalJSON writes the object with keys in insertion order.
func (p *Payload) MarshalJSON() ([]byte, error) {
	if p == nil || len(p.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valueJSON, err := json.Marshal(p.values[key])
		if err != nil {
			return nil, fmt.Errorf("marshal payload key %q: %w", key, err)
		}
		buf.Write(valueJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, recording top-level keys in the order they
// appear in the document.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("payload must be a JSON object")
	}

	p.keys = nil
	p.values = make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("payload object key is not a string")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode payload key %q: %w", key, err)
		}
		if _, exists := p.values[key]; !exists {
			p.keys = append(p.keys, key)
		}
		p.values[key] = value
	}
	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// Equal reports structural equality: same keys in the same order mapping to
// values with identical JSON encodings.
func (p *Payload) Equal(other *Payload) bool {
	if p.Len() != other.Len() {
		return false
	}
	if p.Len() == 0 {
		return true
	}
	a, err := json.Marshal(p)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}
