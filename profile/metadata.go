package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Field is one metadata entry with its original position preserved.
// Params: key name and JSON-serializable scalar value.
// Returns: ordered context field for report rendering.
type Field struct {
	Key   string
	Value any
}

// Metadata is an insertion-ordered set of free-form context fields.
// Params: fields in the order the adapter collected them.
// Returns: serializable context without a fixed schema.
type Metadata []Field

// Get returns the value stored under key.
// Params: field key.
// Returns: stored value and presence flag.
func (m Metadata) Get(key string) (any, bool) {
	for _, field := range m {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}

// GetString returns the value under key rendered as a string.
// Params: field key.
// Returns: stringified value or empty string when absent.
func (m Metadata) GetString(key string) string {
	value, ok := m.Get(key)
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Set stores value under key, replacing an existing field in place.
// Params: field key and value.
// Returns: metadata with the field set, order of existing keys kept.
func (m Metadata) Set(key string, value any) Metadata {
	for i := range m {
		if m[i].Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, Field{Key: key, Value: value})
}

// Clone returns an independent copy of the metadata.
// Params: none.
// Returns: copied field slice safe for concurrent readers.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	copied := make(Metadata, len(m))
	copy(copied, m)
	return copied
}

// MarshalJSON encodes metadata as one JSON object keeping field order.
// Params: none.
// Returns: encoded object bytes or marshal error.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata key %q: %w", field.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata value %q: %w", field.Key, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes one JSON object preserving key order.
// Params: encoded object bytes.
// Returns: decode error when the document is not an object.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	opening, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if opening == nil {
		*m = nil
		return nil
	}
	if delim, ok := opening.(json.Delim); !ok || delim != '{' {
		return errors.New("metadata must be a JSON object")
	}

	fields := Metadata{}
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("decode metadata key: %w", err)
		}
		key, ok := keyToken.(string)
		if !ok {
			return errors.New("metadata keys must be strings")
		}
		var value any
		if err := decoder.Decode(&value); err != nil {
			return fmt.Errorf("decode metadata value %q: %w", key, err)
		}
		fields = append(fields, Field{Key: key, Value: value})
	}
	if _, err := decoder.Token(); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	*m = fields
	return nil
}
