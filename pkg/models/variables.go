package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Variable is a single key/value entry.
type Variable struct {
	Key   string `json:"key"   toml:"key"   yaml:"key"   msgpack:"key"`
	Value string `json:"value" toml:"value" yaml:"value" msgpack:"value"`
}

// Variables is an ordered string mapping. Its JSON form is an array of
// single-key objects: [{"api_url": "https://..."}, {"retries": "3"}].
type Variables []Variable

// Get returns the value stored under key.
func (v Variables) Get(key string) (string, bool) {
	return get(v, key)
}

// Set replaces the value of key in place, or appends it.
func (v *Variables) Set(key, value string) {
	*v = set(*v, key, value)
}

// Delete removes key and reports whether it was present.
func (v *Variables) Delete(key string) bool {
	var ok bool

	*v, ok = remove(*v, key)

	return ok
}

// Keys returns the keys in order.
func (v Variables) Keys() []string {
	return keys(v)
}

func (v Variables) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('[')

	for i, entry := range v {
		if i > 0 {
			buf.WriteByte(',')
		}

		if err := writeObject(&buf, []Variable{entry}); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(']')

	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the array form as well as a plain object.
func (v *Variables) UnmarshalJSON(data []byte) error {
	entries, err := decodeEntries(data)
	if err != nil {
		return fmt.Errorf("variables: %w", err)
	}

	*v = entries

	return nil
}

// Config is an ordered string mapping of node parameters. Its JSON form is a
// plain object whose key order is preserved.
type Config []Variable

// Get returns the value stored under key.
func (c Config) Get(key string) (string, bool) {
	return get(c, key)
}

// Set replaces the value of key in place, or appends it.
func (c *Config) Set(key, value string) {
	*c = set(*c, key, value)
}

// Delete removes key and reports whether it was present.
func (c *Config) Delete(key string) bool {
	var ok bool

	*c, ok = remove(*c, key)

	return ok
}

// Keys returns the keys in order.
func (c Config) Keys() []string {
	return keys(c)
}

// Map returns the config as an unordered map, for schema validation.
func (c Config) Map() map[string]any {
	m := make(map[string]any, len(c))
	for _, entry := range c {
		m[entry.Key] = entry.Value
	}

	return m
}

func (c Config) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	if err := writeObject(&buf, c); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a plain object as well as the array form.
func (c *Config) UnmarshalJSON(data []byte) error {
	entries, err := decodeEntries(data)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	*c = Config(entries)

	return nil
}

func get[S ~[]Variable](entries S, key string) (string, bool) {
	for _, entry := range entries {
		if entry.Key == key {
			return entry.Value, true
		}
	}

	return "", false
}

func set[S ~[]Variable](entries S, key, value string) S {
	for i := range entries {
		if entries[i].Key == key {
			entries[i].Value = value

			return entries
		}
	}

	return append(entries, Variable{Key: key, Value: value})
}

func remove[S ~[]Variable](entries S, key string) (S, bool) {
	i := slices.IndexFunc(entries, func(e Variable) bool { return e.Key == key })
	if i < 0 {
		return entries, false
	}

	return slices.Delete(entries, i, i+1), true
}

func keys[S ~[]Variable](entries S) []string {
	out := make([]string, len(entries))
	for i, entry := range entries {
		out[i] = entry.Key
	}

	return out
}

func writeObject(buf *bytes.Buffer, entries []Variable) error {
	buf.WriteByte('{')

	for i, entry := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(entry.Key)
		if err != nil {
			return err
		}

		value, err := json.Marshal(entry.Value)
		if err != nil {
			return err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}

	buf.WriteByte('}')

	return nil
}

// decodeEntries walks the token stream so that key order survives decoding.
// Non-string values are kept as their compact JSON text.
func decodeEntries(data []byte) ([]Variable, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var entries []Variable

	switch trimmed[0] {
	case '{':
		if err := readObject(dec, &entries); err != nil {
			return nil, err
		}
	case '[':
		if _, err := dec.Token(); err != nil {
			return nil, err
		}

		for dec.More() {
			if err := readObject(dec, &entries); err != nil {
				return nil, err
			}
		}

		if _, err := dec.Token(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("expected object or array, got %q", trimmed[0])
	}

	if len(entries) == 0 {
		return nil, nil
	}

	return entries, nil
}

func readObject(dec *json.Decoder, entries *[]Variable) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}

		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected string key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			var compact bytes.Buffer
			if err := json.Compact(&compact, raw); err != nil {
				return err
			}

			value = compact.String()
		}

		*entries = set(*entries, key, value)
	}

	_, err = dec.Token()

	return err
}
