package composite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pteich/elastic-query-samples/fieldvalue"
)

// KeyValue is the value of one source in a bucket key or continuation key.
type KeyValue struct {
	Name  string
	Value fieldvalue.Value
}

// Key is an ordered composite key. The order follows the template sources and
// values keep the type the engine returned.
type Key struct {
	values []KeyValue
}

// NewKey builds a key from name/value pairs in source order.
func NewKey(values ...KeyValue) Key {
	return Key{values: append([]KeyValue(nil), values...)}
}

func (k Key) IsZero() bool { return len(k.values) == 0 }

func (k Key) Len() int { return len(k.values) }

func (k Key) Values() []KeyValue {
	return append([]KeyValue(nil), k.values...)
}

func (k Key) Names() []string {
	names := make([]string, len(k.values))
	for i, kv := range k.values {
		names[i] = kv.Name
	}
	return names
}

func (k Key) Get(name string) (fieldvalue.Value, bool) {
	for _, kv := range k.values {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return nil, false
}

// Map returns the key in the shape of the "after" parameter.
func (k Key) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(k.values))
	for _, kv := range k.values {
		m[kv.Name] = kv.Value.Interface()
	}
	return m
}

func (k Key) Equal(o Key) bool {
	if len(k.values) != len(o.values) {
		return false
	}
	for i := range k.values {
		if k.values[i].Name != o.values[i].Name || !fieldvalue.Equal(k.values[i].Value, o.values[i].Value) {
			return false
		}
	}
	return true
}

func (k Key) String() string {
	parts := make([]string, len(k.values))
	for i, kv := range k.values {
		parts[i] = kv.Name + "=" + kv.Value.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (k Key) clone() Key {
	if k.values == nil {
		return Key{}
	}
	return NewKey(k.values...)
}

func (k Key) matches(sources []GroupKey) error {
	if len(k.values) != len(sources) {
		return fmt.Errorf("%w: key %s has %d values, template has %d sources", ErrKeyMismatch, k, len(k.values), len(sources))
	}
	for i, src := range sources {
		if k.values[i].Name != src.Name {
			return fmt.Errorf("%w: key position %d is %q, expected %q", ErrKeyMismatch, i, k.values[i].Name, src.Name)
		}
	}
	return nil
}

// decodeKey reads an engine key object and orders it by the template sources.
func decodeKey(raw json.RawMessage, sources []GroupKey) (Key, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Key{}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Key{}, fmt.Errorf("decoding composite key: %w", err)
	}
	if len(fields) != len(sources) {
		return Key{}, fmt.Errorf("%w: engine key %s", ErrKeyMismatch, string(raw))
	}

	values := make([]KeyValue, 0, len(sources))
	for _, src := range sources {
		fieldRaw, ok := fields[src.Name]
		if !ok {
			return Key{}, fmt.Errorf("%w: engine key lacks %s", ErrKeyMismatch, src.Name)
		}
		v, err := fieldvalue.FromJSON(fieldRaw)
		if err != nil {
			return Key{}, fmt.Errorf("decoding composite key %s: %w", src.Name, err)
		}
		values = append(values, KeyValue{Name: src.Name, Value: v})
	}
	return Key{values: values}, nil
}

type typedKeyValue struct {
	Name  string          `json:"name"`
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the key as an ordered list carrying each value's kind,
// so a stored key resumes with identical types.
func (k Key) MarshalJSON() ([]byte, error) {
	out := make([]typedKeyValue, 0, len(k.values))
	for _, kv := range k.values {
		raw, err := json.Marshal(kv.Value.Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, typedKeyValue{Name: kv.Name, Kind: kv.Value.Kind().String(), Value: raw})
	}
	return json.Marshal(out)
}

func (k *Key) UnmarshalJSON(data []byte) error {
	var in []typedKeyValue
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	values := make([]KeyValue, 0, len(in))
	for _, tkv := range in {
		v, err := fieldvalue.FromJSON(tkv.Value)
		if err != nil {
			return err
		}
		// 1.0 decodes as Long, restore the recorded kind
		if tkv.Kind == fieldvalue.KindDouble.String() {
			if l, ok := v.(fieldvalue.Long); ok {
				v = fieldvalue.Double(float64(l))
			}
		}
		if v.Kind().String() != tkv.Kind {
			return fmt.Errorf("composite key %s: stored kind %s, decoded %s", tkv.Name, tkv.Kind, v.Kind())
		}
		values = append(values, KeyValue{Name: tkv.Name, Value: v})
	}
	k.values = values
	return nil
}
